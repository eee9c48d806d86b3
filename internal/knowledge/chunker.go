package knowledge

import (
	"regexp"
	"strings"
)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// chunkText cuts a document into chunks of roughly size characters,
// accumulating whole paragraphs. When a chunk flushes, the tail of it
// (overlap characters) is carried into the next chunk so answers that
// straddle a boundary are still retrievable. A single paragraph larger
// than size becomes its own chunk rather than being split mid-sentence.
func chunkText(text, source string, docOrder, size, overlap int) []Chunk {
	paragraphs := paragraphSplit.Split(text, -1)

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Source:   source,
			DocOrder: docOrder,
			Index:    len(chunks),
			Content:  content,
		})

		current.Reset()
		if overlap > 0 && len(content) > overlap {
			// 保留上一块尾部，跨段落的问题也能检索到
			tail := content[len(content)-overlap:]
			if idx := strings.IndexByte(tail, ' '); idx >= 0 {
				tail = tail[idx+1:]
			}
			current.WriteString(tail)
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}
