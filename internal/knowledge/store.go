// Package knowledge implements the retrieval side of the RAG
// pipeline: a small on-disk document corpus, chunked in memory and
// queried with keyword scoring. No vector index is involved.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"maildesk/config"
	"maildesk/pkg/metrics"
)

// Chunk is one retrieval unit cut from a source document.
type Chunk struct {
	Source   string // path relative to the knowledge dir
	DocOrder int    // load order of the source document
	Index    int    // sequence within the document
	Content  string
}

// Result pairs a chunk with its relevance score for a query.
type Result struct {
	Chunk Chunk
	Score float64
}

// chunkSet is an immutable snapshot of the loaded corpus. Reload
// builds a complete new set and publishes it with one pointer swap, so
// concurrent queries see either the old or the new corpus, never a mix.
type chunkSet struct {
	docs   []string
	chunks []Chunk
}

// Store loads, chunks and serves the reference document corpus.
type Store struct {
	dir       string
	chunkSize int
	overlap   int
	logger    *zap.Logger

	set atomic.Pointer[chunkSet]
}

func NewStore(cfg config.KnowledgeConfig, logger *zap.Logger) *Store {
	s := &Store{
		dir:       cfg.Dir,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		logger:    logger,
	}
	s.set.Store(&chunkSet{})
	return s
}

var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
}

// Reload rebuilds the chunk set from disk and atomically replaces the
// served corpus. Unreadable or malformed files are skipped with a
// warning, never fatal.
func (s *Store) Reload() error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	next := &chunkSet{}

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !supportedExtensions[ext] {
			return nil
		}

		rel, relErr := filepath.Rel(s.dir, path)
		if relErr != nil {
			rel = path
		}

		content, loadErr := loadFile(path, ext)
		if loadErr != nil {
			s.logger.Warn("Skipping malformed document",
				zap.String("document", rel),
				zap.Error(loadErr),
			)
			return nil
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}

		docOrder := len(next.docs)
		next.docs = append(next.docs, rel)
		next.chunks = append(next.chunks, chunkText(content, rel, docOrder, s.chunkSize, s.overlap)...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk knowledge dir: %w", err)
	}

	s.set.Store(next)
	s.logger.Info("Knowledge base loaded",
		zap.Int("documents", len(next.docs)),
		zap.Int("chunks", len(next.chunks)),
	)
	return nil
}

// Query returns up to k chunks most relevant to text. Ordering is
// deterministic: score descending, then document load order, then
// chunk index. An empty corpus yields an empty (non-nil) slice.
func (s *Store) Query(text string, k int) []Result {
	set := s.set.Load()
	if len(set.chunks) == 0 || k <= 0 {
		metrics.IncrementKnowledgeQuery("empty")
		return []Result{}
	}

	keywords := extractKeywords(strings.ToLower(text))
	if len(keywords) == 0 {
		metrics.IncrementKnowledgeQuery("empty")
		return []Result{}
	}

	wordPatterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		wordPatterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}

	var scored []Result
	for _, chunk := range set.chunks {
		lower := strings.ToLower(chunk.Content)
		matches := 0.0
		for i, kw := range keywords {
			if strings.Contains(lower, kw) {
				matches++
				// 整词命中加分，避免纯子串误导排序
				if wordPatterns[i].MatchString(lower) {
					matches += 0.5
				}
			}
		}
		if matches > 0 {
			scored = append(scored, Result{
				Chunk: chunk,
				Score: matches / float64(len(keywords)),
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.DocOrder != scored[j].Chunk.DocOrder {
			return scored[i].Chunk.DocOrder < scored[j].Chunk.DocOrder
		}
		return scored[i].Chunk.Index < scored[j].Chunk.Index
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	if len(scored) == 0 {
		metrics.IncrementKnowledgeQuery("empty")
		return []Result{}
	}
	metrics.IncrementKnowledgeQuery("hit")
	return scored
}

// List returns the relative paths of all documents in the loaded set.
func (s *Store) List() []string {
	set := s.set.Load()
	out := make([]string, len(set.docs))
	copy(out, set.docs)
	return out
}

// Add writes a new document into the knowledge dir and reloads the
// corpus. The name is reduced to its base component so operator input
// cannot escape the directory.
func (s *Store) Add(name, content string) error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fmt.Errorf("invalid document name %q", name)
	}
	ext := strings.ToLower(filepath.Ext(base))
	if !supportedExtensions[ext] {
		base += ".md"
	}

	path := filepath.Join(s.dir, base)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return s.Reload()
}

// ensureDir creates the knowledge dir (with a starter document) on
// first use so a fresh deployment has something to serve.
func (s *Store) ensureDir() error {
	if _, err := os.Stat(s.dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat knowledge dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create knowledge dir: %w", err)
	}
	seed := "# Knowledge Base\n\nDrop .txt, .md or .json reference documents into this directory.\nThey are chunked and used to ground AI-drafted replies.\n"
	if err := os.WriteFile(filepath.Join(s.dir, "README.md"), []byte(seed), 0o644); err != nil {
		s.logger.Warn("Failed to seed knowledge dir", zap.Error(err))
	}
	return nil
}
