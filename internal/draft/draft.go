// Package draft produces AI reply drafts grounded on the knowledge
// base. Drafts are proposals only; nothing here sends mail.
package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"maildesk/config"
	"maildesk/internal/knowledge"
	"maildesk/internal/llm"
	"maildesk/internal/model"
	"maildesk/pkg/metrics"
	"maildesk/pkg/util"
)

// ErrDraftFailure means no usable draft could be produced; the caller
// degrades the ticket to manual handling instead of retrying forever.
var ErrDraftFailure = errors.New("draft generation failed")

// Generator assembles retrieval context and asks the LLM for a reply.
type Generator struct {
	kb     *knowledge.Store
	gen    llm.Generator
	model  string
	logger *zap.Logger

	topK          int
	contextBudget int
	maxReplyChars int
}

func NewGenerator(kb *knowledge.Store, gen llm.Generator, llmCfg config.LLMConfig, kbCfg config.KnowledgeConfig, logger *zap.Logger) *Generator {
	return &Generator{
		kb:            kb,
		gen:           gen,
		model:         llmCfg.GeneratorModel,
		logger:        logger,
		topK:          kbCfg.TopK,
		contextBudget: kbCfg.ContextBudget,
		maxReplyChars: kbCfg.MaxReplyChars,
	}
}

// Generate returns a cleaned reply draft for the ticket, or
// ErrDraftFailure when the model produced nothing usable.
func (g *Generator) Generate(ctx context.Context, t *model.Ticket) (string, error) {
	start := time.Now()

	results := g.kb.Query(t.PlainMessage, g.topK)
	contextBlock := g.buildContext(results)

	raw, err := g.gen.Complete(ctx, g.buildPrompt(t, contextBlock), llm.Options{
		Model:       g.model,
		MaxTokens:   800,
		Temperature: 0.4,
	})
	if err != nil {
		metrics.RecordDraftLatency("error", time.Since(start))
		g.logger.Warn("Draft generation call failed",
			zap.String("ticket_id", t.ID),
			zap.String("kind", string(llm.KindOf(err))),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrDraftFailure, err)
	}

	reply := clipReply(strings.TrimSpace(raw), g.maxReplyChars)
	if reply == "" {
		metrics.RecordDraftLatency("empty", time.Since(start))
		return "", fmt.Errorf("%w: model returned empty text", ErrDraftFailure)
	}

	metrics.RecordDraftLatency("ok", time.Since(start))
	g.logger.Info("Draft generated",
		zap.String("ticket_id", t.ID),
		zap.Int("context_chunks", len(results)),
		zap.Int("reply_chars", len(reply)),
	)
	return reply, nil
}

// buildContext concatenates whole retrieved chunks, source-labelled,
// until the character budget would be exceeded. Chunks are never
// truncated; a chunk that does not fit is skipped entirely.
func (g *Generator) buildContext(results []knowledge.Result) string {
	var blocks []string
	used := 0
	for _, r := range results {
		block := fmt.Sprintf("[From: %s]\n%s", r.Chunk.Source, r.Chunk.Content)
		if used+len(block) > g.contextBudget {
			continue
		}
		used += len(block)
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func (g *Generator) buildPrompt(t *model.Ticket, contextBlock string) string {
	if contextBlock == "" {
		contextBlock = "(no relevant reference material found)"
	}
	return fmt.Sprintf(`You are a customer support agent writing a reply email.

Reference material:
%s

Customer email:
Subject: %s
From: %s

%s

Write a helpful, professional reply to the customer. Ground your answer
in the reference material above when it applies; if it does not cover
the question, say you will check with the team rather than inventing
details. Do not include a subject line. Sign off as "Support Team".`,
		contextBlock, t.Subject, t.FromEmail, t.PlainMessage)
}

// clipReply enforces the reply length ceiling, cutting at the last
// sentence end inside the limit, or the last word boundary when no
// sentence end exists.
func clipReply(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	clipped := util.TruncateUTF8(text, maxChars)

	cut := -1
	for _, punct := range []string{". ", ".\n", "! ", "!\n", "? ", "?\n"} {
		if idx := strings.LastIndex(clipped, punct); idx > cut {
			cut = idx
		}
	}
	if cut > 0 {
		return strings.TrimSpace(clipped[:cut+1])
	}
	if idx := strings.LastIndexByte(clipped, ' '); idx > 0 {
		return strings.TrimSpace(clipped[:idx])
	}
	return clipped
}
