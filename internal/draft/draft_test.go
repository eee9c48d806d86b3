package draft

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"maildesk/config"
	"maildesk/internal/knowledge"
	"maildesk/internal/llm"
	"maildesk/internal/model"
)

type fakeGenerator struct {
	output string
	err    error
	prompt string
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	f.prompt = prompt
	return f.output, f.err
}

func newTestKB(t *testing.T, files map[string]string) *knowledge.Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	kb := knowledge.NewStore(config.KnowledgeConfig{Dir: dir, ChunkSize: 500}, zap.NewNop())
	if err := kb.Reload(); err != nil {
		t.Fatal(err)
	}
	return kb
}

func newTestGenerator(t *testing.T, kb *knowledge.Store, gen llm.Generator) *Generator {
	t.Helper()
	return NewGenerator(kb, gen,
		config.LLMConfig{GeneratorModel: "test-model"},
		config.KnowledgeConfig{TopK: 4, ContextBudget: 4000, MaxReplyChars: 2000},
		zap.NewNop(),
	)
}

func testTicket() *model.Ticket {
	return &model.Ticket{
		ID:           "TKT-20250401120000",
		FromEmail:    "customer@example.com",
		Subject:      "Refund request",
		PlainMessage: "I want a refund for my broken order",
		Status:       model.StatusClassified,
	}
}

func TestGenerateIncludesRetrievedContext(t *testing.T) {
	kb := newTestKB(t, map[string]string{
		"refunds.md": "Refunds are processed within 30 days. Orders ship from our warehouse.",
	})
	fake := &fakeGenerator{output: "Dear customer, your refund is on its way."}
	g := newTestGenerator(t, kb, fake)

	got, err := g.Generate(context.Background(), testTicket())
	if err != nil {
		t.Fatal(err)
	}
	if got != "Dear customer, your refund is on its way." {
		t.Fatalf("unexpected draft: %q", got)
	}
	if !strings.Contains(fake.prompt, "[From: refunds.md]") {
		t.Fatal("prompt missing source-labelled context block")
	}
	if !strings.Contains(fake.prompt, "Refunds are processed within 30 days") {
		t.Fatal("prompt missing retrieved chunk content")
	}
	if !strings.Contains(fake.prompt, "I want a refund") {
		t.Fatal("prompt missing the customer message")
	}
}

func TestGenerateEmptyCorpus(t *testing.T) {
	kb := newTestKB(t, nil)
	fake := &fakeGenerator{output: "We will check with the team."}
	g := newTestGenerator(t, kb, fake)

	if _, err := g.Generate(context.Background(), testTicket()); err != nil {
		t.Fatalf("empty corpus must not fail drafting: %v", err)
	}
	if !strings.Contains(fake.prompt, "no relevant reference material") {
		t.Fatal("prompt should state that no reference material was found")
	}
}

func TestGenerateLLMErrorIsDraftFailure(t *testing.T) {
	kb := newTestKB(t, nil)
	g := newTestGenerator(t, kb, &fakeGenerator{
		err: &llm.GenerationError{Kind: llm.ErrUpstream, Err: errors.New("boom")},
	})

	_, err := g.Generate(context.Background(), testTicket())
	if !errors.Is(err, ErrDraftFailure) {
		t.Fatalf("expected ErrDraftFailure, got %v", err)
	}
}

func TestGenerateEmptyOutputIsDraftFailure(t *testing.T) {
	kb := newTestKB(t, nil)
	g := newTestGenerator(t, kb, &fakeGenerator{output: "   \n  "})

	_, err := g.Generate(context.Background(), testTicket())
	if !errors.Is(err, ErrDraftFailure) {
		t.Fatalf("expected ErrDraftFailure for blank output, got %v", err)
	}
}

func TestBuildContextRespectsBudget(t *testing.T) {
	kb := newTestKB(t, map[string]string{
		"a.md": strings.Repeat("refund policy details. ", 30),
		"b.md": strings.Repeat("refund escalation steps. ", 30),
	})
	fake := &fakeGenerator{output: "reply"}
	g := NewGenerator(kb, fake,
		config.LLMConfig{GeneratorModel: "m"},
		config.KnowledgeConfig{TopK: 4, ContextBudget: 800, MaxReplyChars: 2000},
		zap.NewNop(),
	)

	if _, err := g.Generate(context.Background(), testTicket()); err != nil {
		t.Fatal(err)
	}
	// 预算只够一个整块，不能出现被截断的半块
	if strings.Count(fake.prompt, "[From:") != 1 {
		t.Fatalf("expected exactly one whole chunk in context, prompt:\n%s", fake.prompt)
	}
}

func TestClipReplySentenceBoundary(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third one is cut off mid"
	got := clipReply(text, 50)
	if !strings.HasSuffix(got, ".") {
		t.Fatalf("expected cut at sentence end, got %q", got)
	}
	if strings.Contains(got, "cut off") {
		t.Fatalf("text past the limit survived: %q", got)
	}
}

func TestClipReplyWordBoundary(t *testing.T) {
	text := "no sentence punctuation just words going on and on forever"
	got := clipReply(text, 30)
	if len(got) > 30 {
		t.Fatalf("clip exceeded limit: %d chars", len(got))
	}
	if !strings.HasPrefix(text, got) {
		t.Fatalf("clip is not a prefix of the input: %q", got)
	}
	// 不能在单词中间截断
	if next := text[len(got)]; next != ' ' {
		t.Fatalf("clip ended mid-word before %q", string(next))
	}
}

func TestClipReplyUnderLimit(t *testing.T) {
	if got := clipReply("short", 100); got != "short" {
		t.Fatalf("text under limit must pass through, got %q", got)
	}
}
