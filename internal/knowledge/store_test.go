package knowledge

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"maildesk/config"
)

func newTestStore(t *testing.T, files map[string]string) *Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewStore(config.KnowledgeConfig{
		Dir:       dir,
		ChunkSize: 500,
	}, zap.NewNop())
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestQueryEmptyCorpus(t *testing.T) {
	s := NewStore(config.KnowledgeConfig{Dir: t.TempDir(), ChunkSize: 500}, zap.NewNop())
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}

	results := s.Query("anything at all", 4)
	if results == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestQueryRelevanceOrdering(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"refunds.md":  "Refunds are issued within 30 days of purchase. Contact support with your order number for a refund.",
		"shipping.md": "Shipping takes 3-5 business days. Express shipping is available.",
		"returns.md":  "Returns require the original packaging. A refund follows the return inspection.",
	})

	results := s.Query("how do I get a refund for my order", 3)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Chunk.Source != "refunds.md" {
		t.Fatalf("expected refunds.md first, got %s (score %f)", results[0].Chunk.Source, results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("results not sorted by score")
		}
	}
}

func TestQueryRespectsK(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"a.md": "password reset instructions",
		"b.md": "password change help",
		"c.md": "password recovery guide",
	})

	if got := len(s.Query("password", 2)); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
	if got := len(s.Query("password", 0)); got != 0 {
		t.Fatalf("k=0 must return nothing, got %d", got)
	}
}

func TestQueryDeterministic(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"a.md": "billing question answer one",
		"b.md": "billing question answer two",
		"c.md": "billing question answer three",
	})

	first := s.Query("billing question", 3)
	for i := 0; i < 10; i++ {
		again := s.Query("billing question", 3)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("identical queries returned different results")
		}
	}
}

func TestQueryStopWordsOnly(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"a.md": "the quick brown fox",
	})
	if got := s.Query("the and of is", 4); len(got) != 0 {
		t.Fatalf("stop-word-only query must return nothing, got %d", len(got))
	}
}

func TestJSONDocumentFlattened(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"faq.json": `{"warranty": {"duration": "two years", "coverage": "manufacturing defects"}}`,
	})

	results := s.Query("warranty duration coverage", 4)
	if len(results) == 0 {
		t.Fatal("expected a hit on flattened json content")
	}
	if results[0].Chunk.Source != "faq.json" {
		t.Fatalf("expected faq.json, got %s", results[0].Chunk.Source)
	}
}

func TestMalformedJSONSkipped(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"good.md": "valid document about invoices",
		"bad.json": `{"broken":`,
	})

	docs := s.List()
	if len(docs) != 1 || docs[0] != "good.md" {
		t.Fatalf("expected only good.md loaded, got %v", docs)
	}
}

func TestUnsupportedExtensionIgnored(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"doc.md":    "real content",
		"image.png": "binarydata",
	})
	if len(s.List()) != 1 {
		t.Fatalf("expected 1 document, got %v", s.List())
	}
}

func TestAddAndReload(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"a.md": "existing content",
	})

	if err := s.Add("policies", "cancellation requires two days notice"); err != nil {
		t.Fatal(err)
	}
	if len(s.List()) != 2 {
		t.Fatalf("expected 2 documents after add, got %v", s.List())
	}

	results := s.Query("cancellation notice", 4)
	if len(results) == 0 {
		t.Fatal("added document must be queryable immediately")
	}
}

func TestAddStripsPathTraversal(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.md": "content"})

	if err := s.Add("../../etc/evil", "payload"); err != nil {
		t.Fatal(err)
	}
	for _, doc := range s.List() {
		if filepath.IsAbs(doc) || doc == "evil" && filepath.Dir(doc) != "." {
			t.Fatalf("document escaped the knowledge dir: %s", doc)
		}
	}
}

func TestConcurrentQueryDuringReload(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"a.md": "support hours are nine to five",
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Query("support hours", 4)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if err := s.Reload(); err != nil {
			t.Error(err)
		}
	}
	wg.Wait()
}
