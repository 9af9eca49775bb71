package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/yann6182/Projet-chat-back/internal/cache"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/internal/rag/vectorstore"
)

// stubIndex returns canned documents or a fixed error.
type stubIndex struct {
	docs  []schema.RetrievedDocument
	err   error
	calls int
}

func (s *stubIndex) Upsert(ctx context.Context, chunks []schema.Chunk) error { return nil }

func (s *stubIndex) Search(ctx context.Context, query string, k int, threshold float64) ([]schema.RetrievedDocument, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func vectorDoc(content, source string, score float64) schema.RetrievedDocument {
	return schema.RetrievedDocument{
		Chunk:  schema.Chunk{Document: schema.Document{Content: content, Source: source}, TotalChunks: 1},
		Score:  score,
		Origin: schema.OriginCollection,
	}
}

func newOrchestrator(primary, secondary vectorstore.Index) *Orchestrator {
	return New(primary, secondary, nil, Options{
		TopK:            3,
		SearchThreshold: 0.35,
		HighConfidence:  0.35,
		MaxExcerptChars: 500,
	})
}

func TestRetrieve_GreetingKeepsNoVectorResults(t *testing.T) {
	idx := &stubIndex{docs: []schema.RetrievedDocument{
		vectorDoc("texte hors sujet", "statuts.pdf", 0.4),
	}}
	o := newOrchestrator(idx, nil)

	res := o.Retrieve(context.Background(), "ça va ?", nil, "")
	if len(res.Sources) != 0 {
		t.Errorf("greeting produced sources %v", res.Sources)
	}
	if res.HasRelevant {
		t.Errorf("greeting marked as having relevant context")
	}
}

func TestRetrieve_ProvidedDocumentAlwaysInContext(t *testing.T) {
	idx := &stubIndex{}
	o := newOrchestrator(idx, nil)

	res := o.Retrieve(context.Background(), "ça va ?", []schema.Document{
		{Content: "clause de non-concurrence", Source: "contrat.pdf"},
	}, "")
	if !strings.Contains(res.ContextText, "clause de non-concurrence") {
		t.Errorf("provided document missing from context: %q", res.ContextText)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "contrat.pdf" {
		t.Errorf("sources = %v", res.Sources)
	}
	if !res.HasRelevant {
		t.Errorf("provided document should make the context relevant")
	}
}

func TestRetrieve_FallsBackToSecondaryOnUnavailable(t *testing.T) {
	primary := &stubIndex{err: vectorstore.ErrUnavailable}
	secondary := &stubIndex{docs: []schema.RetrievedDocument{
		vectorDoc("création de SASU", "guide.pdf", 0.8),
	}}
	o := newOrchestrator(primary, secondary)

	res := o.Retrieve(context.Background(), "comment créer une SASU ?", nil, "")
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 and 1", primary.calls, secondary.calls)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "guide.pdf" {
		t.Errorf("sources = %v", res.Sources)
	}
}

func TestRetrieve_BothBackendsDownYieldsEmptyResultNotError(t *testing.T) {
	o := newOrchestrator(
		&stubIndex{err: vectorstore.ErrUnavailable},
		&stubIndex{err: vectorstore.ErrUnavailable},
	)

	res := o.Retrieve(context.Background(), "comment créer une SASU ?", nil, "")
	if res.HasRelevant || res.ContextText != "" || len(res.Sources) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestRetrieve_HighConfidenceFiltersWeakVectorHits(t *testing.T) {
	idx := &stubIndex{docs: []schema.RetrievedDocument{
		vectorDoc("fort", "a.pdf", 0.8),
		vectorDoc("faible", "b.pdf", 0.2),
	}}
	o := newOrchestrator(idx, nil)

	res := o.Retrieve(context.Background(), "quelles sont les obligations fiscales ?", nil, "")
	if len(res.Sources) != 1 || res.Sources[0] != "a.pdf" {
		t.Errorf("sources = %v, want only the confident hit", res.Sources)
	}
}

func TestRetrieve_SourceLabelsCarryPageNumbers(t *testing.T) {
	page := 4
	doc := vectorDoc("article 12", "statuts.pdf", 0.9)
	doc.Page = &page
	o := newOrchestrator(&stubIndex{docs: []schema.RetrievedDocument{doc}}, nil)

	res := o.Retrieve(context.Background(), "que dit l'article 12 des statuts ?", nil, "")
	if len(res.Sources) != 1 || res.Sources[0] != "statuts.pdf (page 4)" {
		t.Errorf("sources = %v", res.Sources)
	}
	if len(res.Excerpts) != 1 || res.Excerpts[0].Page == nil || *res.Excerpts[0].Page != 4 {
		t.Errorf("excerpt page missing: %+v", res.Excerpts)
	}
}

func TestRetrieve_LongExcerptsAreTruncated(t *testing.T) {
	long := strings.Repeat("contenu très long ", 100)
	o := New(&stubIndex{docs: []schema.RetrievedDocument{vectorDoc(long, "a.pdf", 0.9)}}, nil, nil, Options{
		TopK:            3,
		HighConfidence:  0.35,
		MaxExcerptChars: 50,
	})

	res := o.Retrieve(context.Background(), "où trouver ce contenu détaillé ?", nil, "")
	if len(res.Excerpts) != 1 {
		t.Fatalf("excerpts = %d, want 1", len(res.Excerpts))
	}
	if got := len(res.Excerpts[0].Content); got > 50+len("…") {
		t.Errorf("excerpt length = %d, want at most %d plus ellipsis", got, 50)
	}
}

func TestRetrieve_SecondCallServedFromCache(t *testing.T) {
	idx := &stubIndex{docs: []schema.RetrievedDocument{
		vectorDoc("création de SASU", "guide.pdf", 0.8),
	}}
	rc := cache.NewResultCache(10, nil)
	o := New(idx, nil, rc, Options{TopK: 3, HighConfidence: 0.35, MaxExcerptChars: 500})

	first := o.Retrieve(context.Background(), "comment créer une SASU ?", nil, "conv-1")
	second := o.Retrieve(context.Background(), "comment créer une SASU ?", nil, "conv-2")
	if idx.calls != 1 {
		t.Errorf("backend searched %d times, want 1 with memoization", idx.calls)
	}
	if first.ContextText != second.ContextText {
		t.Errorf("cached result differs from the original")
	}
}

func TestIsTrivialQuery(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"ça va ?", true},
		{"Bonjour", true},
		{"salut maître", true},
		{"merci", true},
		{"bonjour, j'ai une question sur mes statuts", false},
		{"comment créer une SASU avec un associé unique ?", false},
		{"quelles obligations fiscales", false},
	}
	for _, c := range cases {
		if got := isTrivialQuery(c.query); got != c.want {
			t.Errorf("isTrivialQuery(%q) = %v, want %v", c.query, got, c.want)
		}
	}
}
