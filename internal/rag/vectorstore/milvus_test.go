package vectorstore

import (
	"context"
	"testing"

	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// shortEmbedder violates the one-vector-per-text contract without
// reporting an error.
type shortEmbedder struct{}

func (shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return make([][]float32, len(texts)-1), nil
}

func TestPersistentCollection_UpsertRejectsShortEmbeddingBatch(t *testing.T) {
	p := &PersistentCollection{
		collection: "chunks",
		dim:        3,
		embedder:   shortEmbedder{},
		log:        logger.New("persistent_collection"),
	}

	err := p.Upsert(context.Background(), []schema.Chunk{
		{Document: schema.Document{Content: "premier", Source: "a.txt"}},
		{Document: schema.Document{Content: "second", Source: "b.txt"}},
	})
	if err == nil {
		t.Fatalf("short embedding batch must be rejected")
	}
}

func TestDistanceToSimilarity(t *testing.T) {
	cases := []struct {
		distance float64
		want     float64
	}{
		{0, 1},    // identical unit vectors
		{2, 0},    // opposite unit vectors
		{1, 0.5},  // halfway
		{4, 0},    // out of range clamps
		{-0.1, 1}, // numerical noise clamps
	}
	for _, c := range cases {
		if got := distanceToSimilarity(c.distance); got != c.want {
			t.Errorf("distanceToSimilarity(%v) = %v, want %v", c.distance, got, c.want)
		}
	}
}

func TestBuildFilterExpression(t *testing.T) {
	if got := buildFilterExpression(nil); got != "" {
		t.Errorf("empty filters = %q", got)
	}
	got := buildFilterExpression(map[string]string{"source": "statuts.pdf", "page": "3"})
	want := `page == "3" and source == "statuts.pdf"`
	if got != want {
		t.Errorf("expression = %q, want %q", got, want)
	}
}

func TestChunkKey(t *testing.T) {
	page := 7
	c := schema.Chunk{
		Document: schema.Document{Source: "statuts.pdf", Page: &page},
		ChunkID:  3,
	}
	if got := chunkKey(c); got != "statuts.pdf:7:3" {
		t.Errorf("chunkKey = %q", got)
	}

	c.Page = nil
	if got := chunkKey(c); got != "statuts.pdf:-1:3" {
		t.Errorf("chunkKey without page = %q", got)
	}
}

func TestDedupeAndCap(t *testing.T) {
	page1, page2 := 1, 2
	docs := []schema.RetrievedDocument{
		{Chunk: schema.Chunk{Document: schema.Document{Source: "a.pdf", Page: &page1}}, Score: 0.9},
		{Chunk: schema.Chunk{Document: schema.Document{Source: "a.pdf", Page: &page1}}, Score: 0.8},
		{Chunk: schema.Chunk{Document: schema.Document{Source: "a.pdf", Page: &page2}}, Score: 0.7},
		{Chunk: schema.Chunk{Document: schema.Document{Source: "b.pdf"}}, Score: 0.6},
	}
	out := dedupeAndCap(docs, 2)
	if len(out) != 2 {
		t.Fatalf("kept %d docs, want 2", len(out))
	}
	if out[0].Score != 0.9 || out[1].Score != 0.7 {
		t.Errorf("kept scores %v and %v, want 0.9 and 0.7", out[0].Score, out[1].Score)
	}
}
