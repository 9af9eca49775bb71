// Package vectorstore provides the two interchangeable similarity-search
// backends of the retrieval engine: a rebuildable in-memory flat index and
// a persistent Milvus collection. Both present the same interface and both
// report normalized [0,1] similarity scores, so callers never have to know
// which backend answered or which way its raw metric points.
package vectorstore

import (
	"context"
	"errors"
	"math"

	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
)

// ErrUnavailable is returned when a backend cannot be reached at all.
// The retrieval orchestrator falls back to the next backend in the chain.
var ErrUnavailable = errors.New("vector backend unavailable")

// oversampleFactor widens the raw search so threshold filtering and
// deduplication still leave enough survivors.
const oversampleFactor = 3

// Index is the common interface of both vector backends.
type Index interface {
	// Upsert embeds and stores chunks.
	Upsert(ctx context.Context, chunks []schema.Chunk) error

	// Search returns at most k documents whose normalized similarity is
	// at least threshold, deduplicated by (source, page).
	Search(ctx context.Context, query string, k int, threshold float64) ([]schema.RetrievedDocument, error)
}

// normalize scales a vector to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// dedupeAndCap removes documents sharing a (source, page) pair, keeping the
// first occurrence, and truncates the list to k entries. Input is expected
// sorted by descending score.
func dedupeAndCap(docs []schema.RetrievedDocument, k int) []schema.RetrievedDocument {
	type key struct {
		source string
		page   int
	}
	seen := make(map[key]bool, len(docs))
	out := docs[:0]
	for _, d := range docs {
		p := -1
		if d.Page != nil {
			p = *d.Page
		}
		kk := key{d.Source, p}
		if seen[kk] {
			continue
		}
		seen[kk] = true
		out = append(out, d)
		if len(out) == k {
			break
		}
	}
	return out
}
