package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yann6182/Projet-chat-back/internal/rag/embeddings"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
	"github.com/yann6182/Projet-chat-back/pkg/ratelimiter"
)

// FlatIndex is a dense, exhaustively scanned vector index held in memory.
// It is rebuilt from scratch out of the knowledge base and snapshotted to
// disk, the way the original FAISS index was. Searches compare raw L2
// distance against DistanceThreshold (lower is better) before converting
// to a normalized similarity.
type FlatIndex struct {
	embedder          embeddings.Model
	limiter           *ratelimiter.TokenBucket
	batchSize         int
	distanceThreshold float64
	path              string
	log               *logger.Logger

	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	chunks  []schema.Chunk
}

// FlatOptions configures a FlatIndex.
type FlatOptions struct {
	BatchSize         int     // texts per embedding request
	RatePerSecond     float64 // embedding batches per second
	Burst             int     // rate limiter burst
	DistanceThreshold float64 // raw L2 ceiling, lower distance is better
	Path              string  // snapshot file
}

// NewFlatIndex creates an empty flat index.
func NewFlatIndex(embedder embeddings.Model, opts FlatOptions) *FlatIndex {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	return &FlatIndex{
		embedder:          embedder,
		limiter:           ratelimiter.NewTokenBucket(opts.RatePerSecond, opts.Burst),
		batchSize:         opts.BatchSize,
		distanceThreshold: opts.DistanceThreshold,
		path:              opts.Path,
		log:               logger.New("flat_index"),
	}
}

// Rebuild replaces the whole index content with the given chunks.
// Embedding happens in rate-limited batches outside the lock; a failing
// batch degrades to deterministic placeholder vectors instead of aborting
// the build. Placeholder vectors keep the index serving but are not
// meaningful for ranking, so the degradation is logged loudly.
func (f *FlatIndex) Rebuild(ctx context.Context, chunks []schema.Chunk) error {
	vectors, dim, err := f.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.vectors = vectors
	f.chunks = append([]schema.Chunk(nil), chunks...)
	f.dim = dim
	f.mu.Unlock()

	f.log.Info(fmt.Sprintf("flat index rebuilt with %d chunks", len(chunks)))
	return nil
}

// Upsert appends chunks to the index. The flat index has no keyed storage,
// so an upsert of already-indexed content duplicates it until the next
// Rebuild.
func (f *FlatIndex) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, dim, err := f.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dim != 0 && dim != 0 && dim != f.dim {
		return fmt.Errorf("embedding dimension changed: index has %d, got %d", f.dim, dim)
	}
	if f.dim == 0 {
		f.dim = dim
	}
	f.vectors = append(f.vectors, vectors...)
	f.chunks = append(f.chunks, chunks...)
	return nil
}

// Search scans the whole index and returns at most k chunks within the
// configured raw distance ceiling whose normalized similarity is at least
// threshold.
func (f *FlatIndex) Search(ctx context.Context, query string, k int, threshold float64) ([]schema.RetrievedDocument, error) {
	qvecs, err := f.embedder.Embed(ctx, []string{query})
	if err != nil || len(qvecs) == 0 {
		return nil, fmt.Errorf("%w: embedding query failed: %v", ErrUnavailable, err)
	}
	qvec := normalize(qvecs[0])

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vectors) == 0 {
		return nil, nil
	}

	type scored struct {
		idx      int
		distance float64
	}
	candidates := make([]scored, 0, len(f.vectors))
	for i, v := range f.vectors {
		candidates = append(candidates, scored{i, l2Distance(qvec, v)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	limit := k * oversampleFactor
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]schema.RetrievedDocument, 0, limit)
	for _, c := range candidates[:limit] {
		// Raw distance gate first: lower is better on this backend.
		if f.distanceThreshold > 0 && c.distance > f.distanceThreshold {
			continue
		}
		score := 1 / (1 + c.distance)
		if score < threshold {
			continue
		}
		results = append(results, schema.RetrievedDocument{
			Chunk:  f.chunks[c.idx],
			Score:  score,
			Origin: schema.OriginFlat,
		})
	}
	return dedupeAndCap(results, k), nil
}

// Persist snapshots the index to its configured path as JSON.
func (f *FlatIndex) Persist() error {
	f.mu.RLock()
	snap := flatSnapshot{Dim: f.dim, Vectors: f.vectors, Chunks: f.chunks}
	f.mu.RUnlock()

	if f.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	f.log.Info(fmt.Sprintf("flat index persisted to %s (%d chunks)", f.path, len(snap.Chunks)))
	return nil
}

// Load restores a snapshot written by Persist. A missing snapshot file is
// not an error, the index just starts empty.
func (f *FlatIndex) Load() error {
	if f.path == "" {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.log.Warn("no flat index snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}
	var snap flatSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	f.mu.Lock()
	f.dim = snap.Dim
	f.vectors = snap.Vectors
	f.chunks = snap.Chunks
	f.mu.Unlock()

	f.log.Info(fmt.Sprintf("flat index loaded from %s (%d chunks)", f.path, len(snap.Chunks)))
	return nil
}

// Len returns the number of indexed chunks.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks)
}

type flatSnapshot struct {
	Dim     int            `json:"dim"`
	Vectors [][]float32    `json:"vectors"`
	Chunks  []schema.Chunk `json:"chunks"`
}

// embedChunks embeds chunk texts batch by batch through the rate limiter.
// A failing batch is replaced by placeholder unit vectors so one embedding
// outage never aborts a whole index build.
func (f *FlatIndex) embedChunks(ctx context.Context, chunks []schema.Chunk) ([][]float32, int, error) {
	vectors := make([][]float32, 0, len(chunks))
	dim := 0

	f.mu.RLock()
	dim = f.dim
	f.mu.RUnlock()

	for start := 0; start < len(chunks); start += f.batchSize {
		end := start + f.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		batch, err := f.embedder.Embed(ctx, texts)
		if err != nil || len(batch) != len(texts) {
			f.log.Warn(fmt.Sprintf("embedding batch %d-%d failed, using placeholder vectors: %v", start, end, err))
			for _, t := range texts {
				vectors = append(vectors, placeholderVector(t, orDefault(dim)))
			}
			continue
		}
		for _, v := range batch {
			if dim == 0 {
				dim = len(v)
			}
			vectors = append(vectors, normalize(v))
		}
	}

	if dim == 0 {
		dim = orDefault(dim)
	}
	return vectors, dim, nil
}

// placeholderDim is used when the real dimension is still unknown because
// every batch failed before a single vector came back.
const placeholderDim = 384

func orDefault(dim int) int {
	if dim <= 0 {
		return placeholderDim
	}
	return dim
}

// placeholderVector derives a deterministic unit vector from the text.
// It keeps the index structurally valid in degraded mode but carries no
// semantic meaning for ranking.
func placeholderVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		// Simple LCG over the seed, mapped into [-1, 1).
		state = state*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(state>>11))/float32(1<<52) - 1
	}
	return normalize(v)
}

// l2Distance computes Euclidean distance between two vectors of equal
// dimension. Mismatched dimensions (possible in degraded mode) compare
// over the shorter prefix.
func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

var _ Index = (*FlatIndex)(nil)
