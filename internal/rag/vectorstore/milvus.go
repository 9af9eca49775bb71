package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/yann6182/Projet-chat-back/internal/rag/embeddings"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// Schema fields of the legal document collection.
const (
	FieldID        = "id"
	FieldContent   = "content"
	FieldSource    = "source"
	FieldPage      = "page"
	FieldEmbedding = "embedding"
)

// noPage is stored in the page column when the chunk has no page number.
const noPage = -1

// PersistentCollection is the Milvus-backed vector index. Unlike the flat
// index it supports incremental upsert without a rebuild and native
// metadata filter expressions. Any backend failure is reported wrapped in
// ErrUnavailable so the retrieval orchestrator can fall back.
type PersistentCollection struct {
	client     client.Client
	collection string
	dim        int
	embedder   embeddings.Model
	log        *logger.Logger
}

// NewPersistentCollection creates the adapter and makes sure the collection
// exists: a missing collection is created empty rather than reported as an
// error, mirroring how the knowledge base bootstraps itself on first run.
func NewPersistentCollection(ctx context.Context, c client.Client, collection string, dim int, embedder embeddings.Model) (*PersistentCollection, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: milvus client is not initialized", ErrUnavailable)
	}
	p := &PersistentCollection{
		client:     c,
		collection: collection,
		dim:        dim,
		embedder:   embedder,
		log:        logger.New("persistent_collection"),
	}
	if err := p.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureCollection creates the collection and its index when absent.
func (p *PersistentCollection) ensureCollection(ctx context.Context) error {
	has, err := p.client.HasCollection(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection: %v", ErrUnavailable, err)
	}
	if has {
		return nil
	}

	p.log.Warn(fmt.Sprintf("collection '%s' not found, creating it empty", p.collection))
	collSchema := entity.NewSchema().
		WithName(p.collection).
		WithDescription("legal document chunks").
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(600).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(FieldSource).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512)).
		WithField(entity.NewField().WithName(FieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(p.dim)))

	if err := p.client.CreateCollection(ctx, collSchema, 1); err != nil {
		return fmt.Errorf("%w: creating collection: %v", ErrUnavailable, err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 128)
	if err != nil {
		return fmt.Errorf("building index definition: %w", err)
	}
	if err := p.client.CreateIndex(ctx, p.collection, FieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("%w: creating index: %v", ErrUnavailable, err)
	}
	return nil
}

// Upsert embeds the chunks and inserts them into the collection. Chunk ids
// are derived from (source, page, chunk id) so re-indexing the same
// document overwrites rather than duplicates.
func (p *PersistentCollection) Upsert(ctx context.Context, chunks []schema.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	ids := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	pages := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = chunkKey(c)
		contents[i] = c.Content
		sources[i] = c.Source
		pages[i] = noPage
		if c.Page != nil {
			pages[i] = int64(*c.Page)
		}
		vectors[i] = normalize(vectors[i])
	}

	// Remove any previous revision of these ids before inserting.
	expr := fmt.Sprintf(`%s in [%s]`, FieldID, quoteList(ids))
	if err := p.client.Delete(ctx, p.collection, "", expr); err != nil {
		p.log.Debug(fmt.Sprintf("pre-insert delete skipped: %v", err))
	}

	idCol := entity.NewColumnVarChar(FieldID, ids)
	contentCol := entity.NewColumnVarChar(FieldContent, contents)
	sourceCol := entity.NewColumnVarChar(FieldSource, sources)
	pageCol := entity.NewColumnInt64(FieldPage, pages)
	embeddingCol := entity.NewColumnFloatVector(FieldEmbedding, p.dim, vectors)

	p.log.Info(fmt.Sprintf("inserting %d chunks into collection '%s'", len(chunks), p.collection))
	if _, err := p.client.Insert(ctx, p.collection, "", idCol, contentCol, sourceCol, pageCol, embeddingCol); err != nil {
		return fmt.Errorf("%w: insert failed: %v", ErrUnavailable, err)
	}
	return nil
}

// Search embeds the query and runs a vector search with threshold filtering
// and deduplication. Milvus reports L2 distance; over unit vectors it maps
// to similarity as 1 - d/2, clamped to [0,1], and the comparison direction
// is "keep if similarity >= threshold".
func (p *PersistentCollection) Search(ctx context.Context, query string, k int, threshold float64) ([]schema.RetrievedDocument, error) {
	return p.SearchFiltered(ctx, query, k, threshold, nil)
}

// SearchFiltered is Search with an optional metadata filter, e.g.
// {"source": "statuts.pdf"}.
func (p *PersistentCollection) SearchFiltered(ctx context.Context, query string, k int, threshold float64, filters map[string]string) ([]schema.RetrievedDocument, error) {
	qvecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil || len(qvecs) == 0 {
		return nil, fmt.Errorf("%w: embedding query failed: %v", ErrUnavailable, err)
	}
	qvec := normalize(qvecs[0])

	if err := p.client.LoadCollection(ctx, p.collection, false); err != nil {
		return nil, fmt.Errorf("%w: loading collection: %v", ErrUnavailable, err)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(10)
	outputFields := []string{FieldID, FieldContent, FieldSource, FieldPage}

	results, err := p.client.Search(
		ctx, p.collection, nil, buildFilterExpression(filters), outputFields,
		[]entity.Vector{entity.FloatVector(qvec)},
		FieldEmbedding, entity.L2, k*oversampleFactor, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}

	var docs []schema.RetrievedDocument
	for _, res := range results {
		contents := varCharData(res.Fields, FieldContent)
		sources := varCharData(res.Fields, FieldSource)
		pages := int64Data(res.Fields, FieldPage)

		for i := 0; i < res.ResultCount; i++ {
			score := distanceToSimilarity(float64(res.Scores[i]))
			if score < threshold {
				continue
			}
			doc := schema.RetrievedDocument{Score: score, Origin: schema.OriginCollection}
			if i < len(contents) {
				doc.Content = contents[i]
			}
			if i < len(sources) {
				doc.Source = sources[i]
			}
			if i < len(pages) && pages[i] != noPage {
				page := int(pages[i])
				doc.Page = &page
			}
			docs = append(docs, doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	docs = dedupeAndCap(docs, k)
	p.log.Info(fmt.Sprintf("collection search kept %d documents for query", len(docs)))
	return docs, nil
}

// distanceToSimilarity converts an L2 distance between unit vectors into a
// [0,1] similarity. The maximum distance between unit vectors is 2.
func distanceToSimilarity(d float64) float64 {
	s := 1 - d/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// buildFilterExpression renders a metadata map into a Milvus boolean
// expression joined with "and".
func buildFilterExpression(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	conditions := make([]string, 0, len(filters))
	for key, value := range filters {
		conditions = append(conditions, fmt.Sprintf(`%s == "%s"`, key, value))
	}
	sort.Strings(conditions)
	return strings.Join(conditions, " and ")
}

func quoteList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// chunkKey derives a stable primary key for a chunk.
func chunkKey(c schema.Chunk) string {
	page := noPage
	if c.Page != nil {
		page = *c.Page
	}
	return fmt.Sprintf("%s:%d:%d", c.Source, page, c.ChunkID)
}

func varCharData(fields []entity.Column, name string) []string {
	for _, f := range fields {
		if f.Name() == name {
			if col, ok := f.(*entity.ColumnVarChar); ok {
				return col.Data()
			}
		}
	}
	return nil
}

func int64Data(fields []entity.Column, name string) []int64 {
	for _, f := range fields {
		if f.Name() == name {
			if col, ok := f.(*entity.ColumnInt64); ok {
				return col.Data()
			}
		}
	}
	return nil
}

var _ Index = (*PersistentCollection)(nil)
