// Package knowledge feeds the local document directory into the vector
// backends: load, preprocess, chunk, merge undersized chunks, upsert. A
// filesystem watcher keeps the flat index in sync with the directory.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yann6182/Projet-chat-back/internal/rag/chunker"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/internal/rag/vectorstore"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// Loader turns one file into documents. PDF and office extractors plug in
// here; the built-in implementation covers plain text.
type Loader interface {
	// Supports reports whether the loader handles the file extension.
	Supports(path string) bool
	// Load reads the file into one or more documents.
	Load(path string) ([]schema.Document, error)
}

// TextLoader reads .txt and .md files as single documents.
type TextLoader struct{}

func (TextLoader) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}

func (TextLoader) Load(path string) ([]schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return []schema.Document{{
		Content: string(data),
		Source:  filepath.Base(path),
	}}, nil
}

// Indexer runs the ingestion pipeline over the knowledge directory.
type Indexer struct {
	dir        string
	loaders    []Loader
	chunker    *chunker.Chunker
	minChunk   int
	collection vectorstore.Index // persistent backend, may be nil
	flat       *vectorstore.FlatIndex
	log        *logger.Logger
}

// NewIndexer builds the pipeline. collection may be nil when Milvus is not
// configured; extra loaders take precedence over the built-in text loader.
func NewIndexer(dir string, ch *chunker.Chunker, minChunk int, collection vectorstore.Index, flat *vectorstore.FlatIndex, loaders ...Loader) *Indexer {
	return &Indexer{
		dir:        dir,
		loaders:    append(loaders, TextLoader{}),
		chunker:    ch,
		minChunk:   minChunk,
		collection: collection,
		flat:       flat,
		log:        logger.New("knowledge"),
	}
}

// LoadDocuments walks the directory and loads every supported file.
// Unreadable files are logged and skipped.
func (ix *Indexer) LoadDocuments() []schema.Document {
	var docs []schema.Document
	err := filepath.WalkDir(ix.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		for _, loader := range ix.loaders {
			if !loader.Supports(path) {
				continue
			}
			loaded, lerr := loader.Load(path)
			if lerr != nil {
				ix.log.Warn(fmt.Sprintf("skipping %s: %v", path, lerr))
				break
			}
			docs = append(docs, loaded...)
			break
		}
		return nil
	})
	if err != nil {
		ix.log.Warn(fmt.Sprintf("walking knowledge directory %s: %v", ix.dir, err))
	}
	return docs
}

// ChunkDocuments runs the chunking pipeline: preprocess, split, merge
// undersized chunks.
func (ix *Indexer) ChunkDocuments(docs []schema.Document) []schema.Chunk {
	chunks := ix.chunker.Process(docs)
	return chunker.MergeSmall(chunks, ix.minChunk)
}

// Reindex rebuilds the flat index from the directory and upserts the same
// chunks into the persistent collection, both in parallel. A backend that
// fails is logged; the other still gets the data.
func (ix *Indexer) Reindex(ctx context.Context) error {
	docs := ix.LoadDocuments()
	chunks := ix.ChunkDocuments(docs)
	ix.log.Info(fmt.Sprintf("indexing %d chunks from %d documents", len(chunks), len(docs)))

	g, gctx := errgroup.WithContext(ctx)
	if ix.flat != nil {
		g.Go(func() error {
			if err := ix.flat.Rebuild(gctx, chunks); err != nil {
				return fmt.Errorf("rebuilding flat index: %w", err)
			}
			if err := ix.flat.Persist(); err != nil {
				ix.log.Warn(fmt.Sprintf("persisting flat index snapshot: %v", err))
			}
			return nil
		})
	}
	if ix.collection != nil {
		g.Go(func() error {
			if err := ix.collection.Upsert(gctx, chunks); err != nil {
				ix.log.Warn(fmt.Sprintf("persistent collection upsert failed: %v", err))
			}
			return nil
		})
	}
	return g.Wait()
}
