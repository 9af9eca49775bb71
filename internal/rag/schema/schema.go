package schema

import (
	"fmt"
	"time"
)

// Document is the central data structure representing a piece of text and
// its associated metadata. It is the primary data carrier throughout the
// retrieval pipeline.
type Document struct {
	// Content is the raw text of the document.
	Content string

	// Source is a human-readable label for where the text came from
	// (file name, knowledge base entry, upload).
	Source string

	// Page is the page number within the source, when known.
	Page *int

	// Metadata holds arbitrary string-keyed data about the document.
	Metadata map[string]string
}

// Chunk is a bounded segment of a Document produced for indexing.
// Chunks are created by the chunker and consumed read-only downstream.
type Chunk struct {
	Document

	// ChunkID is the sequential position of the chunk within its document.
	ChunkID int

	// TotalChunks is the number of chunks the document was split into.
	TotalChunks int

	// Merged marks chunks produced by coalescing undersized neighbours.
	Merged bool

	// ChunkIDs lists the original chunk ids absorbed into a merged chunk.
	// Only present when Merged is true.
	ChunkIDs []int
}

// Origin tags where a retrieved document came from.
type Origin string

const (
	// OriginProvided marks caller-supplied context documents. They are
	// treated as maximally relevant and never filtered out.
	OriginProvided Origin = "provided"
	// OriginCollection marks hits from the persistent vector collection.
	OriginCollection Origin = "collection"
	// OriginFlat marks hits from the rebuildable flat index.
	OriginFlat Origin = "flat"
)

// RetrievedDocument is a chunk returned by a similarity search, carrying a
// normalized [0,1] similarity score regardless of which backend produced it.
type RetrievedDocument struct {
	Chunk

	// Score is the normalized similarity, higher is better.
	Score float64

	// Origin records which retrieval path produced the document.
	Origin Origin
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message within a conversation.
type Turn struct {
	Role      Role
	Message   string
	Timestamp time.Time

	// Sources and Excerpts are only populated on assistant turns that
	// cited retrieved context.
	Sources  []string
	Excerpts []Excerpt
}

// Excerpt is a truncated passage shown to the user as supporting evidence.
type Excerpt struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    *int   `json:"page,omitempty"`
}

// SourceLabel renders a document source with its page suffix when present.
func SourceLabel(source string, page *int) string {
	if page == nil {
		return source
	}
	return fmt.Sprintf("%s (page %d)", source, *page)
}
