// Package chunker splits raw documents into overlapping, structure-preserving
// segments sized for the embedding index. It is tuned for French legal
// documents: the separator hierarchy goes from section breaks down to single
// characters so that statutes and contract clauses keep their structure.
package chunker

import (
	"regexp"
	"strings"

	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// charsPerToken approximates token length for French text.
const charsPerToken = 4

// DefaultSeparators is the split hierarchy, from most to least significant.
var DefaultSeparators = []string{
	"\n\n\n", // distinct sections
	"\n\n",   // paragraphs
	"\n",     // lines
	". ",     // sentences
	"; ",     // clauses and list items
	", ",     // enumerations
	" ",      // words, last structured resort
	"",       // single characters if nothing else fits
}

// Chunker splits documents into chunks of roughly ChunkSize tokens with
// ChunkOverlap tokens of overlap between neighbours.
type Chunker struct {
	ChunkSize    int // target size in tokens
	ChunkOverlap int // overlap in tokens
	separators   []string
	log          *logger.Logger
}

// New creates a Chunker with the default separator hierarchy.
func New(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
		log:          logger.New("chunker"),
	}
}

// Chunk splits a document into chunks, preserving its metadata on every
// chunk. Empty or whitespace-only content yields no chunks. Content that
// already fits within one chunk is returned unchanged. Chunk never fails:
// if splitting goes wrong the whole document comes back as a single chunk.
func (c *Chunker) Chunk(doc schema.Document) []schema.Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		c.log.Warn("document has no content: " + doc.Source)
		return nil
	}

	maxChars := c.ChunkSize * charsPerToken
	if len(doc.Content) <= maxChars {
		return []schema.Chunk{{Document: doc, ChunkID: 0, TotalChunks: 1}}
	}

	pieces := c.split(doc.Content, c.separators)
	if len(pieces) == 0 {
		// Splitting produced nothing usable, keep the document whole.
		return []schema.Chunk{{Document: doc, ChunkID: 0, TotalChunks: 1}}
	}

	chunks := make([]schema.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = schema.Chunk{
			Document: schema.Document{
				Content:  piece,
				Source:   doc.Source,
				Page:     doc.Page,
				Metadata: copyMetadata(doc.Metadata),
			},
			ChunkID:     i,
			TotalChunks: len(pieces),
		}
	}
	return chunks
}

// Process preprocesses and chunks a batch of documents into one flat list.
func (c *Chunker) Process(docs []schema.Document) []schema.Chunk {
	var all []schema.Chunk
	for _, doc := range docs {
		doc.Content = Preprocess(doc.Content)
		all = append(all, c.Chunk(doc)...)
	}
	return all
}

// MergeSmall coalesces any chunk below minSize characters into the chunk
// that follows it, recording the merge in Merged and ChunkIDs. It is a
// single forward pass, not a fixpoint: a merged chunk that is still below
// minSize is not merged again.
func MergeSmall(chunks []schema.Chunk, minSize int) []schema.Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var result []schema.Chunk
	current := chunks[0]

	for _, next := range chunks[1:] {
		if len(current.Content) < minSize {
			current.Content += next.Content
			current.Merged = true
			if len(current.ChunkIDs) == 0 {
				current.ChunkIDs = []int{current.ChunkID}
			}
			current.ChunkIDs = append(current.ChunkIDs, next.ChunkID)
		} else {
			result = append(result, current)
			current = next
		}
	}
	return append(result, current)
}

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Preprocess normalizes text before chunking: repeated blank lines collapse
// to a single paragraph break and surrounding whitespace is trimmed.
func Preprocess(text string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}

// split recursively divides text using the first separator of the hierarchy
// that appears in it, then greedily packs the pieces into chunks of at most
// ChunkSize tokens with ChunkOverlap tokens of overlap. Separators stay
// attached to the piece they terminate.
func (c *Chunker) split(text string, separators []string) []string {
	sep := ""
	rest := []string(nil)
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = splitKeepSeparator(text, sep)
	}

	maxChars := c.ChunkSize * charsPerToken
	var final []string
	var pending []string

	flush := func() {
		if len(pending) > 0 {
			final = append(final, c.pack(pending)...)
			pending = nil
		}
	}

	for _, s := range splits {
		if len(s) <= maxChars {
			pending = append(pending, s)
			continue
		}
		flush()
		if len(rest) == 0 {
			final = append(final, s)
		} else {
			final = append(final, c.split(s, rest)...)
		}
	}
	flush()
	return final
}

// pack joins consecutive small splits into chunks close to the target size,
// carrying ChunkOverlap tokens of trailing splits into the next chunk.
func (c *Chunker) pack(splits []string) []string {
	maxChars := c.ChunkSize * charsPerToken
	overlapChars := c.ChunkOverlap * charsPerToken

	var chunks []string
	var window []string
	total := 0

	for _, s := range splits {
		if total+len(s) > maxChars && total > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			// Keep a tail of the window as overlap for the next chunk.
			for total > overlapChars && len(window) > 1 {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, s)
		total += len(s)
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// splitKeepSeparator behaves like strings.SplitAfter but drops empty pieces.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
