// Package retrieval assembles the context block for a query: it seeds with
// caller-provided documents, queries the vector backends with graceful
// fallback, filters conversational noise, and formats the surviving
// documents into prompt-ready text.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yann6182/Projet-chat-back/internal/cache"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/internal/rag/vectorstore"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// trivialQueryMaxRunes is the length under which a query is checked against
// the greeting set. Longer queries always go through the vector search.
const trivialQueryMaxRunes = 20

// greetings are short conversational openers that carry no retrieval
// intent. Matching is done on the normalized query.
var greetings = map[string]bool{
	"bonjour":    true,
	"bonsoir":    true,
	"salut":      true,
	"coucou":     true,
	"hello":      true,
	"hi":         true,
	"hey":        true,
	"merci":      true,
	"au revoir":  true,
	"a bientot":  true,
	"à bientôt":  true,
	"ca va":      true,
	"ça va":      true,
	"ca va ?":    true,
	"ça va ?":    true,
	"comment ca": true,
}

// Result is everything the orchestrator needs from one retrieval pass.
type Result struct {
	ContextText string           `json:"context_text"`
	Sources     []string         `json:"sources"`
	Excerpts    []schema.Excerpt `json:"excerpts"`
	HasRelevant bool             `json:"has_relevant"`
}

// Options tune one orchestrator instance.
type Options struct {
	TopK            int
	SearchThreshold float64
	HighConfidence  float64
	MaxExcerptChars int
	CacheTTL        time.Duration
}

// Orchestrator runs the retrieval chain. Either backend may be nil; with
// both nil the result is seeded documents only.
type Orchestrator struct {
	primary   vectorstore.Index // persistent collection, preferred
	secondary vectorstore.Index // in-memory flat index, fallback
	results   *cache.ResultCache
	opts      Options
	log       *logger.Logger
}

// New builds an orchestrator. results may be nil to disable memoization.
func New(primary, secondary vectorstore.Index, results *cache.ResultCache, opts Options) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.MaxExcerptChars <= 0 {
		opts.MaxExcerptChars = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		results:   results,
		opts:      opts,
		log:       logger.New("retrieval"),
	}
}

// Retrieve never returns an error: every backend failure degrades to the
// next link of the chain, and with nothing left the seeded documents alone
// make up the result. The conversation id only feeds the logs; results are
// shared across conversations asking the same question.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, provided []schema.Document, conversationID string) Result {
	clog := o.log
	if conversationID != "" {
		clog = clog.WithConversation(conversationID)
	}

	key := cacheKey(query, provided)
	if o.results != nil {
		if v, ok := o.results.Get(key); ok {
			if res, ok := v.(Result); ok {
				return res
			}
			// A durable-tier hit decodes as generic JSON; recompute and
			// overwrite rather than guess at the shape.
		}
	}

	docs := o.seed(provided)
	docs = append(docs, o.searchBackends(ctx, clog, query)...)
	docs = o.filter(clog, query, docs)
	res := o.format(docs)

	if o.results != nil {
		o.results.Set(key, res, o.opts.CacheTTL, true)
	}
	return res
}

// seed wraps caller-provided documents as top-score results so they always
// survive threshold filtering.
func (o *Orchestrator) seed(provided []schema.Document) []schema.RetrievedDocument {
	out := make([]schema.RetrievedDocument, 0, len(provided))
	for _, d := range provided {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		out = append(out, schema.RetrievedDocument{
			Chunk:  schema.Chunk{Document: d, TotalChunks: 1},
			Score:  1,
			Origin: schema.OriginProvided,
		})
	}
	return out
}

// searchBackends walks the fallback chain. A backend that answers, even
// with zero documents, ends the chain; only a failure moves to the next.
func (o *Orchestrator) searchBackends(ctx context.Context, clog *logger.Logger, query string) []schema.RetrievedDocument {
	for _, backend := range []vectorstore.Index{o.primary, o.secondary} {
		if backend == nil {
			continue
		}
		docs, err := backend.Search(ctx, query, o.opts.TopK, o.opts.SearchThreshold)
		if err == nil {
			return docs
		}
		if errors.Is(err, vectorstore.ErrUnavailable) {
			clog.Warn(fmt.Sprintf("vector backend unavailable, falling back: %v", err))
			continue
		}
		clog.Error(fmt.Sprintf("vector search failed: %v", err))
	}
	return nil
}

// filter applies the two relevance gates to vector-origin documents:
// conversational queries keep no vector results at all, and the rest must
// clear the high-confidence threshold. Provided documents always pass.
func (o *Orchestrator) filter(clog *logger.Logger, query string, docs []schema.RetrievedDocument) []schema.RetrievedDocument {
	trivial := isTrivialQuery(query)
	out := docs[:0]
	for _, d := range docs {
		if d.Origin == schema.OriginProvided {
			out = append(out, d)
			continue
		}
		if trivial {
			continue
		}
		if o.opts.HighConfidence > 0 && d.Score < o.opts.HighConfidence {
			continue
		}
		out = append(out, d)
	}
	if trivial && len(docs) > len(out) {
		clog.Debug("conversational query, vector results discarded")
	}
	return out
}

// format renders the surviving documents into the prompt context block and
// collects the deduplicated source labels and excerpts.
func (o *Orchestrator) format(docs []schema.RetrievedDocument) Result {
	var res Result
	if len(docs) == 0 {
		return res
	}

	seen := make(map[string]bool, len(docs))
	var blocks []string
	for _, d := range docs {
		excerpt := truncate(d.Content, o.opts.MaxExcerptChars)
		label := schema.SourceLabel(d.Source, d.Page)
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", label, excerpt))
		res.Excerpts = append(res.Excerpts, schema.Excerpt{
			Content: excerpt,
			Source:  d.Source,
			Page:    d.Page,
		})
		if !seen[label] {
			seen[label] = true
			res.Sources = append(res.Sources, label)
		}
		if d.Origin != schema.OriginProvided {
			res.HasRelevant = true
		}
	}
	if len(res.Excerpts) > 0 && !res.HasRelevant {
		// Provided documents alone still make a usable context.
		res.HasRelevant = true
	}
	res.ContextText = strings.Join(blocks, "\n\n")
	return res
}

// isTrivialQuery reports whether the query is a short social opener that
// should not trigger document retrieval.
func isTrivialQuery(query string) bool {
	q := normalizeQuery(query)
	if q == "" {
		return true
	}
	if utf8.RuneCountInString(q) >= trivialQueryMaxRunes {
		return false
	}
	if greetings[q] {
		return true
	}
	for g := range greetings {
		if strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") {
			return true
		}
	}
	return false
}

// normalizeQuery lowercases and strips the punctuation that greeting
// variants differ by.
func normalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.TrimRight(q, "?!. ")
	return strings.Join(strings.Fields(q), " ")
}

// truncate cuts s to at most max bytes without splitting a rune, appending
// an ellipsis when something was dropped.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "…"
}

// cacheKey hashes the query together with the identity of the provided
// documents so the same question over different uploads never collides.
func cacheKey(query string, provided []schema.Document) string {
	h := sha256.New()
	h.Write([]byte(query))
	labels := make([]string, 0, len(provided))
	for _, d := range provided {
		labels = append(labels, schema.SourceLabel(d.Source, d.Page))
	}
	sort.Strings(labels)
	for _, l := range labels {
		h.Write([]byte{0})
		h.Write([]byte(l))
	}
	return "retrieval:" + hex.EncodeToString(h.Sum(nil))
}
