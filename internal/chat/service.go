// Package chat runs the per-turn conversation pipeline: classify the
// query, retrieve supporting context, generate the answer, persist the
// exchange and detect document generation requests.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yann6182/Projet-chat-back/internal/cache"
	"github.com/yann6182/Projet-chat-back/internal/chat/store"
	"github.com/yann6182/Projet-chat-back/internal/completion"
	"github.com/yann6182/Projet-chat-back/internal/rag/retrieval"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// ErrConversationNotFound mirrors the store sentinel so callers only need
// this package.
var ErrConversationNotFound = store.ErrConversationNotFound

// Retriever is the context assembly dependency.
type Retriever interface {
	Retrieve(ctx context.Context, query string, provided []schema.Document, conversationID string) retrieval.Result
}

// Persistence is the subset of the store the service uses.
type Persistence interface {
	SaveTurn(ctx context.Context, mode store.SaveMode, t store.Turn) error
	History(ctx context.Context, conversationUUID string) ([]schema.Turn, error)
	UpdateMetadata(ctx context.Context, conversationUUID, title, category string) error
	Exists(ctx context.Context, conversationUUID string) (bool, error)
}

// DocumentGenerator produces the requested artifact out of band. It runs on
// its own goroutine and must not block the answer.
type DocumentGenerator func(ctx context.Context, req DocumentRequest, answer string)

// Request is one inbound user query.
type Request struct {
	ConversationID string // empty starts a new conversation
	UserID         string
	Query          string
	Documents      []schema.Document // caller-uploaded context
}

// Response is the answer with its provenance.
type Response struct {
	ConversationID    string
	Answer            string
	Category          string
	Sources           []string
	Excerpts          []schema.Excerpt
	GeneratedDocument *DocumentRequest
}

// Service wires the pipeline together. All dependencies are injected;
// generator may be nil.
type Service struct {
	store     Persistence
	convCache *cache.ConversationStateCache
	retriever Retriever
	completer completion.Client
	generator DocumentGenerator
	log       *logger.Logger
}

// NewService builds the conversation service.
func NewService(st Persistence, convCache *cache.ConversationStateCache, retriever Retriever, completer completion.Client, generator DocumentGenerator) *Service {
	return &Service{
		store:     st,
		convCache: convCache,
		retriever: retriever,
		completer: completer,
		generator: generator,
		log:       logger.New("chat_service"),
	}
}

// ProcessQuery runs one full turn. Degraded dependencies never surface as
// errors: retrieval falls back, completion failure yields a fixed apology,
// persistence failure keeps the cached turn and logs. The only error is a
// caller mistake, continuing a conversation that does not exist.
func (s *Service) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	s.convCache.SweepExpired()

	state, mode, err := s.resolveConversation(ctx, req)
	if err != nil {
		return Response{}, err
	}
	clog := s.log.WithConversation(state.ID)

	category := state.Category
	if category == "" {
		category = classify(req.Query)
	}

	retrieved := s.retriever.Retrieve(ctx, req.Query, req.Documents, state.ID)

	history := state.Turns
	answer := s.generate(ctx, clog, retrieved.ContextText, req.Query, history)

	now := time.Now()
	s.convCache.AppendTurns(state.ID,
		schema.Turn{Role: schema.RoleUser, Message: req.Query, Timestamp: now},
		schema.Turn{
			Role:      schema.RoleAssistant,
			Message:   answer,
			Timestamp: now,
			Sources:   retrieved.Sources,
			Excerpts:  retrieved.Excerpts,
		})

	firstTurn := len(history) == 0 && mode == store.AutoCreate
	title := state.Title
	if title == "" {
		title = heuristicTitle(req.Query)
	}
	if err := s.store.SaveTurn(ctx, mode, store.Turn{
		ConversationUUID: state.ID,
		UserID:           req.UserID,
		Category:         category,
		Title:            title,
		Question:         req.Query,
		Answer:           answer,
		Sources:          retrieved.Sources,
		Excerpts:         retrieved.Excerpts,
	}); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return Response{}, err
		}
		// The cached turn stays: the user sees their exchange even though
		// the database write was lost.
		clog.Error(fmt.Sprintf("persisting turn failed: %v", err))
	}

	s.convCache.Update(state.ID, func(cs *cache.ConversationState) {
		cs.Category = category
		cs.Title = title
		cs.UserID = req.UserID
	})
	if firstTurn {
		go s.enrichMetadata(state.ID, req.Query)
	}

	resp := Response{
		ConversationID: state.ID,
		Answer:         answer,
		Category:       category,
		Sources:        retrieved.Sources,
		Excerpts:       retrieved.Excerpts,
	}
	if docReq := detectDocumentRequest(req.Query); docReq.IsRequest {
		resp.GeneratedDocument = &docReq
		if s.generator != nil {
			go s.generator(context.Background(), docReq, answer)
		}
	}
	return resp, nil
}

// resolveConversation maps the request to a snapshot of the conversation
// state and the persistence mode for this turn. Only snapshots cross this
// boundary; the cached struct itself stays behind the cache lock.
func (s *Service) resolveConversation(ctx context.Context, req Request) (cache.ConversationState, store.SaveMode, error) {
	if req.ConversationID == "" {
		state := cache.ConversationState{ID: uuid.NewString(), UserID: req.UserID}
		s.convCache.Put(state.ID, state)
		return state, store.AutoCreate, nil
	}

	if state, ok := s.convCache.Get(req.ConversationID); ok {
		return state, store.ContinueExisting, nil
	}

	exists, err := s.store.Exists(ctx, req.ConversationID)
	if err != nil {
		s.log.WithConversation(req.ConversationID).Error(fmt.Sprintf("conversation lookup failed: %v", err))
		// The store is down; carry on with an empty window rather than
		// refuse the turn.
		exists = true
	}
	if !exists {
		return cache.ConversationState{}, 0, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
	}

	state := cache.ConversationState{ID: req.ConversationID, UserID: req.UserID}
	if turns, herr := s.store.History(ctx, req.ConversationID); herr == nil {
		state.Turns = turns
	}
	s.convCache.Put(req.ConversationID, state)
	return state, store.ContinueExisting, nil
}

// generate asks the completion backend for the answer, falling back to the
// apology on failure.
func (s *Service) generate(ctx context.Context, clog *logger.Logger, contextText, query string, history []schema.Turn) string {
	answer, err := s.completer.Complete(ctx, buildMessages(contextText, query, history))
	if err != nil {
		clog.Error(fmt.Sprintf("completion failed: %v", err))
		return apologyAnswer
	}
	return answer
}

// conversationMetadata is the JSON the enrichment prompt asks for.
type conversationMetadata struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

// enrichMetadata asks the model for a proper title and category after the
// first exchange. Best effort: malformed output falls back to heuristics
// and any failure is only logged.
func (s *Service) enrichMetadata(conversationID, firstQuery string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	clog := s.log.WithConversation(conversationID)

	meta := conversationMetadata{
		Title:    heuristicTitle(firstQuery),
		Category: classify(firstQuery),
	}
	raw, err := s.completer.Complete(ctx, enrichmentPrompt(firstQuery))
	if err != nil {
		clog.Warn(fmt.Sprintf("metadata enrichment failed, keeping heuristics: %v", err))
	} else if parsed, perr := parseMetadata(raw); perr != nil {
		clog.Warn(fmt.Sprintf("metadata enrichment returned malformed JSON, keeping heuristics: %v", perr))
	} else {
		meta = parsed
	}

	if err := s.store.UpdateMetadata(ctx, conversationID, meta.Title, meta.Category); err != nil {
		clog.Warn(fmt.Sprintf("saving conversation metadata failed: %v", err))
		return
	}
	s.convCache.Update(conversationID, func(cs *cache.ConversationState) {
		cs.Title = meta.Title
		cs.Category = meta.Category
	})
}

// parseMetadata decodes the enrichment answer, tolerating prose around the
// JSON object.
func parseMetadata(raw string) (conversationMetadata, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return conversationMetadata{}, fmt.Errorf("no JSON object in %q", raw)
	}
	var meta conversationMetadata
	if err := json.Unmarshal([]byte(raw[start:end+1]), &meta); err != nil {
		return conversationMetadata{}, err
	}
	if meta.Title == "" || meta.Category == "" {
		return conversationMetadata{}, fmt.Errorf("incomplete metadata in %q", raw)
	}
	return meta, nil
}

// History returns the turn window of a conversation, preferring the cache
// and falling back to the store.
func (s *Service) History(ctx context.Context, conversationID string) ([]schema.Turn, error) {
	if state, ok := s.convCache.Get(conversationID); ok {
		return state.Turns, nil
	}
	return s.store.History(ctx, conversationID)
}

// Clear drops the cached state of a conversation, reporting whether it was
// cached. Persisted history is untouched.
func (s *Service) Clear(conversationID string) bool {
	return s.convCache.Delete(conversationID)
}
