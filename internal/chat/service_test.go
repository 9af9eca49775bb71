package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yann6182/Projet-chat-back/internal/cache"
	"github.com/yann6182/Projet-chat-back/internal/chat/store"
	"github.com/yann6182/Projet-chat-back/internal/completion"
	"github.com/yann6182/Projet-chat-back/internal/rag/retrieval"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
)

// stubStore records saved turns in memory.
type stubStore struct {
	mu       sync.Mutex
	turns    []store.Turn
	modes    []store.SaveMode
	existing map[string]bool
	saveErr  error
	metadata map[string][2]string // uuid -> {title, category}
	metaCh   chan struct{}
}

func newStubStore() *stubStore {
	return &stubStore{
		existing: make(map[string]bool),
		metadata: make(map[string][2]string),
		metaCh:   make(chan struct{}, 8),
	}
}

func (s *stubStore) SaveTurn(ctx context.Context, mode store.SaveMode, t store.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if mode == store.ContinueExisting && !s.existing[t.ConversationUUID] {
		return fmt.Errorf("%w: %s", store.ErrConversationNotFound, t.ConversationUUID)
	}
	s.existing[t.ConversationUUID] = true
	s.turns = append(s.turns, t)
	s.modes = append(s.modes, mode)
	return nil
}

func (s *stubStore) History(ctx context.Context, id string) ([]schema.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existing[id] {
		return nil, fmt.Errorf("%w: %s", store.ErrConversationNotFound, id)
	}
	var out []schema.Turn
	for _, t := range s.turns {
		if t.ConversationUUID != id {
			continue
		}
		out = append(out,
			schema.Turn{Role: schema.RoleUser, Message: t.Question},
			schema.Turn{Role: schema.RoleAssistant, Message: t.Answer, Sources: t.Sources},
		)
	}
	return out, nil
}

func (s *stubStore) UpdateMetadata(ctx context.Context, id, title, category string) error {
	s.mu.Lock()
	s.metadata[id] = [2]string{title, category}
	s.mu.Unlock()
	select {
	case s.metaCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *stubStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[id], nil
}

func (s *stubStore) savedTurns() []store.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Turn(nil), s.turns...)
}

// stubRetriever returns a canned result.
type stubRetriever struct {
	result retrieval.Result
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, provided []schema.Document, conversationID string) retrieval.Result {
	return s.result
}

// stubCompleter scripts the completion backend.
type stubCompleter struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts [][]completion.Message
}

func (s *stubCompleter) Complete(ctx context.Context, msgs []completion.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, msgs)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "réponse par défaut", nil
	}
	a := s.answers[0]
	if len(s.answers) > 1 {
		s.answers = s.answers[1:]
	}
	return a, nil
}

func newTestService(st *stubStore, ret Retriever, comp completion.Client) *Service {
	return NewService(st, cache.NewConversationStateCache(100, time.Hour, 5), ret, comp, nil)
}

func TestProcessQuery_NewConversation(t *testing.T) {
	st := newStubStore()
	comp := &stubCompleter{answers: []string{"Pour créer une SASU, déposez les statuts au greffe."}}
	svc := newTestService(st, &stubRetriever{result: retrieval.Result{
		ContextText: "[guide.pdf]\nLa SASU se crée par dépôt des statuts.",
		Sources:     []string{"guide.pdf"},
		HasRelevant: true,
	}}, comp)

	resp, err := svc.ProcessQuery(context.Background(), Request{UserID: "u1", Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if resp.ConversationID == "" {
		t.Errorf("no conversation id assigned")
	}
	if resp.Category != "statuts" {
		t.Errorf("category = %q, want statuts", resp.Category)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "guide.pdf" {
		t.Errorf("sources = %v", resp.Sources)
	}

	turns := st.savedTurns()
	if len(turns) != 1 {
		t.Fatalf("saved %d turns, want 1", len(turns))
	}
	if turns[0].Question != "Comment créer une SASU ?" {
		t.Errorf("saved question = %q", turns[0].Question)
	}
	if st.modes[0] != store.AutoCreate {
		t.Errorf("save mode = %v, want AutoCreate", st.modes[0])
	}
}

func TestProcessQuery_ContinuingUnknownConversationFails(t *testing.T) {
	svc := newTestService(newStubStore(), &stubRetriever{}, &stubCompleter{})

	_, err := svc.ProcessQuery(context.Background(), Request{
		ConversationID: "inexistante",
		Query:          "et ensuite ?",
	})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("error = %v, want ErrConversationNotFound", err)
	}
}

func TestProcessQuery_CompletionFailureYieldsApology(t *testing.T) {
	st := newStubStore()
	svc := newTestService(st, &stubRetriever{}, &stubCompleter{err: errors.New("backend down")})

	resp, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if resp.Answer != apologyAnswer {
		t.Errorf("answer = %q, want the apology", resp.Answer)
	}
	// The apology is still persisted as the turn's answer.
	if turns := st.savedTurns(); len(turns) != 1 || turns[0].Answer != apologyAnswer {
		t.Errorf("persisted turns = %+v", st.savedTurns())
	}
}

func TestProcessQuery_PersistFailureKeepsCachedTurn(t *testing.T) {
	st := newStubStore()
	st.saveErr = errors.New("mysql down")
	comp := &stubCompleter{answers: []string{"réponse"}}
	svc := newTestService(st, &stubRetriever{}, comp)

	resp, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("persistence failure must not fail the turn: %v", err)
	}

	history, err := svc.History(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("cached history holds %d turns, want 2", len(history))
	}
	if history[1].Message != "réponse" {
		t.Errorf("cached answer = %q", history[1].Message)
	}
}

func TestProcessQuery_SecondTurnReplaysHistory(t *testing.T) {
	st := newStubStore()
	comp := &stubCompleter{answers: []string{"première réponse", "seconde réponse"}}
	svc := newTestService(st, &stubRetriever{}, comp)

	first, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := svc.ProcessQuery(context.Background(), Request{
		ConversationID: first.ConversationID,
		Query:          "Et combien ça coûte ?",
	}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	comp.mu.Lock()
	defer comp.mu.Unlock()
	var second []completion.Message
	for _, p := range comp.prompts {
		if strings.Contains(p[len(p)-1].Content, "combien ça coûte") {
			second = p
		}
	}
	if second == nil {
		t.Fatalf("second prompt not captured")
	}
	var sawFirstAnswer bool
	for _, m := range second {
		if m.Role == "assistant" && m.Content == "première réponse" {
			sawFirstAnswer = true
		}
	}
	if !sawFirstAnswer {
		t.Errorf("second prompt does not replay the first answer")
	}
}

func TestProcessQuery_ConcurrentTurnsKeepWindowConsistent(t *testing.T) {
	st := newStubStore()
	svc := newTestService(st, &stubRetriever{}, &stubCompleter{})

	first, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, perr := svc.ProcessQuery(context.Background(), Request{
				ConversationID: first.ConversationID,
				Query:          fmt.Sprintf("question concurrente %d", i),
			})
			if perr != nil {
				t.Errorf("concurrent turn %d failed: %v", i, perr)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History(context.Background(), first.ConversationID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	// 1 initial exchange + 4 concurrent exchanges, window cap is 10.
	if len(history) != 2*(workers+1) {
		t.Fatalf("window holds %d turns, want %d", len(history), 2*(workers+1))
	}
	if len(history)%2 != 0 {
		t.Errorf("window holds a dangling half exchange")
	}
}

func TestProcessQuery_DocumentRequestDetected(t *testing.T) {
	st := newStubStore()
	done := make(chan DocumentRequest, 1)
	svc := NewService(st, cache.NewConversationStateCache(100, time.Hour, 5), &stubRetriever{}, &stubCompleter{},
		func(ctx context.Context, req DocumentRequest, answer string) { done <- req })

	resp, err := svc.ProcessQuery(context.Background(), Request{Query: "Rédige un contrat de prestation"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if resp.GeneratedDocument == nil || !resp.GeneratedDocument.IsRequest {
		t.Fatalf("document request not detected")
	}
	select {
	case req := <-done:
		if req.Kind != "contrat" || req.Format != "pdf" {
			t.Errorf("generator received %+v", req)
		}
	case <-time.After(time.Second):
		t.Errorf("generator callback never invoked")
	}
}

func TestProcessQuery_FirstTurnEnrichmentUpdatesMetadata(t *testing.T) {
	st := newStubStore()
	comp := &stubCompleter{answers: []string{
		"réponse principale",
		`{"title": "Création de SASU", "category": "statuts"}`,
	}}
	svc := newTestService(st, &stubRetriever{}, comp)

	resp, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}

	select {
	case <-st.metaCh:
	case <-time.After(time.Second):
		t.Fatalf("enrichment never reached the store")
	}
	st.mu.Lock()
	meta := st.metadata[resp.ConversationID]
	st.mu.Unlock()
	if meta[0] != "Création de SASU" || meta[1] != "statuts" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata(`Voici : {"title": "Titre", "category": "contrats"} merci`)
	if err != nil {
		t.Fatalf("parseMetadata failed: %v", err)
	}
	if meta.Title != "Titre" || meta.Category != "contrats" {
		t.Errorf("meta = %+v", meta)
	}

	if _, err := parseMetadata("pas de JSON ici"); err == nil {
		t.Errorf("prose without JSON must fail")
	}
	if _, err := parseMetadata(`{"title": ""}`); err == nil {
		t.Errorf("incomplete metadata must fail")
	}
}

func TestClear(t *testing.T) {
	st := newStubStore()
	svc := newTestService(st, &stubRetriever{}, &stubCompleter{})

	resp, err := svc.ProcessQuery(context.Background(), Request{Query: "Comment créer une SASU ?"})
	if err != nil {
		t.Fatalf("ProcessQuery failed: %v", err)
	}
	if !svc.Clear(resp.ConversationID) {
		t.Errorf("clear of active conversation reported absent")
	}
	if svc.Clear(resp.ConversationID) {
		t.Errorf("second clear reported present")
	}
}
