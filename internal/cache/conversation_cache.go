package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// ConversationState is the in-memory working set of one conversation: the
// sliding window of turns plus the metadata the orchestrator needs between
// requests.
type ConversationState struct {
	ID       string
	UserID   string
	Category string
	Title    string
	Turns    []schema.Turn
}

// ConversationStateCache keeps the hot working state of active
// conversations, bounded in count and in age. Eviction is LRU; expiry is
// swept inline on access rather than by a background goroutine, active
// conversations keep themselves alive.
//
// The cached struct never escapes the lock: Get returns a snapshot and all
// mutation goes through Put, AppendTurns or Update.
type ConversationStateCache struct {
	mu         sync.Mutex
	capacity   int
	ttl        time.Duration
	maxHistory int

	ll    *list.List // front = most recently used
	items map[string]*list.Element
	now   func() time.Time
	log   *logger.Logger
}

type convItem struct {
	id         string
	state      *ConversationState
	lastAccess time.Time
}

// NewConversationStateCache builds a cache bounded at capacity
// conversations, each expiring ttl after its last access. maxHistory is the
// number of exchanges kept per conversation; the stored window holds twice
// that many turns.
func NewConversationStateCache(capacity int, ttl time.Duration, maxHistory int) *ConversationStateCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxHistory <= 0 {
		maxHistory = 5
	}
	return &ConversationStateCache{
		capacity:   capacity,
		ttl:        ttl,
		maxHistory: maxHistory,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
		log:        logger.New("conversation_cache"),
	}
}

// snapshot copies the state, including the turn window, so callers can
// read it without holding the lock.
func snapshot(s *ConversationState) ConversationState {
	cp := *s
	cp.Turns = append([]schema.Turn(nil), s.Turns...)
	return cp
}

// Get returns a snapshot of the state for id and refreshes its recency.
// An expired entry is dropped and reported as absent.
func (c *ConversationStateCache) Get(id string) (ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.touchLocked(id)
	if !ok {
		return ConversationState{}, false
	}
	return snapshot(item.state), true
}

// Put inserts or replaces the state for id, evicting the least recently
// used conversation on overflow. The cache stores its own copy.
func (c *ConversationStateCache) Put(id string, state ConversationState) {
	cp := snapshot(&state)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[id]; ok {
		item := el.Value.(*convItem)
		item.state = &cp
		item.lastAccess = now
		c.ll.MoveToFront(el)
		return
	}
	c.insertLocked(id, &cp, now)
}

// Update applies fn to the state for id under the lock and reports whether
// the conversation was present. fn must not block on I/O.
func (c *ConversationStateCache) Update(id string, fn func(*ConversationState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.touchLocked(id)
	if !ok {
		return false
	}
	fn(item.state)
	return true
}

// AppendTurns adds turns to the conversation window in one atomic step,
// creating the state on first use, so a question and its answer can never
// be split by a concurrent writer. While the window exceeds twice the
// history size, the oldest exchange (one user turn and one assistant turn)
// is dropped.
func (c *ConversationStateCache) AppendTurns(id string, turns ...schema.Turn) {
	if len(turns) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.touchLocked(id)
	if !ok {
		item = c.insertLocked(id, &ConversationState{ID: id}, c.now())
	}

	state := item.state
	state.Turns = append(state.Turns, turns...)
	limit := 2 * c.maxHistory
	for len(state.Turns) > limit {
		state.Turns = append(state.Turns[:0:0], state.Turns[2:]...)
	}
}

// Delete removes the conversation, reporting whether it was present.
func (c *ConversationStateCache) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if ok {
		c.removeLocked(el)
	}
	return ok
}

// Len returns the number of cached conversations.
func (c *ConversationStateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// SweepExpired drops every conversation idle for longer than the TTL and
// returns how many were removed.
func (c *ConversationStateCache) SweepExpired() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.Sub(el.Value.(*convItem).lastAccess) > c.ttl {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// touchLocked finds a live entry, refreshes its recency and drops it when
// expired. Caller must hold the lock.
func (c *ConversationStateCache) touchLocked(id string) (*convItem, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	item := el.Value.(*convItem)
	now := c.now()
	if c.ttl > 0 && now.Sub(item.lastAccess) > c.ttl {
		c.removeLocked(el)
		return nil, false
	}
	item.lastAccess = now
	c.ll.MoveToFront(el)
	return item, true
}

// insertLocked adds a fresh entry, evicting on overflow. Caller must hold
// the lock.
func (c *ConversationStateCache) insertLocked(id string, state *ConversationState, now time.Time) *convItem {
	item := &convItem{id: id, state: state, lastAccess: now}
	c.items[id] = c.ll.PushFront(item)

	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.log.WithConversation(back.Value.(*convItem).id).Debug("evicting least recently used conversation")
		c.removeLocked(back)
	}
	return item
}

func (c *ConversationStateCache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*convItem).id)
}
