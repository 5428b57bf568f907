// Package searchstate keeps each chat's most recent search results and
// pagination cursor so follow-up buttons can page without re-running the
// search.
package searchstate

import (
	"strings"
	"sync"
	"time"

	"github.com/sessionhub/sessionhub/internal/index"
	"github.com/sessionhub/sessionhub/internal/search"
)

// DefaultTTL is how long a saved state stays readable.
const DefaultTTL = 300 * time.Second

// State is one chat's pagination state. Results holds every match up to the
// engine's materialisation cap; pages are slices of it.
type State struct {
	Query         string
	Filters       search.Filters
	Sort          string
	Results       []*index.Session
	CurrentOffset int

	// MessageHandle identifies the posted results message so navigation can
	// edit it in place. Opaque to the store.
	MessageHandle string

	CreatedAt time.Time
}

// Store is a thread-safe map of chat key to State with TTL expiry. At most
// one state exists per chat key; saving replaces.
type Store struct {
	ttl time.Duration

	mu     sync.Mutex
	states map[string]*State

	now func() time.Time
}

// NewStore creates a Store. ttl of 0 means DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:    ttl,
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// Save stores the state under key, stamping CreatedAt, and opportunistically
// evicts any expired entries.
func (st *Store) Save(key string, s *State) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	s.CreatedAt = now
	st.states[key] = s

	for k, other := range st.states {
		if k != key && now.Sub(other.CreatedAt) > st.ttl {
			delete(st.states, k)
		}
	}
}

// Get returns the state for key if it is still fresh. A stale entry is
// evicted and reported as absent.
func (st *Store) Get(key string) (*State, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.states[key]
	if !ok {
		return nil, false
	}
	if st.now().Sub(s.CreatedAt) > st.ttl {
		delete(st.states, key)
		return nil, false
	}
	return s, true
}

// UpdateOffset mutates the pagination cursor of a fresh state and returns
// it, or reports absence for missing/expired entries.
func (st *Store) UpdateOffset(key string, offset int) (*State, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.states[key]
	if !ok {
		return nil, false
	}
	if st.now().Sub(s.CreatedAt) > st.ttl {
		delete(st.states, key)
		return nil, false
	}
	if offset < 0 {
		offset = 0
	}
	s.CurrentOffset = offset
	return s, true
}

// Delete removes the state for key.
func (st *Store) Delete(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, key)
}

// ChatKey joins a chat id with an optional thread id. Threaded surfaces must
// include the thread so two concurrent topic-local searches do not collide.
func ChatKey(chatID, threadID string) string {
	if threadID == "" {
		return chatID
	}
	return chatID + ":" + threadID
}

// SplitChatKey splits on the rightmost colon; a key without one is all chat
// id.
func SplitChatKey(key string) (chatID, threadID string) {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
