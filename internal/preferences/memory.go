package preferences

import (
	"container/list"
	"context"
	"sync"
	"time"

	"codetapasya-backend/internal/domain"
)

const (
	DefaultMaxEntries = 10000
	// Matches the RedisStore key TTL.
	memoryIdleTTL = 30 * 24 * time.Hour
)

// MemoryStore keeps preferences in process. Each subject has its own lock.
// At most maxEntries subjects are held; the least recently used one is
// evicted first, and a subject idle for longer than idleTTL starts over.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	idleTTL    time.Duration
	now        func() time.Time
}

type memoryEntry struct {
	subjectID string
	lastUsed  time.Time

	mu    sync.Mutex
	prefs domain.Preferences
}

type MemoryOption func(*MemoryStore)

func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    map[string]*list.Element{},
		order:      list.New(),
		maxEntries: DefaultMaxEntries,
		idleTTL:    memoryIdleTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len reports how many subjects are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemoryStore) entry(subjectID string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	if el, ok := s.entries[subjectID]; ok {
		e := el.Value.(*memoryEntry)
		if now.Sub(e.lastUsed) <= s.idleTTL {
			e.lastUsed = now
			s.order.MoveToFront(el)
			return e
		}
		s.order.Remove(el)
		delete(s.entries, subjectID)
	}

	e := &memoryEntry{subjectID: subjectID, lastUsed: now, prefs: domain.NewPreferences(subjectID)}
	s.entries[subjectID] = s.order.PushFront(e)
	for s.order.Len() > s.maxEntries {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*memoryEntry).subjectID)
	}
	return e
}

func (s *MemoryStore) Update(ctx context.Context, subjectID string, fn func(*domain.Preferences)) (domain.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preferences{}, err
	}
	e := s.entry(subjectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	next := clonePreferences(e.prefs)
	fn(&next)
	e.prefs = next
	return clonePreferences(next), nil
}

func (s *MemoryStore) Get(ctx context.Context, subjectID string) (domain.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preferences{}, err
	}
	e := s.entry(subjectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return clonePreferences(e.prefs), nil
}

func clonePreferences(p domain.Preferences) domain.Preferences {
	p.KnownLanguages = append([]string(nil), p.KnownLanguages...)
	return p
}
