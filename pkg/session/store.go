package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chatling/chatling/pkg/jsontime"
)

const (
	// DefaultMaxHistoryTurns bounds the prompt context window. History
	// retains 2× this many entries (turns are counted per user/assistant
	// pair in the window, entries per side in storage).
	DefaultMaxHistoryTurns = 3

	// DefaultCacheSessions bounds the in-process session cache.
	DefaultCacheSessions = 256
)

// Store is the session state manager.
//
// Reads fall back from the in-process cache to the backend to the empty
// default. Persistence failures are logged and absorbed, never surfaced:
// the assistant keeps answering with degraded memory rather than failing
// the request. Writes go through to the backend and refresh the cache.
//
// Compound load-modify-save operations hold a per-session lock, so
// concurrent requests against one session cannot lose updates. There is no
// cross-session lock.
type Store struct {
	backend         Backend
	log             *slog.Logger
	maxHistoryTurns int

	mu    sync.Mutex
	cache *sessionCache
	locks map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxHistoryTurns sets how many turns the prompt context keeps.
func WithMaxHistoryTurns(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxHistoryTurns = n
		}
	}
}

// WithCacheSize bounds the number of sessions cached in process.
func WithCacheSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.cache = newSessionCache(n)
		}
	}
}

// WithLogger sets the logger for absorbed persistence errors.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore creates a Store over the given backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:         backend,
		log:             slog.Default(),
		maxHistoryTurns: DefaultMaxHistoryTurns,
		cache:           newSessionCache(DefaultCacheSessions),
		locks:           make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxHistoryTurns returns the configured prompt context window.
func (s *Store) MaxHistoryTurns() int { return s.maxHistoryTurns }

// lock returns the mutex serializing operations for one session.
func (s *Store) lock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	return mu
}

// LoadMemory returns the session's Memory, or the empty default when none
// is persisted or the backend fails. The caller owns the returned copy.
func (s *Store) LoadMemory(ctx context.Context, sessionID string) Memory {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return s.loadMemoryLocked(ctx, sessionID)
}

func (s *Store) loadMemoryLocked(ctx context.Context, sessionID string) Memory {
	s.mu.Lock()
	ent, ok := s.cache.get(sessionID)
	if ok && ent.hasMemory {
		m := ent.memory.Clone()
		s.mu.Unlock()
		return m
	}
	s.mu.Unlock()

	m, err := s.backend.LoadMemory(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("load memory failed, using defaults", "session", sessionID, "err", err)
		}
		return NewMemory()
	}
	if m.Preferences == nil {
		m.Preferences = map[string]string{}
	}
	if m.CurrentEmotion == "" {
		m.CurrentEmotion = DefaultEmotion
	}
	s.cacheMemory(sessionID, m)
	return m.Clone()
}

// SaveMemory stamps LastUpdated, persists the Memory, and refreshes the
// cache. Persistence failure is logged and absorbed (best effort).
func (s *Store) SaveMemory(ctx context.Context, sessionID string, m Memory) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	s.saveMemoryLocked(ctx, sessionID, m)
}

func (s *Store) saveMemoryLocked(ctx context.Context, sessionID string, m Memory) {
	m.LastUpdated = jsontime.Now()
	if err := s.backend.SaveMemory(ctx, sessionID, m); err != nil {
		s.log.Error("save memory failed", "session", sessionID, "err", err)
		return
	}
	s.cacheMemory(sessionID, m)
}

// LoadHistory returns the session's history, oldest first. Missing or
// unreadable history yields an empty slice.
func (s *Store) LoadHistory(ctx context.Context, sessionID string) []Turn {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return s.loadHistoryLocked(ctx, sessionID)
}

func (s *Store) loadHistoryLocked(ctx context.Context, sessionID string) []Turn {
	s.mu.Lock()
	ent, ok := s.cache.get(sessionID)
	if ok && ent.hasHistory {
		h := cloneHistory(ent.history)
		s.mu.Unlock()
		return h
	}
	s.mu.Unlock()

	h, err := s.backend.LoadHistory(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("load history failed, using empty", "session", sessionID, "err", err)
		}
		return nil
	}
	s.cacheHistory(sessionID, h)
	return cloneHistory(h)
}

// UpdateHistory appends a completed turn and truncates the history to the
// most recent 2×maxHistoryTurns entries, dropping from the front.
func (s *Store) UpdateHistory(ctx context.Context, sessionID, userText, assistantText string) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	h := s.loadHistoryLocked(ctx, sessionID)
	h = append(h, Turn{
		User:      userText,
		Assistant: assistantText,
		Timestamp: jsontime.Now(),
	})
	if bound := s.maxHistoryTurns * 2; len(h) > bound {
		h = h[len(h)-bound:]
	}

	if err := s.backend.SaveHistory(ctx, sessionID, h); err != nil {
		s.log.Error("save history failed", "session", sessionID, "err", err)
		return
	}
	s.cacheHistory(sessionID, h)
}

// ResetMemory replaces the session's Memory with the empty default.
// History is deliberately left untouched.
func (s *Store) ResetMemory(ctx context.Context, sessionID string) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	s.saveMemoryLocked(ctx, sessionID, NewMemory())
}

// SetVoicePreference records the preferred voice for a session.
func (s *Store) SetVoicePreference(ctx context.Context, sessionID, voice string) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	m := s.loadMemoryLocked(ctx, sessionID)
	m.VoicePreference = voice
	s.saveMemoryLocked(ctx, sessionID, m)
}

func (s *Store) cacheMemory(sessionID string, m Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, _ := s.cache.get(sessionID)
	ent.memory = m.Clone()
	ent.hasMemory = true
	s.cache.put(sessionID, ent)
}

func (s *Store) cacheHistory(sessionID string, h []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, _ := s.cache.get(sessionID)
	ent.history = cloneHistory(h)
	ent.hasHistory = true
	s.cache.put(sessionID, ent)
}

// sessionEntry is the cached state for one session.
type sessionEntry struct {
	memory     Memory
	hasMemory  bool
	history    []Turn
	hasHistory bool
}

// sessionCache is a size-bounded LRU of session entries. Eviction only
// drops the in-process copy; the backend remains authoritative.
// Not safe for concurrent use; the Store guards it.
type sessionCache struct {
	capacity int
	order    *list.List // front = most recent; values are *cacheItem
	items    map[string]*list.Element
}

type cacheItem struct {
	key string
	ent sessionEntry
}

func newSessionCache(capacity int) *sessionCache {
	return &sessionCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *sessionCache) get(key string) (sessionEntry, bool) {
	el, ok := c.items[key]
	if !ok {
		return sessionEntry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).ent, true
}

func (c *sessionCache) put(key string, ent sessionEntry) {
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).ent = ent
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, ent: ent})
	if c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*cacheItem).key)
	}
}

func (c *sessionCache) len() int { return c.order.Len() }
