package worker

import (
	"fmt"
	"strings"
	"sync"
)

// CacheManager owns the per-job session caches and the per-job pending
// file request. Each live job has exactly one session; a session maps
// normalized logical file names to previously resolved bytes and holds
// at most one outstanding cross-thread read request.
//
// Thread-safe: sessions are touched by job goroutines (lookups, stores,
// pending registration) and by the worker read loop (resolution).
type CacheManager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// session is one job's cache plus its single pending request slot.
type session struct {
	cache map[string][]byte
	// pending carries the READ_FILES_RESPONSE buffers to the waiting
	// resolver. Nil when no request is outstanding.
	pending chan [][]byte
}

// NewCacheManager creates an empty cache manager.
func NewCacheManager() *CacheManager {
	return &CacheManager{sessions: make(map[string]*session)}
}

// normalizeName maps a logical file name to its cache key. Lookups are
// case-insensitive within a session.
func normalizeName(name string) string {
	return strings.ToLower(name)
}

// CreateSession allocates a fresh empty cache for id, overwriting any
// prior cache registered under the same id. Callers must not reuse ids
// while a session is live.
func (m *CacheManager) CreateSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &session{cache: make(map[string][]byte)}
}

// DeleteSession discards the cache for id. Must be called exactly once
// per job, on both success and failure paths — this is the worker's only
// resource-cleanup obligation.
func (m *CacheManager) DeleteSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Lookup returns the cached bytes for a logical name, if present.
func (m *CacheManager) Lookup(id, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	buf, ok := s.cache[normalizeName(name)]
	return buf, ok
}

// Store caches bytes under a logical name. Once populated, a name is
// never invalidated within the session.
func (m *CacheManager) Store(id, name string, buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.cache[normalizeName(name)] = buf
}

// SetPending registers the single outstanding file request for id and
// returns the channel its response will arrive on. Registering while a
// request is already pending violates the at-most-one invariant and is
// reported as an error rather than silently allowed.
func (m *CacheManager) SetPending(id string) (<-chan [][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no session for job %s", id)
	}
	if s.pending != nil {
		return nil, fmt.Errorf("job %s already has a pending file request", id)
	}
	ch := make(chan [][]byte, 1)
	s.pending = ch
	return ch, nil
}

// ResolvePending delivers response buffers to the pending request for id
// and clears the slot. Returns false when no request is registered —
// the response is stale (the session raced with job teardown) and the
// caller should log a warning rather than crash.
func (m *CacheManager) ResolvePending(id string, buffers [][]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.pending == nil {
		return false
	}
	ch := s.pending
	s.pending = nil
	ch <- buffers
	return true
}
