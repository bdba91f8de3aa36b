package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/storefront-auth/internal/cookie"
	"github.com/dgellow/storefront-auth/internal/crypto"
	"github.com/dgellow/storefront-auth/internal/log"
)

// Store is the per-session key/value jar. A non-positive maxAge means the
// value lives as long as the browser session.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, maxAge time.Duration)
	Delete(name string)
}

// CookieStore keeps values in signed cookies. Reads see writes made earlier
// in the same request.
type CookieStore struct {
	w      http.ResponseWriter
	r      *http.Request
	signer crypto.ValueSigner
	secure bool

	// pending holds values written during this request; nil means deleted.
	pending map[string]*string
}

// NewCookieStore binds a store to one request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request, signer crypto.ValueSigner, secure bool) *CookieStore {
	return &CookieStore{
		w:       w,
		r:       r,
		signer:  signer,
		secure:  secure,
		pending: make(map[string]*string),
	}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if v, ok := s.pending[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}

	raw, err := cookie.Get(s.r, name)
	if err != nil || raw == "" {
		return "", false
	}
	value, err := s.signer.Verify(raw)
	if err != nil {
		log.LogDebugWithFields("session", "Ignoring cookie with invalid signature", map[string]any{
			"cookie": name,
		})
		return "", false
	}
	return value, true
}

func (s *CookieStore) Set(name, value string, maxAge time.Duration) {
	signed, err := s.signer.Sign(value)
	if err != nil {
		log.LogErrorWithFields("session", "Failed to sign cookie", map[string]any{
			"cookie": name,
			"error":  err.Error(),
		})
		return
	}
	cookie.Set(s.w, name, signed, maxAge, s.secure)
	s.pending[name] = &value
}

func (s *CookieStore) Delete(name string) {
	cookie.Clear(s.w, name, s.secure)
	s.pending[name] = nil
}

// MemoryStore is a Store held in memory. It honors maxAge against its clock.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, name)
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) Set(name, value string, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: value}
	if maxAge >= time.Second {
		e.expires = s.now().Add(maxAge.Truncate(time.Second))
	}
	s.entries[name] = e
}

func (s *MemoryStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, e := range s.entries {
		if e.expires.IsZero() || now.Before(e.expires) {
			n++
		}
	}
	return n
}

// Factory yields the session manager for a request.
type Factory func(w http.ResponseWriter, r *http.Request) *Manager

// NewCookieFactory returns a Factory backed by signed cookies. A manager
// already placed in the request context is reused.
func NewCookieFactory(signer crypto.ValueSigner, secure bool, ids IdentityDecoder) Factory {
	return func(w http.ResponseWriter, r *http.Request) *Manager {
		if m, ok := ManagerFromContext(r.Context()); ok {
			return m
		}
		return NewManager(NewCookieStore(w, r, signer, secure), ids)
	}
}
