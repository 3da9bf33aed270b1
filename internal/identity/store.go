package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNoValue is returned by Store.Get for missing keys.
var ErrNoValue = errors.New("no value stored")

// Store persists client-side auth state (the current session and a pending
// PKCE verifier) between calls.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores val; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const (
	keySession      = "session"
	keyCodeVerifier = "code-verifier"
)

// MemoryStore is the default Store; contents are lost on exit.
type MemoryStore struct {
	mu   sync.Mutex
	vals map[string]memoryValue
}

type memoryValue struct {
	b   []byte
	exp time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: map[string]memoryValue{}}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, ErrNoValue
	}
	if !v.exp.IsZero() && time.Now().After(v.exp) {
		delete(m.vals, key)
		return nil, ErrNoValue
	}
	return append([]byte(nil), v.b...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memoryValue{b: append([]byte(nil), val...)}
	if ttl > 0 {
		v.exp = time.Now().Add(ttl)
	}
	m.vals[key] = v
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func loadSession(ctx context.Context, st Store) (*Session, error) {
	b, err := st.Get(ctx, keySession)
	if err != nil {
		if errors.Is(err, ErrNoValue) {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		// unreadable session: drop it rather than fail every start
		_ = st.Delete(ctx, keySession)
		return nil, nil
	}
	return &s, nil
}

func saveSession(ctx context.Context, st Store, s *Session, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.Set(ctx, keySession, b, ttl)
}
