package profiles

import (
	"context"
	"sync"
	"time"

	"github.com/matedash/authbridge/internal/models"
)

// MemoryRepository is an in-memory Repository used by tests and by the
// server when MongoDB is not configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*models.Profile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]*models.Profile)}
}

// clone returns a copy so callers never share the stored pointer.
func clone(p *models.Profile) *models.Profile {
	c := *p
	if p.Shortcuts != nil {
		c.Shortcuts = append([]string(nil), p.Shortcuts...)
	}
	if p.Settings != nil {
		c.Settings = make(map[string]interface{}, len(p.Settings))
		for k, v := range p.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

func (m *MemoryRepository) emailTaken(email, exceptID string) bool {
	for id, p := range m.store {
		if id != exceptID && p.Email == email {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) Insert(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[p.ID]; ok {
		return ErrDuplicate
	}
	if m.emailTaken(p.Email, "") {
		return ErrDuplicate
	}
	m.store[p.ID] = clone(p)
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.store[id]; ok {
		return clone(p), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.Email == email {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Email != nil && m.emailTaken(*patch.Email, id) {
		return nil, ErrDuplicate
	}
	patch.Apply(p)
	p.UpdatedAt = time.Now().UTC()
	return clone(p), nil
}

func (m *MemoryRepository) CompleteOnboarding(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.IsFirstTimeUser {
		p.IsFirstTimeUser = false
		p.UpdatedAt = time.Now().UTC()
	}
	return clone(p), nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	opts = opts.normalized()
	m.mu.RLock()
	matched := make([]*models.Profile, 0, len(m.store))
	for _, p := range m.store {
		if opts.match(p) {
			matched = append(matched, clone(p))
		}
	}
	m.mu.RUnlock()

	field, desc := opts.sortKey()
	sortProfiles(matched, field, desc)

	res := &ListResult{Total: int64(len(matched)), Page: opts.Page, Limit: opts.Limit, Items: []*models.Profile{}}
	if start := opts.skip(); start < len(matched) {
		end := start + opts.Limit
		if end > len(matched) {
			end = len(matched)
		}
		res.Items = matched[start:end]
	}
	return res, nil
}
