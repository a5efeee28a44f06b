package repository

import (
	"context"
	"sync"
	"time"

	"budget-planner/backend/internal/blacklist/domain"
)

// MemoryRepository keeps the blacklist in process. Used in development mode and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.BlacklistedAccessToken
	now     func() time.Time
}

// NewMemoryRepository returns an empty blacklist. now may be nil to use time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{entries: make(map[string]domain.BlacklistedAccessToken), now: now}
}

func (m *MemoryRepository) Add(_ context.Context, jti string, expiresAt time.Time) error {
	now := m.now()
	if jti == "" || !expiresAt.After(now) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[jti]; !ok {
		m.entries[jti] = domain.BlacklistedAccessToken{JTI: jti, ExpiresAt: expiresAt, CreatedAt: now}
	}
	return nil
}

func (m *MemoryRepository) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[jti]
	return ok && e.ExpiresAt.After(m.now()), nil
}

func (m *MemoryRepository) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for jti, e := range m.entries {
		if !e.ExpiresAt.After(now) {
			delete(m.entries, jti)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
