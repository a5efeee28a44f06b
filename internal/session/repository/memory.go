package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"budget-planner/backend/internal/session/domain"
)

// ErrDuplicateToken is returned by MemoryRepository.Create when the token id already exists.
var ErrDuplicateToken = errors.New("refresh token already exists")

// MemoryRepository is an in-process Repository for development mode and tests.
// Every method is atomic on its own; it does not participate in units of work.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*domain.RefreshToken
	seqs map[string]int64
	seq  int64
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*domain.RefreshToken), seqs: make(map[string]int64)}
}

func (m *MemoryRepository) Create(_ context.Context, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[t.TokenID]; ok {
		return ErrDuplicateToken
	}
	now := t.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	for _, row := range m.rows {
		if row.SessionID == t.SessionID && row.Status == domain.StatusActive {
			revoke(row, domain.ReasonSuperseded, now)
		}
	}
	t.Status = domain.StatusActive
	t.CreatedAt = now
	t.RevokedAt = nil
	t.RevokeReason = ""
	m.seq++
	m.seqs[t.TokenID] = m.seq
	m.rows[t.TokenID] = clone(t)
	return nil
}

func (m *MemoryRepository) GetActiveBySession(_ context.Context, sessionID string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.SessionID == sessionID && row.Status == domain.StatusActive {
			return clone(row), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) GetLatestBySession(_ context.Context, sessionID string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.RefreshToken
	for id, row := range m.rows {
		if row.SessionID != sessionID {
			continue
		}
		if latest == nil || m.seqs[id] > m.seqs[latest.TokenID] {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	return clone(latest), nil
}

func (m *MemoryRepository) Rotate(_ context.Context, p RotateParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[p.TokenID]
	if !ok || row.Status != domain.StatusActive || row.HashedToken != p.ExpectedHash || !p.Now.Before(row.ExpiresAbsolute) {
		return false, nil
	}
	row.HashedToken = p.NewHash
	row.AccessTokenID = p.NewAccessTokenID
	row.ExpiresRolling = p.NewRolling
	return true, nil
}

func (m *MemoryRepository) Revoke(_ context.Context, tokenID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tokenID]
	if !ok || row.Status != domain.StatusActive {
		return false, nil
	}
	revoke(row, reason, at)
	return true, nil
}

func (m *MemoryRepository) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) ([]*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RefreshToken
	for _, row := range m.rows {
		if row.UserID == userID && row.Status == domain.StatusActive {
			revoke(row, reason, at)
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RefreshToken
	for _, row := range m.rows {
		if row.Status == domain.StatusActive && (row.RollingExpired(now) || row.AbsoluteExpired(now)) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresRolling.Equal(out[j].ExpiresRolling) {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].ExpiresRolling.Before(out[j].ExpiresRolling)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) DeleteInert(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.rows {
		revokedOld := row.Status == domain.StatusRevoked && row.RevokedAt != nil && row.RevokedAt.Before(cutoff)
		if revokedOld || row.ExpiresAbsolute.Before(cutoff) {
			delete(m.rows, id)
			delete(m.seqs, id)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every row. Test helper.
func (m *MemoryRepository) All() []*domain.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.RefreshToken, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, clone(row))
	}
	return out
}

func revoke(row *domain.RefreshToken, reason string, at time.Time) {
	row.Status = domain.StatusRevoked
	row.RevokeReason = reason
	t := at
	row.RevokedAt = &t
}

func clone(t *domain.RefreshToken) *domain.RefreshToken {
	cp := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}
