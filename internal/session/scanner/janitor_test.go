package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	blacklistrepo "budget-planner/backend/internal/blacklist/repository"
	"budget-planner/backend/internal/session/domain"
	"budget-planner/backend/internal/session/repository"
)

func TestJanitor_RunOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seed(t, repo, "old-revoked", "u1", "s1", now.Add(-40*24*time.Hour), now.Add(time.Hour))
	if _, err := repo.Revoke(ctx, "old-revoked", domain.ReasonLogout, now.Add(-31*24*time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	seed(t, repo, "recent-revoked", "u1", "s2", now.Add(-time.Hour), now.Add(time.Hour))
	_, _ = repo.Revoke(ctx, "recent-revoked", domain.ReasonLogout, now.Add(-time.Hour))
	seed(t, repo, "long-dead", "u1", "s3", now.Add(-60*24*time.Hour), now.Add(-31*24*time.Hour))
	seed(t, repo, "active", "u2", "s1", now.Add(time.Hour), now.Add(24*time.Hour))

	clock := now
	bl := blacklistrepo.NewMemoryRepository(func() time.Time { return clock.Add(-time.Hour) })
	_ = bl.Add(ctx, "stale", now.Add(-time.Minute))
	_ = bl.Add(ctx, "fresh", now.Add(time.Minute))

	j := NewJanitor(repo, bl, 30*24*time.Hour, nil, nil)
	tokens, blacklisted, err := j.RunOnce(ctx, now)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if tokens != 2 {
		t.Errorf("deleted tokens = %d, want 2", tokens)
	}
	if blacklisted != 1 || bl.Len() != 1 {
		t.Errorf("purged blacklist = %d (remaining %d), want 1 and 1", blacklisted, bl.Len())
	}
	left := map[string]bool{}
	for _, row := range repo.All() {
		left[row.TokenID] = true
	}
	if !left["recent-revoked"] || !left["active"] || len(left) != 2 {
		t.Errorf("remaining rows = %v", left)
	}
}

type brokenPurger struct{}

func (brokenPurger) DeleteInert(context.Context, time.Time) (int64, error) {
	return 0, errors.New("refresh table locked")
}

func (brokenPurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 3, nil
}

func TestJanitor_OneFailureDoesNotSkipTheOther(t *testing.T) {
	j := NewJanitor(brokenPurger{}, brokenPurger{}, time.Hour, nil, nil)
	tokens, blacklisted, err := j.RunOnce(context.Background(), time.Now())
	if err == nil {
		t.Error("RunOnce should report the refresh purge failure")
	}
	if tokens != 0 || blacklisted != 3 {
		t.Errorf("tokens=%d blacklisted=%d, want 0 and 3", tokens, blacklisted)
	}
}
