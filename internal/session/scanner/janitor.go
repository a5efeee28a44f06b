package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/metrics"
)

// InertTokenStore deletes refresh rows that can no longer be used.
type InertTokenStore interface {
	DeleteInert(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlacklistStore purges blacklist entries whose access token already expired.
type BlacklistStore interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Janitor is the retention job. Status and expiry fields already make stale rows inert,
// so deletion only bounds table growth.
type Janitor struct {
	tokens    InertTokenStore
	blacklist BlacklistStore
	retention time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewJanitor keeps inert refresh rows for retention before deleting them.
func NewJanitor(tokens InertTokenStore, blacklist BlacklistStore, retention time.Duration, logger *slog.Logger, m *metrics.Metrics) *Janitor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Janitor{tokens: tokens, blacklist: blacklist, retention: retention, log: logger, metrics: m}
}

// RunOnce deletes refresh rows that turned inert before now-retention and purges expired
// blacklist entries. Both steps run even if one fails.
func (j *Janitor) RunOnce(ctx context.Context, now time.Time) (tokens, blacklisted int64, err error) {
	var errs []error
	tokens, tErr := j.tokens.DeleteInert(ctx, now.Add(-j.retention))
	if tErr != nil {
		errs = append(errs, tErr)
	}
	if j.blacklist != nil {
		var bErr error
		blacklisted, bErr = j.blacklist.PurgeExpired(ctx, now)
		if bErr != nil {
			errs = append(errs, bErr)
		}
	}
	j.metrics.Purged("refresh_tokens", tokens)
	j.metrics.Purged("blacklisted_access_tokens", blacklisted)
	if tokens > 0 || blacklisted > 0 {
		j.log.Info("retention_purged", "refresh_tokens", tokens, "blacklisted_access_tokens", blacklisted)
	}
	return tokens, blacklisted, errors.Join(errs...)
}

// Run calls RunOnce every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := j.RunOnce(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				j.log.Error("retention_failed", "error", err)
			}
		}
	}
}
