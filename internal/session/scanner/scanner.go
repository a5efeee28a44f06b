// Package scanner runs the background jobs over refresh token rows: the expiry scanner
// that pushes forced logout, and the retention janitor that deletes inert rows.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"budget-planner/backend/internal/db"
	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/metrics"
	"budget-planner/backend/internal/session/domain"
	"budget-planner/backend/internal/telemetry"
)

// ReasonSessionExpired is the logout reason pushed to clients whose session the scanner expired.
const ReasonSessionExpired = "session-expired"

const (
	defaultInterval = 10 * time.Second
	defaultBatch    = 500
)

// TokenStore is the subset of the refresh token repository the scanner needs.
type TokenStore interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.RefreshToken, error)
	Revoke(ctx context.Context, tokenID, reason string, at time.Time) (bool, error)
}

// Notifier pushes a forced logout to the live connections of one session.
type Notifier interface {
	ForceLogoutSession(key domain.UserSessionKey, reason string) int
}

// Options configures a Scanner. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Batch    int
	Emitter  telemetry.EventEmitter
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Scanner expires Active refresh rows whose rolling or absolute expiry passed and pushes
// a logout to any connection still open for those sessions. It never deletes rows.
type Scanner struct {
	tokens   TokenStore
	uow      db.Factory
	notifier Notifier
	interval time.Duration
	batch    int
	emitter  telemetry.EventEmitter
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns a Scanner. Each tick runs in a fresh unit of work from uow.
func New(tokens TokenStore, uow db.Factory, notifier Notifier, opts Options) *Scanner {
	s := &Scanner{
		tokens:   tokens,
		uow:      uow,
		notifier: notifier,
		interval: opts.Interval,
		batch:    opts.Batch,
		emitter:  opts.Emitter,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.batch <= 0 {
		s.batch = defaultBatch
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run ticks until ctx is done. A failed or panicking tick is logged and the loop continues.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("scanner_started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scanner_stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.metrics.ScannerFailed()
				s.log.Error("scanner_tick_failed", "error", err)
			}
		}
	}
}

// Tick runs one scan and returns how many sessions it expired. Notifications go out only
// after the revocations commit.
func (s *Scanner) Tick(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scanner tick panic: %v", r)
		}
	}()

	now := s.now().UTC()
	var expired []*domain.RefreshToken
	err = db.Run(ctx, s.uow, func(ctx context.Context) error {
		rows, err := s.tokens.ListExpired(ctx, now, s.batch)
		if err != nil {
			return err
		}
		for _, row := range rows {
			ok, err := s.tokens.Revoke(ctx, row.TokenID, domain.ReasonExpired, now)
			if err != nil {
				return err
			}
			// Lost a race with refresh or logout; that path already handled the session.
			if ok {
				expired = append(expired, row)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, row := range expired {
		pushed := s.notifier.ForceLogoutSession(row.Key(), ReasonSessionExpired)
		s.log.Info("session_expired", "user_id", row.UserID, "session_id", row.SessionID, "connections", pushed)
		telemetry.EmitAsync(s.emitter, ctx, &telemetry.SessionEvent{
			Type:       telemetry.EventSessionExpired,
			UserID:     row.UserID,
			SessionID:  row.SessionID,
			DeviceID:   row.DeviceID,
			Reason:     ReasonSessionExpired,
			Source:     "scanner",
			OccurredAt: now,
		})
	}
	s.metrics.Expired(len(expired))
	return len(expired), nil
}
