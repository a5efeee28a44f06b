package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits session events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *SessionEvent) error
}

// MultiEmitter fans one event out to several emitters.
type MultiEmitter []EventEmitter

// NewMultiEmitter drops nil emitters. With none left it still returns a usable, empty MultiEmitter.
func NewMultiEmitter(emitters ...EventEmitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit calls every emitter and joins their errors.
func (m MultiEmitter) Emit(ctx context.Context, event *SessionEvent) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
