package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"budget-planner/backend/internal/telemetry"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestNewKafkaProducer_Optional(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("no brokers should yield nil producer")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("no topic should yield nil producer")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &telemetry.SessionEvent{}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "budget-session-events"}
	ev := &telemetry.SessionEvent{Type: telemetry.EventLogoutAll, UserID: "u1", SessionID: "s1"}
	if err := p.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Errorf("key = %q, want u1", msg.Key)
	}
	var got telemetry.SessionEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Type != telemetry.EventLogoutAll || got.SessionID != "s1" {
		t.Errorf("payload = %+v", got)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "logout_all" {
		t.Errorf("headers = %v", msg.Headers)
	}

	w.err = errors.New("broker unavailable")
	if err := p.Emit(context.Background(), ev); err == nil {
		t.Error("Emit should surface writer errors")
	}
	if err := p.Close(); err != nil || w.closed != 1 {
		t.Errorf("Close: err=%v closed=%d", err, w.closed)
	}
}
