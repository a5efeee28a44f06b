package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeSockets struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSockets) Broadcast(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return 3
}

func TestBroadcast(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantSent string
	}{
		{"ok", `{"message":" maintenance at 5pm "}`, http.StatusOK, "maintenance at 5pm"},
		{"empty", `{"message":"  "}`, http.StatusBadRequest, ""},
		{"malformed", `{`, http.StatusBadRequest, ""},
		{"reserved", `{"message":"logout:everyone"}`, http.StatusBadRequest, ""},
		{"too long", `{"message":"` + strings.Repeat("x", maxMessageLen+1) + `"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSockets{}
			w := httptest.NewRecorder()
			NewHandler(s).Broadcast(w, httptest.NewRequest(http.MethodPost, "/api/admin/broadcast", strings.NewReader(tt.body)))
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantSent == "" {
				if len(s.sent) != 0 {
					t.Errorf("sent %v", s.sent)
				}
				return
			}
			if len(s.sent) != 1 || s.sent[0] != tt.wantSent {
				t.Errorf("sent = %v", s.sent)
			}
			var resp broadcastResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Delivered != 3 {
				t.Errorf("resp = %+v, err = %v", resp, err)
			}
		})
	}
}
