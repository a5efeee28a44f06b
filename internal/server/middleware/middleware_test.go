package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/policy/engine"
	"budget-planner/backend/internal/security"
)

type fakeAuth struct {
	claims *security.AccessClaims
	err    error
}

func (f fakeAuth) Authenticate(_ context.Context, token string) (*security.AccessClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

type fakePolicy struct {
	allow bool
	err   error
	got   engine.Request
}

func (f *fakePolicy) Allow(_ context.Context, req engine.Request) (bool, error) {
	f.got = req
	return f.allow, f.err
}

func claimsFor(userID, sessionID string, roles ...string) *security.AccessClaims {
	c := &security.AccessClaims{SessionID: sessionID, Roles: roles}
	c.Subject = userID
	return c
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"BEARER abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(r); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := GetUserID(r.Context())
		sid, _ := GetSessionID(r.Context())
		fmt.Fprintf(w, "%s/%s", uid, sid)
	})
	tests := []struct {
		name     string
		header   string
		auth     fakeAuth
		wantCode int
		wantBody string
	}{
		{"no token", "", fakeAuth{claims: claimsFor("u1", "s1")}, http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{"rejected", "Bearer t", fakeAuth{err: fmt.Errorf("wrapped: %w", security.ErrUnauthorized)}, http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{"store down", "Bearer t", fakeAuth{err: errors.New("redis down")}, http.StatusInternalServerError, `{"error":"internal"}`},
		{"valid", "Bearer t", fakeAuth{claims: claimsFor("u1", "s1")}, http.StatusOK, "u1/s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			RequireAuth(tt.auth)(ok).ServeHTTP(w, r)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestRequirePolicy(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	withClaims := func(r *http.Request) *http.Request {
		return r.WithContext(WithClaims(r.Context(), claimsFor("u1", "s1", "admin")))
	}
	tests := []struct {
		name     string
		policy   *fakePolicy
		authed   bool
		wantCode int
	}{
		{"allowed", &fakePolicy{allow: true}, true, http.StatusNoContent},
		{"denied", &fakePolicy{allow: false}, true, http.StatusForbidden},
		{"eval error denies", &fakePolicy{allow: true, err: errors.New("boom")}, true, http.StatusForbidden},
		{"no claims", &fakePolicy{allow: true}, false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.authed {
				r = withClaims(r)
			}
			w := httptest.NewRecorder()
			RequirePolicy(tt.policy, engine.ActionBroadcast)(next).ServeHTTP(w, r)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}

	p := &fakePolicy{allow: true}
	RequirePolicy(p, engine.ActionBroadcast)(next).ServeHTTP(httptest.NewRecorder(), withClaims(httptest.NewRequest(http.MethodPost, "/", nil)))
	if p.got.Subject != "u1" || p.got.Action != engine.ActionBroadcast || len(p.got.Roles) != 1 || p.got.Roles[0] != "admin" {
		t.Errorf("policy input = %+v", p.got)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	h := RequestLogger(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.From(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set(RequestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Header().Get(RequestIDHeader) != "rid-1" {
		t.Errorf("request id not echoed: %q", w.Header().Get(RequestIDHeader))
	}
	out := buf.String()
	if !strings.Contains(out, "msg=inside request_id=rid-1") {
		t.Errorf("handler logger lacks request id: %q", out)
	}
	if !strings.Contains(out, "msg=http") || !strings.Contains(out, "status=418") {
		t.Errorf("access record missing: %q", out)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(w.Header().Get(RequestIDHeader)) != 32 {
		t.Errorf("generated id = %q", w.Header().Get(RequestIDHeader))
	}
}

func TestRecover(t *testing.T) {
	h := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value leaked to the client")
	}
}
