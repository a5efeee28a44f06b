package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"budget-planner/backend/internal/security"
	"budget-planner/backend/internal/session/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// fakeAuth accepts tokens of the form "<user>.<session>".
type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, token string) (*security.AccessClaims, error) {
	user, session, ok := strings.Cut(token, ".")
	if !ok || user == "" {
		return nil, errors.New("unauthorized")
	}
	return &security.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user},
		SessionID:        session,
	}, nil
}

func newTestServer(t *testing.T, opts Options) (*Registry, string) {
	t.Helper()
	reg := NewRegistry(opts)
	srv := httptest.NewServer(NewHandler(reg, fakeAuth{}))
	t.Cleanup(func() {
		reg.Shutdown()
		srv.Close()
	})
	return reg, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, reg *Registry, url, user, session string) *websocket.Conn {
	t.Helper()
	before := reg.Count()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+user+"."+session, nil)
	if err != nil {
		t.Fatalf("dial %s/%s: %v", user, session, err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool { return reg.Count() > before })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	return string(msg)
}

// expectSilence reports a failure if conn receives a data message within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestLogoutText(t *testing.T) {
	if got := LogoutText(""); got != "LOGOUT" {
		t.Errorf("LogoutText(\"\") = %q", got)
	}
	if got := LogoutText("session-expired"); got != "LOGOUT:session-expired" {
		t.Errorf("LogoutText(reason) = %q", got)
	}
}

func TestRegistry_SendMessageTargetsOneSession(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	a := dial(t, reg, url, "u1", "s1")
	b := dial(t, reg, url, "u1", "s2")

	if n := reg.SendMessage(domain.UserSessionKey{UserID: "u1", SessionID: "s1"}, "hello"); n != 1 {
		t.Fatalf("SendMessage delivered to %d connections, want 1", n)
	}
	if got := readText(t, a); got != "hello" {
		t.Errorf("s1 got %q", got)
	}
	expectSilence(t, b, 100*time.Millisecond)

	if n := reg.SendMessage(domain.UserSessionKey{UserID: "u9", SessionID: "none"}, "x"); n != 0 {
		t.Errorf("SendMessage to unknown session = %d, want 0", n)
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	conns := []*websocket.Conn{
		dial(t, reg, url, "u1", "s1"),
		dial(t, reg, url, "u2", "s1"),
		dial(t, reg, url, "u3", "s7"),
	}
	if n := reg.Broadcast("maintenance"); n != 3 {
		t.Fatalf("Broadcast = %d, want 3", n)
	}
	for i, c := range conns {
		if got := readText(t, c); got != "maintenance" {
			t.Errorf("conn %d got %q", i, got)
		}
	}
}

func TestRegistry_ForceLogoutOnlyTargetsUser(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	s1 := dial(t, reg, url, "u1", "s1")
	s2 := dial(t, reg, url, "u1", "s2")
	other := dial(t, reg, url, "u2", "s1")

	if n := reg.ForceLogout("u1", "session-expired"); n != 2 {
		t.Fatalf("ForceLogout = %d, want 2", n)
	}
	for _, c := range []*websocket.Conn{s1, s2} {
		if got := readText(t, c); got != "LOGOUT:session-expired" {
			t.Errorf("got %q, want LOGOUT:session-expired", got)
		}
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := c.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("expected normal close after logout, got %v", err)
		}
	}
	expectSilence(t, other, 100*time.Millisecond)

	waitFor(t, func() bool { return reg.Count() == 1 })
	if reg.SessionCount("u1") != 0 || reg.SessionCount("u2") != 1 {
		t.Errorf("SessionCount u1=%d u2=%d, want 0 and 1", reg.SessionCount("u1"), reg.SessionCount("u2"))
	}
}

func TestRegistry_ForceLogoutSession(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	s1 := dial(t, reg, url, "u1", "s1")
	s2 := dial(t, reg, url, "u1", "s2")

	if n := reg.ForceLogoutSession(domain.UserSessionKey{UserID: "u1", SessionID: "s1"}, ""); n != 1 {
		t.Fatalf("ForceLogoutSession = %d, want 1", n)
	}
	if got := readText(t, s1); got != "LOGOUT" {
		t.Errorf("got %q, want LOGOUT", got)
	}
	expectSilence(t, s2, 100*time.Millisecond)
	if reg.SessionCount("u1") != 1 {
		t.Errorf("SessionCount = %d, want 1", reg.SessionCount("u1"))
	}
}

func TestRegistry_DisconnectUnregisters(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	c := dial(t, reg, url, "u1", "s1")
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()
	waitFor(t, func() bool { return reg.Count() == 0 })
}

func TestRegistry_HealthCheckPrunesSilentClients(t *testing.T) {
	reg, url := newTestServer(t, Options{PongTimeout: 200 * time.Millisecond})
	healthy := dial(t, reg, url, "u1", "s1")
	silent := dial(t, reg, url, "u2", "s1")
	silent.SetPingHandler(func(string) error { return nil })

	// Clients only answer pings while reading.
	for _, c := range []*websocket.Conn{healthy, silent} {
		go func(c *websocket.Conn) {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}(c)
	}

	pruned, err := reg.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	waitFor(t, func() bool { return reg.Count() == 1 })
	if reg.SessionCount("u1") != 1 {
		t.Error("healthy connection was pruned")
	}
}

func TestRegistry_HealthCheckCancelled(t *testing.T) {
	reg, url := newTestServer(t, Options{PongTimeout: time.Minute})
	dial(t, reg, url, "u1", "s1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck err = %v, want context.Canceled", err)
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := string(rune('a' + i))
			conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token=u1."+session, nil)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			for j := 0; j < 10; j++ {
				reg.SendMessage(domain.UserSessionKey{UserID: "u1", SessionID: session}, "m")
				reg.Broadcast("b")
				_ = reg.Count()
			}
			conn.Close()
		}(i)
	}
	wg.Wait()
	waitFor(t, func() bool { return reg.Count() == 0 })
}

func TestHandler_RejectsUnauthenticated(t *testing.T) {
	_, url := newTestServer(t, Options{})
	testCases := []struct {
		name  string
		query string
	}{
		{"no token", ""},
		{"bad token", "?access_token=garbage"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url+tc.query, nil)
			if err == nil {
				t.Fatal("dial should fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("response = %v, want 401", resp)
			}
		})
	}
}

func TestHandler_BearerHeader(t *testing.T) {
	reg, url := newTestServer(t, Options{})
	h := http.Header{}
	h.Set("Authorization", "Bearer u5.s5")
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return reg.SessionCount("u5") == 1 })
}
