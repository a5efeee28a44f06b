// Package realtime keeps the live WebSocket connections of each session and pushes
// text messages to them, including forced logout.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/metrics"
	"budget-planner/backend/internal/session/domain"

	"github.com/gorilla/websocket"
)

// LogoutMessage is the reserved payload telling a client to drop its local session.
const LogoutMessage = "LOGOUT"

const (
	defaultQueueSize    = 16
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 10 * time.Second
	maxInboundBytes     = 4096
)

// LogoutText returns LOGOUT, or LOGOUT:<reason> when a reason is given.
func LogoutText(reason string) string {
	if reason == "" {
		return LogoutMessage
	}
	return LogoutMessage + ":" + reason
}

// Options tunes a Registry. Zero values fall back to defaults.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Registry maps each session to its open connections. All map access happens under mu;
// writes to a connection happen only on that connection's writer goroutine.
type Registry struct {
	mu    sync.Mutex
	conns map[domain.UserSessionKey]map[*client]struct{}

	queueSize    int
	writeTimeout time.Duration
	pongTimeout  time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics
}

type frame struct {
	text       string
	closeAfter bool
}

type client struct {
	key        domain.UserSessionKey
	conn       *websocket.Conn
	queue      chan frame
	done       chan struct{}
	once       sync.Once
	lastPong   atomic.Int64
	registered bool // guarded by Registry.mu
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		conns:        make(map[domain.UserSessionKey]map[*client]struct{}),
		queueSize:    opts.QueueSize,
		writeTimeout: opts.WriteTimeout,
		pongTimeout:  opts.PongTimeout,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
	if r.queueSize <= 0 {
		r.queueSize = defaultQueueSize
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = defaultWriteTimeout
	}
	if r.pongTimeout <= 0 {
		r.pongTimeout = defaultPongTimeout
	}
	if r.log == nil {
		r.log = logging.Discard()
	}
	return r
}

// HandleConnection registers conn under (userID, sessionID) and blocks reading from it
// until the peer goes away, the registry closes it, or ctx is done. The connection is
// unregistered and closed on return.
func (r *Registry) HandleConnection(ctx context.Context, conn *websocket.Conn, userID, sessionID string) {
	c := &client{
		key:   domain.UserSessionKey{UserID: userID, SessionID: sessionID},
		conn:  conn,
		queue: make(chan frame, r.queueSize),
		done:  make(chan struct{}),
	}
	c.lastPong.Store(time.Now().UnixNano())

	r.add(c)
	defer func() {
		r.remove(c)
		c.close()
	}()
	go r.writeLoop(c)
	stop := context.AfterFunc(ctx, c.close)
	defer stop()

	conn.SetReadLimit(maxInboundBytes)
	conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	r.log.Debug("ws_connected", "user_id", userID, "session_id", sessionID)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				r.log.Debug("ws_read_failed", "session", c.key.String(), "error", err)
			}
			return
		}
		// Clients have nothing to say; inbound frames only keep the read loop alive.
	}
}

func (r *Registry) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(f.text)); err != nil {
				r.log.Debug("ws_write_failed", "session", c.key.String(), "error", err)
				r.remove(c)
				c.close()
				return
			}
			if f.closeAfter {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.writeTimeout))
				c.close()
				return
			}
		}
	}
}

func (r *Registry) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.key]
	if !ok {
		set = make(map[*client]struct{})
		r.conns[c.key] = set
	}
	set[c] = struct{}{}
	c.registered = true
	r.metrics.ConnOpened()
}

func (r *Registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c)
}

func (r *Registry) removeLocked(c *client) {
	if !c.registered {
		return
	}
	c.registered = false
	if set, ok := r.conns[c.key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, c.key)
		}
	}
	r.metrics.ConnClosed()
}

// enqueueLocked never blocks: a client whose queue is full is dropped.
func (r *Registry) enqueueLocked(c *client, f frame) bool {
	select {
	case <-c.done:
		r.removeLocked(c)
		return false
	default:
	}
	select {
	case c.queue <- f:
		return true
	default:
		r.log.Warn("ws_queue_full", "session", c.key.String())
		r.removeLocked(c)
		r.metrics.Pruned()
		c.close()
		return false
	}
}

// SendMessage queues text to every connection of key and returns how many accepted it.
// It is a no-op when the session is not connected.
func (r *Registry) SendMessage(key domain.UserSessionKey, text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c := range r.conns[key] {
		if r.enqueueLocked(c, frame{text: text}) {
			n++
		}
	}
	r.metrics.Message("direct")
	return n
}

// Broadcast queues text to every connection.
func (r *Registry) Broadcast(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.conns {
		for c := range set {
			if r.enqueueLocked(c, frame{text: text}) {
				n++
			}
		}
	}
	r.metrics.Message("broadcast")
	return n
}

// ForceLogout pushes the logout message to every session of userID and closes those
// connections once the message is written. It returns the number of connections notified.
func (r *Registry) ForceLogout(userID, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.conns {
		if key.UserID == userID {
			n += r.logoutLocked(key, reason)
		}
	}
	return n
}

// ForceLogoutSession is ForceLogout for a single session.
func (r *Registry) ForceLogoutSession(key domain.UserSessionKey, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logoutLocked(key, reason)
}

func (r *Registry) logoutLocked(key domain.UserSessionKey, reason string) int {
	n := 0
	text := LogoutText(reason)
	for c := range r.conns[key] {
		if r.enqueueLocked(c, frame{text: text, closeAfter: true}) {
			n++
		}
		r.removeLocked(c)
	}
	if n > 0 {
		r.metrics.Message("logout")
		r.log.Info("ws_forced_logout", "session", key.String(), "reason", reason, "connections", n)
	}
	return n
}

func (r *Registry) snapshot() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.conns))
	for _, set := range r.conns {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// HealthCheck pings every connection and drops those that have not answered with a
// pong within the pong timeout. It returns the number of connections dropped.
func (r *Registry) HealthCheck(ctx context.Context) (int, error) {
	start := time.Now()
	clients := r.snapshot()
	if len(clients) == 0 {
		return 0, nil
	}
	pruned := 0
	alive := clients[:0]
	for _, c := range clients {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, start.Add(r.writeTimeout)); err != nil {
			r.drop(c)
			pruned++
			continue
		}
		alive = append(alive, c)
	}

	timer := time.NewTimer(r.pongTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return pruned, ctx.Err()
	case <-timer.C:
	}

	for _, c := range alive {
		if c.lastPong.Load() < start.UnixNano() {
			r.drop(c)
			pruned++
		}
	}
	if pruned > 0 {
		r.log.Info("ws_health_check_pruned", "pruned", pruned, "remaining", r.Count())
	}
	return pruned, nil
}

func (r *Registry) drop(c *client) {
	r.mu.Lock()
	wasRegistered := c.registered
	r.removeLocked(c)
	r.mu.Unlock()
	if wasRegistered {
		r.metrics.Pruned()
	}
	c.close()
}

// RunHealthChecks calls HealthCheck every interval until ctx is done.
func (r *Registry) RunHealthChecks(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.HealthCheck(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("ws_health_check_failed", "error", err)
			}
		}
	}
}

// Shutdown sends a going-away close frame to every connection and closes it.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var all []*client
	for _, set := range r.conns {
		for c := range set {
			all = append(all, c)
			r.removeLocked(c)
		}
	}
	r.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.close()
	}
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// SessionCount returns how many distinct sessions of userID are connected.
func (r *Registry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.conns {
		if key.UserID == userID {
			n++
		}
	}
	return n
}
