package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castwire/signal-relay/internal/metrics"
	"github.com/castwire/signal-relay/internal/origin"
	"github.com/castwire/signal-relay/internal/ratelimit"
	"github.com/castwire/signal-relay/internal/session"
)

const wsWriteWait = 1 * time.Second

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *session.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins is the browser origin allowlist applied to the upgrade
	// request. Empty means same-host only.
	AllowedOrigins []string

	// ExclusiveBroadcast selects the legacy single-broadcaster policy.
	ExclusiveBroadcast bool

	// WebSocket inbound hardening.
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server implements the relay's WebSocket signaling surface at GET /ws.
//
// Each connection gets its own reader goroutine; the registry is the only
// cross-connection shared state. A per-connection write mutex keeps the
// session the sole writer on its socket even while fan-outs from other
// sessions' handlers are in flight.
type Server struct {
	cfg    Config
	log    *slog.Logger
	router *Router

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = session.NewRegistry()
	}

	s := &Server{
		cfg: cfg,
		log: logger,
		router: NewRouter(
			cfg.Registry,
			NewFanout(cfg.Registry, cfg.Metrics, logger),
			cfg.ExclusiveBroadcast,
			cfg.Metrics,
			logger,
		),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Router exposes the dispatch core for tests that drive the protocol without
// a real socket.
func (s *Server) Router() *Router { return s.router }

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, host, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.WSIdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.WSIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.WSPingInterval <= 0 {
		return 20 * time.Second
	}
	return s.cfg.WSPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxMessagesPerSecond <= 0 {
		return 50
	}
	return s.cfg.MaxMessagesPerSecond
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsConn{conn: conn}
	sess := s.cfg.Registry.Create(client)

	s.cfg.Metrics.Inc(metrics.WSConnections)
	s.log.Info("ws_connected", "session_id", sess.ID(), "remote_addr", r.RemoteAddr)

	pingDone := make(chan struct{})
	defer func() {
		close(pingDone)
		// The router only announces broadcaster_ended on the call that
		// observes the flag set, so a racing duplicate teardown stays silent.
		s.router.HandleDisconnect(sess)
		_ = client.Close()
		s.cfg.Metrics.Inc(metrics.WSDisconnects)
		s.log.Info("ws_disconnected", "session_id", sess.ID(), "remote_addr", r.RemoteAddr)
	}()

	conn.SetReadLimit(s.maxMessageBytes())

	idle := s.idleTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	go s.pingLoop(client, pingDone)

	s.router.HandleConnect(sess)

	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.maxMessagesPerSecond()),
		int64(s.maxMessagesPerSecond()),
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Consume the frame before enforcing the rate limit so the TCP
		// receive buffer is drained and the close frame is observable by the
		// client instead of an abortive RST.
		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			client.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			// The protocol is UTF-8 text; anything else is a malformed
			// message and dropped locally, connection left open.
			s.cfg.Metrics.Inc(metrics.DropReasonBadMessage)
			continue
		}
		s.router.HandleMessage(sess, data)
	}
}

func (s *Server) pingLoop(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// wsConn adapts a gorilla connection to session.Conn. The write mutex
// serializes data frames, pings, and close frames; every write carries a
// deadline so one stalled peer cannot wedge a fan-out.
type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
