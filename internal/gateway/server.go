package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/hub"
	"github.com/dayuer/botgate/internal/registry"
	"github.com/dayuer/botgate/internal/router"
)

// Role values a client may announce.
const (
	ClientRoleWorker    = "worker"
	ClientRoleUniversal = "Universal"
	ClientRoleAction    = "client" // action-only, receives no broadcasts
)

// ServerConfig configures the gateway server.
type ServerConfig struct {
	Host              string
	Port              int
	AccessToken       string
	HeartbeatInterval time.Duration
	HeartbeatMissed   int
	Registry          *registry.Registry
	Hub               *hub.Hub
	Router            *router.Router
	// Status adds fields to /api/status.
	Status func() map[string]any
}

// Server accepts adapter, subscriber and client connections.
type Server struct {
	cfg       ServerConfig
	session   *session
	seq       atomic.Uint64
	startTime time.Time

	mux *http.ServeMux
	srv *http.Server
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer creates the server and wires adapter lifecycle events into the hub.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg: cfg,
		session: &session{
			reg:      cfg.Registry,
			hub:      cfg.Hub,
			router:   cfg.Router,
			interval: cfg.HeartbeatInterval,
			missed:   cfg.HeartbeatMissed,
		},
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}

	cfg.Registry.OnConnect(func(c registry.Conn) { s.lifecycle(c, event.LifecycleConnect) })
	cfg.Registry.OnDisconnect(func(c registry.Conn) { s.lifecycle(c, event.LifecycleDisconnect) })

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/", s.handleWS)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked sockets outlive Shutdown; they close when ctx does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Printf("[Gateway] ✅ WebSocket → ws://%s/ws", s.Addr())
	log.Printf("[Gateway] ✅ HTTP API → http://%s/api/status", s.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) lifecycle(c registry.Conn, subType string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cfg.Hub.Publish(ctx, event.Lifecycle(c.Identity(), c.Platform(), subType, time.Now())); err != nil {
		log.Printf("[Gateway] ⚠️ lifecycle %s for %s dropped: %v", subType, c.Identity(), err)
	}
}

// --- Auth ---

// authorized checks the access token from the Authorization header or the
// access_token query parameter.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AccessToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AccessToken)) == 1
}

func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	avgMs, count := s.cfg.Router.Latency()
	status := map[string]any{
		"uptime":      int(time.Since(s.startTime).Seconds()),
		"adapters":    s.cfg.Registry.Len(registry.RoleAdapter),
		"subscribers": s.cfg.Registry.Len(registry.RoleSubscriber),
		"connections": s.cfg.Registry.Snapshot(),
		"hub":         s.cfg.Hub.Stats(),
		"pending":     s.cfg.Router.PendingLen(),
		"actions":     map[string]any{"avg_latency_ms": avgMs, "count": count},
	}
	if s.cfg.Status != nil {
		for k, v := range s.cfg.Status() {
			status[k] = v
		}
	}
	writeJSON(w, status)
}

// handleWS upgrades a connection.
//
// Role: ?role=worker|Universal (or X-Client-Role) makes an adapter, which
// must carry ?self_id= (or X-Self-ID); ?role=client is action-only; anything
// else subscribes to the event broadcast.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if r.URL.Path == "/" || r.URL.Path == "/ws" {
			writeJSONError(w, "websocket upgrade required", http.StatusBadRequest)
			return
		}
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}
	if !s.authorized(r) {
		log.Printf("[WS] 🚫 Unauthorized: %s", r.RemoteAddr)
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	clientRole := q.Get("role")
	if clientRole == "" {
		clientRole = r.Header.Get("X-Client-Role")
	}
	identity := q.Get("self_id")
	if identity == "" {
		identity = r.Header.Get("X-Self-ID")
	}
	platform := q.Get("platform")

	role := registry.RoleSubscriber
	register := true
	switch {
	case clientRole == ClientRoleWorker || strings.EqualFold(clientRole, ClientRoleUniversal):
		role = registry.RoleAdapter
		if identity == "" {
			writeJSONError(w, "self_id is required for adapters", http.StatusBadRequest)
			return
		}
	case clientRole == ClientRoleAction:
		register = false
	default:
		identity = ""
	}

	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] ⚠️ Upgrade failed: %v", err)
		return
	}

	id := fmt.Sprintf("%s-%d", role, s.seq.Add(1))
	if !register {
		id = fmt.Sprintf("client-%d", s.seq.Add(1))
	}
	c := newConn(raw, id, role, event.ID(identity), platform)
	log.Printf("[WS] 🔗 Connected: %s (%s, self_id=%s, platform=%s)", c.ID(), c.RemoteAddr(), identity, platform)

	s.session.serve(r.Context(), c, register)
	log.Printf("[WS] 🔌 Disconnected: %s (%s)", c.ID(), c.RemoteAddr())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
