package crosstab

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type RelayConfig struct {
	Token           string
	MaxMessageBytes int64
	SendBuffer      int
	Logger          *slog.Logger
}

// Relay rebroadcasts every Event received from one client to all other
// connected clients.
type Relay struct {
	cfg    RelayConfig
	logger *slog.Logger
	router chi.Router

	mu      sync.Mutex
	clients map[*relayConn]struct{}
}

type relayConn struct {
	conn *websocket.Conn
	send chan Event
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Relay{
		cfg:     cfg,
		logger:  logger,
		clients: map[*relayConn]struct{}{},
	}
	router := chi.NewRouter()
	router.Get("/healthz", r.handleHealth)
	router.Group(func(auth chi.Router) {
		auth.Use(r.requireToken)
		auth.Get("/ws", r.handleSocket)
	})
	r.router = router
	return r
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": r.Clients()})
}

func (r *Relay) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.Token == "" {
			next.ServeHTTP(w, req)
			return
		}
		header := req.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(r.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Relay) handleSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("relay accept failed", "err", err)
		return
	}
	conn.SetReadLimit(r.cfg.MaxMessageBytes)
	client := &relayConn{conn: conn, send: make(chan Event, r.cfg.SendBuffer)}
	r.register(client)
	defer r.unregister(client)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go r.writeLoop(ctx, client)

	for {
		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				r.logger.Debug("relay client disconnected", "err", err)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if err := event.Validate(); err != nil {
			r.logger.Warn("relay dropped event", "err", err)
			continue
		}
		r.broadcast(client, event)
	}
}

func (r *Relay) writeLoop(ctx context.Context, client *relayConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.send:
			if err := wsjson.Write(ctx, client.conn, event); err != nil {
				r.logger.Debug("relay write failed", "err", err)
				return
			}
		}
	}
}

func (r *Relay) broadcast(from *relayConn, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for client := range r.clients {
		if client == from {
			continue
		}
		select {
		case client.send <- event:
		default:
			r.logger.Warn("relay client too slow, event dropped", "key", event.Key)
		}
	}
}

func (r *Relay) register(client *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client] = struct{}{}
}

func (r *Relay) unregister(client *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, client)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
