// Package httpapi implements the HTTP control plane of spec.md §4.7: the
// browser's sole entry point, serving token issuance, agent dispatch, and a
// CORS-enabled proxy to the stateful agent service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/roomfabric"
)

const (
	defaultRoom     = "test-room"
	defaultIdentity = "user1"
	proxyTimeout    = 30 * time.Second
)

// Fabric is the subset of *roomfabric.Client the control plane needs.
// Defined locally so handlers are testable without a live fabric.
type Fabric interface {
	MintToken(room, identity string, ttl time.Duration) (string, error)
	URL() string
	EnsureCleanRoom(ctx context.Context, room string) error
	CreateDispatch(ctx context.Context, room, agentName string) (string, error)
}

// Server is the HTTP control plane. Its router is exported via Handler so
// callers own the *http.Server and its lifecycle (graceful shutdown,
// TLS, etc.), matching the teacher's rest.Server which separates router
// construction from the listening server.
type Server struct {
	fabric      Fabric
	workerName  string
	agentServiceURL string
	httpClient  *http.Client
	logger      *o11y.Logger
	router      *mux.Router
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger overrides the Server's logger.
func WithLogger(l *o11y.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHTTPClient overrides the client used to proxy to the agent service.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// New builds a Server proxying to agentServiceURL and dispatching workers
// registered under workerName.
func New(fabric Fabric, agentServiceURL, workerName string, opts ...Option) *Server {
	s := &Server{
		fabric:          fabric,
		workerName:      workerName,
		agentServiceURL: agentServiceURL,
		httpClient:      &http.Client{Timeout: proxyTimeout},
		logger:          o11y.NewLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = mux.NewRouter()
	s.setupRoutes()
	return s
}

// Handler returns the server's http.Handler, wrapped with permissive CORS
// headers (spec.md §4.7 "All responses carry permissive CORS headers").
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodOptions)
	s.router.PathPrefix("/api/v1/").HandlerFunc(s.handleProxy).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/token", s.handleToken).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/dispatch-agent", s.handleDispatchAgent).Methods(http.MethodPost, http.MethodOptions)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIndex is the out-of-core-scope voice-selector page (spec.md §1),
// implemented as a trivial pass-through so the route exists.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("letta-voice-gateway"))
}

// handleProxy transparently proxies GET /api/v1/{path} to the stateful
// agent service's /v1/{path} (spec.md §6), streaming the upstream body
// through unchanged.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	upstreamPath := r.URL.Path[len("/api/v1"):]
	upstreamURL := s.agentServiceURL + "/v1" + upstreamPath
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "failed to build upstream request")
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn(r.Context(), "proxy request failed", "path", upstreamPath, "error", err)
		s.writeError(w, http.StatusBadGateway, "upstream agent service unreachable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// handleToken implements GET /api/token?room=&identity=&ttl= (spec.md §6).
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = defaultRoom
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = defaultIdentity
	}

	ttlHours := 24
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "ttl must be an integer number of hours")
			return
		}
		ttlHours = parsed
	}
	if !roomfabric.ValidTTL(ttlHours) {
		s.writeError(w, http.StatusBadRequest, "ttl must be between 1 and 168 hours")
		return
	}

	ttl := time.Duration(ttlHours) * time.Hour
	token, err := s.fabric.MintToken(room, identity, ttl)
	if err != nil {
		s.logger.Warn(r.Context(), "token minting failed", "room", room, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"url":       s.fabric.URL(),
		"room":      room,
		"ttl_hours": ttlHours,
	})
}

type dispatchRequest struct {
	Room string `json:"room"`
}

// handleDispatchAgent implements POST /api/dispatch-agent (spec.md §4.7
// step 2): ensure_clean_room, then create_dispatch, reporting whether the
// room already existed.
func (s *Server) handleDispatchAgent(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "room is required"})
		return
	}

	roomExisted := true
	if err := s.fabric.EnsureCleanRoom(r.Context(), req.Room); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.Code == core.ErrNotFound {
			roomExisted = false
		} else {
			s.logger.Warn(r.Context(), "dispatch-agent: clean room failed", "room", req.Room, "error", err)
			s.writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "failed to prepare room"})
			return
		}
	}

	dispatchID, err := s.fabric.CreateDispatch(r.Context(), req.Room, s.workerName)
	if err != nil {
		s.logger.Warn(r.Context(), "dispatch-agent: dispatch failed", "room", req.Room, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "failed to dispatch agent"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"room":         req.Room,
		"dispatch_id":  dispatchID,
		"room_existed": roomExisted,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// ListenAndServe binds addr (must be all-interfaces per spec.md §4.7
// "Binding") and serves until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
