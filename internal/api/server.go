// Package api implements the Public API facade: the REST surface for
// starting/stopping/streaming runs and reading thread history, plus
// the /run_live WebSocket transport. Grounded on the teacher's
// internal/gateway/http_server.go (stdlib net/http.ServeMux, no
// third-party router) and ws_control_plane.go (gorilla/websocket frame
// protocol), trimmed to the endpoints this system names.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent/runcontrol"
	"github.com/haasonsaas/nexus/internal/audit"
	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/ratelimit"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Config controls the HTTP/WS listener.
type Config struct {
	Host string
	Port int
}

// Middleware bundles the facade's cross-cutting request handling: auth
// validation, per-identity rate limiting and audit logging. Any field
// left nil/zero-valued disables that concern.
type Middleware struct {
	Auth      *auth.Service
	AuditCfg  audit.Config
	RateLimit ratelimit.Config
}

// Server is the Public API facade: one instance per process, shared by
// every thread and run it serves.
type Server struct {
	config     Config
	sessions   sessions.Store
	runs       *runcontrol.Controller
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener

	auth    *auth.Service
	audit   *audit.Logger
	limiter *ratelimit.Limiter
}

// New builds the facade over a session store and run controller. mw
// configures auth/audit/rate-limit middleware; its zero value disables
// all three, matching the facade's pre-middleware behavior.
func New(cfg Config, store sessions.Store, runs *runcontrol.Controller, logger *slog.Logger, mw Middleware) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	auditLogger, err := buildAuditLogger(mw.AuditCfg)
	if err != nil {
		return nil, fmt.Errorf("api: build audit logger: %w", err)
	}
	return &Server{
		config:   cfg,
		sessions: store,
		runs:     runs,
		logger:   logger,
		auth:     mw.Auth,
		audit:    auditLogger,
		limiter:  buildRateLimiter(mw.RateLimit),
	}, nil
}

// Start begins serving HTTP/WS on the configured address. It returns
// once the listener is bound; serving continues in a background
// goroutine until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/thread/", s.handleThreadRoutes)
	mux.HandleFunc("/agent-run/", s.handleRunRoutes)
	mux.Handle("/run_live/", s.newLiveHandler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           s.chain(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: server error", "error", err)
		}
	}()
	s.logger.Info("api: listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down, flushing the audit logger if
// one is configured.
func (s *Server) Stop(ctx context.Context) error {
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("api: audit logger close failed", "error", err)
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleThreadRoutes dispatches:
//
//	POST /thread/{thread_id}/agent/start
//	GET  /thread/{thread_id}/messages
func (s *Server) handleThreadRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/thread/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	threadID := parts[0]

	switch {
	case len(parts) == 3 && parts[1] == "agent" && parts[2] == "start" && r.Method == http.MethodPost:
		s.handleStart(w, r, threadID)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		s.handleMessages(w, r, threadID)
	default:
		http.NotFound(w, r)
	}
}

// handleRunRoutes dispatches:
//
//	POST /agent-run/{run_id}/stop
//	GET  /agent-run/{run_id}/stream?from_seq=N
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/agent-run/"), "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	runID := parts[0]

	switch {
	case parts[1] == "stop" && r.Method == http.MethodPost:
		s.handleStop(w, r, runID)
	case parts[1] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, runID)
	default:
		http.NotFound(w, r)
	}
}

type startRequest struct {
	Content string `json:"content"`
}

type startResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, threadID string) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	session, err := s.sessions.Get(r.Context(), threadID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "thread not found"})
		return
	}

	msg := &models.Message{
		SessionID: threadID,
		Type:      models.MessageTypeUser,
		Role:      models.RoleUser,
		Content:   req.Content,
	}

	runID, err := s.runs.Start(r.Context(), session, msg)
	if err != nil {
		if errors.Is(err, runcontrol.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{RunID: runID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, runID string) {
	if err := s.runs.Stop(r.Context(), runID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStream serves an SSE stream of run events, replaying from
// from_seq (default 0) and then tailing live until the run reaches a
// terminal status or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, runID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	fromSeq := int64(0)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from_seq", http.StatusBadRequest)
			return
		}
		fromSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.runs.Stream(r.Context(), runID, fromSeq) {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, payload)
		flusher.Flush()
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	history, err := s.sessions.GetHistory(r.Context(), threadID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
