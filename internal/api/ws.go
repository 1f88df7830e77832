package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus/pkg/models"
)

// /run_live transport constants, grounded on the teacher's
// ws_control_plane.go tuning (same write/pong deadlines, same payload
// cap, same close-code convention).
const (
	liveMaxPayloadBytes = 1 << 20
	livePongWait        = 45 * time.Second
	liveWriteWait       = 10 * time.Second
	livePingInterval    = 15 * time.Second
)

// liveFrame is the /run_live wire frame: a client sends a method call
// (connect/ping/chat.send/chat.abort/chat.history) and receives either
// an ack (OK set) or a run event pushed by seq.
type liveFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *liveError      `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type liveError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatSendParams struct {
	Content string `json:"content"`
}

type chatHistoryParams struct {
	Limit int `json:"limit"`
}

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  liveMaxPayloadBytes,
	WriteBufferSize: liveMaxPayloadBytes,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newLiveHandler builds the /run_live/{app}/{user}/{session} handler.
// app and user identify the caller for logging only; session is the
// thread id every method call below operates on.
func (s *Server) newLiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/run_live/"), "/"), "/")
		if len(parts) != 3 {
			http.Error(w, "expected /run_live/{app}/{user}/{session}", http.StatusBadRequest)
			return
		}
		app, user, threadID := parts[0], parts[1], parts[2]

		conn, err := liveUpgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("api: ws upgrade failed", "error", err)
			return
		}

		sess := &liveSession{
			server:   s,
			conn:     conn,
			threadID: threadID,
			app:      app,
			user:     user,
			send:     make(chan []byte, 32),
		}
		sess.run()
	})
}

// liveSession owns one /run_live socket: one reader loop, one writer
// loop, and at most one active streamed run at a time (mirroring the
// Run Controller's per-thread serialization).
type liveSession struct {
	server   *Server
	conn     *websocket.Conn
	threadID string
	app      string
	user     string

	send chan []byte

	mu        sync.Mutex
	activeRun string
	cancelRun context.CancelFunc

	sendMu sync.RWMutex
	closed bool
}

func (ls *liveSession) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ls.writeLoop(ctx)

	ls.conn.SetReadLimit(liveMaxPayloadBytes)
	_ = ls.conn.SetReadDeadline(time.Now().Add(livePongWait))
	ls.conn.SetPongHandler(func(string) error {
		return ls.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		_, raw, err := ls.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame liveFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			ls.reply(liveFrame{Type: "error", Error: &liveError{Code: "bad_frame", Message: err.Error()}})
			continue
		}
		ls.handleFrame(ctx, frame)
	}

	ls.sendMu.Lock()
	ls.closed = true
	close(ls.send)
	ls.sendMu.Unlock()

	ls.stopActiveRun()
	_ = ls.conn.Close()
}

func (ls *liveSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ls.send:
			if !ok {
				return
			}
			_ = ls.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := ls.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = ls.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := ls.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ls *liveSession) handleFrame(ctx context.Context, frame liveFrame) {
	switch frame.Method {
	case "connect":
		ls.reply(ackFrame(frame.ID, map[string]any{"protocol": 1, "thread_id": ls.threadID}))
	case "ping":
		ls.reply(ackFrame(frame.ID, map[string]any{"pong": true}))
	case "chat.send":
		ls.handleChatSend(ctx, frame)
	case "chat.abort":
		ls.handleChatAbort(frame)
	case "chat.history":
		ls.handleChatHistory(ctx, frame)
	default:
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "unknown_method", Message: frame.Method}})
	}
}

func (ls *liveSession) handleChatSend(ctx context.Context, frame liveFrame) {
	var params chatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil || strings.TrimSpace(params.Content) == "" {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "bad_params", Message: "content is required"}})
		return
	}

	session, err := ls.server.sessions.Get(ctx, ls.threadID)
	if err != nil {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "not_found", Message: "thread not found"}})
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: ls.threadID,
		Type:      models.MessageTypeUser,
		Role:      models.RoleUser,
		Content:   params.Content,
	}

	runID, err := ls.server.runs.Start(ctx, session, msg)
	if err != nil {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "start_failed", Message: err.Error()}})
		return
	}

	ls.reply(ackFrame(frame.ID, map[string]any{"run_id": runID}))
	ls.streamRun(runID)
}

func (ls *liveSession) handleChatAbort(frame liveFrame) {
	ls.mu.Lock()
	runID := ls.activeRun
	ls.mu.Unlock()
	if runID == "" {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "no_active_run", Message: "no run is currently streaming"}})
		return
	}
	if err := ls.server.runs.Stop(context.Background(), runID); err != nil {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "stop_failed", Message: err.Error()}})
		return
	}
	ls.reply(ackFrame(frame.ID, map[string]any{"run_id": runID}))
}

func (ls *liveSession) handleChatHistory(ctx context.Context, frame liveFrame) {
	var params chatHistoryParams
	_ = json.Unmarshal(frame.Params, &params)
	history, err := ls.server.sessions.GetHistory(ctx, ls.threadID, params.Limit)
	if err != nil {
		ls.reply(liveFrame{Type: "error", ID: frame.ID, Error: &liveError{Code: "history_failed", Message: err.Error()}})
		return
	}
	ls.reply(ackFrame(frame.ID, map[string]any{"messages": history}))
}

// streamRun pushes every RunEvent for runID to the socket until the run
// reaches a terminal status or the socket closes. Only one run streams
// at a time per session; starting a new one replaces the prior
// cancel func (the thread lock in runcontrol already prevents two
// concurrent runs on the same thread).
func (ls *liveSession) streamRun(runID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	ls.mu.Lock()
	ls.activeRun = runID
	ls.cancelRun = cancel
	ls.mu.Unlock()

	go func() {
		defer cancel()
		for ev := range ls.server.runs.Stream(runCtx, runID, 0) {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq := ev.Seq
			ls.reply(liveFrame{Type: "event", Event: string(ev.Type), Seq: &seq, Payload: json.RawMessage(payload)})
		}
		ls.mu.Lock()
		if ls.activeRun == runID {
			ls.activeRun = ""
			ls.cancelRun = nil
		}
		ls.mu.Unlock()
	}()
}

func (ls *liveSession) stopActiveRun() {
	ls.mu.Lock()
	cancel := ls.cancelRun
	ls.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (ls *liveSession) reply(frame liveFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	ls.sendMu.RLock()
	defer ls.sendMu.RUnlock()
	if ls.closed {
		return
	}
	select {
	case ls.send <- raw:
	default:
		ls.server.logger.Warn("api: ws send buffer full, dropping frame", "thread_id", ls.threadID)
	}
}

func ackFrame(id string, payload any) liveFrame {
	ok := true
	return liveFrame{Type: "response", ID: id, OK: &ok, Payload: payload}
}
