// Package web serves the browser front-end: a single chat history mixing the
// GM's narration with player responses, streamed live over a websocket.
//
// Routes:
//
//	GET  /            chat page, narration box pre-filled
//	GET  /ws          websocket; replays history, accepts {"type":"turn"}
//	POST /api/turn    run a round, JSON in and out
//	GET  /api/state   session snapshot and history
//	GET  /healthz     liveness
//	GET  /metrics     Prometheus exposition (when metrics are enabled)
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	gmtrainer "github.com/maxwelljoslyn/gm-trainer"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/metrics"
	"github.com/maxwelljoslyn/gm-trainer/session"
)

// Message roles.
const (
	RoleGM     = "gm"
	RolePlayer = "player"
	RoleError  = "error"
	RoleState  = "state"
)

// Message is one chat entry, also the websocket wire format.
type Message struct {
	Seq    int    `json:"seq"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Player string `json:"player,omitempty"`
	Text   string `json:"text"`
}

type clientMessage struct {
	Type      string `json:"type"`
	Narration string `json:"narration"`
}

// TurnRequest is the body of POST /api/turn. An empty narration reuses the
// current one.
type TurnRequest struct {
	Narration string `json:"narration"`
}

// TurnResponse is the reply of POST /api/turn.
type TurnResponse struct {
	Utterances []string `json:"utterances"`
	Round      int      `json:"round"`
	State      string   `json:"state"`
	Error      string   `json:"error,omitempty"`
}

// StateResponse is the reply of GET /api/state.
type StateResponse struct {
	SessionID     string            `json:"session_id"`
	State         string            `json:"state"`
	Round         int               `json:"round"`
	Narration     string            `json:"narration"`
	Previous      []string          `json:"previous"`
	Current       []string          `json:"current"`
	Conversations map[string]string `json:"conversations"`
	History       []Message         `json:"history"`
	Error         string            `json:"error,omitempty"`
}

// Options configures New.
type Options struct {
	Addr         string
	Metrics      *metrics.Collector
	Logger       logging.Logger
	WriteTimeout time.Duration
	// TurnContext is the parent of every turn. Request contexts are not used
	// so a closed browser tab cannot halt the session.
	TurnContext context.Context
}

// Server is the web front-end for one session.
type Server struct {
	sess *session.Session
	opts Options

	turnMu sync.Mutex

	mu      sync.Mutex
	history []Message
	clients map[*websocket.Conn]struct{}
}

// New creates a Server for sess.
func New(sess *session.Session, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:         "127.0.0.1:7860",
		Logger:       logging.NoOpLogger{},
		WriteTimeout: 5 * time.Second,
		TurnContext:  context.Background(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		sess:    sess,
		opts:    opts,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, path string, h http.HandlerFunc) {
		if s.opts.Metrics != nil {
			mux.Handle(pattern, s.opts.Metrics.Middleware(path, h))
			return
		}
		mux.Handle(pattern, h)
	}

	route("GET /{$}", "/", s.handleIndex)
	route("GET /ws", "/ws", s.handleWebSocket)
	route("POST /api/turn", "/api/turn", s.handleTurn)
	route("GET /api/state", "/api/state", s.handleState)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("web.listen", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}

	return nil
}

// PlayTurn sets the narration (when it differs), records it in the chat and
// runs one round, streaming each response to connected clients.
func (s *Server) PlayTurn(narration string) ([]string, error) {
	utterances, _, err := s.playTurn(narration)
	return utterances, err
}

// playTurn reports whether the error was already published to the chat.
func (s *Server) playTurn(narration string) ([]string, bool, error) {
	if !s.turnMu.TryLock() {
		return nil, false, session.ErrRoundInProgress
	}
	defer s.turnMu.Unlock()

	narration = strings.TrimSpace(narration)
	if narration != "" && narration != s.sess.Narration() {
		if err := s.sess.SetNarration(narration); err != nil {
			return nil, false, err
		}
	}

	if s.sess.State() == session.Halted {
		return nil, false, fmt.Errorf("%w: %w", session.ErrHalted, s.sess.Err())
	}

	s.publish(Message{Role: RoleGM, Text: s.sess.Narration()})
	s.broadcastState(session.InRound)

	utterances, err := s.sess.RunTurn(s.opts.TurnContext, func(o *session.TurnOptions) {
		o.Display = func(u core.Utterance) {
			s.publish(Message{Role: RolePlayer, Name: u.Character, Player: u.Player, Text: u.Text})
		}
	})
	if err != nil {
		s.opts.Logger.Error("web.turn.error", "error", err)
		s.publish(Message{Role: RoleError, Text: gmtrainer.Describe(err)})
	}

	s.broadcastState(s.sess.State())

	return utterances, err != nil, err
}

// History returns a copy of the chat so far.
func (s *Server) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message{}, s.history...)
}

func (s *Server) publish(m Message) {
	s.mu.Lock()
	m.Seq = len(s.history)
	s.history = append(s.history, m)
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.send(c, m)
	}
}

func (s *Server) broadcastState(state session.State) {
	s.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.send(c, Message{Seq: -1, Role: RoleState, Text: state.String()})
	}
}

func (s *Server) send(c *websocket.Conn, m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, c, m); err != nil {
		s.opts.Logger.Debug("web.ws.drop", "error", err)
		s.removeClient(c)
		_ = c.CloseNow()
	}
}

func (s *Server) removeClient(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for c := range clients {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := page.Execute(w, pageData{
		Narration: s.sess.Narration(),
		State:     s.sess.State().String(),
		History:   s.History(),
	}); err != nil {
		s.opts.Logger.Error("web.index.error", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("web.ws.accept.error", "error", err)
		return
	}
	defer conn.CloseNow()

	// Register and snapshot under one lock so no message is missed or sent
	// twice.
	s.mu.Lock()
	replay := append([]Message{}, s.history...)
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	defer s.removeClient(conn)

	for _, m := range replay {
		s.send(conn, m)
	}
	s.send(conn, Message{Seq: -1, Role: RoleState, Text: s.sess.State().String()})

	for {
		var msg clientMessage
		if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && r.Context().Err() == nil {
				s.opts.Logger.Debug("web.ws.read.error", "error", err)
			}
			return
		}

		if msg.Type != "turn" {
			s.send(conn, Message{Seq: -1, Role: RoleError, Text: fmt.Sprintf("unknown message type %q", msg.Type)})
			continue
		}

		if _, published, err := s.playTurn(msg.Narration); err != nil && !published {
			s.send(conn, Message{Seq: -1, Role: RoleError, Text: gmtrainer.Describe(err)})
		}
	}
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, TurnResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	utterances, err := s.PlayTurn(req.Narration)
	snap := s.sess.Snapshot()
	resp := TurnResponse{Utterances: utterances, Round: snap.Round, State: snap.State.String()}
	if resp.Utterances == nil {
		resp.Utterances = []string{}
	}

	if err != nil {
		resp.Error = gmtrainer.Describe(err)
		writeJSON(w, statusFor(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := s.sess.Snapshot()

	resp := StateResponse{
		SessionID:     snap.ID,
		State:         snap.State.String(),
		Round:         snap.Round,
		Narration:     snap.Narration,
		Previous:      snap.Previous,
		Current:       snap.Current,
		Conversations: s.sess.Conversations(),
		History:       s.History(),
	}
	if snap.Err != nil {
		resp.Error = gmtrainer.Describe(snap.Err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyNarration):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrRoundInProgress), errors.Is(err, session.ErrHalted):
		return http.StatusConflict
	case errors.Is(err, core.ErrExhaustedRetries):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
