package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	gmtrainer "github.com/maxwelljoslyn/gm-trainer"
	"github.com/maxwelljoslyn/gm-trainer/config"
	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/maxwelljoslyn/gm-trainer/logging"
	"github.com/maxwelljoslyn/gm-trainer/model"
	"github.com/maxwelljoslyn/gm-trainer/session"
	"github.com/maxwelljoslyn/gm-trainer/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openingNarration = "The door creaks open."

type fixture struct {
	trainer *gmtrainer.Trainer
	model   *model.MockModel
	server  *Server
}

func newFixture(t *testing.T, optFns ...func(o *gmtrainer.Options)) *fixture {
	t.Helper()

	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Model.Provider = config.ProviderMock
	cfg.Store.Backend = config.StoreMemory
	cfg.Session.TurnOrder = "fixed"
	cfg.Session.Narration = openingNarration
	cfg.Log.Backend = "slog"

	m := model.NewMockModel("mock", "mock")

	tr, err := gmtrainer.New(ctx, func(o *gmtrainer.Options) {
		o.Config = cfg
		o.Model = m
		o.Logger = logging.NoOpLogger{}
		o.Sleep = func(context.Context, time.Duration) error { return nil }
		for _, fn := range optFns {
			fn(o)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	sess, err := tr.NewSession(ctx)
	require.NoError(t, err)

	srv := New(sess, func(o *Options) {
		o.Metrics = tr.Metrics()
		o.Logger = logging.NoOpLogger{}
	})

	return &fixture{trainer: tr, model: m, server: srv}
}

func postTurn(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, TurnResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())

	return rec, resp
}

func TestServer_Index(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), openingNarration)
	assert.Contains(t, rec.Body.String(), "idle")
}

func TestServer_UnknownPath(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PostTurn(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("I draw my sword.", "I cast Sleep.")
	h := f.server.Handler()

	rec, resp := postTurn(t, h, `{"narration":"Goblins attack!"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Arvak: I draw my sword.", "Bolzar: I cast Sleep."}, resp.Utterances)
	assert.Equal(t, 1, resp.Round)
	assert.Equal(t, "idle", resp.State)
	assert.Empty(t, resp.Error)

	history := f.server.History()
	require.Len(t, history, 3)
	assert.Equal(t, Message{Seq: 0, Role: RoleGM, Text: "Goblins attack!"}, history[0])
	assert.Equal(t, Message{Seq: 1, Role: RolePlayer, Name: "Arvak", Player: "Alice", Text: "I draw my sword."}, history[1])
	assert.Equal(t, Message{Seq: 2, Role: RolePlayer, Name: "Bolzar", Player: "Bob", Text: "I cast Sleep."}, history[2])
}

func TestServer_PostTurnReusesNarration(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("a", "b", "c", "d")
	h := f.server.Handler()

	rec, _ := postTurn(t, h, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := postTurn(t, h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, resp.Round)

	history := f.server.History()
	require.Len(t, history, 6)
	assert.Equal(t, openingNarration, history[0].Text)
	assert.Equal(t, openingNarration, history[3].Text)
}

func TestServer_PostTurnBadBody(t *testing.T) {
	f := newFixture(t)

	rec, resp := postTurn(t, f.server.Handler(), `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "invalid request body")
	assert.Empty(t, f.server.History())
}

func TestServer_ExhaustedThenHalted(t *testing.T) {
	f := newFixture(t)
	f.model.Fail(errors.New("overloaded"), 3)
	h := f.server.Handler()

	rec, resp := postTurn(t, h, `{"narration":"Roll initiative."}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "halted", resp.State)
	assert.Equal(t, "Ran out of tries while generating response for player Alice.", resp.Error)

	history := f.server.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleError, history[1].Role)

	rec, _ = postTurn(t, h, `{"narration":"Anyone there?"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, f.server.History(), 2, "rejected turns are not published")
}

// failingStore accepts reads but rejects every append.
type failingStore struct {
	*transcript.InMemoryStore
}

func (failingStore) Append(context.Context, core.Record) error { return errors.New("disk full") }

func TestServer_PersistenceFailureKeepsDeliveredUtterance(t *testing.T) {
	f := newFixture(t, func(o *gmtrainer.Options) {
		o.Store = failingStore{InMemoryStore: transcript.NewInMemoryStore()}
	})
	f.model.Respond("I step inside.", "I follow.")

	rec, resp := postTurn(t, f.server.Handler(), `{"narration":"A cave looms ahead."}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"Arvak: I step inside."}, resp.Utterances)
	assert.Equal(t, "halted", resp.State)
	assert.Equal(t, "Could not log the response of player Alice: disk full", resp.Error)

	history := f.server.History()
	require.Len(t, history, 3)
	assert.Equal(t, "I step inside.", history[1].Text)
	assert.Equal(t, RoleError, history[2].Role)
}

func TestServer_TurnInProgress(t *testing.T) {
	f := newFixture(t)

	f.server.turnMu.Lock()
	defer f.server.turnMu.Unlock()

	_, err := f.server.PlayTurn("Hello")
	assert.ErrorIs(t, err, session.ErrRoundInProgress)

	rec, _ := postTurn(t, f.server.Handler(), `{"narration":"Hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.server.History())
}

func TestServer_State(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("one", "two")
	h := f.server.Handler()

	rec, _ := postTurn(t, h, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))

	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, "idle", state.State)
	assert.Equal(t, 1, state.Round)
	assert.Equal(t, []string{"Arvak: one", "Bolzar: two"}, state.Previous)
	assert.Empty(t, state.Current)
	assert.Len(t, state.Conversations, 2)
	assert.Len(t, state.History, 3)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("one", "two")
	h := f.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	postTurn(t, h, `{}`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "gm_trainer_rounds_total 1")
	assert.Contains(t, body, `gm_trainer_http_requests_total{method="POST",path="/api/turn",status="200"} 1`)
}

func TestServer_WebSocket(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("I draw my sword.", "I cast Sleep.")

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first Message
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, Message{Seq: -1, Role: RoleState, Text: "idle"}, first)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "turn", "narration": "Goblins attack!"}))

	var chat []Message
	var states []string
	for len(states) < 2 {
		var m Message
		require.NoError(t, wsjson.Read(ctx, conn, &m))
		if m.Role == RoleState {
			states = append(states, m.Text)
			continue
		}
		chat = append(chat, m)
	}

	assert.Equal(t, []string{"in_round", "idle"}, states)
	require.Len(t, chat, 3)
	assert.Equal(t, RoleGM, chat[0].Role)
	assert.Equal(t, "Goblins attack!", chat[0].Text)
	assert.Equal(t, "Arvak", chat[1].Name)
	assert.Equal(t, "I cast Sleep.", chat[2].Text)
	assert.Equal(t, 2, chat[2].Seq)
}

func TestServer_WebSocketReplaysHistory(t *testing.T) {
	f := newFixture(t)
	f.model.Respond("one", "two")

	_, err := f.server.PlayTurn("")
	require.NoError(t, err)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	for i := 0; i < 3; i++ {
		var m Message
		require.NoError(t, wsjson.Read(ctx, conn, &m))
		assert.Equal(t, i, m.Seq)
	}

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "bogus"}))

	var m Message
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Equal(t, RoleState, m.Role)

	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Equal(t, RoleError, m.Role)
	assert.Equal(t, -1, m.Seq)
	assert.Contains(t, m.Text, "bogus")
}

func TestServer_Run(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	f.server.opts.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return bytes.Equal(b, []byte("ok"))
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrEmptyNarration, http.StatusBadRequest},
		{session.ErrRoundInProgress, http.StatusConflict},
		{fmt.Errorf("%w: boom", session.ErrHalted), http.StatusConflict},
		{&core.ExhaustedRetriesError{Player: "Alice", Attempts: 3}, http.StatusBadGateway},
		{&core.PersistenceError{Player: "Bob", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
