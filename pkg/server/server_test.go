package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenroom-ai/greenroom/pkg/config"
	"github.com/greenroom-ai/greenroom/pkg/observability"
	"github.com/greenroom-ai/greenroom/pkg/orchestrator"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

type fakeOrch struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	cancels  []string
	handle   func(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

func (f *fakeOrch) Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	handle := f.handle
	f.mu.Unlock()
	if handle != nil {
		return handle(ctx, req)
	}
	req.Emitter.Status("thinking", "talent")
	req.Emitter.Delta("Courtney ")
	req.Emitter.Delta("Phillips wrote the Boost Mobile treatment.")
	return &orchestrator.Result{
		ConversationID: req.ConversationID,
		Turn: &protocol.Turn{
			ID:        "t1",
			Role:      protocol.RoleAssistant,
			Content:   "Courtney Phillips wrote the Boost Mobile treatment.",
			Status:    protocol.TurnComplete,
			Usage:     &protocol.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Provider:  "primary",
			Model:     "test-model",
			AgentType: protocol.AgentTalent,
		},
	}, nil
}

func (f *fakeOrch) Cancel(conversationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, conversationID)
	return true
}

func (f *fakeOrch) recorded() []orchestrator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Request(nil), f.requests...)
}

func (f *fakeOrch) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

type fakeVerifier struct {
	principals map[string]rbac.Principal
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{principals: map[string]rbac.Principal{
		"tok-good": {ID: "u1", Role: rbac.RoleSalesperson, DataAccessLevel: 3, Department: "sales"},
	}}
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (rbac.Principal, error) {
	p, ok := f.principals[raw]
	if !ok {
		return rbac.Principal{}, protocol.Errorf(protocol.KindUnauthorized, "rbac.verify", "unknown token")
	}
	return p, nil
}

func testServerConfig() config.ServerConfig {
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, orch *fakeOrch, deps ...func(*Deps)) *Server {
	t.Helper()
	d := Deps{
		Orchestrator: orch,
		Verifier:     newFakeVerifier(),
		Recorder:     observability.NopRecorder{},
	}
	for _, apply := range deps {
		apply(&d)
	}
	srv, err := New(testServerConfig(), d)
	require.NoError(t, err)
	return srv
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeClientFrame(t *testing.T, conn *websocket.Conn, frame protocol.ClientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame protocol.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func frameData(t *testing.T, frame protocol.ServerFrame) map[string]any {
	t.Helper()
	data, ok := frame.Data.(map[string]any)
	require.True(t, ok, "frame %q carries no object data", frame.Type)
	return data
}

func authenticate(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FrameAuth, Token: "tok-good"})
	frame := readFrame(t, conn)
	require.Equal(t, protocol.FrameAuthSuccess, frame.Type)
	return frame
}

func TestPingWithoutAuth(t *testing.T) {
	conn := dialWS(t, newTestServer(t, &fakeOrch{}))

	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FramePing})
	frame := readFrame(t, conn)

	assert.Equal(t, protocol.FramePong, frame.Type)
	assert.Zero(t, frame.Seq)
}

func TestRejectsUnauthenticatedMessage(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "Who directed our last campaign?",
	})
	frame := readFrame(t, conn)

	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "unauthorized", frame.Code)
	assert.Empty(t, orch.recorded())
}

func TestAuthFailureKeepsSessionOpen(t *testing.T) {
	conn := dialWS(t, newTestServer(t, &fakeOrch{}))

	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FrameAuth, Token: "tok-bad"})
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "unauthorized", frame.Code)

	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FramePing})
	assert.Equal(t, protocol.FramePong, readFrame(t, conn).Type)
}

func TestAuthSuccessThenTurn(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))

	auth := authenticate(t, conn)
	data := frameData(t, auth)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, "salesperson", data["role"])
	assert.NotEmpty(t, data["session_id"])
	assert.Zero(t, auth.Seq)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "Who wrote the Boost Mobile treatment?",
		AgentPref:      "talent",
	})

	status := readFrame(t, conn)
	require.Equal(t, protocol.FrameStatus, status.Type)
	assert.Equal(t, "c1", status.ConversationID)
	assert.Equal(t, uint64(1), status.Seq)
	assert.Equal(t, "thinking", frameData(t, status)["state"])

	first := readFrame(t, conn)
	require.Equal(t, protocol.FrameAssistantDelta, first.Type)
	assert.Equal(t, uint64(2), first.Seq)
	assert.Equal(t, "Courtney ", frameData(t, first)["content_chunk"])

	second := readFrame(t, conn)
	require.Equal(t, protocol.FrameAssistantDelta, second.Type)
	assert.Equal(t, uint64(3), second.Seq)

	final := readFrame(t, conn)
	require.Equal(t, protocol.FrameAssistantFinal, final.Type)
	assert.Equal(t, "c1", final.ConversationID)
	assert.Equal(t, uint64(4), final.Seq)
	finalData := frameData(t, final)
	assert.Equal(t, "Courtney Phillips wrote the Boost Mobile treatment.", finalData["content"])
	assert.Equal(t, "talent", finalData["agent_type"])
	assert.NotContains(t, finalData, "cancelled")
	usage, ok := finalData["usage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(15), usage["total_tokens"])

	reqs := orch.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "u1", reqs[0].Principal.ID)
	assert.Equal(t, "c1", reqs[0].ConversationID)
	assert.Equal(t, "Who wrote the Boost Mobile treatment?", reqs[0].UserMessage)
	assert.Equal(t, protocol.AgentTalent, reqs[0].Preference)
	assert.NotNil(t, reqs[0].Emitter)
}

func TestUnknownAgentPreferenceIgnored(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "What does our deal flow look like?",
		AgentPref:      "producer",
	})
	for readFrame(t, conn).Type != protocol.FrameAssistantFinal {
	}

	reqs := orch.recorded()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Preference)
}

func TestMintsConversationID(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:    protocol.FrameUserMessage,
		Content: "Have we worked with Solstice Pictures?",
	})

	status := readFrame(t, conn)
	require.Equal(t, protocol.FrameStatus, status.Type)
	require.NotEmpty(t, status.ConversationID)

	var final protocol.ServerFrame
	for final = readFrame(t, conn); final.Type != protocol.FrameAssistantFinal; final = readFrame(t, conn) {
		assert.Equal(t, status.ConversationID, final.ConversationID)
	}
	assert.Equal(t, status.ConversationID, final.ConversationID)

	reqs := orch.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, status.ConversationID, reqs[0].ConversationID)
}

func TestBusyRejectsConcurrentTurn(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	orch := &fakeOrch{}
	orch.handle = func(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
		close(started)
		<-release
		return &orchestrator.Result{
			ConversationID: req.ConversationID,
			Turn: &protocol.Turn{
				ID:      "t1",
				Role:    protocol.RoleAssistant,
				Content: "Done.",
				Status:  protocol.TurnComplete,
			},
		}, nil
	}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "Summarize the quarter.",
	})
	<-started

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c2",
		Content:        "Another question already?",
	})
	busy := readFrame(t, conn)
	assert.Equal(t, protocol.FrameError, busy.Type)
	assert.Equal(t, "busy", busy.Code)
	assert.Equal(t, "c2", busy.ConversationID)
	assert.Zero(t, busy.Seq)

	close(release)
	final := readFrame(t, conn)
	assert.Equal(t, protocol.FrameAssistantFinal, final.Type)
	assert.Equal(t, "c1", final.ConversationID)

	require.Len(t, orch.recorded(), 1)
}

func TestTurnAllowedAfterPreviousCompletes(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	for range 2 {
		writeClientFrame(t, conn, protocol.ClientFrame{
			Type:           protocol.FrameUserMessage,
			ConversationID: "c1",
			Content:        "Who wrote the Boost Mobile treatment?",
		})
		for readFrame(t, conn).Type != protocol.FrameAssistantFinal {
		}
	}

	assert.Len(t, orch.recorded(), 2)
}

func TestHandleErrorBecomesErrorFrame(t *testing.T) {
	orch := &fakeOrch{}
	orch.handle = func(context.Context, orchestrator.Request) (*orchestrator.Result, error) {
		return nil, protocol.Errorf(protocol.KindExhaustedProviders, "llm.route", "all providers failed")
	}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "Anything out there?",
	})
	frame := readFrame(t, conn)

	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "exhausted_providers", frame.Code)
	assert.Equal(t, "The assistant is temporarily unavailable. Please try again.", frame.Message)
	assert.Equal(t, uint64(1), frame.Seq)
}

func TestCancelledTurnFinalFrame(t *testing.T) {
	orch := &fakeOrch{}
	orch.handle = func(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
		return &orchestrator.Result{
			ConversationID: req.ConversationID,
			Turn: &protocol.Turn{
				ID:        "t1",
				Role:      protocol.RoleAssistant,
				Content:   "[analytics]\nPartial read on the slate.",
				Status:    protocol.TurnCancelled,
				AgentType: protocol.AgentAnalytics,
			},
		}, nil
	}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameUserMessage,
		ConversationID: "c1",
		Content:        "Assess the whole slate.",
	})
	final := readFrame(t, conn)

	require.Equal(t, protocol.FrameAssistantFinal, final.Type)
	data := frameData(t, final)
	assert.Equal(t, true, data["cancelled"])
	assert.Equal(t, "[analytics]\nPartial read on the slate.", data["content"])
}

func TestCancelForwarded(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))
	authenticate(t, conn)

	writeClientFrame(t, conn, protocol.ClientFrame{
		Type:           protocol.FrameCancel,
		ConversationID: "c9",
	})

	require.Eventually(t, func() bool {
		cancels := orch.cancelled()
		return len(cancels) == 1 && cancels[0] == "c9"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRequiresAuthAndConversation(t *testing.T) {
	orch := &fakeOrch{}
	conn := dialWS(t, newTestServer(t, orch))

	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FrameCancel, ConversationID: "c9"})
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "unauthorized", frame.Code)

	authenticate(t, conn)
	writeClientFrame(t, conn, protocol.ClientFrame{Type: protocol.FrameCancel})
	frame = readFrame(t, conn)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "validation", frame.Code)

	assert.Empty(t, orch.cancelled())
}

func TestUnknownFrameTypeRejected(t *testing.T) {
	conn := dialWS(t, newTestServer(t, &fakeOrch{}))

	writeClientFrame(t, conn, protocol.ClientFrame{Type: "mystery"})
	frame := readFrame(t, conn)

	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, "validation", frame.Code)
}

func TestOverflowDropsSlowSession(t *testing.T) {
	serverConn, clientConn := connPair(t)
	cfg := testServerConfig()
	cfg.BufferFrames = 1
	sess := newSession(context.Background(), serverConn, cfg, Deps{
		Orchestrator: &fakeOrch{},
		Verifier:     newFakeVerifier(),
		Recorder:     observability.NopRecorder{},
	})

	// No write pump is running, so the second send overflows the buffer.
	assert.True(t, sess.send(protocol.DeltaFrame("c1", "one")))
	assert.False(t, sess.send(protocol.DeltaFrame("c1", "two")))
	assert.False(t, sess.send(protocol.DeltaFrame("c1", "three")))

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := clientConn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func connPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverCh := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(ts.Close)
	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })
	server = <-serverCh
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		srv := newTestServer(t, &fakeOrch{}, func(d *Deps) {
			d.Health = []HealthCheck{
				{Name: "graph", Check: func(context.Context) error { return nil }},
				{Name: "kv", Check: func(context.Context) error { return nil }},
			}
		})
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Status       string `json:"status"`
			Dependencies map[string]struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"dependencies"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Dependencies["graph"].Status)
		assert.Equal(t, "ok", body.Dependencies["kv"].Status)
	})

	t.Run("degraded dependency returns 503", func(t *testing.T) {
		srv := newTestServer(t, &fakeOrch{}, func(d *Deps) {
			d.Health = []HealthCheck{
				{Name: "graph", Check: func(context.Context) error { return nil }},
				{Name: "kv", Check: func(context.Context) error {
					return protocol.Errorf(protocol.KindConnection, "kv.ping", "connection refused")
				}},
			}
		})
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body struct {
			Status       string `json:"status"`
			Dependencies map[string]struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"dependencies"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "ok", body.Dependencies["graph"].Status)
		assert.Equal(t, "degraded", body.Dependencies["kv"].Status)
		assert.Contains(t, body.Dependencies["kv"].Error, "connection refused")
	})
}

func TestMetricsRoute(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		srv := newTestServer(t, &fakeOrch{}, func(d *Deps) {
			d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("# HELP greenroom_ws_sessions_active\n"))
			})
		})
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("disabled without handler", func(t *testing.T) {
		srv := newTestServer(t, &fakeOrch{})
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(testServerConfig(), Deps{Verifier: newFakeVerifier()})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindValidation))

	_, err = New(testServerConfig(), Deps{Orchestrator: &fakeOrch{}})
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindValidation))
}
