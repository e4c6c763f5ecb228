package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaojoaquim/agi-core/config"
	"github.com/adaojoaquim/agi-core/core"
	"github.com/adaojoaquim/agi-core/engine"
	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/server"
)

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func newTestServer(t *testing.T, cfg server.Config) (*httptest.Server, *engine.Engine) {
	t.Helper()
	ecfg := config.Default()
	ecfg.LLMProvider = config.ProviderNone
	eng := engine.New(ecfg)
	t.Cleanup(func() { _ = eng.Close() })

	ts := httptest.NewServer(server.New(eng, cfg).Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func dial(t *testing.T, ts *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) call(req server.Request) server.Response {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(req))
	var resp server.Response
	require.NoError(c.t, c.conn.ReadJSON(&resp))
	return resp
}

func importance(v float64) *float64 { return &v }

func topK(n int) *int { return &n }

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, engine.Version, body["version"])
	assert.Equal(t, "AGICore(llm=none, memory=chromem, depth=3)", body["agent"])
}

func TestStoreRetrieveGetForget(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})
	c := dial(t, ts)

	stored := c.call(server.Request{
		Type:      server.TypeStore,
		RequestID: "r1",
		Tier:      memory.TierEpisodic,
		Entry: &server.EntryPayload{
			Content:    "shipped the websocket api",
			Metadata:   map[string]any{"source": "test"},
			Importance: importance(0.7),
		},
	})
	require.Equal(t, "store_result", stored.Type, stored.Error)
	assert.Equal(t, "r1", stored.RequestID)
	assert.True(t, strings.HasPrefix(stored.ID, "ep_"))

	retrieved := c.call(server.Request{Type: server.TypeRetrieve, Tier: memory.TierEpisodic, Query: "shipped the websocket api", TopK: topK(3)})
	require.Equal(t, "retrieve_result", retrieved.Type, retrieved.Error)
	require.Len(t, retrieved.Entries, 1)
	assert.Equal(t, stored.ID, retrieved.Entries[0].ID)
	assert.Equal(t, "shipped the websocket api", retrieved.Entries[0].Content)
	assert.InDelta(t, 0.7, retrieved.Entries[0].Importance, 1e-9)

	got := c.call(server.Request{Type: server.TypeGet, Tier: memory.TierEpisodic, ID: stored.ID})
	require.Equal(t, "get_result", got.Type, got.Error)
	require.NotNil(t, got.Entry)
	assert.Equal(t, "test", got.Entry.Metadata["source"])

	forgot := c.call(server.Request{Type: server.TypeForget, Tier: memory.TierEpisodic, ID: stored.ID})
	require.Equal(t, "forget_result", forgot.Type, forgot.Error)
	require.NotNil(t, forgot.Removed)
	assert.True(t, *forgot.Removed)

	again := c.call(server.Request{Type: server.TypeForget, Tier: memory.TierEpisodic, ID: stored.ID})
	require.NotNil(t, again.Removed)
	assert.False(t, *again.Removed)

	missing := c.call(server.Request{Type: server.TypeGet, Tier: memory.TierEpisodic, ID: stored.ID})
	assert.Equal(t, server.TypeError, missing.Type)
	assert.Equal(t, server.CodeNotFound, missing.Code)
}

func TestWorkingMemoryDefaultsAndContext(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})
	c := dial(t, ts)

	for _, text := range []string{"first thought", "second thought"} {
		resp := c.call(server.Request{Type: server.TypeStore, Entry: &server.EntryPayload{Content: text}})
		require.Equal(t, "store_result", resp.Type, resp.Error)
		assert.True(t, strings.HasPrefix(resp.ID, "wm_"))
	}

	ctxResp := c.call(server.Request{Type: server.TypeContext})
	require.NotNil(t, ctxResp.Context)
	assert.Equal(t, "first thought\nsecond thought", *ctxResp.Context)
}

func TestReflectAndConsolidate(t *testing.T) {
	ts, eng := newTestServer(t, server.Config{})
	c := dial(t, ts)

	resp := c.call(server.Request{Type: server.TypeReflect, Query: "x"})
	require.Equal(t, "reflect_result", resp.Type, resp.Error)
	assert.Len(t, resp.Reflection, 4)

	resp = c.call(server.Request{Type: server.TypeStore, Entry: &server.EntryPayload{Content: "deadline is friday", Importance: importance(0.9)}})
	require.Equal(t, "store_result", resp.Type, resp.Error)

	resp = c.call(server.Request{Type: server.TypeConsolidate})
	require.Equal(t, "consolidate_result", resp.Type, resp.Error)
	require.NotNil(t, resp.Report)
	assert.Len(t, resp.Report.Promoted, 1)

	sys, err := eng.Memory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sys.Episodic.Len())
}

func TestRun(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})
	c := dial(t, ts)

	resp := c.call(server.Request{Type: server.TypeRun, Goal: "summarize the week"})
	require.Equal(t, "run_result", resp.Type, resp.Error)
	require.NotNil(t, resp.Output)
	assert.Equal(t, core.StatusPendingImplementation, resp.Output.Status)
	assert.Equal(t, "summarize the week", resp.Output.Goal)

	resp = c.call(server.Request{Type: server.TypeRun})
	assert.Equal(t, server.TypeError, resp.Type)
	assert.Equal(t, server.CodeInvalidRequest, resp.Code)
}

func TestErrors(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})
	c := dial(t, ts)

	tests := []struct {
		name string
		req  server.Request
		code string
	}{
		{"missing type", server.Request{}, server.CodeInvalidRequest},
		{"unknown type", server.Request{Type: "dream"}, server.CodeUnknownType},
		{"unknown tier", server.Request{Type: server.TypeRetrieve, Tier: "sensory", Query: "q"}, server.CodeUnknownTier},
		{"store without entry", server.Request{Type: server.TypeStore}, server.CodeInvalidRequest},
		{"forget without id", server.Request{Type: server.TypeForget}, server.CodeInvalidRequest},
		{"invalid importance", server.Request{Type: server.TypeStore, Entry: &server.EntryPayload{Content: "x", Importance: importance(2)}}, server.CodeInvalidEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.call(tt.req)
			assert.Equal(t, server.TypeError, resp.Type)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var resp server.Response
	require.NoError(t, c.conn.ReadJSON(&resp))
	assert.Equal(t, server.CodeInvalidRequest, resp.Code)
}

func TestAllowedOrigins(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{AllowedOrigins: []string{"https://app.example"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestRetrieveTopK(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{})
	c := dial(t, ts)

	for i := range 7 {
		resp := c.call(server.Request{Type: server.TypeStore, Entry: &server.EntryPayload{Content: strings.Repeat("note ", i+1)}})
		require.Equal(t, "store_result", resp.Type, resp.Error)
	}

	tests := []struct {
		name string
		topK *int
		want int
	}{
		{"absent uses default", nil, 5},
		{"explicit zero", topK(0), 0},
		{"explicit two", topK(2), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.call(server.Request{Type: server.TypeRetrieve, Query: "note", TopK: tt.topK})
			require.Equal(t, "retrieve_result", resp.Type, resp.Error)
			assert.Len(t, resp.Entries, tt.want)
		})
	}
}

func TestServeReturnsWithOpenClients(t *testing.T) {
	ecfg := config.Default()
	ecfg.LLMProvider = config.ProviderNone
	eng := engine.New(ecfg)
	t.Cleanup(func() { _ = eng.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- server.New(eng, server.Config{}).Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer conn.Close()

	// Round trip so the connection is registered before shutdown.
	require.NoError(t, conn.WriteJSON(server.Request{Type: server.TypeContext}))
	var resp server.Response
	require.NoError(t, conn.ReadJSON(&resp))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel with an idle websocket client")
	}

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
