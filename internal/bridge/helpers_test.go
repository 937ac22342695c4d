package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/codefionn/agentbridge/internal/config"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

func testBridgeConfig(t *testing.T) config.BridgeConfig {
	t.Helper()
	cfg := config.DefaultConfig().Bridge
	cfg.DiscoveryDir = filepath.Join(t.TempDir(), "ide")
	cfg.IDEName = "Test Workspace"
	return cfg
}

func agentInstalled(string) (string, error) { return "/usr/local/bin/claude", nil }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testBridgeConfig(t), WithLookPath(agentInstalled))
	t.Cleanup(m.Close)
	return m
}

func dialAgent(t *testing.T, port int, token, workspace string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set(AuthHeader, token)
	}
	if workspace != "" {
		header.Set(WorkspaceHeader, workspace)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", port), header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func mustDialAgent(t *testing.T, inst *Instance, workspace string) *websocket.Conn {
	t.Helper()
	before := inst.Registry().Count()
	conn, _, err := dialAgent(t, inst.Port(), inst.Token(), workspace)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.Registry().Count() == before+1 }, testWait, 10*time.Millisecond)
	return conn
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorPayload   `json:"error"`
}

type wireNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) wireResponse {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	require.NoError(t, conn.WriteJSON(req))

	var resp wireResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testWait)))
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func notify(t *testing.T, conn *websocket.Conn, method string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": method}))
}

func handshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	resp := call(t, conn, 1, MethodInitialize, map[string]any{"protocolVersion": "2025-06-18"})
	require.Nil(t, resp.Error)
}

func readNotification(t *testing.T, conn *websocket.Conn) wireNotification {
	t.Helper()
	var n wireNotification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testWait)))
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func nextSurfaceMessage(t *testing.T, sub *Subscription) *SurfaceMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(testWait):
		t.Fatal("timed out waiting for surface message")
		return nil
	}
}

func assertNoSurfaceMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Events():
		t.Fatalf("unexpected surface message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
