package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/agentbridge/internal/discovery"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct {
	mu        sync.Mutex
	published int
	retracted int
}

func (f *failingPublisher) Publish(int, string, []string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return "", errors.New("read-only file system")
}

func (f *failingPublisher) Retract(int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retracted++
	return nil
}

func (f *failingPublisher) PruneStale() ([]string, error) {
	return nil, errors.New("permission denied")
}

func readRecord(t *testing.T, inst *Instance) *discovery.Record {
	t.Helper()
	require.NotEmpty(t, inst.RecordPath())
	record, err := discovery.Read(inst.RecordPath())
	require.NoError(t, err)
	return record
}

func TestEnableWithoutAgentCLI(t *testing.T) {
	cfg := testBridgeConfig(t)
	m := NewManager(cfg, WithLookPath(func(string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}))
	defer m.Close()

	assert.False(t, m.Enable([]string{t.TempDir()}))
	assert.Equal(t, Status{}, m.Status())
	assert.Nil(t, m.Instance())
	assert.Nil(t, m.ChildEnv())

	_, err := os.Stat(cfg.DiscoveryDir)
	assert.True(t, os.IsNotExist(err), "no discovery record may be written")
}

func TestEnablePublishesRecord(t *testing.T) {
	m := newTestManager(t)
	root := t.TempDir()
	require.True(t, m.Enable([]string{root}))

	status := m.Status()
	assert.True(t, status.Enabled)
	assert.Greater(t, status.Port, 0)

	inst := m.Instance()
	assert.Equal(t, strconv.Itoa(inst.Port())+".lock", filepath.Base(inst.RecordPath()))
	assert.Len(t, inst.Token(), authTokenLength*2)

	record := readRecord(t, inst)
	assert.Equal(t, os.Getpid(), record.PID)
	assert.Equal(t, []string{root}, record.WorkspaceFolders)
	assert.Equal(t, "Test Workspace", record.IDEName)
	assert.Equal(t, "ws", record.Transport)
	assert.Equal(t, inst.Token(), record.AuthToken)

	assert.Equal(t, []string{
		"CLAUDE_CODE_SSE_PORT=" + strconv.Itoa(inst.Port()),
		"ENABLE_IDE_INTEGRATION=true",
	}, m.ChildEnv())
}

func TestEnableWhileRunningMergesRoots(t *testing.T) {
	m := newTestManager(t)
	first, second := t.TempDir(), t.TempDir()
	require.True(t, m.Enable([]string{first}))
	inst := m.Instance()

	require.True(t, m.Enable([]string{first, second}))
	assert.Same(t, inst, m.Instance())
	assert.Equal(t, []string{first, second}, readRecord(t, inst).WorkspaceFolders)
}

func TestUpdateWorkspaceRootsKeepsCredentials(t *testing.T) {
	m := newTestManager(t)
	first, second := t.TempDir(), t.TempDir()
	require.True(t, m.Enable([]string{first}))
	inst := m.Instance()
	port, token, path := inst.Port(), inst.Token(), inst.RecordPath()

	m.UpdateWorkspaceRoots([]string{second})

	assert.Equal(t, port, inst.Port())
	assert.Equal(t, token, inst.Token())
	assert.Equal(t, path, inst.RecordPath())
	record := readRecord(t, inst)
	assert.Equal(t, []string{second}, record.WorkspaceFolders)
	assert.Equal(t, token, record.AuthToken)
}

func TestDisableThenEnableRotatesCredentials(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.Enable([]string{t.TempDir()}))
	old := m.Instance()
	oldToken, oldPath := old.Token(), old.RecordPath()

	assert.True(t, m.Disable())
	assert.False(t, m.Disable())
	assert.Equal(t, Status{}, m.Status())
	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "record must be retracted on disable")

	newRoot := t.TempDir()
	require.True(t, m.Enable([]string{newRoot}))
	fresh := m.Instance()
	assert.NotSame(t, old, fresh)
	assert.NotEqual(t, oldToken, fresh.Token())
	assert.Equal(t, []string{newRoot}, readRecord(t, fresh).WorkspaceFolders)

	// A dialer holding the old token cannot connect to the new instance.
	conn, _, err := dialAgent(t, fresh.Port(), oldToken, "")
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testWait)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, fresh.Registry().Count())
}

func TestDisableClosesSessions(t *testing.T) {
	m := newTestManager(t)
	root := t.TempDir()
	require.True(t, m.Enable([]string{root}))
	inst := m.Instance()
	conn := mustDialAgent(t, inst, root)

	require.True(t, m.Disable())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testWait)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, inst.Registry().Count())

	assert.False(t, m.SendAtMentioned(AtMentionedParams{FilePath: filepath.Join(root, "a.go")}))
}

func TestDisableWhileAgentsConnect(t *testing.T) {
	for iteration := 0; iteration < 10; iteration++ {
		m := newTestManager(t)
		require.True(t, m.Enable([]string{t.TempDir()}))
		inst := m.Instance()

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			conns []*websocket.Conn
		)
		stop := make(chan struct{})
		for worker := 0; worker < 8; worker++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(inst.Port())+"/", http.Header{AuthHeader: []string{inst.Token()}})
					if err != nil {
						continue
					}
					mu.Lock()
					conns = append(conns, conn)
					mu.Unlock()
				}
			}()
		}

		time.Sleep(20 * time.Millisecond)
		require.True(t, m.Disable())
		close(stop)
		wg.Wait()

		assert.Equal(t, 0, inst.Registry().Count(), "iteration %d", iteration)
		for _, s := range inst.Registry().Sessions() {
			assert.True(t, s.Closed())
		}

		// Every socket that got through the upgrade is closed by the bridge.
		for _, conn := range conns {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(testWait)))
			_, _, err := conn.ReadMessage()
			assert.Error(t, err)
			conn.Close()
		}
	}
}

func TestSendSelectionChangedRoutesToOwningSession(t *testing.T) {
	m := newTestManager(t)
	base := t.TempDir()
	rootA, rootB := filepath.Join(base, "a"), filepath.Join(base, "b")
	require.True(t, m.Enable([]string{rootA, rootB}))
	inst := m.Instance()

	connA := mustDialAgent(t, inst, rootA)
	handshake(t, connA)
	connB := mustDialAgent(t, inst, rootB)
	handshake(t, connB)

	file := filepath.Join(rootB, "src", "main.go")
	require.True(t, m.SendSelectionChanged(SelectionChangedParams{
		Text:     "func main()",
		FilePath: file,
		Selection: Selection{
			Start: Position{Line: 2, Character: 0},
			End:   Position{Line: 2, Character: 11},
		},
	}))

	n := readNotification(t, connB)
	assert.Equal(t, MethodSelectionChanged, n.Method)

	var params SelectionChangedParams
	require.NoError(t, json.Unmarshal(n.Params, &params))
	assert.Equal(t, file, params.FilePath)
	assert.Equal(t, FileURL(file), params.FileURL)
	assert.Equal(t, "func main()", params.Text)
	assert.Equal(t, 11, params.Selection.End.Character)

	// Nothing reaches the other session.
	require.NoError(t, connA.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := connA.ReadMessage()
	assert.Error(t, err)
}

func TestSendAtMentionedAdoptsUnclaimedSession(t *testing.T) {
	m := newTestManager(t)
	base := t.TempDir()
	rootA, rootB := filepath.Join(base, "a"), filepath.Join(base, "b")
	require.True(t, m.Enable([]string{rootA, rootB}))
	inst := m.Instance()

	connA := mustDialAgent(t, inst, rootA)
	handshake(t, connA)
	connB := mustDialAgent(t, inst, "")
	handshake(t, connB)

	start, end := 3, 9
	require.True(t, m.SendAtMentioned(AtMentionedParams{FilePath: filepath.Join(rootB, "x.ts"), LineStart: &start, LineEnd: &end}))

	n := readNotification(t, connB)
	assert.Equal(t, MethodAtMentioned, n.Method)
	assert.JSONEq(t, `{"filePath":`+strconv.Quote(filepath.Join(rootB, "x.ts"))+`,"lineStart":3,"lineEnd":9}`, string(n.Params))

	sessions := inst.Registry().Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, rootA, sessions[0].WorkspaceRoot())
	assert.Equal(t, rootB, sessions[1].WorkspaceRoot())
}

func TestSendWithoutSessionsDrops(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.SendSelectionChanged(SelectionChangedParams{FilePath: "/repo/a.go"}))

	require.True(t, m.Enable(nil))
	assert.False(t, m.SendSelectionChanged(SelectionChangedParams{FilePath: "/repo/a.go"}))
}

func TestPublishFailureKeepsBridgeRunning(t *testing.T) {
	pub := &failingPublisher{}
	m := NewManager(testBridgeConfig(t), WithLookPath(agentInstalled), WithPublisher(pub))
	defer m.Close()

	require.True(t, m.Enable([]string{t.TempDir()}))
	inst := m.Instance()
	assert.Empty(t, inst.RecordPath())
	assert.True(t, m.Status().Enabled)

	conn := mustDialAgent(t, inst, "")
	handshake(t, conn)

	require.True(t, m.Disable())
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, 1, pub.published)
	assert.Equal(t, 1, pub.retracted)
}

func TestSubscriptionsSurviveRestart(t *testing.T) {
	m := newTestManager(t)
	sub := m.Subscribe(8)

	require.True(t, m.Enable([]string{t.TempDir()}))
	require.True(t, m.Disable())
	require.True(t, m.Enable([]string{t.TempDir()}))

	srv := m.Instance().server
	_, resp := post(t, srv, RouteAgentHook, `{"session_id":"s1","hook_event_name":"Stop"}`)
	assert.True(t, resp.Success)

	msg := nextSurfaceMessage(t, sub)
	assert.Equal(t, ActivityCompleted, msg.Activity)

	m.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
}
