package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/codefionn/agentbridge/internal/config"
	"github.com/codefionn/agentbridge/internal/consts"
	"github.com/codefionn/agentbridge/internal/logger"
)

const authTokenLength = 32

// RecordPublisher writes the discovery record agents read at startup.
// *discovery.Publisher implements it.
type RecordPublisher interface {
	Publish(port int, token string, roots []string, ideName string) (string, error)
	Retract(port int) error
	PruneStale() ([]string, error)
}

// Instance is one running bridge. It is created by the Manager on enable
// and closed on disable; nothing in it outlives Close.
type Instance struct {
	port       int
	token      string
	recordPath string
	ideName    string

	roots     *WorkspaceRoots
	registry  *Registry
	server    *Server
	publisher RecordPublisher

	publishMu sync.Mutex
	closeOnce sync.Once
	log       *logger.Logger
}

func startInstance(cfg config.BridgeConfig, publisher RecordPublisher, hub *Hub, roots []string) (*Instance, error) {
	token, err := generateAuthToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate auth token: %w", err)
	}

	inst := &Instance{
		token:     token,
		ideName:   cfg.IDEName,
		roots:     NewWorkspaceRoots(roots),
		publisher: publisher,
		log:       logger.Global().WithPrefix("instance"),
	}
	inst.registry = NewRegistry(inst.roots)
	inst.server = NewServer(ServerOptions{
		Token:       token,
		Registry:    inst.registry,
		Engine:      NewEngine(cfg.IDEName, DefaultTools()),
		Translator:  NewTranslator(cfg),
		Hub:         hub,
		MaxBodySize: cfg.MaxHookBodyBytes,
	})

	if removed, err := publisher.PruneStale(); err != nil {
		inst.log.Warn("Failed to prune stale discovery records: %v", err)
	} else if len(removed) > 0 {
		inst.log.Info("Pruned %d stale discovery records", len(removed))
	}

	port, err := inst.server.Start()
	if err != nil {
		return nil, err
	}
	inst.port = port
	inst.publish()

	return inst, nil
}

// Port returns the bound port.
func (i *Instance) Port() int {
	return i.port
}

// Token returns the bearer token agents must present.
func (i *Instance) Token() string {
	return i.token
}

// RecordPath returns the path of the published discovery record, or "" if
// publishing failed.
func (i *Instance) RecordPath() string {
	i.publishMu.Lock()
	defer i.publishMu.Unlock()
	return i.recordPath
}

// Roots returns the current workspace roots.
func (i *Instance) Roots() []string {
	return i.roots.Snapshot()
}

// Registry returns the session registry.
func (i *Instance) Registry() *Registry {
	return i.registry
}

// SetRoots replaces the workspace roots and republishes on change.
func (i *Instance) SetRoots(roots []string) {
	if i.roots.Replace(roots) {
		i.publish()
	}
}

// MergeRoots adds roots and republishes on change.
func (i *Instance) MergeRoots(roots []string) {
	if i.roots.Merge(roots) {
		i.publish()
	}
}

// publish rewrites the discovery record. Failures leave the bridge running
// without guaranteed discoverability.
func (i *Instance) publish() {
	i.publishMu.Lock()
	defer i.publishMu.Unlock()

	path, err := i.publisher.Publish(i.port, i.token, i.roots.Snapshot(), i.ideName)
	if err != nil {
		i.log.Warn("Failed to publish discovery record: %v", err)
		return
	}
	i.recordPath = path
	i.log.Debug("Discovery record published at %s", path)
}

// Notify routes a notification about filePath to one session. It returns
// false when the notification was dropped.
func (i *Instance) Notify(method, filePath string, params any) bool {
	session := i.registry.RouteByPath(filePath)
	if session == nil {
		i.log.Debug("No session for %s, dropping %s", filePath, method)
		return false
	}

	frame, err := EncodeNotification(method, params)
	if err != nil {
		i.log.Error("%v", err)
		return false
	}

	// The channel may have closed since routing.
	if !i.registry.Contains(session) {
		return false
	}
	return session.Send(frame)
}

// Close stops the listener, closes every session and retracts the record.
// Upgrades still in flight when the listener stops are rejected by the
// closed registry. Safe to call repeatedly and after the sockets are gone.
func (i *Instance) Close() {
	i.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
		defer cancel()
		if err := i.server.Stop(ctx); err != nil {
			i.log.Warn("%v", err)
		}

		i.registry.Close("bridge disabled")

		if err := i.publisher.Retract(i.port); err != nil {
			i.log.Warn("Failed to retract discovery record: %v", err)
		}
		i.log.Info("Bridge on port %d closed", i.port)
	})
}

func generateAuthToken() (string, error) {
	bytes := make([]byte, authTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
