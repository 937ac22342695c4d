package bridge

import (
	"os/exec"
	"strconv"
	"sync"

	"github.com/codefionn/agentbridge/internal/config"
	"github.com/codefionn/agentbridge/internal/discovery"
	"github.com/codefionn/agentbridge/internal/logger"
)

// Environment variables merged into spawned agent processes.
const (
	EnvPortVariable        = "CLAUDE_CODE_SSE_PORT"
	EnvIntegrationVariable = "ENABLE_IDE_INTEGRATION"
)

// Status is a snapshot of the bridge state.
type Status struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Option customises a Manager.
type Option func(*Manager)

// WithLookPath replaces the PATH lookup used to detect the agent CLI.
func WithLookPath(fn func(file string) (string, error)) Option {
	return func(m *Manager) {
		m.lookPath = fn
	}
}

// WithPublisher replaces the discovery record publisher.
func WithPublisher(p RecordPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// Manager is the control surface the rest of the application uses. Every
// method is a no-op while the bridge is disabled.
type Manager struct {
	mu        sync.Mutex
	cfg       config.BridgeConfig
	lookPath  func(file string) (string, error)
	publisher RecordPublisher
	hub       *Hub
	instance  *Instance
	log       *logger.Logger
}

// NewManager creates a stopped manager.
func NewManager(cfg config.BridgeConfig, opts ...Option) *Manager {
	defaults := config.DefaultConfig().Bridge
	if cfg.DiscoveryDir == "" {
		cfg.DiscoveryDir = defaults.DiscoveryDir
	}
	if cfg.IDEName == "" {
		cfg.IDEName = defaults.IDEName
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = defaults.AgentCommand
	}
	if cfg.ReadOnlyTools == nil {
		cfg.ReadOnlyTools = defaults.ReadOnlyTools
	}

	m := &Manager{
		cfg:      cfg,
		lookPath: exec.LookPath,
		hub:      NewHub(),
		log:      logger.Global().WithPrefix("bridge"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.publisher == nil {
		m.publisher = discovery.NewPublisher(cfg.DiscoveryDir)
	}
	return m
}

// Enable starts the bridge, or merges roots into the running one. It returns
// false without changing anything when the agent CLI is not installed or the
// listener cannot be bound.
func (m *Manager) Enable(initialRoots []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance != nil {
		m.instance.MergeRoots(initialRoots)
		return true
	}

	if _, err := m.lookPath(m.cfg.AgentCommand); err != nil {
		m.log.Info("Agent CLI %q not found, bridge stays disabled: %v", m.cfg.AgentCommand, err)
		return false
	}

	inst, err := startInstance(m.cfg, m.publisher, m.hub, initialRoots)
	if err != nil {
		m.log.Error("Failed to start bridge: %v", err)
		return false
	}
	m.instance = inst
	m.log.Info("Bridge enabled on port %d with %d workspace roots", inst.Port(), len(inst.Roots()))
	return true
}

// Disable tears the bridge down. It returns false when it was not running.
func (m *Manager) Disable() bool {
	m.mu.Lock()
	inst := m.instance
	m.instance = nil
	m.mu.Unlock()

	if inst == nil {
		return false
	}
	inst.Close()
	m.log.Info("Bridge disabled")
	return true
}

// UpdateWorkspaceRoots replaces the workspace roots and republishes the
// discovery record.
func (m *Manager) UpdateWorkspaceRoots(roots []string) {
	if inst := m.current(); inst != nil {
		inst.SetRoots(roots)
	}
}

// Status reports whether the bridge runs and on which port.
func (m *Manager) Status() Status {
	inst := m.current()
	if inst == nil {
		return Status{}
	}
	return Status{Enabled: true, Port: inst.Port()}
}

// SendSelectionChanged forwards an editor selection to the session owning
// params.FilePath.
func (m *Manager) SendSelectionChanged(params SelectionChangedParams) bool {
	inst := m.current()
	if inst == nil {
		return false
	}
	params = params.normalized()
	return inst.Notify(MethodSelectionChanged, params.FilePath, params)
}

// SendAtMentioned forwards a file mention to the session owning params.FilePath.
func (m *Manager) SendAtMentioned(params AtMentionedParams) bool {
	inst := m.current()
	if inst == nil {
		return false
	}
	return inst.Notify(MethodAtMentioned, params.FilePath, params)
}

// Subscribe registers a UI surface for activity and status-line broadcasts.
// Subscriptions survive disable/enable cycles.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.hub.Subscribe(buffer)
}

// ChildEnv returns the variables to merge into a spawned agent's
// environment, or nil while disabled.
func (m *Manager) ChildEnv() []string {
	inst := m.current()
	if inst == nil {
		return nil
	}
	return []string{
		EnvPortVariable + "=" + strconv.Itoa(inst.Port()),
		EnvIntegrationVariable + "=true",
	}
}

// Instance returns the running instance, or nil.
func (m *Manager) Instance() *Instance {
	return m.current()
}

// Close disables the bridge and closes every subscription.
func (m *Manager) Close() {
	m.Disable()
	m.hub.Close()
}

func (m *Manager) current() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}
