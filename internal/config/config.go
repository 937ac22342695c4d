package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/codefionn/agentbridge/internal/consts"
)

const appName = "agentbridge"

// Environment variables that override file values.
const (
	EnvLogLevel        = "AGENTBRIDGE_LOG_LEVEL"
	EnvLogPath         = "AGENTBRIDGE_LOG_PATH"
	EnvClaudeConfigDir = "CLAUDE_CONFIG_DIR"
)

// DefaultReadOnlyTools are agent tools whose permission requests never need
// the user's attention.
var DefaultReadOnlyTools = []string{
	"Read",
	"Glob",
	"Grep",
	"LS",
	"NotebookRead",
	"WebFetch",
	"WebSearch",
	"TodoWrite",
}

// BridgeConfig holds settings for the agent IDE bridge
type BridgeConfig struct {
	Enabled          bool     `json:"enabled"`
	DiscoveryDir     string   `json:"discovery_dir"`
	IDEName          string   `json:"ide_name"`
	AgentCommand     string   `json:"agent_command"`       // executable that must be on PATH for the bridge to start
	MaxHookBodyBytes int64    `json:"max_hook_body_bytes"` // cap for webhook request bodies
	ReadOnlyTools    []string `json:"read_only_tools"`
}

// Config represents application configuration
type Config struct {
	LogLevel string       `json:"log_level"` // debug, info, warn, error, none
	LogPath  string       `json:"log_path,omitempty"`
	Bridge   BridgeConfig `json:"bridge"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		return defaultConfigDir()
	}
}

// DefaultDiscoveryDir returns the directory agent CLIs scan for discovery
// records: $CLAUDE_CONFIG_DIR/ide, or ~/.claude/ide.
func DefaultDiscoveryDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvClaudeConfigDir)); dir != "" {
		return filepath.Join(dir, "ide")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".claude", "ide")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogPath:  filepath.Join(defaultStateDir(), appName+".log"),
		Bridge: BridgeConfig{
			Enabled:          true,
			DiscoveryDir:     DefaultDiscoveryDir(),
			IDEName:          "Agent Workspace",
			AgentCommand:     "claude",
			MaxHookBodyBytes: consts.MaxHookBodySize,
			ReadOnlyTools:    append([]string(nil), DefaultReadOnlyTools...),
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = defaults.LogPath
	}
	if c.Bridge.DiscoveryDir == "" {
		c.Bridge.DiscoveryDir = defaults.Bridge.DiscoveryDir
	}
	if c.Bridge.IDEName == "" {
		c.Bridge.IDEName = defaults.Bridge.IDEName
	}
	if c.Bridge.AgentCommand == "" {
		c.Bridge.AgentCommand = defaults.Bridge.AgentCommand
	}
	if c.Bridge.MaxHookBodyBytes <= 0 {
		c.Bridge.MaxHookBodyBytes = defaults.Bridge.MaxHookBodyBytes
	}
	if c.Bridge.ReadOnlyTools == nil {
		c.Bridge.ReadOnlyTools = defaults.Bridge.ReadOnlyTools
	}
}

// ApplyEnv overrides logging settings from the environment.
func (c *Config) ApplyEnv() {
	if envLevel := strings.TrimSpace(os.Getenv(EnvLogLevel)); envLevel != "" {
		c.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv(EnvLogPath)); envPath != "" {
		c.LogPath = envPath
	}
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// IsReadOnlyTool reports whether name is in the read-only allowlist.
func (b *BridgeConfig) IsReadOnlyTool(name string) bool {
	for _, tool := range b.ReadOnlyTools {
		if tool == name {
			return true
		}
	}
	return false
}
