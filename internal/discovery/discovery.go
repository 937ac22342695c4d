// Package discovery publishes the on-disk record agent CLIs read at startup
// to find a running bridge.
//
// One record exists per bound port at {dir}/{port}.lock. The record carries
// the bearer token, so the directory is created 0700 and the file 0600.
// Agents read the record once, so it must be republished whenever the set of
// workspace roots changes.
package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/natefinch/atomic"
)

const (
	// TransportWebSocket is the only transport the bridge offers.
	TransportWebSocket = "ws"

	recordSuffix = ".lock"
	dirMode      = 0o700
	fileMode     = 0o600
)

// Record is the JSON document written for each bound port.
type Record struct {
	PID              int      `json:"pid"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	IDEName          string   `json:"ideName"`
	Transport        string   `json:"transport"`
	RunningInWindows bool     `json:"runningInWindows"`
	AuthToken        string   `json:"authToken"`
}

// Publisher writes and removes discovery records in a single directory.
type Publisher struct {
	dir string
	pid int
	log *logger.Logger
}

// NewPublisher creates a publisher rooted at dir.
func NewPublisher(dir string) *Publisher {
	return &Publisher{
		dir: dir,
		pid: os.Getpid(),
		log: logger.Global().WithPrefix("discovery"),
	}
}

// Dir returns the discovery directory
func (p *Publisher) Dir() string {
	return p.dir
}

// RecordPath returns the record path for port.
func (p *Publisher) RecordPath(port int) string {
	return filepath.Join(p.dir, strconv.Itoa(port)+recordSuffix)
}

// Publish writes the record for port, replacing any previous one atomically.
func (p *Publisher) Publish(port int, token string, roots []string, ideName string) (string, error) {
	if port <= 0 {
		return "", fmt.Errorf("invalid port %d", port)
	}

	if err := os.MkdirAll(p.dir, dirMode); err != nil {
		return "", fmt.Errorf("failed to create discovery directory: %w", err)
	}
	// MkdirAll leaves an existing directory's mode alone.
	if err := os.Chmod(p.dir, dirMode); err != nil {
		return "", fmt.Errorf("failed to restrict discovery directory: %w", err)
	}

	folders := roots
	if folders == nil {
		folders = []string{}
	}
	record := Record{
		PID:              p.pid,
		WorkspaceFolders: folders,
		IDEName:          ideName,
		Transport:        TransportWebSocket,
		RunningInWindows: runtime.GOOS == "windows",
		AuthToken:        token,
	}

	data, err := json.Marshal(&record)
	if err != nil {
		return "", fmt.Errorf("failed to encode discovery record: %w", err)
	}

	path := p.RecordPath(port)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write discovery record: %w", err)
	}
	if err := os.Chmod(path, fileMode); err != nil {
		return "", fmt.Errorf("failed to restrict discovery record: %w", err)
	}

	return path, nil
}

// Retract removes the record for port. A missing record is not an error.
func (p *Publisher) Retract(port int) error {
	if err := os.Remove(p.RecordPath(port)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove discovery record: %w", err)
	}
	return nil
}

// PruneStale removes records left behind by processes that are no longer
// running and returns the removed paths.
func (p *Publisher) PruneStale() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list discovery directory: %w", err)
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())

		record, err := Read(path)
		if err != nil {
			// Unreadable records are someone else's business.
			continue
		}
		if record.PID == p.pid || record.PID <= 0 {
			continue
		}
		running, reason := isProcessRunning(record.PID)
		if running {
			continue
		}
		p.log.Info("Removing stale record %s (pid %d: %s)", path, record.PID, reason)

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}

// Read parses the record at path.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid discovery record %s: %w", path, err)
	}
	return &record, nil
}
