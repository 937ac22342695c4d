package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/codefionn/agentbridge/internal/bridge"
	"github.com/codefionn/agentbridge/internal/config"
	"github.com/codefionn/agentbridge/internal/logger"
)

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	*s = append(*s, value)
	return nil
}

type cliOptions struct {
	configPath string
	roots      stringSlice
	logLevel   string
	logPath    string
	ideName    string
	events     bool
	command    []string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseCLIArgs(args []string) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("agentbridge", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: agentbridge [flags] [-- agent-command [args...]]\n\n")
		fmt.Fprintf(fs.Output(), "Runs the editor bridge for coding agents. With a command, the agent is\n")
		fmt.Fprintf(fs.Output(), "spawned with the bridge environment and the bridge stops when it exits.\n\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the config file")
	fs.Var(&opts.roots, "root", "Workspace root (repeatable, defaults to the working directory)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, off)")
	fs.StringVar(&opts.logPath, "log-path", "", "Log file path")
	fs.StringVar(&opts.ideName, "ide-name", "", "Name advertised to agents")
	fs.BoolVar(&opts.events, "events", false, "Print activity and status-line events as JSON lines on stdout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.command = fs.Args()
	return opts, nil
}

func run() (err error) {
	opts, err := parseCLIArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logPath != "" {
		cfg.LogPath = opts.logPath
	}
	if opts.ideName != "" {
		cfg.Bridge.IDEName = opts.ideName
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if !cfg.Bridge.Enabled {
		return fmt.Errorf("bridge is disabled in %s", opts.configPath)
	}

	roots, err := resolveRoots(opts.roots)
	if err != nil {
		return err
	}

	manager := bridge.NewManager(cfg.Bridge)
	defer manager.Close()

	if !manager.Enable(roots) {
		return fmt.Errorf("bridge could not be enabled (is %q on PATH?)", cfg.Bridge.AgentCommand)
	}

	sub := manager.Subscribe(0)
	go forwardEvents(sub, opts.events, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(opts.command) > 0 {
		return runAgent(ctx, manager, opts.command)
	}

	for _, kv := range manager.ChildEnv() {
		fmt.Printf("export %s\n", kv)
	}
	logger.Info("Bridge running on port %d, waiting for signal", manager.Status().Port)
	<-ctx.Done()
	return nil
}

func resolveRoots(roots stringSlice) ([]string, error) {
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		return []string{wd}, nil
	}

	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace root %q: %w", root, err)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// runAgent spawns the agent with the bridge environment and waits for it.
func runAgent(ctx context.Context, manager *bridge.Manager, command []string) error {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = append(os.Environ(), manager.ChildEnv()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("Starting agent: %s", strings.Join(command, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("agent exited: %w", err)
	}
	return nil
}

func forwardEvents(sub *bridge.Subscription, echo bool, out io.Writer) {
	encoder := json.NewEncoder(out)
	for msg := range sub.Events() {
		switch msg.Type {
		case bridge.MessageTypeActivity:
			logger.Info("Session %s: %s", msg.SessionID, msg.Activity)
		default:
			logger.Debug("Session %s: %s", msg.SessionID, msg.Type)
		}
		if echo {
			if err := encoder.Encode(msg); err != nil {
				logger.Warn("Failed to print event: %v", err)
			}
		}
	}
}
