package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/agentbridge/internal/consts"
	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Headers read on the protocol upgrade request.
const (
	AuthHeader      = "x-claude-code-ide-authorization"
	WorkspaceHeader = "x-claude-code-workspace"
)

// Webhook routes
const (
	RouteAgentHook  = "/agent-hook"
	RouteStatusLine = "/status-line"
)

// ServerOptions wires a Server to the rest of the bridge.
type ServerOptions struct {
	Token       string
	Registry    *Registry
	Engine      *Engine
	Translator  *Translator
	Hub         *Hub
	MaxBodySize int64
}

// Server is the loopback HTTP listener for protocol upgrades and webhooks.
type Server struct {
	opts       ServerOptions
	router     *httprouter.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	log      *logger.Logger
}

type hookResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewServer creates a server. Call Start to bind it.
func NewServer(opts ServerOptions) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = consts.MaxHookBodySize
	}

	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB * 4,
			WriteBufferSize: consts.BufferSize1KB * 4,
			Subprotocols:    []string{"mcp"},
		},
		log: logger.Global().WithPrefix("server"),
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *httprouter.Router {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	router.HandleOPTIONS = false
	router.NotFound = http.HandlerFunc(s.handleNotFound)
	router.PanicHandler = s.handlePanic

	router.GET("/", s.handleUpgrade)
	router.POST(RouteAgentHook, s.handleAgentHook)
	router.POST(RouteStatusLine, s.handleStatusLine)
	return router
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds an OS-assigned loopback port and serves in the background.
func (s *Server) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 0, fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen on loopback: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.ReadHeaderTimeout,
		ErrorLog:          logger.StdLogger(s.log, slog.LevelWarn),
	}
	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	s.log.Info("Bridge listening on %s", listener.Addr())
	return port, nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the listener down. Hijacked websocket connections are not
// tracked by net/http; the owner closes sessions separately.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		httpServer := s.httpServer
		s.running = false
		s.mu.Unlock()

		if httpServer == nil {
			return
		}
		if shutdownErr := httpServer.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, net.ErrClosed) {
			err = fmt.Errorf("failed to shutdown HTTP server: %w", shutdownErr)
			_ = httpServer.Close()
		}
		s.log.Info("Bridge listener stopped")
	})
	return err
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get(AuthHeader)
	if token == "" || s.opts.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Debug("Upgrade failed: %v", err)
		return
	}

	if !s.authorized(r) {
		s.log.Warn("Protocol connection rejected: invalid auth token")
		deadline := time.Now().Add(consts.WriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		_ = conn.Close()
		return
	}

	session := s.opts.Registry.Register(conn, r.Header.Get(WorkspaceHeader))
	if session == nil {
		// Registry closed while the upgrade was in flight.
		return
	}
	session.Start(s.opts.Engine.Handle)
}

func (s *Server) handleAgentHook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	event, err := ParseHookEvent(body)
	if err != nil {
		s.log.Warn("Rejected agent hook: %v", err)
		writeJSON(w, http.StatusBadRequest, hookResponse{Error: err.Error()})
		return
	}

	if msg := s.opts.Translator.Translate(event); msg != nil {
		s.log.Debug("Hook %q for session %s -> %s", event.EventKind, event.SessionID, msg.Activity)
		s.opts.Hub.Broadcast(msg)
	}
	writeJSON(w, http.StatusOK, hookResponse{Success: true})
}

func (s *Server) handleStatusLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	status, err := ParseStatusLine(body)
	if err != nil {
		s.log.Warn("Rejected status line: %v", err)
		writeJSON(w, http.StatusBadRequest, hookResponse{Error: err.Error()})
		return
	}

	if msg := s.opts.Translator.TranslateStatusLine(status); msg != nil {
		s.opts.Hub.Broadcast(msg)
	}
	writeJSON(w, http.StatusOK, hookResponse{Success: true})
}

// readBody buffers the request body up to the configured limit. On failure
// it writes the error response itself.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	reader := http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize)
	body, err := io.ReadAll(reader)
	if err == nil {
		return body, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, hookResponse{Error: fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)})
		return nil, false
	}
	writeJSON(w, http.StatusBadRequest, hookResponse{Error: "failed to read body"})
	return nil, false
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, hookResponse{Error: "not found"})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v interface{}) {
	s.log.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, v)
	writeJSON(w, http.StatusInternalServerError, hookResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
