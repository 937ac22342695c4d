package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/codefionn/agentbridge/internal/logger"
)

const (
	jsonRPCVersion = "2.0"

	// DefaultProtocolVersion is answered when the client does not name one.
	DefaultProtocolVersion = "2024-11-05"
)

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeNotInitialized = -32002
)

// Protocol methods
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodPromptsList   = "prompts/list"

	MethodSelectionChanged = "selection_changed"
	MethodAtMentioned      = "at_mentioned"
)

var nullID = json.RawMessage("null")

// Request is an inbound JSON-RPC request or notification. Result and Error
// are only set when the peer sends a response, which the bridge ignores.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// Notification is an outbound JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ErrorPayload is the error member of a Response.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func rpcError(code int, format string, args ...any) *ErrorPayload {
	return &ErrorPayload{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ServerInfo identifies the bridge during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the capability descriptor returned by initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

type toolCallParams struct {
	Name string `json:"name"`
}

// Engine dispatches protocol frames for sessions. It holds no per-session
// state; the handshake flag lives on the Session.
type Engine struct {
	info  ServerInfo
	tools []Tool
	log   *logger.Logger
}

// NewEngine creates an engine that advertises tools under the given name.
func NewEngine(name string, tools []Tool) *Engine {
	return &Engine{
		info:  ServerInfo{Name: name, Version: Version},
		tools: tools,
		log:   logger.Global().WithPrefix("protocol"),
	}
}

// Handle processes one inbound frame for s and returns the encoded reply, or
// nil when the frame needs none.
func (e *Engine) Handle(s *Session, frame []byte) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Panic handling frame: %v", r)
			reply = e.encode(Response{JSONRPC: jsonRPCVersion, ID: nullID, Error: rpcError(CodeInternalError, "internal error")})
		}
	}()

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		e.log.Debug("Unparsable frame: %v", err)
		return e.encode(Response{JSONRPC: jsonRPCVersion, ID: nullID, Error: rpcError(CodeParseError, "parse error")})
	}

	if req.Method == "" {
		if req.IsNotification() || len(req.Result) > 0 || len(req.Error) > 0 {
			return nil
		}
		return e.encode(Response{JSONRPC: jsonRPCVersion, ID: req.ID, Error: rpcError(CodeInvalidRequest, "invalid request")})
	}

	if req.IsNotification() {
		e.handleNotification(s, &req)
		return nil
	}

	result, rpcErr := e.dispatch(s, &req)
	resp := Response{JSONRPC: jsonRPCVersion, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return e.encode(resp)
}

func (e *Engine) handleNotification(s *Session, req *Request) {
	switch req.Method {
	case MethodInitialized:
		s.markHandshaked()
	default:
		e.log.Debug("Ignoring notification %s", req.Method)
	}
}

func (e *Engine) dispatch(s *Session, req *Request) (any, *ErrorPayload) {
	if req.Method != MethodInitialize && req.Method != MethodPing && !s.Handshaked() {
		return nil, rpcError(CodeNotInitialized, "not initialized")
	}

	switch req.Method {
	case MethodInitialize:
		return e.initialize(s, req.Params), nil
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return map[string]any{"tools": e.tools}, nil
	case MethodResourcesList:
		return map[string]any{"resources": []any{}}, nil
	case MethodPromptsList:
		return map[string]any{"prompts": []any{}}, nil
	case MethodToolsCall:
		// Tools are advertised for discovery only and never executed.
		var params toolCallParams
		_ = json.Unmarshal(req.Params, &params)
		return nil, rpcError(CodeMethodNotFound, "tool not found: %s", params.Name)
	default:
		return nil, rpcError(CodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (e *Engine) initialize(s *Session, raw json.RawMessage) *InitializeResult {
	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			e.log.Debug("Ignoring malformed initialize params: %v", err)
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = DefaultProtocolVersion
	}

	s.markHandshaked()

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		ServerInfo: e.info,
	}
}

func (e *Engine) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		e.log.Error("Failed to encode frame: %v", err)
		return nil
	}
	return data
}

// EncodeNotification builds an outbound notification frame.
func EncodeNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	return data, nil
}
