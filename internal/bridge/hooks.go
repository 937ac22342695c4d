package bridge

import (
	"encoding/json"
	"errors"
	"slices"

	"github.com/codefionn/agentbridge/internal/config"
	"github.com/tidwall/gjson"
)

// Activity is the small state vocabulary UI surfaces show per agent session.
type Activity string

const (
	ActivityRunning         Activity = "running"
	ActivityWaitingForInput Activity = "waiting-for-input"
	ActivityCompleted       Activity = "completed"
)

// Hook event and tool names sent by the agent CLI.
const (
	HookUserPromptSubmit  = "UserPromptSubmit"
	HookPermissionRequest = "PermissionRequest"
	HookStop              = "Stop"

	ToolAskUserQuestion = "AskUserQuestion"
)

var (
	ErrInvalidJSON = errors.New("invalid JSON")
	ErrNotObject   = errors.New("payload must be a JSON object")
)

// Agents and the wrapper scripts around them disagree on casing.
var (
	sessionIDKeys = []string{"session_id", "sessionId"}
	eventKeys     = []string{"hook_event_name", "hookEventName"}
	toolNameKeys  = []string{"tool_name", "toolName"}
	toolInputKeys = []string{"tool_input", "toolInput"}
	cwdKeys       = []string{"cwd", "workingDirectory"}
)

// HookEvent is one parsed /agent-hook payload.
type HookEvent struct {
	SessionID string
	EventKind string
	ToolName  string
	CWD       string
	ToolInput json.RawMessage
}

// StatusLine is one parsed /status-line payload. Nested documents are passed
// through unchanged.
type StatusLine struct {
	SessionID     string          `json:"session_id"`
	Model         json.RawMessage `json:"model,omitempty"`
	ContextWindow json.RawMessage `json:"context_window,omitempty"`
	Cost          json.RawMessage `json:"cost,omitempty"`
	Workspace     json.RawMessage `json:"workspace,omitempty"`
}

func parseObject(body []byte) error {
	if !gjson.ValidBytes(body) {
		return ErrInvalidJSON
	}
	if !gjson.ParseBytes(body).IsObject() {
		return ErrNotObject
	}
	return nil
}

// ParseHookEvent parses a webhook body into a HookEvent.
func ParseHookEvent(body []byte) (*HookEvent, error) {
	if err := parseObject(body); err != nil {
		return nil, err
	}
	return &HookEvent{
		SessionID: firstString(body, sessionIDKeys),
		EventKind: firstString(body, eventKeys),
		ToolName:  firstString(body, toolNameKeys),
		CWD:       firstString(body, cwdKeys),
		ToolInput: firstRaw(body, toolInputKeys),
	}, nil
}

// ParseStatusLine parses a status-line body.
func ParseStatusLine(body []byte) (*StatusLine, error) {
	if err := parseObject(body); err != nil {
		return nil, err
	}
	return &StatusLine{
		SessionID:     firstString(body, sessionIDKeys),
		Model:         firstRaw(body, []string{"model"}),
		ContextWindow: firstRaw(body, []string{"context_window", "contextWindow"}),
		Cost:          firstRaw(body, []string{"cost"}),
		Workspace:     firstRaw(body, []string{"workspace"}),
	}, nil
}

func firstString(body []byte, keys []string) string {
	for _, key := range keys {
		if res := gjson.GetBytes(body, key); res.Type == gjson.String && res.Str != "" {
			return res.Str
		}
	}
	return ""
}

func firstRaw(body []byte, keys []string) json.RawMessage {
	for _, key := range keys {
		res := gjson.GetBytes(body, key)
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		return json.RawMessage([]byte(res.Raw))
	}
	return nil
}

// Translator maps hook events onto activity broadcasts.
type Translator struct {
	cfg config.BridgeConfig
}

// NewTranslator creates a translator. Permission requests for the config's
// read-only tools never surface as waiting-for-input.
func NewTranslator(cfg config.BridgeConfig) *Translator {
	cfg.ReadOnlyTools = slices.Clone(cfg.ReadOnlyTools)
	return &Translator{cfg: cfg}
}

// Translate returns the surface message for ev, or nil when the event has no
// UI effect.
func (t *Translator) Translate(ev *HookEvent) *SurfaceMessage {
	if ev == nil || ev.SessionID == "" {
		return nil
	}

	activity := func(a Activity) *SurfaceMessage {
		return &SurfaceMessage{Type: MessageTypeActivity, SessionID: ev.SessionID, Activity: a}
	}

	switch {
	case ev.EventKind == HookUserPromptSubmit && ev.CWD != "":
		msg := activity(ActivityRunning)
		msg.CWD = ev.CWD
		return msg

	case ev.ToolName == ToolAskUserQuestion && len(ev.ToolInput) > 0:
		msg := activity(ActivityWaitingForInput)
		msg.ToolInput = ev.ToolInput
		msg.CWD = ev.CWD
		return msg

	case ev.EventKind == HookPermissionRequest && !t.cfg.IsReadOnlyTool(ev.ToolName):
		msg := activity(ActivityWaitingForInput)
		msg.CWD = ev.CWD
		return msg

	case ev.EventKind == HookStop:
		return activity(ActivityCompleted)
	}

	return nil
}

// TranslateStatusLine wraps a status line for broadcast, or nil when it does
// not name a session.
func (t *Translator) TranslateStatusLine(status *StatusLine) *SurfaceMessage {
	if status == nil || status.SessionID == "" {
		return nil
	}
	return &SurfaceMessage{
		Type:      MessageTypeStatusLine,
		SessionID: status.SessionID,
		Status:    status,
	}
}
