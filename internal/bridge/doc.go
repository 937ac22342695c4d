// Package bridge implements the agent IDE bridge: a loopback service that lets
// externally spawned coding-agent CLIs find the running workspace application,
// complete a capability handshake and exchange editor context with it.
//
// # Architecture
//
//   - Manager: process-wide control surface (enable, disable, roots, notifications)
//   - Instance: one running bridge; owns the port, token and discovery record
//   - Server: a single HTTP listener serving the websocket upgrade on "/" and
//     the webhook routes "/agent-hook" and "/status-line"
//   - Registry: connected sessions and path-based routing between them
//   - Engine: per-session JSON-RPC handshake gate and method dispatch
//   - Translator and Hub: webhook payloads to activity broadcasts for UI surfaces
//
// # Discovery
//
// Agents learn the port and token from {discoveryDir}/{port}.lock, written by
// the discovery package. Agents read that file once at their own startup, so
// the record is rewritten on every workspace-root change.
//
// # Routing
//
// Outbound notifications carry a file path. The Registry picks the session
// whose workspace root is the longest path prefix of it. When no session
// claims the path, the first session without a root adopts the configured
// workspace root that contains it.
//
// Usage
//
//	mgr := bridge.NewManager(cfg.Bridge)
//	if !mgr.Enable([]string{"/home/me/repo"}) {
//	    // agent CLI not installed
//	}
//	defer mgr.Close()
//
//	sub := mgr.Subscribe(0)
//	for msg := range sub.Events() {
//	    fmt.Println(msg.SessionID, msg.Activity)
//	}
package bridge
