package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Bridge transport limits
const (
	// MaxHookBodySize caps a single webhook request body
	MaxHookBodySize = BufferSize1MB
	// MaxProtocolMessageSize caps a single inbound websocket frame
	MaxProtocolMessageSize = 10 * BufferSize1MB
	// SessionSendBuffer is the number of outbound frames queued per session
	SessionSendBuffer = 256
	// SurfaceBuffer is the default number of UI messages queued per subscriber
	SurfaceBuffer = 64
)

// Timeouts for various operations
const (
	// WriteWait is the time allowed to write a single frame to an agent
	WriteWait = 10 * time.Second
	// ShutdownTimeout bounds HTTP server shutdown on disable
	ShutdownTimeout = 5 * time.Second
	// ReadHeaderTimeout bounds reading request headers on the loopback listener
	ReadHeaderTimeout = 10 * time.Second
)
