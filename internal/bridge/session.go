package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/agentbridge/internal/consts"
	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// FrameHandler processes one inbound frame and returns the reply, or nil.
type FrameHandler func(s *Session, frame []byte) []byte

// Session is one connected agent channel plus its routing and handshake state.
type Session struct {
	ID string

	seq  uint64
	conn Conn
	send chan []byte
	done chan struct{}

	handshaked atomic.Bool

	rootMu sync.RWMutex
	root   string

	closeOnce sync.Once
	onClose   func()
	log       *logger.Logger
}

func newSession(conn Conn, seq uint64, onClose func(id string)) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:   id,
		seq:  seq,
		conn: conn,
		send: make(chan []byte, consts.SessionSendBuffer),
		done: make(chan struct{}),
		log:  logger.Global().WithPrefix("session:" + id[:8]),
	}
	if onClose != nil {
		s.onClose = func() { onClose(id) }
	}
	return s
}

// WorkspaceRoot returns the root this session owns, or "" when unclaimed.
func (s *Session) WorkspaceRoot() string {
	s.rootMu.RLock()
	defer s.rootMu.RUnlock()
	return s.root
}

// claimRoot sets the workspace root if none is set yet. A set root never changes.
func (s *Session) claimRoot(root string) bool {
	if root == "" {
		return false
	}
	s.rootMu.Lock()
	defer s.rootMu.Unlock()
	if s.root != "" {
		return false
	}
	s.root = root
	return true
}

// Handshaked reports whether the session completed the capability handshake.
func (s *Session) Handshaked() bool {
	return s.handshaked.Load()
}

func (s *Session) markHandshaked() {
	if s.handshaked.CompareAndSwap(false, true) {
		s.log.Info("Handshake complete")
	}
}

// Closed reports whether the channel has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the session's channel closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send queues a text frame. It returns false when the session is closed or
// its queue is full; the frame is dropped in both cases.
func (s *Session) Send(frame []byte) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.log.Warn("Send queue full, dropping frame")
		return false
	}
}

// Start launches the read and write pumps.
func (s *Session) Start(handle FrameHandler) {
	go s.writePump()
	go s.readPump(handle)
}

// Close closes the channel and unregisters the session. Safe to call more
// than once and from any goroutine.
func (s *Session) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			deadline := time.Now().Add(consts.WriteWait)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = s.conn.Close()
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.log.Info("Session closed")
	})
}

func (s *Session) readPump(handle FrameHandler) {
	defer s.Close()

	s.conn.SetReadLimit(consts.MaxProtocolMessageSize)

	// No read deadline: liveness is driven by the agent process.
	for {
		messageType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("Read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if s.Closed() {
			return
		}

		if reply := handle(s, frame); reply != nil {
			s.Send(reply)
		}
	}
}

func (s *Session) writePump() {
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(consts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("Write failed: %v", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
