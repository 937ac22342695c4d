package bridge

import (
	"slices"
	"sync"
	"time"

	"github.com/codefionn/agentbridge/internal/consts"
	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/gorilla/websocket"
)

// Registry tracks connected sessions in registration order and routes file
// paths to them. It holds the only reference to each Session.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
	nextSeq  uint64
	closed   bool
	roots    *WorkspaceRoots
	log      *logger.Logger
}

// NewRegistry creates a registry that resolves paths against roots.
func NewRegistry(roots *WorkspaceRoots) *Registry {
	if roots == nil {
		roots = NewWorkspaceRoots(nil)
	}
	return &Registry{
		roots: roots,
		log:   logger.Global().WithPrefix("registry"),
	}
}

// Register creates a session for conn. A non-empty hintedRoot becomes the
// session's workspace root immediately. On a closed registry conn is closed
// with 1001 and Register returns nil.
func (r *Registry) Register(conn Conn, hintedRoot string) *Session {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Debug("Rejecting connection on closed registry")
		if conn != nil {
			deadline := time.Now().Add(consts.WriteWait)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge disabled"), deadline)
			_ = conn.Close()
		}
		return nil
	}
	r.nextSeq++
	session := newSession(conn, r.nextSeq, r.Unregister)
	session.claimRoot(cleanPath(hintedRoot))
	r.sessions = append(r.sessions, session)
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("Session %s registered (root=%q, total=%d)", session.ID, session.WorkspaceRoot(), count)
	return session
}

// Unregister drops the session with id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	before := len(r.sessions)
	r.sessions = slices.DeleteFunc(r.sessions, func(s *Session) bool { return s.ID == id })
	after := len(r.sessions)
	r.mu.Unlock()

	if after != before {
		r.log.Info("Session %s unregistered (total=%d)", id, after)
	}
}

// Close stops accepting sessions and closes every registered one with
// reason. Safe to call more than once.
func (r *Registry) Close(reason string) {
	r.mu.Lock()
	r.closed = true
	sessions := slices.Clone(r.sessions)
	r.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, reason)
	}
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Get returns the registered session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Contains reports whether s is still registered.
func (r *Registry) Contains(s *Session) bool {
	if s == nil {
		return false
	}
	_, ok := r.Get(s.ID)
	return ok
}

// Sessions returns the registered sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sessions)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ResolveRoot returns the longest workspace root containing path.
func (r *Registry) ResolveRoot(path string) (string, bool) {
	return r.roots.Longest(path)
}

// RouteByPath picks the session that should receive traffic about path.
//
// The first matching rule wins:
//  1. a session whose root contains path, longest root first
//  2. a session rooted inside the workspace root containing path, otherwise
//     the earliest unclaimed session adopts that workspace root
//  3. the earliest registered session
//
// It returns nil when no session is connected.
func (r *Registry) RouteByPath(path string) *Session {
	path = cleanPath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Closed() {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil
	}

	if path != "" {
		var best *Session
		bestLen := -1
		for _, s := range live {
			root := s.WorkspaceRoot()
			if root != "" && len(root) > bestLen && hasPathPrefix(path, root) {
				best, bestLen = s, len(root)
			}
		}
		if best != nil {
			return best
		}

		if root, ok := r.roots.Longest(path); ok {
			for _, s := range live {
				if hasPathPrefix(s.WorkspaceRoot(), root) {
					return s
				}
			}
			if s := r.adoptLocked(live, root); s != nil {
				return s
			}
		}
	}

	return live[0]
}

// adoptLocked assigns root to the earliest session that has none. Agents do
// not always announce their working directory when connecting, so the first
// unclaimed session absorbs the first workspace root its traffic refers to.
func (r *Registry) adoptLocked(live []*Session, root string) *Session {
	for _, s := range live {
		if s.claimRoot(root) {
			r.log.Info("Session %s adopted workspace root %s", s.ID, root)
			return s
		}
	}
	return nil
}
