package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codefionn/agentbridge/internal/consts"
	"github.com/codefionn/agentbridge/internal/logger"
)

// Surface message types
const (
	MessageTypeActivity   = "activity"
	MessageTypeStatusLine = "status_line"
)

// SurfaceMessage is broadcast to every subscribed UI surface.
type SurfaceMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Activity  Activity        `json:"activity,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
	Status    *StatusLine     `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscription is one UI surface's view of the broadcast stream.
type Subscription struct {
	hub    *Hub
	events chan *SurfaceMessage
}

// Events returns the message channel. It is closed when the subscription or
// the hub closes.
func (s *Subscription) Events() <-chan *SurfaceMessage {
	return s.events
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans surface messages out to subscribers.
type Hub struct {
	subscribers map[*Subscription]bool
	mu          sync.RWMutex

	broadcast  chan *SurfaceMessage
	register   chan *Subscription
	unregister chan *Subscription

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

// NewHub creates a hub and starts its event loop.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[*Subscription]bool),
		broadcast:   make(chan *SurfaceMessage, 256),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		log:         logger.Global().WithPrefix("hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			// A surface only sees messages broadcast after it subscribed.
			h.drain()
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if h.subscribers[sub] {
				delete(h.subscribers, sub)
				close(sub.events)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.quit:
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.events)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case msg := <-h.broadcast:
			h.deliver(msg)
		default:
			return
		}
	}
}

func (h *Hub) deliver(msg *SurfaceMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		select {
		case sub.events <- msg:
		default:
			h.log.Warn("Surface queue full, dropping %s for session %s", msg.Type, msg.SessionID)
		}
	}
}

// Subscribe registers a new surface. buffer <= 0 selects the default size.
// Messages broadcast before Subscribe returns are not delivered to it; every
// later Broadcast is. Subscribing to a closed hub yields an already-closed
// subscription.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = consts.SurfaceBuffer
	}
	sub := &Subscription{hub: h, events: make(chan *SurfaceMessage, buffer)}

	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.events)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Broadcast queues msg for every subscriber. It never blocks.
func (h *Hub) Broadcast(msg *SurfaceMessage) {
	if msg == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Broadcast channel full, dropping message")
	}
}

// SubscriberCount returns the number of subscribed surfaces.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close stops the hub and closes every subscription.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
	<-h.done
}
