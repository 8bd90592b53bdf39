package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	velocityhttp "github.com/velostore/velocity/internal/httputil"
)

// CounterEvent represents a live counter operation streamed to dashboard
// clients.
type CounterEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Op            string    `json:"op"`
	Key           string    `json:"key"`
	WindowSeconds float64   `json:"window_seconds"`
	Count         int64     `json:"count"`
}

// EventBroker fans live counter events out to active subscribers.
type EventBroker struct {
	mu          sync.RWMutex
	subscribers map[int]chan CounterEvent
	nextID      int
	bufferSize  int
}

// NewEventBroker creates a new in-memory event broker.
func NewEventBroker(bufferSize int) *EventBroker {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	return &EventBroker{
		subscribers: make(map[int]chan CounterEvent),
		bufferSize:  bufferSize,
	}
}

// Publish broadcasts an event to all subscribers without blocking.
func (b *EventBroker) Publish(event CounterEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop when subscriber buffer is full to avoid blocking producers.
		}
	}
}

// Subscribe registers a subscriber channel and returns an unsubscribe function.
func (b *EventBroker) Subscribe() (<-chan CounterEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan CounterEvent, b.bufferSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}

	return ch, unsubscribe
}

// StreamHandler serves live counter events over WebSocket.
type StreamHandler struct {
	broker   *EventBroker
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a WebSocket stream handler.
func NewStreamHandler(broker *EventBroker) *StreamHandler {
	if broker == nil {
		broker = NewEventBroker(64)
	}

	return &StreamHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades requests to WebSocket and streams live events.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		velocityhttp.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if writeErr := conn.WriteJSON(event); writeErr != nil {
				return
			}
		case <-pingTicker.C:
			if pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); pingErr != nil {
				return
			}
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
