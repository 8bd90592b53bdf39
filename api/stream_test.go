package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestEventBrokerSubscribePublish(t *testing.T) {
	broker := NewEventBroker(4)
	ch, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	expected := CounterEvent{
		Timestamp:     time.Now().UTC(),
		Op:            "increment",
		Key:           "acct:1:posts",
		WindowSeconds: 60,
		Count:         3,
	}

	broker.Publish(expected)

	select {
	case got := <-ch:
		if got.Key != expected.Key {
			t.Fatalf("expected key %q, got %q", expected.Key, got.Key)
		}
		if got.Count != expected.Count {
			t.Fatalf("expected count %d, got %d", expected.Count, got.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed event")
	}
}

func TestEventBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewEventBroker(1)
	_, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	// The subscriber never drains; publishes beyond the buffer are dropped,
	// never blocked on.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			broker.Publish(CounterEvent{Op: "query", Key: "k", Count: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestStreamHandlerWebSocketReceivesEvent(t *testing.T) {
	broker := NewEventBroker(4)
	handler := NewStreamHandler(broker)
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] // convert http:// to ws://
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	expected := CounterEvent{
		Timestamp:     time.Now().UTC(),
		Op:            "increment",
		Key:           "acct:2:reports",
		WindowSeconds: 300,
		Count:         11,
	}

	broker.Publish(expected)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got CounterEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read websocket event: %v", err)
	}

	if got.Key != expected.Key {
		t.Fatalf("expected key %q, got %q", expected.Key, got.Key)
	}
	if got.Count != expected.Count {
		t.Fatalf("expected count %d, got %d", expected.Count, got.Count)
	}
}

func TestStreamHandlerMethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(NewEventBroker(4))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stream", nil)

	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
