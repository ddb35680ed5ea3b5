package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, topic string) *Client {
	return &Client{
		hub:   hub,
		topic: topic,
		send:  make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "pickup-a")
	c2 := mockClient(hub, "pickup-b")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
	if got := hub.Subscribers("pickup-a"); got != 1 {
		t.Fatalf("expected 1 subscriber on pickup-a, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.Subscribers("pickup-a"); got != 0 {
		t.Fatalf("expected 0 subscribers after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "pickup-a")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestPublishOnlyReachesTopic(t *testing.T) {
	hub := NewHub(slog.Default())

	a1 := mockClient(hub, "pickup-a")
	a2 := mockClient(hub, "pickup-a")
	b := mockClient(hub, "pickup-b")
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b)

	if n := hub.Publish("pickup-a", []byte(`{"event":"pickup_confirmed"}`)); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}

	for _, c := range []*Client{a1, a2} {
		select {
		case data := <-c.send:
			if string(data) != `{"event":"pickup_confirmed"}` {
				t.Errorf("got %s", data)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	select {
	case data := <-b.send:
		t.Errorf("pickup-b received unexpected message %s", data)
	default:
	}
}

func TestPublishFullBufferDrops(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "t")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Publish("t", []byte("x"))
	}
	// Should not block
	if n := hub.Publish("t", []byte("overflow")); n != 0 {
		t.Errorf("delivered = %d, want 0 when buffer is full", n)
	}
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		c := mockClient(hub, "t")
		hub.Register(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish("t", []byte("x"))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients, got %d", got)
	}
}

func TestServeDeliversAndCloses(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r, "pickup-r1", 1, nil)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("pickup-r1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("pickup-r1", []byte(`{"event":"pickup_confirmed"}`))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"event":"pickup_confirmed"}` {
		t.Errorf("got %s", data)
	}

	_, _, err = conn.Read(ctx)
	if ws.CloseStatus(err) != ws.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", ws.CloseStatus(err))
	}
}
