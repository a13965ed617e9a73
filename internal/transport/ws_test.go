package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer collects every frame a channel under test sends.
type wsServer struct {
	*httptest.Server

	mu     sync.Mutex
	frames []locationUpdate
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var u locationUpdate
			if err := json.Unmarshal(data, &u); err != nil {
				t.Errorf("bad frame: %v", err)
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, u)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) received() []locationUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]locationUpdate(nil), s.frames...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEmitLocationDelivers(t *testing.T) {
	server := newWSServer(t)
	ch := NewChannel(server.wsURL())
	defer ch.Close()

	ch.EmitLocation("sess-1", 59.3293, 18.0686)
	ch.EmitLocation("sess-1", 59.3300, 18.0700)

	waitFor(t, "two frames", func() bool { return len(server.received()) == 2 })

	frames := server.received()
	if frames[0].Event != eventUpdateLocation {
		t.Errorf("event = %q, want %q", frames[0].Event, eventUpdateLocation)
	}
	if frames[0].SessionID != "sess-1" {
		t.Errorf("sessionId = %q", frames[0].SessionID)
	}
	if frames[1].Lat != 59.3300 || frames[1].Lng != 18.0700 {
		t.Errorf("second frame = %+v", frames[1])
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	// No server listening: everything queues, then drops.
	ch := NewChannel("ws://127.0.0.1:1/ws")
	defer ch.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendQueueDepth*3; i++ {
			ch.EmitLocation("sess-1", float64(i), float64(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmitLocation blocked on a saturated queue")
	}
}

func TestCloseIdempotent(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:1/ws")
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close twice: %v", err)
	}
	// Emitting after close is a silent drop, not a panic.
	ch.EmitLocation("sess-1", 0, 0)
}
