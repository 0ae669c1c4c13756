package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		cancel()
		server.Close()
		t.Fatalf("Dial failed: %v", err)
	}

	// Registration happens just after the handshake completes.
	deadline := time.After(time.Second)
	for hub.Clients() == 0 {
		select {
		case <-deadline:
			t.Fatal("Client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	return conn, func() {
		conn.Close(websocket.StatusNormalClosure, "done")
		cancel()
		server.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Failed to unmarshal frame: %v", err)
	}
	return f
}

func TestHubBroadcastsTelemetryFrames(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	hub := NewHub(nil)
	hub.Attach(store)
	defer hub.Detach()

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	store.ReportError(telemetry.ErrorReport{ComponentName: "PropertyTable", Message: "boom"})

	f := readFrame(t, conn)
	if f.Type != "error" {
		t.Fatalf("Expected frame type error, got %s", f.Type)
	}
	var report telemetry.ErrorReport
	if err := json.Unmarshal(f.Payload, &report); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if report.ComponentName != "PropertyTable" || report.Message != "boom" {
		t.Errorf("Unexpected payload: %+v", report)
	}
}

func TestHubBroadcastsAlertFrames(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	hub := NewHub(nil)
	hub.Attach(store)
	defer hub.Detach()

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	store.CreateAlert(telemetry.Alert{
		Type:     telemetry.AlertTypeError,
		Severity: telemetry.SeverityHigh,
		Title:    "it broke",
	})

	f := readFrame(t, conn)
	if f.Type != "alert" {
		t.Fatalf("Expected frame type alert, got %s", f.Type)
	}
	var alert telemetry.Alert
	if err := json.Unmarshal(f.Payload, &alert); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if alert.Title != "it broke" || alert.Severity != telemetry.SeverityHigh {
		t.Errorf("Unexpected payload: %+v", alert)
	}
}

func TestHubKindFilter(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	hub := NewHub(nil)
	hub.Attach(store)
	defer hub.Detach()

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, _ := json.Marshal(map[string]interface{}{"type": "subscribe", "kinds": []string{"alert"}})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Wait until the subscription message has been applied.
	deadline := time.After(time.Second)
	for {
		hub.mu.RLock()
		applied := false
		for c := range hub.clients {
			if c.wants("alert") && !c.wants("error") {
				applied = true
			}
		}
		hub.mu.RUnlock()
		if applied {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Subscription never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The error frame is filtered out; the first frame received must be the
	// alert.
	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "ignored"})
	store.CreateAlert(telemetry.Alert{Type: telemetry.AlertTypeError, Severity: telemetry.SeverityLow, Title: "kept"})

	f := readFrame(t, conn)
	if f.Type != "alert" {
		t.Errorf("Expected only alert frames, got %s", f.Type)
	}
}

func TestHubSkipsSlowClientWithoutBlocking(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	hub := NewHub(nil)
	hub.Attach(store)
	defer hub.Detach()

	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	// A client whose send buffer is full and never drained.
	slow := &client{send: make(chan []byte, 1), kinds: make(map[string]bool)}
	slow.send <- []byte("stale")
	hub.mu.Lock()
	hub.clients[slow] = struct{}{}
	hub.mu.Unlock()
	defer func() {
		// No connection behind it, so remove before Detach.
		hub.mu.Lock()
		delete(hub.clients, slow)
		hub.mu.Unlock()
	}()

	// Broadcast runs synchronously on the reporting path; it must return
	// even though the slow client can accept nothing.
	done := make(chan struct{})
	go func() {
		store.ReportError(telemetry.ErrorReport{ComponentName: "PropertyTable", Message: "boom"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}

	f := readFrame(t, conn)
	if f.Type != "error" {
		t.Errorf("Expected error frame on healthy client, got %s", f.Type)
	}
	if got := len(slow.send); got != 1 {
		t.Errorf("Expected slow client frame skipped, send buffer len %d", got)
	}
}

func TestHubDetachClosesClients(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	hub := NewHub(nil)
	hub.Attach(store)

	_, cleanup := dialHub(t, hub)
	defer cleanup()

	hub.Detach()
	if got := hub.Clients(); got != 0 {
		t.Errorf("Expected 0 clients after detach, got %d", got)
	}
}
