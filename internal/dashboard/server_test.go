package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	syncpkg "github.com/taskdav/taskdav/internal/sync"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})

	time.Sleep(100 * time.Millisecond)
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) syncpkg.Event {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var event syncpkg.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	return event
}

func TestServerStartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	if server.GetAddr() == "" || server.GetAddr() == "127.0.0.1:0" {
		t.Errorf("GetAddr() = %q, want a bound address", server.GetAddr())
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestClientReceivesBroadcastEvents(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}

	server.Emit(syncpkg.Event{
		Type:     syncpkg.EventTaskPushed,
		Calendar: "https://dav.example.com/calendars/alice/tasks/",
		TaskUID:  "t1",
		Message:  "Buy milk",
		Time:     time.Now().UTC(),
	})

	event := readEvent(t, ctx, conn)
	if event.Type != syncpkg.EventTaskPushed {
		t.Errorf("event type = %s, want %s", event.Type, syncpkg.EventTaskPushed)
	}
	if event.TaskUID != "t1" || event.Message != "Buy milk" {
		t.Errorf("event = %+v", event)
	}
}

func TestAllClientsReceiveEachEvent(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := dial(t, ctx, server)
	second := dial(t, ctx, server)

	if count := server.ClientCount(); count != 2 {
		t.Fatalf("ClientCount() = %d, want 2", count)
	}

	server.Emit(syncpkg.Event{Type: syncpkg.EventRepair, Message: "cleared dangling parent", Time: time.Now().UTC()})

	for i, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, ctx, conn)
		if event.Type != syncpkg.EventRepair {
			t.Errorf("client %d event type = %s, want %s", i, event.Type, syncpkg.EventRepair)
		}
	}
}

func TestNewClientGetsLastCycleSummary(t *testing.T) {
	server := newTestServer(t)

	server.Emit(syncpkg.Event{
		Type:    syncpkg.EventSyncCompleted,
		Message: "calendars=2 fetched=10",
		Time:    time.Now().UTC(),
	})

	// Wait for the broadcast loop to record the summary.
	deadline := time.Now().Add(2 * time.Second)
	for server.lastEvent() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for the summary to be recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	event := readEvent(t, ctx, conn)
	if event.Type != syncpkg.EventSyncCompleted {
		t.Errorf("catch-up event type = %s, want %s", event.Type, syncpkg.EventSyncCompleted)
	}
	if !strings.Contains(event.Message, "calendars=2") {
		t.Errorf("catch-up event message = %q", event.Message)
	}
}

func TestEmitDropsOldestWhenFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	server := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))

	for i := 0; i < 150; i++ {
		server.Emit(syncpkg.Event{Type: syncpkg.EventTaskPushed, Message: fmt.Sprintf("%d", i)})
	}

	if len(server.broadcast) != 100 {
		t.Fatalf("queue length = %d, want 100", len(server.broadcast))
	}
	oldest := <-server.broadcast
	if oldest.Message != "50" {
		t.Errorf("oldest queued event = %q, want 50 (events 0-49 dropped)", oldest.Message)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["clients"].(float64) != 0 {
		t.Errorf("clients = %v, want 0", body["clients"])
	}
}

func TestIndexPage(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	page, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading page: %v", err)
	}
	if !strings.Contains(string(page), "/ws") {
		t.Error("index page should reference the WebSocket endpoint")
	}
}

func TestClientDisconnectIsNoticed(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}

	if count := server.ClientCount(); count != 1 {
		t.Fatalf("ClientCount() = %d, want 1", count)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for the disconnect to register")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
