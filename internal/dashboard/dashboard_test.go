package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/teamtrace/fieldsync/internal/mirror"
	"github.com/teamtrace/fieldsync/internal/reconcile"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // Use random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func dialClient(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := startServer(t)
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startServer(t)
	dialClient(t, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestQueueUpdateBroadcast(t *testing.T) {
	server := startServer(t)
	conn := dialClient(t, server)

	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))
	handler.OnEditQueued("p1", "task1")

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeQueueUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeQueueUpdate, msg.Type)
	}

	var data QueueUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.ProjectID != "p1" || data.TaskID != "task1" || data.Action != "queued" {
		t.Errorf("Unexpected data: %+v", data)
	}
	if data.Pending != 1 {
		t.Errorf("Expected 1 pending edit, got %d", data.Pending)
	}
}

func TestQueueDrainResetsPending(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))

	handler.OnEditQueued("p1", "task1")
	handler.OnEditQueued("p1", "task2")
	if got := handler.Pending(); got != 2 {
		t.Fatalf("Expected 2 pending edits, got %d", got)
	}

	handler.OnQueueDrained("p1", 0)
	if got := handler.Pending(); got != 0 {
		t.Errorf("Expected 0 pending edits after drain, got %d", got)
	}
}

func TestQueueDrainKeepsOtherProjectsPending(t *testing.T) {
	server := startServer(t)
	conn := dialClient(t, server)
	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))

	handler.OnEditQueued("p1", "task1")
	handler.OnEditQueued("p2", "task2")
	handler.OnEditQueued("p2", "task3")
	for i := 0; i < 3; i++ {
		readMessage(t, conn)
	}

	// Draining p2 with one survivor leaves p1's edit counted.
	handler.OnQueueDrained("p2", 1)
	if got := handler.Pending(); got != 2 {
		t.Fatalf("Expected 2 pending edits after partial drain, got %d", got)
	}

	msg := readMessage(t, conn)
	var data QueueUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.ProjectID != "p2" || data.Action != "drained" {
		t.Errorf("Unexpected data: %+v", data)
	}
	if data.Pending != 2 {
		t.Errorf("Expected broadcast of 2 pending edits, got %d", data.Pending)
	}

	handler.OnQueueDrained("p1", 0)
	if got := handler.Pending(); got != 1 {
		t.Errorf("Expected 1 pending edit after second drain, got %d", got)
	}
}

func TestReconcileCompleteBroadcast(t *testing.T) {
	server := startServer(t)
	conn := dialClient(t, server)

	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))
	handler.OnReconcileComplete(reconcile.Result{Merged: 3, Retained: 1}, 2*time.Second,
		errors.New("one project failed"))

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeReconcileComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeReconcileComplete, msg.Type)
	}

	var data ReconcileCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Merged != 3 || data.Retained != 1 || data.Dropped != 0 {
		t.Errorf("Unexpected counts: %+v", data)
	}
	if data.Error == "" {
		t.Error("Expected error to be carried in the message")
	}
}

func TestMirrorProgressBroadcast(t *testing.T) {
	server := startServer(t)
	conn := dialClient(t, server)

	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))
	progress := handler.MirrorProgress("t1")
	progress(mirror.Progress{Current: 2, Total: 5, Message: "Roof: item 1"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeMirrorProgress {
		t.Fatalf("Expected %s, got %s", MessageTypeMirrorProgress, msg.Type)
	}

	var data MirrorProgressData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.TeamID != "t1" || data.Current != 2 || data.Total != 5 {
		t.Errorf("Unexpected data: %+v", data)
	}
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	server := startServer(t)

	conns := []*websocket.Conn{
		dialClient(t, server),
		dialClient(t, server),
		dialClient(t, server),
	}
	if count := server.ClientCount(); count != len(conns) {
		t.Fatalf("Expected %d clients, got %d", len(conns), count)
	}

	handler := NewHandler(server, log.New(os.Stderr, "[test] ", 0))
	handler.OnNetworkChange("unrestricted")

	for i, conn := range conns {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeNetwork {
			t.Errorf("Client %d: expected %s, got %s", i, MessageTypeNetwork, msg.Type)
		}
	}
}
