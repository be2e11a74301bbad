package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"peoplecounter/internal/logger"
	"peoplecounter/internal/occupancy"
)

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()

	hub := NewHubService(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		server.Close()
		hub.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *HubService, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.GetClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsEventsInOrder(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	events := []occupancy.Event{
		{Kind: occupancy.TotalChanged, Value: 1, FrameSeq: 4},
		{Kind: occupancy.CountChanged, Value: 1, FrameSeq: 4},
		{Kind: occupancy.DurationRecorded, Value: 9, FrameSeq: 5},
	}
	for _, e := range events {
		if err := hub.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	expected := []struct {
		topic   string
		payload string
		seq     uint64
	}{
		{"person", `{"total":1}`, 4},
		{"person", `{"count":1}`, 4},
		{"person/duration", `{"duration":9}`, 5},
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i, exp := range expected {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid message %s: %v", data, err)
		}
		if msg.Topic != exp.topic || string(msg.Payload) != exp.payload || msg.FrameSeq != exp.seq {
			t.Errorf("Message %d: got %+v (payload %s)", i, msg, msg.Payload)
		}
	}
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub := NewHubService(logger.Discard())
	hub.Close()

	err := hub.Publish(context.Background(), occupancy.Event{Kind: occupancy.CountChanged})
	if !errors.Is(err, ErrHubClosed) {
		t.Errorf("Expected ErrHubClosed, got %v", err)
	}
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	hub := NewHubService(logger.Discard())
	defer hub.Close()

	for i := 0; i < broadcastBuffer+3; i++ {
		if err := hub.Publish(context.Background(), occupancy.Event{Kind: occupancy.CountChanged}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if hub.Dropped() != 3 {
		t.Errorf("Expected 3 dropped messages, got %d", hub.Dropped())
	}
}
