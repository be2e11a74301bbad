package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"peoplecounter/internal/logger"
	"peoplecounter/internal/occupancy"
)

const (
	broadcastBuffer = 256
	writeWait       = 5 * time.Second
)

// ErrHubClosed is returned when publishing to a closed hub.
var ErrHubClosed = errors.New("hub closed")

// Message is the JSON document sent to live viewers for each telemetry event.
type Message struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	FrameSeq  uint64          `json:"frame_seq"`
	Timestamp time.Time       `json:"timestamp"`
}

// HubService broadcasts telemetry events to connected viewers.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
	dropped    atomic.Uint64
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled or the hub is closed.
func (h *HubService) Run(ctx context.Context) {
	defer h.disconnectAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues the event for all viewers. Viewers are best-effort: when the
// queue is full the message is dropped and counted instead of stalling the caller.
func (h *HubService) Publish(_ context.Context, event occupancy.Event) error {
	payload, err := event.Payload()
	if err != nil {
		return err
	}

	message, err := json.Marshal(Message{
		Topic:     event.Topic(),
		Payload:   payload,
		FrameSeq:  event.FrameSeq,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return err
	}

	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Close stops the hub and disconnects all viewers.
func (h *HubService) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded because the queue was full.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *HubService) disconnectAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}
