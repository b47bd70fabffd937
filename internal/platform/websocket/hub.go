// Package websocket pushes journal change notifications to connected
// clients. It implements a hub-and-spoke pattern where clients subscribe to
// record topics and receive events broadcast to those topics.
//
// Events are advisory: they carry identifiers only, never chart content.
// A client that receives one re-fetches the full record.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Connection lifecycle tuning, from the gorilla/websocket chat example.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Event represents a journal change notification sent to subscribers.
type Event struct {
	Type        string    `json:"type"`
	Topic       string    `json:"topic"`
	Action      string    `json:"action"`
	RecordID    string    `json:"recordId,omitempty"`
	AdmissionID string    `json:"admissionId,omitempty"`
	Category    string    `json:"category,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RecordTopic returns the topic for a single journal record.
func RecordTopic(recordID string) string {
	return "journal:" + recordID
}

// AdmissionTopic returns the topic covering every record of an admission.
func AdmissionTopic(admissionID string) string {
	return "admission:" + admissionID
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher defines the interface for publishing events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	hub    *Hub
}

// localSub is an in-process subscriber (a record watcher) that receives
// events as values rather than serialized frames.
type localSub struct {
	ch chan Event
}

// Hub fans events out to websocket clients and in-process watchers, keyed
// by topic. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}   // topic -> set of clients
	all     map[*Client]struct{}              // all connected clients
	locals  map[string]map[*localSub]struct{} // topic -> in-process subscribers
	logger  zerolog.Logger
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		locals:  make(map[string]map[*localSub]struct{}),
		logger:  zerolog.Nop(),
	}
}

// SetLogger attaches a logger for connection lifecycle and marshal errors.
func (h *Hub) SetLogger(logger zerolog.Logger) {
	h.logger = logger.With().Str("component", "websocket").Logger()
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.attach(topic, client)
	}
}

// attach adds the client to one topic set. Caller holds the write lock.
func (h *Hub) attach(topic string, client *Client) {
	set, ok := h.clients[topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[topic] = set
	}
	set[client] = struct{}{}
}

// detach removes the client from one topic set, dropping the set when it
// empties. Caller holds the write lock.
func (h *Hub) detach(topic string, client *Client) {
	set, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, topic)
	}
}

// Unregister removes a client from the hub, all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range client.Topics {
		h.detach(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe dynamically adds topics to an already-registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.attach(topic, client)
	}
	client.Topics = append(client.Topics, topics...)
}

// Unsubscribe dynamically removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		removeSet[topic] = struct{}{}
		h.detach(topic, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// SubscribeLocal registers an in-process subscriber for a topic and returns
// a receive channel plus a cancel function. Cancel is idempotent; after it
// returns, the channel is closed and no further events arrive.
func (h *Hub) SubscribeLocal(topic string, buffer int) (<-chan Event, func()) {
	sub := &localSub{ch: make(chan Event, buffer)}

	h.mu.Lock()
	if h.locals[topic] == nil {
		h.locals[topic] = make(map[*localSub]struct{})
	}
	h.locals[topic][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.locals[topic]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(h.locals, topic)
				}
			}
			// Close under the write lock so a concurrent Broadcast
			// cannot send on a closed channel.
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// ProcessMessage handles an inbound ClientMessage, dispatching to Subscribe
// or Unsubscribe as appropriate.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to all clients and local subscribers of the
// given topic. Sends never block: a client or watcher that cannot keep up
// misses the event and catches up on its next re-fetch.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
		}
	}

	for sub := range h.locals[topic] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// BroadcastAll sends an event to every connected client regardless of topic.
func (h *Hub) BroadcastAll(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.all {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// Publish implements the EventPublisher interface by broadcasting the event
// to subscribers of the event's topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// WebSocketHandler -- Echo HTTP handler for WebSocket connections
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// WebSocketHandler handles HTTP-to-WebSocket upgrades and message routing.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new handler bound to the given Hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoints on the provided Echo
// instance. /ws accepts subscribe messages; /ws/journal/:recordId arrives
// pre-subscribed to that record's topic.
func (wsh *WebSocketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
	e.GET("/ws/journal/:recordId", wsh.HandleConnectRecord)
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client with the hub, and starts read/write pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	return wsh.connect(c, nil)
}

// HandleConnectRecord is HandleConnect with an initial record subscription
// taken from the URL.
func (wsh *WebSocketHandler) HandleConnectRecord(c echo.Context) error {
	return wsh.connect(c, []string{RecordTopic(c.Param("recordId"))})
}

func (wsh *WebSocketHandler) connect(c echo.Context, topics []string) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    wsh.hub,
	}

	wsh.hub.Register(client)
	wsh.hub.logger.Debug().Str("client_id", client.ID).Strs("topics", topics).Msg("client connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

// readPump reads subscribe/unsubscribe messages until the connection drops,
// keeping the read deadline alive through pong responses.
func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
		wsh.hub.logger.Debug().Str("client_id", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wsh.hub.ProcessMessage(client, msg)
	}
}

// writePump drains the Send channel onto the connection and pings on a
// ticker so dead peers are detected. Exits when the hub closes Send.
func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
