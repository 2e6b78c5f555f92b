package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lwm2m-gateway/internal/auth"
	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/logging"
)

// Stream message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgAck         = "ack"
	MsgEvent       = "event"
	MsgError       = "error"
)

const (
	streamSendBuffer = 256

	defaultEventsPath     = "/events"
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 8192
)

// StreamMessage is one frame of the /events stream in either direction.
type StreamMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Time  string          `json:"time,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StreamFilter selects the events a client receives. An empty list matches
// everything.
type StreamFilter struct {
	Events    []string `json:"events,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

// EndpointEvent is the data of an event frame.
type EndpointEvent struct {
	Endpoint string          `json:"endpoint"`
	Location string          `json:"location,omitempty"`
	Time     time.Time       `json:"time"`
	Updates  []ResourceValue `json:"updates,omitempty"`
}

// ResourceValue is one resource change inside an EndpointEvent.
type ResourceValue struct {
	Path  string `json:"path"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

var knownEvents = map[endpoint.EventType]struct{}{
	endpoint.EventRegistered:   {},
	endpoint.EventUpdated:      {},
	endpoint.EventDeregistered: {},
	endpoint.EventExpired:      {},
	endpoint.EventNotify:       {},
}

type eventFilter struct {
	events    map[endpoint.EventType]struct{}
	endpoints map[string]struct{}
}

func newEventFilter(f StreamFilter) (*eventFilter, error) {
	ef := &eventFilter{}
	if len(f.Events) > 0 {
		ef.events = make(map[endpoint.EventType]struct{}, len(f.Events))
		for _, name := range f.Events {
			t := endpoint.EventType(name)
			if _, ok := knownEvents[t]; !ok {
				return nil, fmt.Errorf("unknown event %q", name)
			}
			ef.events[t] = struct{}{}
		}
	}
	if len(f.Endpoints) > 0 {
		ef.endpoints = make(map[string]struct{}, len(f.Endpoints))
		for _, name := range f.Endpoints {
			ef.endpoints[name] = struct{}{}
		}
	}
	return ef, nil
}

func (f *eventFilter) match(ev endpoint.Event) bool {
	if f == nil {
		return false
	}
	if f.events != nil {
		if _, ok := f.events[ev.Type]; !ok {
			return false
		}
	}
	if f.endpoints != nil {
		if _, ok := f.endpoints[ev.Endpoint]; !ok {
			return false
		}
	}
	return true
}

// filterFromQuery reads ?events=a,b&endpoints=x,y. It returns nil when
// neither parameter is present.
func filterFromQuery(r *http.Request) (*eventFilter, error) {
	q := r.URL.Query()
	if !q.Has("events") && !q.Has("endpoints") {
		return nil, nil
	}
	return newEventFilter(StreamFilter{
		Events:    splitList(q.Get("events")),
		Endpoints: splitList(q.Get("endpoints")),
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Hub fans endpoint events out to the connected /events clients.
// It is an endpoint.Listener.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	filter *eventFilter // nil until the client subscribes
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates a hub, filling unset stream settings with defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.Path == "" {
		cfg.Path = defaultEventsPath
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = int(defaultPingInterval / time.Second)
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = int(defaultPongTimeout / time.Second)
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", "clients", n, "subject", c.subject)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("event stream client disconnected", "clients", n, "subject", c.subject)
}

// OnEvent forwards ev to every client whose filter matches. It never
// blocks; a client with a full buffer misses the event.
func (h *Hub) OnEvent(_ context.Context, ev endpoint.Event) {
	h.mu.RLock()
	var targets []*streamClient
	for c := range h.clients {
		if c.matches(ev) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data := EndpointEvent{
		Endpoint: ev.Endpoint,
		Location: ev.Location,
		Time:     ev.Time.UTC(),
	}
	for _, u := range ev.Updates {
		data.Updates = append(data.Updates, ResourceValue{
			Path:  u.Path.String(),
			Type:  u.Value.Type().String(),
			Value: u.Value.String(),
		})
	}
	frame, err := encodeFrame(StreamMessage{Type: MsgEvent, Event: string(ev.Type)}, data)
	if err != nil {
		h.logger.Error("encoding endpoint event failed", "error", err)
		return
	}

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.logger.Debug("event dropped for slow client", "event", ev.Type, "subject", c.subject)
		}
	}
}

// encodeFrame stamps msg with the current time and data, and marshals it.
func encodeFrame(msg StreamMessage, data any) ([]byte, error) {
	msg.Time = time.Now().UTC().Format(time.RFC3339)
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// handleWebSocket upgrades the events path to a stream. Authentication
// already happened in authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, streamSendBuffer),
		done:   make(chan struct{}),
		filter: filter,
	}
	if claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims); ok {
		c.subject = claims.Subject
	}

	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *streamClient) matches(ev endpoint.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.match(ev)
}

func (c *streamClient) setFilter(f *eventFilter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// enqueue reports whether frame was queued for writing.
func (c *streamClient) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *streamClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("event stream read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces on the next read
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleFrame(data)
	}
}

func (c *streamClient) writeLoop() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			//nolint:errcheck // connection is going away
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			//nolint:errcheck // a failed deadline surfaces on the write
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // a failed deadline surfaces on the write
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handleFrame(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", MsgError, map[string]string{"message": "invalid JSON frame"})
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		var sf StreamFilter
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &sf); err != nil {
				c.reply(msg.ID, MsgError, map[string]string{"message": "invalid subscribe data"})
				return
			}
		}
		filter, err := newEventFilter(sf)
		if err != nil {
			c.reply(msg.ID, MsgError, map[string]string{"message": err.Error()})
			return
		}
		c.setFilter(filter)
		c.hub.logger.Debug("event stream subscribed", "events", sf.Events, "endpoints", sf.Endpoints)
		c.reply(msg.ID, MsgAck, sf)
	case MsgUnsubscribe:
		c.setFilter(nil)
		c.reply(msg.ID, MsgAck, nil)
	case MsgPing:
		c.reply(msg.ID, MsgPong, nil)
	default:
		c.reply(msg.ID, MsgError, map[string]string{"message": "unknown frame type " + msg.Type})
	}
}

func (c *streamClient) reply(id, typ string, data any) {
	frame, err := encodeFrame(StreamMessage{Type: typ, ID: id}, data)
	if err != nil {
		return
	}
	c.enqueue(frame)
}
