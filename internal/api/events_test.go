package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

func dialEvents(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// A pong proves the server side has joined the hub.
	if err := conn.WriteJSON(StreamMessage{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, conn); got.Type != MsgPong {
		t.Fatalf("handshake reply = %+v", got)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return msg
}

func TestEvents_SubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialEvents(t, env, "")

	data, _ := json.Marshal(StreamFilter{Events: []string{"registered"}})
	if err := conn.WriteJSON(StreamMessage{Type: MsgSubscribe, ID: "1", Data: data}); err != nil {
		t.Fatal(err)
	}
	if ack := readFrame(t, conn); ack.Type != MsgAck || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	env.register(t, "dev-ws")

	msg := readFrame(t, conn)
	if msg.Type != MsgEvent || msg.Event != "registered" {
		t.Fatalf("frame = %+v", msg)
	}
	var ev EndpointEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Endpoint != "dev-ws" || ev.Location == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestEvents_QueryFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialEvents(t, env, "?events=registered&endpoints=wanted")

	env.register(t, "other")
	env.register(t, "wanted")

	msg := readFrame(t, conn)
	var ev EndpointEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Endpoint != "wanted" {
		t.Errorf("first event endpoint = %q, want wanted", ev.Endpoint)
	}
}

func TestEvents_BadQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/events?events=bogus", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEvents_Frames(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialEvents(t, env, "")

	tests := []struct {
		name     string
		frame    string
		wantType string
	}{
		{name: "ping", frame: `{"type":"ping","id":"p"}`, wantType: MsgPong},
		{name: "unsubscribe", frame: `{"type":"unsubscribe"}`, wantType: MsgAck},
		{name: "unknown type", frame: `{"type":"shout"}`, wantType: MsgError},
		{name: "unknown event", frame: `{"type":"subscribe","data":{"events":["bogus"]}}`, wantType: MsgError},
		{name: "bad data", frame: `{"type":"subscribe","data":[1]}`, wantType: MsgError},
		{name: "not json", frame: `hello`, wantType: MsgError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			if got := readFrame(t, conn); got.Type != tt.wantType {
				t.Errorf("reply = %+v, want type %q", got, tt.wantType)
			}
		})
	}
}

func newStreamClient(hub *Hub, f StreamFilter) *streamClient {
	filter, err := newEventFilter(f)
	if err != nil {
		panic(err)
	}
	return &streamClient{hub: hub, send: make(chan []byte, 4), done: make(chan struct{}), filter: filter}
}

func TestHub_Filtering(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	all := newStreamClient(hub, StreamFilter{})
	notify := newStreamClient(hub, StreamFilter{Events: []string{"notify"}})
	dev2 := newStreamClient(hub, StreamFilter{Endpoints: []string{"d2"}})
	idle := &streamClient{hub: hub, send: make(chan []byte, 4), done: make(chan struct{})}
	for _, c := range []*streamClient{all, notify, dev2, idle} {
		hub.add(c)
	}

	ctx := context.Background()
	hub.OnEvent(ctx, endpoint.Event{Type: endpoint.EventRegistered, Endpoint: "d1", Time: time.Now()})
	hub.OnEvent(ctx, endpoint.Event{
		Type: endpoint.EventNotify, Endpoint: "d1", Time: time.Now(),
		Updates: []lwm2m.Update{{Path: lwm2m.ResourcePath(3303, 0, 5700), Value: lwm2m.FloatValue(1.5)}},
	})
	hub.OnEvent(ctx, endpoint.Event{Type: endpoint.EventExpired, Endpoint: "d2", Time: time.Now()})

	counts := map[string]struct {
		c    *streamClient
		want int
	}{
		"all":    {all, 3},
		"notify": {notify, 1},
		"dev2":   {dev2, 1},
		"idle":   {idle, 0},
	}
	for name, tc := range counts {
		if got := len(tc.c.send); got != tc.want {
			t.Errorf("%s client got %d frames, want %d", name, got, tc.want)
		}
	}

	var msg StreamMessage
	if err := json.Unmarshal(<-notify.send, &msg); err != nil {
		t.Fatal(err)
	}
	var ev EndpointEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if len(ev.Updates) != 1 || ev.Updates[0].Path != "/3303/0/5700" || ev.Updates[0].Type != "FLOAT" {
		t.Errorf("data = %+v", ev)
	}

	hub.remove(notify)
	hub.remove(notify)
	if hub.ClientCount() != 3 {
		t.Errorf("ClientCount() = %d, want 3", hub.ClientCount())
	}
	if notify.enqueue([]byte("x")) {
		t.Error("enqueue after remove should fail")
	}
}

func TestHub_RunDisconnectsClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newStreamClient(hub, StreamFilter{})
	hub.add(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	select {
	case <-c.done:
	default:
		t.Error("client not closed")
	}
}
