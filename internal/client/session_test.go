package client

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/coap"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

type request struct {
	method  string
	path    string
	queries []string
	cf      int
	body    []byte
}

// fakeConn answers like a gateway that assigns location rd/abc.
type fakeConn struct {
	mu       sync.Mutex
	requests []request
	closed   bool
	seen     chan request

	// handle overrides the default answers when set.
	handle func(ctx context.Context, r request) (*coap.Response, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{seen: make(chan request, 64)}
}

func (f *fakeConn) do(ctx context.Context, r request) (*coap.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	handle := f.handle
	f.mu.Unlock()

	select {
	case f.seen <- r:
	default:
	}

	if handle != nil {
		return handle(ctx, r)
	}
	return defaultAnswer(r), nil
}

func defaultAnswer(r request) *coap.Response {
	switch {
	case r.method == "POST" && r.path == "/rd":
		return &coap.Response{Code: codes.Created, ContentFormat: coap.NoContentFormat, LocationPath: []string{"rd", "abc"}}
	case r.method == "POST":
		return coap.Reply(codes.Changed)
	case r.method == "DELETE":
		return coap.Reply(codes.Deleted)
	default:
		return coap.Reply(codes.MethodNotAllowed)
	}
}

func (f *fakeConn) Post(ctx context.Context, path string, queries []string, cf int, body []byte) (*coap.Response, error) {
	return f.do(ctx, request{method: "POST", path: path, queries: queries, cf: cf, body: body})
}

func (f *fakeConn) Delete(ctx context.Context, path string) (*coap.Response, error) {
	return f.do(ctx, request{method: "DELETE", path: path})
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sent() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func (f *fakeConn) setHandler(h func(ctx context.Context, r request) (*coap.Response, error)) {
	f.mu.Lock()
	f.handle = h
	f.mu.Unlock()
}

func newTestSession(t *testing.T, conn *fakeConn, mutate func(*Config)) *Session {
	t.Helper()
	cfg := DefaultConfig("test")
	cfg.DrainDelay = time.Millisecond
	cfg.Dialer = func(context.Context, string) (Conn, error) { return conn, nil }
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSession(cfg)
	t.Cleanup(func() {
		if s.State() == StateRegistered {
			_ = s.Disconnect(context.Background())
		}
		s.haltUpdates()
	})
	return s
}

func TestSession_Connect(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)

	if err := s.Connect(context.Background(), "[::1]:5683"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.State() != StateRegistered {
		t.Errorf("State() = %s, want registered", s.State())
	}
	if s.Location() != "rd/abc" {
		t.Errorf("Location() = %q, want rd/abc", s.Location())
	}

	reg := conn.sent()[0]
	if reg.path != "/rd" || reg.cf != lwm2m.ContentFormatLinkFormat {
		t.Errorf("registration request = %+v", reg)
	}
	for _, q := range []string{"ep=test", "lt=600", "lwm2m=1.0", "b=U"} {
		if !slices.Contains(reg.queries, q) {
			t.Errorf("queries %v missing %s", reg.queries, q)
		}
	}
	if string(reg.body) != "</3/0>,</3303/0>" {
		t.Errorf("links = %s", reg.body)
	}
}

func TestSession_ConnectTwice(t *testing.T) {
	s := newTestSession(t, newFakeConn(), nil)
	ctx := context.Background()

	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(ctx, "[::1]:5683"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestSession_ConnectFailures(t *testing.T) {
	tests := []struct {
		name     string
		dialErr  error
		handle   func(ctx context.Context, r request) (*coap.Response, error)
		wantKind ConnectErrorKind
	}{
		{
			name:     "dial fails",
			dialErr:  errors.New("no route to host"),
			wantKind: ConnectUnreachable,
		},
		{
			name: "server rejects",
			handle: func(context.Context, request) (*coap.Response, error) {
				return coap.Reply(codes.BadRequest), nil
			},
			wantKind: ConnectRejected,
		},
		{
			name: "created without location",
			handle: func(context.Context, request) (*coap.Response, error) {
				return coap.Reply(codes.Created), nil
			},
			wantKind: ConnectRejected,
		},
		{
			name: "no answer",
			handle: func(ctx context.Context, _ request) (*coap.Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantKind: ConnectTimeout,
		},
		{
			name: "transport error",
			handle: func(context.Context, request) (*coap.Response, error) {
				return nil, errors.New("connection refused")
			},
			wantKind: ConnectUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			conn.handle = tt.handle
			s := newTestSession(t, conn, func(c *Config) {
				c.HandshakeTimeout = 30 * time.Millisecond
				if tt.dialErr != nil {
					c.Dialer = func(context.Context, string) (Conn, error) { return nil, tt.dialErr }
				}
			})

			start := time.Now()
			err := s.Connect(context.Background(), "[::1]:5683")

			var ce *ConnectError
			if !errors.As(err, &ce) {
				t.Fatalf("Connect() error = %v, want *ConnectError", err)
			}
			if ce.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ce.Kind, tt.wantKind)
			}
			if ce.Address != "[::1]:5683" {
				t.Errorf("Address = %q", ce.Address)
			}
			if s.State() != StateFailed {
				t.Errorf("State() = %s, want failed", s.State())
			}
			if time.Since(start) > 2*time.Second {
				t.Error("Connect() exceeded the handshake timeout by far")
			}
			if tt.dialErr == nil && !conn.isClosed() {
				t.Error("transport left open after failed handshake")
			}
		})
	}
}

func TestSession_ConnectAfterFailure(t *testing.T) {
	conn := newFakeConn()
	conn.handle = func(context.Context, request) (*coap.Response, error) {
		return coap.Reply(codes.Forbidden), nil
	}
	s := newTestSession(t, conn, nil)
	ctx := context.Background()

	if err := s.Connect(ctx, "[::1]:5683"); err == nil {
		t.Fatal("Connect() succeeded against a rejecting server")
	}

	conn.setHandler(nil)
	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatalf("Connect() after failure error = %v", err)
	}
	if s.State() != StateRegistered {
		t.Errorf("State() = %s", s.State())
	}
}

func TestSession_Disconnect(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)
	ctx := context.Background()

	if err := s.Disconnect(ctx); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Disconnect() before Connect error = %v, want ErrNotRegistered", err)
	}

	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}
	states, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if got := []State{<-states, <-states}; got[0] != StateDeregistering || got[1] != StateStopped {
		t.Errorf("transitions = %v", got)
	}
	sent := conn.sent()
	last := sent[len(sent)-1]
	if last.method != "DELETE" || last.path != "/rd/abc" {
		t.Errorf("last request = %s %s, want DELETE /rd/abc", last.method, last.path)
	}
	if !conn.isClosed() {
		t.Error("transport not closed after Disconnect")
	}
	if s.Location() != "" {
		t.Errorf("Location() = %q after Disconnect", s.Location())
	}

	if err := s.Disconnect(ctx); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second Disconnect() error = %v, want ErrNotRegistered", err)
	}
}

func TestSession_DisconnectUnconfirmed(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)
	ctx := context.Background()
	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}

	conn.setHandler(func(context.Context, request) (*coap.Response, error) {
		return coap.Reply(codes.NotFound), nil
	})
	if err := s.Disconnect(ctx); err == nil {
		t.Error("Disconnect() error = nil for unconfirmed deregistration")
	}
	if s.State() != StateStopped || !conn.isClosed() {
		t.Errorf("State() = %s, closed = %v; want stopped and closed", s.State(), conn.isClosed())
	}
}

func TestSession_UpdateResourceWhileUnregistered(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)

	if err := s.UpdateResource(context.Background(), PathTemperature, lwm2m.FloatValue(30)); err != nil {
		t.Errorf("UpdateResource() error = %v, want nil", err)
	}
	if len(conn.sent()) != 0 {
		t.Error("UpdateResource() sent a request while unregistered")
	}
	res, _ := s.Objects().Get(PathTemperature)
	if !res.Value.Equal(lwm2m.FloatValue(20)) {
		t.Errorf("temperature = %v, want unchanged 20", res.Value)
	}
}

func TestSession_UpdateResource(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)
	ctx := context.Background()
	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateResource(ctx, PathTemperature, lwm2m.FloatValue(25.5)); err != nil {
		t.Fatalf("UpdateResource() error = %v", err)
	}

	sent := conn.sent()
	send := sent[len(sent)-1]
	if send.path != "/dp" || send.cf != lwm2m.ContentFormatSenMLJSON {
		t.Fatalf("request = %s %s cf=%d, want POST /dp 110", send.method, send.path, send.cf)
	}
	updates, err := lwm2m.UnmarshalUpdates(send.body, send.cf)
	if err != nil {
		t.Fatalf("send payload error = %v", err)
	}
	if len(updates) != 1 || updates[0].Path != PathTemperature || !updates[0].Value.Equal(lwm2m.FloatValue(25.5)) {
		t.Errorf("send payload = %+v", updates)
	}

	// Manufacturer is not observable: stored, not sent.
	before := len(conn.sent())
	if err := s.UpdateResource(ctx, PathManufacturer, lwm2m.StringValue("acme")); err != nil {
		t.Fatal(err)
	}
	if len(conn.sent()) != before {
		t.Error("non-observable resource was sent")
	}

	if err := s.UpdateResource(ctx, PathTemperature, lwm2m.StringValue("hot")); !errors.Is(err, lwm2m.ErrTypeMismatch) {
		t.Errorf("UpdateResource() with string error = %v, want ErrTypeMismatch", err)
	}
}

func TestSession_UpdateResourceRejected(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)
	ctx := context.Background()
	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}

	conn.setHandler(func(_ context.Context, r request) (*coap.Response, error) {
		if r.path == "/dp" {
			return coap.Reply(codes.NotFound), nil
		}
		return defaultAnswer(r), nil
	})
	if err := s.UpdateResource(ctx, PathTemperature, lwm2m.FloatValue(21)); !errors.Is(err, ErrSendFailed) {
		t.Errorf("UpdateResource() error = %v, want ErrSendFailed", err)
	}
}

func TestSession_Notify(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, nil)
	ctx := context.Background()

	if err := s.Notify(ctx, PathTemperature); err != nil || len(conn.sent()) != 0 {
		t.Fatalf("Notify() while unregistered = %v, %d requests", err, len(conn.sent()))
	}

	if err := s.Connect(ctx, "[::1]:5683"); err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(ctx, PathTemperature); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	sent := conn.sent()
	if last := sent[len(sent)-1]; last.path != "/dp" {
		t.Errorf("Notify() request path = %s", last.path)
	}
}

func TestSession_PeriodicUpdate(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, func(c *Config) { c.Lifetime = 50 * time.Millisecond })
	if err := s.Connect(context.Background(), "[::1]:5683"); err != nil {
		t.Fatal(err)
	}
	<-conn.seen // registration

	select {
	case r := <-conn.seen:
		if r.method != "POST" || r.path != "/rd/abc" {
			t.Errorf("update request = %s %s", r.method, r.path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no registration update sent")
	}
}

func TestUpdateInterval(t *testing.T) {
	tests := []struct {
		lifetime time.Duration
		want     time.Duration
	}{
		{lifetime: 600 * time.Second, want: 480 * time.Second},
		{lifetime: 50 * time.Millisecond, want: 40 * time.Millisecond},
		{lifetime: time.Millisecond, want: minUpdateInterval},
		{lifetime: time.Nanosecond, want: minUpdateInterval},
	}
	for _, tt := range tests {
		if got := updateInterval(tt.lifetime); got != tt.want {
			t.Errorf("updateInterval(%v) = %v, want %v", tt.lifetime, got, tt.want)
		}
	}
}

func TestSession_TinyLifetime(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, func(c *Config) { c.Lifetime = time.Nanosecond })
	if err := s.Connect(context.Background(), "[::1]:5683"); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateRegistered {
		t.Errorf("State() = %v, want registered", s.State())
	}
}

func TestSession_ReRegistersWhenUnknown(t *testing.T) {
	conn := newFakeConn()
	s := newTestSession(t, conn, func(c *Config) { c.Lifetime = 50 * time.Millisecond })
	if err := s.Connect(context.Background(), "[::1]:5683"); err != nil {
		t.Fatal(err)
	}

	conn.setHandler(func(_ context.Context, r request) (*coap.Response, error) {
		switch r.path {
		case "/rd/abc":
			return coap.Reply(codes.NotFound), nil
		case "/rd":
			return &coap.Response{Code: codes.Created, LocationPath: []string{"rd", "def"}}, nil
		}
		return defaultAnswer(r), nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.Location() != "rd/def" {
		if time.Now().After(deadline) {
			t.Fatalf("Location() = %q, want rd/def after re-registration", s.Location())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := s.WaitFor(context.Background(), StateRegistered); err != nil {
		t.Fatal(err)
	}
}
