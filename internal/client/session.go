package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/coap"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// Session defaults.
const (
	DefaultLifetime         = 600 * time.Second
	DefaultBinding          = "U"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDrainDelay       = 100 * time.Millisecond

	lwm2mVersion      = "1.0"
	minUpdateInterval = 10 * time.Millisecond
)

// Logger defines the logging interface used by the Session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn is the CoAP transport a Session talks through. *coap.Conn implements it.
type Conn interface {
	Post(ctx context.Context, path string, queries []string, contentFormat int, body []byte) (*coap.Response, error)
	Delete(ctx context.Context, path string) (*coap.Response, error)
	Close() error
}

// Dialer opens a Conn to a server address.
type Dialer func(ctx context.Context, address string) (Conn, error)

// DialCoAP dials a CoAP-over-UDP server.
func DialCoAP(ctx context.Context, address string) (Conn, error) {
	conn, err := coap.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures a Session.
type Config struct {
	// Endpoint is the client name sent as ep= on registration.
	Endpoint string

	// Lifetime is the registration lifetime. Updates are sent at 80% of it.
	Lifetime time.Duration

	Binding   string
	QueueMode bool

	// HandshakeTimeout bounds Connect and every later request.
	HandshakeTimeout time.Duration

	// DrainDelay is how long the transport stays open after deregistering.
	DrainDelay time.Duration

	// Device fills the Device object when Objects is nil.
	Device DeviceInfo

	// Objects is the client's resource model. Defaults to NewDeviceObjects(Device).
	Objects *lwm2m.Registry

	// Dialer defaults to DialCoAP.
	Dialer Dialer
}

// DefaultConfig returns a Config with defaults for the named endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:         endpoint,
		Lifetime:         DefaultLifetime,
		Binding:          DefaultBinding,
		HandshakeTimeout: DefaultHandshakeTimeout,
		DrainDelay:       DefaultDrainDelay,
		Device:           DefaultDeviceInfo,
	}
}

// Session is a device-side LwM2M registration with one server.
//
// Connect and Disconnect are serialised. UpdateResource may be called
// from any goroutine and is ignored unless the session is registered.
type Session struct {
	config  Config
	dial    Dialer
	objects *lwm2m.Registry
	fsm     *StateMachine
	logger  Logger

	// opMu serialises Connect and Disconnect.
	opMu sync.Mutex

	mu          sync.Mutex
	conn        Conn
	address     string
	location    string
	stopUpdates context.CancelFunc
	updatesDone chan struct{}
}

// NewSession creates an unregistered session.
func NewSession(cfg Config) *Session {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Binding == "" {
		cfg.Binding = DefaultBinding
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DrainDelay < 0 {
		cfg.DrainDelay = 0
	}
	if cfg.Device == (DeviceInfo{}) {
		cfg.Device = DefaultDeviceInfo
	}

	s := &Session{
		config:  cfg,
		dial:    cfg.Dialer,
		objects: cfg.Objects,
		fsm:     NewStateMachine(),
		logger:  noopLogger{},
	}
	if s.dial == nil {
		s.dial = DialCoAP
	}
	if s.objects == nil {
		s.objects = NewDeviceObjects(cfg.Device)
	}
	return s
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// State returns the current registration state.
func (s *Session) State() State {
	return s.fsm.State()
}

// Subscribe streams state changes; see StateMachine.Subscribe.
func (s *Session) Subscribe() (<-chan State, func()) {
	return s.fsm.Subscribe()
}

// WaitFor blocks until the session reaches one of targets.
func (s *Session) WaitFor(ctx context.Context, targets ...State) (State, error) {
	return s.fsm.WaitFor(ctx, targets...)
}

// Location returns the registration path ("rd/<id>") while registered.
func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Objects returns the session's resource model.
func (s *Session) Objects() *lwm2m.Registry {
	return s.objects
}

// Connect registers with the server at address ("host:port"). It returns
// once the server acknowledged the registration, or a *ConnectError after
// at most the handshake timeout.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.fsm.State() {
	case StateRegistering, StateRegistered, StateDeregistering:
		return ErrAlreadyRegistered
	}
	s.closeStale()

	if err := s.fsm.Transition(StateRegistering); err != nil {
		return err
	}
	s.logger.Info("registering", "endpoint", s.config.Endpoint, "server", address)

	hctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	conn, err := s.dial(hctx, address)
	if err != nil {
		return s.fail(&ConnectError{Kind: ConnectUnreachable, Address: address, Err: err})
	}

	location, err := s.register(hctx, conn)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // best effort on failed handshake
		return s.fail(classify(hctx, address, err))
	}

	s.mu.Lock()
	s.conn = conn
	s.address = address
	s.location = location
	s.mu.Unlock()

	if err := s.fsm.Transition(StateRegistered); err != nil {
		return err
	}
	s.startUpdates()

	s.logger.Info("registered", "endpoint", s.config.Endpoint, "location", location)
	return nil
}

// Disconnect deregisters and, after the drain delay, closes the transport.
// The session ends in StateStopped even when the server did not confirm.
func (s *Session) Disconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.haltUpdates()
	if s.fsm.State() != StateRegistered {
		return ErrNotRegistered
	}
	if err := s.fsm.Transition(StateDeregistering); err != nil {
		return err
	}

	s.mu.Lock()
	conn, location := s.conn, s.location
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	resp, err := conn.Delete(rctx, "/"+location)
	cancel()

	var derr error
	switch {
	case err != nil:
		derr = fmt.Errorf("deregistering %s: %w", location, err)
	case resp.Code != codes.Deleted:
		derr = fmt.Errorf("deregistering %s: server replied %v", location, resp.Code)
	}
	if derr != nil {
		s.logger.Warn("deregistration not confirmed", "endpoint", s.config.Endpoint, "error", derr)
	}

	if err := s.fsm.Transition(StateStopped); err != nil {
		return err
	}

	timer := time.NewTimer(s.config.DrainDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	if err := conn.Close(); err != nil {
		s.logger.Warn("closing transport", "error", err)
	}

	s.mu.Lock()
	s.conn = nil
	s.location = ""
	s.mu.Unlock()

	s.logger.Info("deregistered", "endpoint", s.config.Endpoint)
	return derr
}

// UpdateResource writes a local resource value and reports it to the
// server with a Send when the resource is observable. Outside
// StateRegistered it does nothing and returns nil.
func (s *Session) UpdateResource(ctx context.Context, path lwm2m.Path, v lwm2m.Value) error {
	if s.fsm.State() != StateRegistered {
		s.logger.Debug("ignoring update while not registered", "path", path.String(), "state", string(s.fsm.State()))
		return nil
	}

	res, err := s.objects.Write(path, v)
	if err != nil {
		return err
	}
	if !res.Observable {
		return nil
	}
	return s.send(ctx, []lwm2m.Update{{Path: path, Value: res.Value, Time: time.Now()}})
}

// Notify sends the current value of path. Outside StateRegistered it does
// nothing and returns nil.
func (s *Session) Notify(ctx context.Context, path lwm2m.Path) error {
	if s.fsm.State() != StateRegistered {
		return nil
	}
	res, err := s.objects.Get(path)
	if err != nil {
		return err
	}
	return s.send(ctx, []lwm2m.Update{{Path: path, Value: res.Value, Time: time.Now()}})
}

func (s *Session) send(ctx context.Context, updates []lwm2m.Update) error {
	payload, err := lwm2m.MarshalUpdates(updates, lwm2m.ContentFormatSenMLJSON)
	if err != nil {
		return fmt.Errorf("encoding send payload: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotRegistered
	}

	rctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	resp, err := conn.Post(rctx, "/dp", nil, lwm2m.ContentFormatSenMLJSON, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if resp.Code != codes.Changed {
		return fmt.Errorf("%w: server replied %v", ErrSendFailed, resp.Code)
	}
	return nil
}

// register sends the registration request and returns the assigned location.
func (s *Session) register(ctx context.Context, conn Conn) (string, error) {
	queries := []string{
		"ep=" + s.config.Endpoint,
		"lt=" + strconv.Itoa(int(s.config.Lifetime.Seconds())),
		"lwm2m=" + lwm2mVersion,
		"b=" + s.config.Binding,
	}
	if s.config.QueueMode {
		queries = append(queries, "Q")
	}
	links := lwm2m.FormatLinks(s.objects.Instances())

	resp, err := conn.Post(ctx, "/rd", queries, lwm2m.ContentFormatLinkFormat, []byte(links))
	if err != nil {
		return "", err
	}
	if resp.Code != codes.Created || len(resp.LocationPath) == 0 {
		return "", &ConnectError{Kind: ConnectRejected, Code: resp.Code}
	}
	return strings.Join(resp.LocationPath, "/"), nil
}

func (s *Session) startUpdates() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.stopUpdates = cancel
	s.updatesDone = done
	s.mu.Unlock()

	go s.updateLoop(ctx, done)
}

// haltUpdates stops the update loop and waits for it to exit.
func (s *Session) haltUpdates() {
	s.mu.Lock()
	cancel, done := s.stopUpdates, s.updatesDone
	s.stopUpdates, s.updatesDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// closeStale releases a transport left behind by a failed session.
func (s *Session) closeStale() {
	s.haltUpdates()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.location = ""
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close() //nolint:errcheck // stale transport
	}
}

func (s *Session) updateLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(updateInterval(s.config.Lifetime))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendUpdate(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("registration update failed", "endpoint", s.config.Endpoint, "error", err)
				if s.fsm.State() == StateFailed {
					return
				}
			}
		}
	}
}

// updateInterval is 80% of lifetime, never below minUpdateInterval.
func updateInterval(lifetime time.Duration) time.Duration {
	return max(lifetime*8/10, minUpdateInterval)
}

// sendUpdate refreshes the registration. A server that no longer knows the
// location gets a fresh registration.
func (s *Session) sendUpdate(ctx context.Context) error {
	s.mu.Lock()
	conn, location := s.conn, s.location
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	queries := []string{"lt=" + strconv.Itoa(int(s.config.Lifetime.Seconds()))}
	resp, err := conn.Post(rctx, "/"+location, queries, coap.NoContentFormat, nil)
	if err != nil {
		return err
	}

	switch resp.Code {
	case codes.Changed:
		s.logger.Debug("registration updated", "endpoint", s.config.Endpoint, "location", location)
		return nil
	case codes.NotFound:
		return s.reRegister(rctx, conn)
	default:
		return fmt.Errorf("update rejected with %v", resp.Code)
	}
}

func (s *Session) reRegister(ctx context.Context, conn Conn) error {
	if err := s.fsm.Transition(StateRegistering); err != nil {
		return err
	}

	location, err := s.register(ctx, conn)
	if err != nil {
		_ = s.fsm.Transition(StateFailed) //nolint:errcheck // registering -> failed is always valid
		return fmt.Errorf("re-registering: %w", err)
	}

	s.mu.Lock()
	s.location = location
	s.mu.Unlock()

	s.logger.Info("re-registered", "endpoint", s.config.Endpoint, "location", location)
	return s.fsm.Transition(StateRegistered)
}

func (s *Session) fail(err error) error {
	_ = s.fsm.Transition(StateFailed) //nolint:errcheck // registering -> failed is always valid
	s.logger.Warn("registration failed", "endpoint", s.config.Endpoint, "error", err)
	return err
}

// classify maps a handshake error to a *ConnectError.
func classify(ctx context.Context, address string, err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		ce.Address = address
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ConnectError{Kind: ConnectTimeout, Address: address, Err: err}
	}
	return &ConnectError{Kind: ConnectUnreachable, Address: address, Err: err}
}
