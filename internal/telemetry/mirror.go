package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

const (
	defaultBufferSize = 256
	defaultQoS        = 1
)

// Publisher is the MQTT side of the mirror. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PointWriter is the InfluxDB side of the mirror. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteResourceNumber(endpoint, path string, value float64, at time.Time)
	WriteResourceText(endpoint, path, text string, at time.Time)
	WriteEndpointEvent(endpoint, event string, at time.Time)
}

// Logger defines the logging interface used by the Mirror.
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

// Options configures a Mirror. Publisher and Points are optional.
type Options struct {
	Publisher Publisher
	Topics    mqtt.Topics
	QoS       byte

	Points PointWriter

	// BufferSize bounds events waiting for the worker. Events arriving
	// while the buffer is full are dropped and counted.
	BufferSize int

	Logger Logger
}

// Stats are the mirror's counters.
type Stats struct {
	Received      uint64
	Dropped       uint64
	Published     uint64
	PublishErrors uint64
	Unchanged     uint64
	Points        uint64
}

// Mirror copies endpoint events to MQTT and InfluxDB.
//
// Thread Safety: OnEvent may be called from any goroutine. Start must be
// called at most once.
type Mirror struct {
	publisher Publisher
	topics    mqtt.Topics
	qos       byte
	points    PointWriter
	logger    Logger

	events chan endpoint.Event

	// lastValue holds the last published payload per resource topic so
	// repeated notifications of an unchanged value are not republished.
	lastValue   map[string]string
	lastValueMu sync.Mutex

	received      atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	unchanged     atomic.Uint64
	written       atomic.Uint64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewMirror creates a Mirror. Call Start to begin processing.
func NewMirror(opts Options) *Mirror {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	qos := opts.QoS
	if qos > 2 {
		qos = defaultQoS
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Mirror{
		publisher: opts.Publisher,
		topics:    opts.Topics,
		qos:       qos,
		points:    opts.Points,
		logger:    logger,
		events:    make(chan endpoint.Event, size),
		lastValue: make(map[string]string),
		done:      make(chan struct{}),
	}
}

// OnEvent buffers ev for the worker. It never blocks.
func (m *Mirror) OnEvent(_ context.Context, ev endpoint.Event) {
	m.received.Add(1)
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
		m.logger.Warn("telemetry buffer full, event dropped",
			"endpoint", ev.Endpoint,
			"event", string(ev.Type),
		)
	}
}

// Start launches the worker. It returns immediately.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop processes the events already buffered, then stops the worker.
// Safe to call more than once.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			close(m.done)
			return
		}
		m.cancel()
		<-m.done
	})
}

func (m *Mirror) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
		case <-ctx.Done():
			m.drain()
			return
		}
	}
}

func (m *Mirror) drain() {
	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
		default:
			return
		}
	}
}

func (m *Mirror) handle(ev endpoint.Event) {
	if ev.Type == endpoint.EventNotify {
		for _, u := range ev.Updates {
			m.mirrorUpdate(ev, u)
		}
		return
	}
	m.mirrorLifecycle(ev)
}

func (m *Mirror) mirrorLifecycle(ev endpoint.Event) {
	if m.publisher != nil {
		payload, err := json.Marshal(NewStatusMessage(ev))
		if err != nil {
			m.logger.Error("marshalling endpoint status", "endpoint", ev.Endpoint, "error", err)
		} else {
			m.publish(m.topics.EndpointStatus(ev.Endpoint), payload)
		}
	}

	if m.points != nil {
		m.points.WriteEndpointEvent(ev.Endpoint, string(ev.Type), ev.Time)
		m.written.Add(1)
	}

	if ev.Type == endpoint.EventDeregistered || ev.Type == endpoint.EventExpired {
		m.forget(ev.Endpoint)
	}
}

func (m *Mirror) mirrorUpdate(ev endpoint.Event, u lwm2m.Update) {
	path := u.Path.String()
	msg := NewResourceMessage(ev.Endpoint, u, ev.Time)

	if m.publisher != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			m.logger.Error("marshalling resource value", "endpoint", ev.Endpoint, "path", path, "error", err)
		} else {
			topic := m.topics.Resource(ev.Endpoint, path)
			key := ev.Endpoint + "\x00" + topic
			current := u.Value.Type().String() + ":" + u.Value.String()
			switch {
			case m.valueUnchanged(key, current):
				m.unchanged.Add(1)
			case m.publish(topic, payload):
				m.remember(key, current)
			}
		}
	}

	if m.points == nil {
		return
	}
	switch u.Value.Type() {
	case lwm2m.TypeInteger, lwm2m.TypeFloat:
		f, _ := u.Value.Number()
		m.points.WriteResourceNumber(ev.Endpoint, path, f, msg.Timestamp)
	case lwm2m.TypeBoolean:
		var f float64
		if u.Value.Bool() {
			f = 1
		}
		m.points.WriteResourceNumber(ev.Endpoint, path, f, msg.Timestamp)
	default:
		m.points.WriteResourceText(ev.Endpoint, path, u.Value.String(), msg.Timestamp)
	}
	m.written.Add(1)
}

func (m *Mirror) publish(topic string, payload []byte) bool {
	if err := m.publisher.Publish(topic, payload, m.qos, true); err != nil {
		m.publishErrors.Add(1)
		m.logger.Debug("telemetry publish failed", "topic", topic, "error", err)
		return false
	}
	m.published.Add(1)
	return true
}

// valueUnchanged reports whether current was the last value published
// under key.
func (m *Mirror) valueUnchanged(key, current string) bool {
	m.lastValueMu.Lock()
	defer m.lastValueMu.Unlock()

	prev, ok := m.lastValue[key]
	return ok && prev == current
}

func (m *Mirror) remember(key, current string) {
	m.lastValueMu.Lock()
	m.lastValue[key] = current
	m.lastValueMu.Unlock()
}

// forget drops cached values of an endpoint that went away, so a
// re-registration republishes everything.
func (m *Mirror) forget(name string) {
	prefix := name + "\x00"

	m.lastValueMu.Lock()
	defer m.lastValueMu.Unlock()

	for key := range m.lastValue {
		if strings.HasPrefix(key, prefix) {
			delete(m.lastValue, key)
		}
	}
}

// Stats returns a snapshot of the mirror's counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Received:      m.received.Load(),
		Dropped:       m.dropped.Load(),
		Published:     m.published.Load(),
		PublishErrors: m.publishErrors.Load(),
		Unchanged:     m.unchanged.Load(),
		Points:        m.written.Load(),
	}
}
