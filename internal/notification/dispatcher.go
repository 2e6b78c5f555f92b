package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Defaults for Options fields left at zero.
const (
	DefaultPushTimeout      = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second

	pendingBuffer = 256
)

// Delivery reports what Dispatch did with a response.
type Delivery int

// Delivery outcomes.
const (
	Pushed Delivery = iota + 1
	Queued
)

// Options configures a Dispatcher.
type Options struct {
	PushTimeout      time.Duration
	PushAttempts     int
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HTTPClient       *http.Client
	Metrics          *Metrics
}

// Dispatcher delivers async responses: pushed to the callback URL when a
// subscription exists, queued for pull otherwise or when the push fails.
// Push failures are logged and counted, never returned to the producer.
type Dispatcher struct {
	store   *CallbackStore
	queue   *Queue
	client  *http.Client
	timeout time.Duration
	retries int
	metrics *Metrics
	logger  Logger

	threshold   uint32
	openTimeout time.Duration

	breakerMu  sync.Mutex
	breaker    *gobreaker.CircuitBreaker
	breakerURL string

	pending chan AsyncResponse
}

// NewDispatcher creates a dispatcher over store and queue.
//
// Parameters:
//   - store: Current callback subscription, consulted on every delivery
//   - queue: Receives responses that cannot be pushed
//   - opts: Zero fields take the Default* values
//
// Returns:
//   - *Dispatcher: Ready for Dispatch; call Run for Submit to push
func NewDispatcher(store *CallbackStore, queue *Queue, opts Options) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		queue:       queue,
		client:      opts.HTTPClient,
		timeout:     opts.PushTimeout,
		retries:     opts.PushAttempts,
		metrics:     opts.Metrics,
		logger:      noopLogger{},
		threshold:   opts.FailureThreshold,
		openTimeout: opts.OpenTimeout,
		pending:     make(chan AsyncResponse, pendingBuffer),
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultPushTimeout
	}
	if d.retries < 1 {
		d.retries = 1
	}
	if d.threshold == 0 {
		d.threshold = DefaultFailureThreshold
	}
	if d.openTimeout <= 0 {
		d.openTimeout = DefaultOpenTimeout
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil, nil)
	}
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch delivers resp synchronously: a push when a subscription exists,
// falling back to the queue on any failure.
func (d *Dispatcher) Dispatch(ctx context.Context, resp AsyncResponse) Delivery {
	sub, ok := d.store.Get()
	if !ok {
		d.enqueue(resp)
		return Queued
	}

	if err := d.Push(ctx, sub, resp); err != nil {
		d.metrics.PushFailures.Inc()
		d.logger.Warn("callback push failed, queueing response",
			"id", resp.ID,
			"endpoint", resp.Endpoint,
			"error", err,
		)
		d.enqueue(resp)
		return Queued
	}

	d.metrics.Pushed.Inc()
	d.logger.Debug("async response pushed", "id", resp.ID, "endpoint", resp.Endpoint)
	return Pushed
}

// Submit hands resp to the background pusher started by Run and never blocks.
// Without a subscription, or when the pusher is saturated, resp is queued
// immediately so a pull right after sees it.
func (d *Dispatcher) Submit(resp AsyncResponse) {
	if _, ok := d.store.Get(); !ok {
		d.enqueue(resp)
		return
	}

	select {
	case d.pending <- resp:
	default:
		d.logger.Warn("push backlog full, queueing response", "id", resp.ID)
		d.enqueue(resp)
	}
}

// Run pushes submitted responses in order until ctx is cancelled. A push
// already in flight at cancellation runs to completion, bounded by the push
// timeout; responses still pending are moved to the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	pushCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			d.drainPending()
			return
		}
		select {
		case resp := <-d.pending:
			d.Dispatch(pushCtx, resp)
		case <-ctx.Done():
			d.drainPending()
			return
		}
	}
}

func (d *Dispatcher) drainPending() {
	for {
		select {
		case resp := <-d.pending:
			d.enqueue(resp)
		default:
			return
		}
	}
}

// Pull drains the queue.
func (d *Dispatcher) Pull() []AsyncResponse {
	items := d.queue.DrainAll()
	d.metrics.Pulled.Add(float64(len(items)))
	return items
}

// Push POSTs a single response to the subscription URL through the circuit
// breaker, retrying up to the configured number of attempts.
func (d *Dispatcher) Push(ctx context.Context, sub Subscription, resp AsyncResponse) error {
	body, err := json.Marshal(Envelope{AsyncResponses: []AsyncResponse{resp}})
	if err != nil {
		return fmt.Errorf("encoding push body: %w", err)
	}

	cb := d.breakerFor(sub.URL)

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		_, lastErr = cb.Execute(func() (interface{}, error) {
			return nil, d.post(ctx, sub, body)
		})
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, gobreaker.ErrOpenState) ||
			errors.Is(lastErr, gobreaker.ErrTooManyRequests) ||
			ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrPushFailed, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, sub Subscription, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for name, value := range sub.Headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

// breakerFor returns the breaker for url, starting a fresh one when the
// subscription moved to a new URL.
func (d *Dispatcher) breakerFor(url string) *gobreaker.CircuitBreaker {
	d.breakerMu.Lock()
	defer d.breakerMu.Unlock()

	if d.breaker != nil && d.breakerURL == url {
		return d.breaker
	}

	threshold := d.threshold
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-callback",
		MaxRequests: 1,
		Timeout:     d.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			d.metrics.setBreakerState(to)
			d.logger.Info("callback breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	d.breakerURL = url
	d.metrics.setBreakerState(gobreaker.StateClosed)
	return d.breaker
}

func (d *Dispatcher) enqueue(resp AsyncResponse) {
	if d.queue.Enqueue(resp) {
		d.metrics.Dropped.Inc()
		d.logger.Warn("async response queue full, dropped oldest entry")
	}
	d.metrics.Queued.Inc()
}
