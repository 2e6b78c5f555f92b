package endpoint

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// Logger defines the logging interface used by the Registry.
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

// Registry tracks the endpoints currently registered with the gateway.
//
// Registrations live in memory only: devices re-register after a gateway
// restart. Events are delivered to listeners after the registry lock is
// released.
//
// All public methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex
	byLocation map[string]*Endpoint
	byName     map[string]*Endpoint

	listenerMu sync.RWMutex
	listeners  []Listener

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLocation: make(map[string]*Endpoint),
		byName:     make(map[string]*Endpoint),
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddListener subscribes l to registry events.
func (r *Registry) AddListener(l Listener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// Register creates a registration. Registering a name that is already
// registered replaces the old registration.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (Endpoint, error) {
	if p.Name == "" {
		return Endpoint{}, fmt.Errorf("%w: endpoint name is required", ErrInvalidRegistration)
	}
	if p.Lifetime <= 0 {
		p.Lifetime = DefaultLifetime
	}
	if p.Version == "" {
		p.Version = DefaultVersion
	}
	if p.Binding == "" {
		p.Binding = DefaultBinding
	}

	host, port := splitAddr(p.RemoteAddr)
	now := r.now()

	ep := &Endpoint{
		Name:         p.Name,
		Lifetime:     p.Lifetime,
		Version:      p.Version,
		Binding:      p.Binding,
		QueueMode:    p.QueueMode || bindingHasQueue(p.Binding),
		Address:      host,
		Port:         port,
		RegisteredAt: now,
		UpdatedAt:    now,
		Resources:    lwm2m.NewRegistry(),
	}
	for _, obj := range p.Objects {
		ep.Resources.AddInstance(obj)
	}

	r.mu.Lock()
	if old, ok := r.byName[p.Name]; ok {
		delete(r.byLocation, old.Location)
	}
	ep.Location = r.newLocation()
	r.byLocation[ep.Location] = ep
	r.byName[ep.Name] = ep
	snapshot := *ep
	r.mu.Unlock()

	r.logger.Info("endpoint registered",
		"endpoint", ep.Name,
		"location", ep.Location,
		"lifetime", ep.Lifetime.String(),
		"binding", ep.Binding,
	)
	r.emit(ctx, Event{Type: EventRegistered, Endpoint: ep.Name, Location: ep.Location, Time: now})
	return snapshot, nil
}

// Update refreshes a registration's lifetime and applies changed parameters.
func (r *Registry) Update(ctx context.Context, location string, p UpdateParams) (Endpoint, error) {
	now := r.now()

	r.mu.Lock()
	ep, ok := r.byLocation[location]
	if !ok {
		r.mu.Unlock()
		return Endpoint{}, fmt.Errorf("%w: location %q", ErrNotFound, location)
	}
	if p.Lifetime > 0 {
		ep.Lifetime = p.Lifetime
	}
	if p.Binding != "" {
		ep.Binding = p.Binding
		ep.QueueMode = bindingHasQueue(p.Binding)
	}
	if p.RemoteAddr != "" {
		ep.Address, ep.Port = splitAddr(p.RemoteAddr)
	}
	for _, obj := range p.Objects {
		ep.Resources.AddInstance(obj)
	}
	ep.UpdatedAt = now
	snapshot := *ep
	r.mu.Unlock()

	r.logger.Debug("endpoint updated", "endpoint", snapshot.Name, "location", location)
	r.emit(ctx, Event{Type: EventUpdated, Endpoint: snapshot.Name, Location: location, Time: now})
	return snapshot, nil
}

// Deregister removes a registration.
func (r *Registry) Deregister(ctx context.Context, location string) error {
	r.mu.Lock()
	ep, ok := r.byLocation[location]
	if ok {
		r.remove(ep)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: location %q", ErrNotFound, location)
	}

	r.logger.Info("endpoint deregistered", "endpoint", ep.Name, "location", location)
	r.emit(ctx, Event{Type: EventDeregistered, Endpoint: ep.Name, Location: location, Time: r.now()})
	return nil
}

// Get returns the endpoint registered under name.
func (r *Registry) Get(name string) (Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.byName[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return *ep, nil
}

// FindByAddress returns the endpoint whose last known transport address is remoteAddr.
func (r *Registry) FindByAddress(remoteAddr string) (Endpoint, error) {
	host, port := splitAddr(remoteAddr)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ep := range r.byLocation {
		if ep.Address == host && ep.Port == port {
			return *ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: address %q", ErrNotFound, remoteAddr)
}

// List returns all registered endpoints sorted by name.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	out := make([]Endpoint, 0, len(r.byName))
	for _, ep := range r.byName {
		out = append(out, *ep)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered endpoints.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Send applies resource values reported by a device and emits one notify
// event with the accepted updates. Values conflicting with a resource's
// declared type are skipped; ErrRejected is returned only when nothing
// was accepted.
func (r *Registry) Send(ctx context.Context, ep Endpoint, updates []lwm2m.Update) ([]lwm2m.Update, error) {
	now := r.now()
	accepted := make([]lwm2m.Update, 0, len(updates))

	for _, u := range updates {
		res, _, err := ep.Resources.Put(u.Path, u.Value)
		if err != nil {
			r.logger.Warn("rejected resource value",
				"endpoint", ep.Name,
				"path", u.Path.String(),
				"error", err,
			)
			continue
		}
		if u.Time.IsZero() {
			u.Time = now
		}
		u.Value = res.Value
		accepted = append(accepted, u)
	}

	if len(accepted) == 0 {
		return nil, fmt.Errorf("%w: %d records from %s", ErrRejected, len(updates), ep.Name)
	}

	r.emit(ctx, Event{
		Type:     EventNotify,
		Endpoint: ep.Name,
		Location: ep.Location,
		Time:     now,
		Updates:  accepted,
	})
	return accepted, nil
}

// ExpireStale removes registrations whose lifetime has lapsed and returns their names.
func (r *Registry) ExpireStale(ctx context.Context) []string {
	now := r.now()

	r.mu.Lock()
	var expired []*Endpoint
	for _, ep := range r.byLocation {
		if now.After(ep.ExpiresAt()) {
			expired = append(expired, ep)
			r.remove(ep)
		}
	}
	r.mu.Unlock()

	names := make([]string, 0, len(expired))
	for _, ep := range expired {
		names = append(names, ep.Name)
		r.logger.Info("endpoint registration expired", "endpoint", ep.Name, "location", ep.Location)
		r.emit(ctx, Event{Type: EventExpired, Endpoint: ep.Name, Location: ep.Location, Time: now})
	}
	return names
}

// RunExpiry calls ExpireStale every interval until ctx is cancelled.
func (r *Registry) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ExpireStale(ctx)
		}
	}
}

// remove deletes ep from both indexes. Callers must hold the write lock.
func (r *Registry) remove(ep *Endpoint) {
	delete(r.byLocation, ep.Location)
	if cur, ok := r.byName[ep.Name]; ok && cur == ep {
		delete(r.byName, ep.Name)
	}
}

// newLocation returns an unused registration id. Callers must hold the write lock.
func (r *Registry) newLocation() string {
	for {
		id := uuid.NewString()[:8]
		if _, taken := r.byLocation[id]; !taken {
			return id
		}
	}
}

func (r *Registry) emit(ctx context.Context, ev Event) {
	r.listenerMu.RLock()
	listeners := r.listeners
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(ctx, ev)
	}
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
