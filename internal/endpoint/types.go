package endpoint

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// Registration defaults.
const (
	DefaultLifetime = 86400 * time.Second
	DefaultVersion  = "1.0"
	DefaultBinding  = "U"
)

// Endpoint is a registered LwM2M client as seen by the gateway.
type Endpoint struct {
	Name string

	// Location is the registration id; the device addresses it as rd/<Location>.
	Location string

	Lifetime  time.Duration
	Version   string
	Binding   string
	QueueMode bool

	Address string
	Port    int

	RegisteredAt time.Time
	UpdatedAt    time.Time

	// Resources is owned by the endpoint and shared by every snapshot.
	Resources *lwm2m.Registry
}

// ExpiresAt returns when the registration lapses without an update.
func (e Endpoint) ExpiresAt() time.Time {
	return e.UpdatedAt.Add(e.Lifetime)
}

// Manufacturer returns Device object resource /3/0/0 if the device sent it.
func (e Endpoint) Manufacturer() string {
	return e.deviceString(0)
}

// FirmwareVersion returns Device object resource /3/0/3 if the device sent it.
func (e Endpoint) FirmwareVersion() string {
	return e.deviceString(3)
}

func (e Endpoint) deviceString(resource uint16) string {
	if e.Resources == nil {
		return ""
	}
	res, err := e.Resources.Get(lwm2m.ResourcePath(3, 0, resource))
	if err != nil || res.Value.Type() != lwm2m.TypeString {
		return ""
	}
	return res.Value.Str()
}

// RegisterParams are the values a device supplies in a registration.
type RegisterParams struct {
	Name      string
	Lifetime  time.Duration
	Version   string
	Binding   string
	QueueMode bool
	Objects   []lwm2m.Path

	// RemoteAddr is the peer "host:port".
	RemoteAddr string
}

// UpdateParams are the optional values of a registration update.
// Zero values leave the registration unchanged.
type UpdateParams struct {
	Lifetime   time.Duration
	Binding    string
	Objects    []lwm2m.Path
	RemoteAddr string
}

// EventType identifies an endpoint lifecycle or data event.
type EventType string

// Event types.
const (
	EventRegistered   EventType = "registered"
	EventUpdated      EventType = "updated"
	EventDeregistered EventType = "deregistered"
	EventExpired      EventType = "expired"
	EventNotify       EventType = "notify"
)

// Event is emitted by the Registry to every Listener.
type Event struct {
	Type     EventType
	Endpoint string
	Location string
	Time     time.Time

	// Updates holds the accepted resource values of a notify event.
	Updates []lwm2m.Update
}

// Listener receives registry events. Calls are synchronous and in
// registration order; implementations must not block.
type Listener interface {
	OnEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// bindingHasQueue reports the LwM2M 1.0 queue-mode binding ("UQ").
func bindingHasQueue(binding string) bool {
	return strings.Contains(strings.ToUpper(binding), "Q")
}
