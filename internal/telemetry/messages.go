package telemetry

import (
	"time"

	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// StatusMessage is published when an endpoint registers, updates its
// registration, deregisters or expires.
// QoS: configured, Retained: Yes
type StatusMessage struct {
	Endpoint  string    `json:"endpoint"`
	Location  string    `json:"location,omitempty"`
	Status    string    `json:"status"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// ResourceMessage carries the last reported value of one resource.
// QoS: configured, Retained: Yes
type ResourceMessage struct {
	Endpoint  string    `json:"endpoint"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// statusFor maps a lifecycle event to the endpoint's resulting status.
func statusFor(t endpoint.EventType) string {
	switch t {
	case endpoint.EventDeregistered, endpoint.EventExpired:
		return "offline"
	default:
		return "online"
	}
}

// NewStatusMessage builds the status message for a lifecycle event.
func NewStatusMessage(ev endpoint.Event) StatusMessage {
	return StatusMessage{
		Endpoint:  ev.Endpoint,
		Location:  ev.Location,
		Status:    statusFor(ev.Type),
		Event:     string(ev.Type),
		Timestamp: ev.Time.UTC(),
	}
}

// NewResourceMessage builds the message for one accepted update. A zero
// update time falls back to the event time.
func NewResourceMessage(name string, u lwm2m.Update, fallback time.Time) ResourceMessage {
	at := u.Time
	if at.IsZero() {
		at = fallback
	}
	return ResourceMessage{
		Endpoint:  name,
		Path:      u.Path.String(),
		Type:      u.Value.Type().String(),
		Value:     jsonValue(u.Value),
		Timestamp: at.UTC(),
	}
}

func jsonValue(v lwm2m.Value) any {
	switch v.Type() {
	case lwm2m.TypeInteger:
		return v.Int()
	case lwm2m.TypeFloat:
		f, _ := v.Number()
		return f
	case lwm2m.TypeBoolean:
		return v.Bool()
	default:
		// STRING as is, OPAQUE base64 encoded.
		return v.String()
	}
}
