package notification

import (
	"context"

	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// OnEvent turns every accepted resource value of a notify event into an
// async response and submits it. Lifecycle events produce no responses.
func (d *Dispatcher) OnEvent(_ context.Context, ev endpoint.Event) {
	if ev.Type != endpoint.EventNotify {
		return
	}

	for _, u := range ev.Updates {
		payload, err := lwm2m.MarshalUpdates([]lwm2m.Update{u}, lwm2m.ContentFormatSenMLJSON)
		if err != nil {
			d.logger.Error("encoding async response payload",
				"endpoint", ev.Endpoint,
				"path", u.Path.String(),
				"error", err,
			)
			continue
		}

		at := u.Time
		if at.IsZero() {
			at = ev.Time
		}
		d.Submit(NewAsyncResponse(ev.Endpoint, u.Path.String(), StatusContent, payload, at))
	}
}
