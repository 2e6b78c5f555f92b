package endpoint

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/coap"
	"github.com/nerrad567/lwm2m-gateway/internal/lwm2m"
)

// Handler serves the LwM2M registration interface (/rd) and the Send
// operation (/dp) on top of a Registry.
type Handler struct {
	registry *Registry
	logger   Logger
}

// NewHandler creates a CoAP handler for reg.
func NewHandler(reg *Registry) *Handler {
	return &Handler{registry: reg, logger: noopLogger{}}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// ServeCoAP routes a request by path and method.
func (h *Handler) ServeCoAP(ctx context.Context, req *coap.Request) *coap.Response {
	segments := strings.Split(strings.Trim(req.Path, "/"), "/")

	switch {
	case segments[0] == "rd" && len(segments) == 1:
		if req.Code != codes.POST {
			return coap.Reply(codes.MethodNotAllowed)
		}
		return h.register(ctx, req)

	case segments[0] == "rd" && len(segments) == 2:
		switch req.Code {
		case codes.POST:
			return h.update(ctx, segments[1], req)
		case codes.DELETE:
			return h.deregister(ctx, segments[1])
		default:
			return coap.Reply(codes.MethodNotAllowed)
		}

	case segments[0] == "dp" && len(segments) == 1:
		if req.Code != codes.POST {
			return coap.Reply(codes.MethodNotAllowed)
		}
		return h.send(ctx, req)

	default:
		return coap.Reply(codes.NotFound)
	}
}

func (h *Handler) register(ctx context.Context, req *coap.Request) *coap.Response {
	q := parseQueries(req.Queries)

	params := RegisterParams{
		Name:       q["ep"],
		Version:    q["lwm2m"],
		Binding:    q["b"],
		RemoteAddr: req.RemoteAddr,
	}
	_, params.QueueMode = q["Q"]

	if params.Name == "" {
		h.logger.Warn("registration without endpoint name", "remote", req.RemoteAddr)
		return coap.Reply(codes.BadRequest)
	}

	if raw, ok := q["lt"]; ok {
		lt, err := parseLifetime(raw)
		if err != nil {
			return coap.Reply(codes.BadRequest)
		}
		params.Lifetime = lt
	}

	objects, err := lwm2m.ParseLinks(string(req.Body))
	if err != nil {
		h.logger.Warn("malformed registration payload", "endpoint", params.Name, "error", err)
		return coap.Reply(codes.BadRequest)
	}
	params.Objects = objects

	ep, err := h.registry.Register(ctx, params)
	if err != nil {
		return coap.Reply(codes.BadRequest)
	}

	return &coap.Response{
		Code:          codes.Created,
		ContentFormat: coap.NoContentFormat,
		LocationPath:  []string{"rd", ep.Location},
	}
}

func (h *Handler) update(ctx context.Context, location string, req *coap.Request) *coap.Response {
	q := parseQueries(req.Queries)
	params := UpdateParams{
		Binding:    q["b"],
		RemoteAddr: req.RemoteAddr,
	}

	if raw, ok := q["lt"]; ok {
		lt, err := parseLifetime(raw)
		if err != nil {
			return coap.Reply(codes.BadRequest)
		}
		params.Lifetime = lt
	}

	objects, err := lwm2m.ParseLinks(string(req.Body))
	if err != nil {
		return coap.Reply(codes.BadRequest)
	}
	params.Objects = objects

	if _, err := h.registry.Update(ctx, location, params); err != nil {
		if errors.Is(err, ErrNotFound) {
			return coap.Reply(codes.NotFound)
		}
		return coap.Reply(codes.InternalServerError)
	}
	return coap.Reply(codes.Changed)
}

func (h *Handler) deregister(ctx context.Context, location string) *coap.Response {
	if err := h.registry.Deregister(ctx, location); err != nil {
		return coap.Reply(codes.NotFound)
	}
	return coap.Reply(codes.Deleted)
}

func (h *Handler) send(ctx context.Context, req *coap.Request) *coap.Response {
	if req.ContentFormat != lwm2m.ContentFormatSenMLJSON && req.ContentFormat != lwm2m.ContentFormatSenMLCBOR {
		return coap.Reply(codes.UnsupportedMediaType)
	}

	ep, err := h.registry.FindByAddress(req.RemoteAddr)
	if err != nil {
		h.logger.Warn("send from unregistered peer", "remote", req.RemoteAddr)
		return coap.Reply(codes.NotFound)
	}

	updates, err := lwm2m.UnmarshalUpdates(req.Body, req.ContentFormat)
	if err != nil {
		h.logger.Warn("malformed send payload", "endpoint", ep.Name, "error", err)
		return coap.Reply(codes.BadRequest)
	}

	if _, err := h.registry.Send(ctx, ep, updates); err != nil {
		return coap.Reply(codes.BadRequest)
	}
	return coap.Reply(codes.Changed)
}

// parseQueries splits "k=v" Uri-Query strings. Flags without "=" map to "".
func parseQueries(queries []string) map[string]string {
	out := make(map[string]string, len(queries))
	for _, q := range queries {
		k, v, _ := strings.Cut(q, "=")
		out[k] = v
	}
	return out
}

func parseLifetime(raw string) (time.Duration, error) {
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, ErrInvalidRegistration
	}
	return time.Duration(secs) * time.Second, nil
}
