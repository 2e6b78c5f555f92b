package coap

import (
	"context"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// NoContentFormat marks a message without a Content-Format option.
const NoContentFormat = -1

// Request is an inbound CoAP request, decoded from the wire so handlers
// never touch go-coap types beyond response codes.
type Request struct {
	Code          codes.Code
	Path          string
	Queries       []string
	ContentFormat int
	Body          []byte

	// RemoteAddr identifies the peer; LwM2M uses it to match Send
	// requests to a registration.
	RemoteAddr string
}

// Response is a CoAP response.
type Response struct {
	Code          codes.Code
	ContentFormat int
	Body          []byte
	LocationPath  []string
}

// Handler serves CoAP requests.
type Handler interface {
	ServeCoAP(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// ServeCoAP calls f.
func (f HandlerFunc) ServeCoAP(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Reply returns a response carrying only a code.
func Reply(code codes.Code) *Response {
	return &Response{Code: code, ContentFormat: NoContentFormat}
}

// locationPath collects the Location-Path segments of a response.
func locationPath(opts message.Options) []string {
	var segments []string
	for _, o := range opts {
		if o.ID == message.LocationPath {
			segments = append(segments, string(o.Value))
		}
	}
	return segments
}

// queryOptions turns "k=v" strings into Uri-Query options.
func queryOptions(queries []string) []message.Option {
	opts := make([]message.Option, 0, len(queries))
	for _, q := range queries {
		opts = append(opts, message.Option{ID: message.URIQuery, Value: []byte(q)})
	}
	return opts
}
