package coap

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/udp"
	"github.com/plgd-dev/go-coap/v2/udp/client"
)

// Conn is an outbound CoAP-over-UDP connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Conn struct {
	cc *client.ClientConn
}

// Dial opens a connection to address ("host:port"). UDP is connectionless,
// so an unreachable peer surfaces on the first request, not here.
func Dial(_ context.Context, address string) (*Conn, error) {
	cc, err := udp.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	return &Conn{cc: cc}, nil
}

// Post sends a confirmable POST with the given Uri-Query strings and body.
func (c *Conn) Post(ctx context.Context, path string, queries []string, contentFormat int, body []byte) (*Response, error) {
	cf := message.MediaType(contentFormat)
	if contentFormat == NoContentFormat {
		cf = message.TextPlain
	}

	resp, err := c.cc.Post(ctx, path, cf, bytes.NewReader(body), queryOptions(queries)...)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %w", ErrRequestFailed, path, err)
	}

	out := &Response{
		Code:          resp.Code(),
		ContentFormat: NoContentFormat,
		LocationPath:  locationPath(resp.Options()),
	}
	if mt, err := resp.Options().ContentFormat(); err == nil {
		out.ContentFormat = int(mt)
	}
	if b, err := resp.ReadBody(); err == nil {
		out.Body = b
	}
	return out, nil
}

// Delete sends a confirmable DELETE.
func (c *Conn) Delete(ctx context.Context, path string) (*Response, error) {
	resp, err := c.cc.Delete(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: DELETE %s: %w", ErrRequestFailed, path, err)
	}
	return &Response{Code: resp.Code(), ContentFormat: NoContentFormat}, nil
}

// Close releases the connection.
func (c *Conn) Close() error {
	if err := c.cc.Close(); err != nil && err != io.EOF {
		return fmt.Errorf("closing coap connection: %w", err)
	}
	return nil
}
