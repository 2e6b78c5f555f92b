package coap

import (
	"context"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

func TestHandlerFunc(t *testing.T) {
	var got *Request
	h := HandlerFunc(func(_ context.Context, req *Request) *Response {
		got = req
		return Reply(codes.Changed)
	})

	resp := h.ServeCoAP(context.Background(), &Request{Path: "/rd"})
	if got == nil || got.Path != "/rd" {
		t.Errorf("handler saw %+v", got)
	}
	if resp.Code != codes.Changed || resp.ContentFormat != NoContentFormat {
		t.Errorf("Reply() = %+v", resp)
	}
}

func TestLocationPath(t *testing.T) {
	opts := message.Options{
		{ID: message.LocationPath, Value: []byte("rd")},
		{ID: message.ContentFormat, Value: []byte{40}},
		{ID: message.LocationPath, Value: []byte("5a3f")},
	}

	got := locationPath(opts)
	if len(got) != 2 || got[0] != "rd" || got[1] != "5a3f" {
		t.Errorf("locationPath() = %v, want [rd 5a3f]", got)
	}
}

func TestQueryOptions(t *testing.T) {
	opts := queryOptions([]string{"ep=test", "lt=600"})
	if len(opts) != 2 {
		t.Fatalf("len = %d, want 2", len(opts))
	}
	for i, want := range []string{"ep=test", "lt=600"} {
		if opts[i].ID != message.URIQuery || string(opts[i].Value) != want {
			t.Errorf("opts[%d] = %v", i, opts[i])
		}
	}
}
