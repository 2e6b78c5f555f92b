// Package coap wraps github.com/plgd-dev/go-coap/v2 for the gateway.
//
// The server routes every request to a single Handler with go-coap
// messages already decoded into Request values, which keeps LwM2M logic
// testable without sockets. Conn is the matching client used by the
// emulated device.
//
// Usage:
//
//	srv := coap.NewServer(coap.ServerConfig{Port: 5683}, handler)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Close()
package coap
