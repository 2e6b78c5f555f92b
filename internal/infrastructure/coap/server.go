package coap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/mux"
	coapnet "github.com/plgd-dev/go-coap/v2/net"
	"github.com/plgd-dev/go-coap/v2/udp"
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// ServerConfig configures the UDP listener.
type ServerConfig struct {
	Host string
	Port int
}

// Server is a CoAP-over-UDP server dispatching every request to one Handler.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  Logger

	mu       sync.Mutex
	srv      *udp.Server
	listener *coapnet.UDPConn
	done     chan struct{}
}

// NewServer creates a server. Call Start to begin listening.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Start binds the UDP socket and serves in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	router := mux.NewRouter()
	router.DefaultHandleFunc(func(w mux.ResponseWriter, r *mux.Message) {
		s.serve(ctx, w, r)
	})

	s.srv = udp.NewServer(udp.WithMux(router))
	s.listener = l
	s.done = make(chan struct{})

	go func(srv *udp.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil {
			s.logger.Error("coap server stopped", "error", err)
		}
	}(s.srv, s.done)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// Close stops the server and waits for the serve loop to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, l, done := s.srv, s.listener, s.done
	s.srv, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	srv.Stop()
	err := l.Close()
	<-done
	if err != nil {
		return fmt.Errorf("closing coap listener: %w", err)
	}
	return nil
}

func (s *Server) serve(ctx context.Context, w mux.ResponseWriter, r *mux.Message) {
	req := &Request{
		Code:          r.Code,
		ContentFormat: NoContentFormat,
		RemoteAddr:    w.Client().RemoteAddr().String(),
	}
	if path, err := r.Options.Path(); err == nil {
		req.Path = path
	}
	if queries, err := r.Options.Queries(); err == nil {
		req.Queries = queries
	}
	if cf, err := r.Options.ContentFormat(); err == nil {
		req.ContentFormat = int(cf)
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.reply(w, Reply(codes.BadRequest))
			return
		}
		req.Body = body
	}

	s.logger.Debug("coap request", "code", req.Code.String(), "path", req.Path, "remote", req.RemoteAddr)

	resp := s.handler.ServeCoAP(ctx, req)
	if resp == nil {
		resp = Reply(codes.InternalServerError)
	}
	s.reply(w, resp)
}

func (s *Server) reply(w mux.ResponseWriter, resp *Response) {
	opts := make([]message.Option, 0, len(resp.LocationPath))
	for _, seg := range resp.LocationPath {
		opts = append(opts, message.Option{ID: message.LocationPath, Value: []byte(seg)})
	}

	var body io.ReadSeeker
	if len(resp.Body) > 0 {
		body = bytes.NewReader(resp.Body)
	}
	cf := message.TextPlain
	if resp.ContentFormat != NoContentFormat {
		cf = message.MediaType(resp.ContentFormat)
	}

	if err := w.SetResponse(resp.Code, cf, body, opts...); err != nil {
		s.logger.Error("writing coap response", "error", err)
	}
}
