package discovery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
)

// SSDP constants.
const (
	SearchTarget = "urn:8devices-com:service:lwm2m:1"
	DefaultGroup = "[ff05::c]:1900"

	searchRequestLine = "M-SEARCH * HTTP/1.1"
	maxDatagram       = 1024
)

// Logger defines the logging interface used by the Responder.
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

// Responder answers SSDP M-SEARCH requests for the LwM2M gateway service.
type Responder struct {
	group    *net.UDPAddr
	iface    string
	response []byte
	logger   Logger

	mu      sync.Mutex
	running bool
	conn    net.PacketConn
	done    chan struct{}
	wg      sync.WaitGroup

	answered atomic.Uint64
}

// NewResponder creates a Responder for cfg. The USN is derived from
// gatewayName so it is stable across restarts.
func NewResponder(cfg config.SSDPConfig, gatewayName string) (*Responder, error) {
	groupAddr := cfg.Group
	if groupAddr == "" {
		groupAddr = DefaultGroup
	}

	group, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGroup, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not multicast", ErrInvalidGroup, groupAddr)
	}

	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("lwm2m-gateway:"+gatewayName))

	return &Responder{
		group:    group,
		iface:    cfg.Interface,
		response: buildResponse(id),
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger for the responder.
func (r *Responder) SetLogger(logger Logger) {
	r.logger = logger
}

// Group returns the multicast group the responder joins.
func (r *Responder) Group() *net.UDPAddr {
	return r.group
}

// Answered returns how many searches have been answered.
func (r *Responder) Answered() uint64 {
	return r.answered.Load()
}

// Start binds the SSDP port, joins the multicast group and serves until
// ctx is cancelled or Stop is called.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	network := "udp6"
	if r.group.IP.To4() != nil {
		network = "udp4"
	}

	conn, err := net.ListenPacket(network, fmt.Sprintf(":%d", r.group.Port))
	if err != nil {
		return fmt.Errorf("binding ssdp port: %w", err)
	}

	if err := r.joinGroup(conn); err != nil {
		conn.Close()
		return err
	}

	r.conn = conn
	r.done = make(chan struct{})
	r.running = true

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := r.Serve(conn); err != nil {
			r.logger.Error("ssdp responder stopped", "error", err)
		}
	}()
	go func(done chan struct{}) {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}(r.done)

	r.logger.Info("ssdp responder started", "group", r.group.String(), "st", SearchTarget)
	return nil
}

// Stop closes the socket and waits for the serve loop to exit.
func (r *Responder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.conn.Close()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("ssdp responder stopped")
}

// joinGroup joins the group on the configured interface, or on every
// multicast-capable interface that is up.
func (r *Responder) joinGroup(conn net.PacketConn) error {
	ifaces, err := r.interfaces()
	if err != nil {
		return err
	}

	group := &net.UDPAddr{IP: r.group.IP}
	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if r.group.IP.To4() != nil {
			err = ipv4.NewPacketConn(conn).JoinGroup(ifi, group)
		} else {
			err = ipv6.NewPacketConn(conn).JoinGroup(ifi, group)
		}
		if err != nil {
			r.logger.Debug("ssdp join failed", "interface", ifi.Name, "error", err)
			continue
		}
		joined++
	}

	if joined == 0 {
		return ErrNoInterface
	}
	return nil
}

func (r *Responder) interfaces() ([]net.Interface, error) {
	if r.iface != "" {
		ifi, err := net.InterfaceByName(r.iface)
		if err != nil {
			return nil, fmt.Errorf("ssdp interface %q: %w", r.iface, err)
		}
		return []net.Interface{*ifi}, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	var usable []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			usable = append(usable, ifi)
		}
	}
	return usable, nil
}

// Serve reads datagrams from conn and answers matching searches until
// conn is closed. A closed connection is a clean exit.
func (r *Responder) Serve(conn net.PacketConn) error {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading ssdp datagram: %w", err)
		}

		if !IsSearch(buf[:n]) {
			continue
		}

		if _, err := conn.WriteTo(r.response, addr); err != nil {
			r.logger.Warn("ssdp reply failed", "peer", addr.String(), "error", err)
			continue
		}
		r.answered.Add(1)
		r.logger.Debug("ssdp search answered", "peer", addr.String())
	}
}

// IsSearch reports whether msg is an M-SEARCH for the gateway service.
func IsSearch(msg []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(msg))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != searchRequestLine {
		return false
	}

	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "ST") && strings.TrimSpace(value) == SearchTarget {
			return true
		}
	}
	return false
}

func buildResponse(id uuid.UUID) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("CACHE-CONTROL: max-age=1800\r\n")
	b.WriteString("EXT:\r\n")
	b.WriteString("LOCATION: *\r\n")
	b.WriteString("SERVER: OS/0.1 UPnP/1.0 X/0.1\r\n")
	b.WriteString("ST: " + SearchTarget + "\r\n")
	b.WriteString("USN: uuid:" + id.String() + "::" + SearchTarget + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}
