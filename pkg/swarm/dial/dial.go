// Package dial provides the transport abstraction swarm peers use to
// reach each other: QUIC by default, with a TCP+TLS fallback for
// networks that block UDP.
package dial

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// DefaultSwarmPort is used by both transports unless a peer address
// overrides it.
const DefaultSwarmPort = 7420

// alpnProtocol is negotiated over TLS so a listener can tell a swarm
// connection apart from unrelated traffic sharing the port.
const alpnProtocol = "vecstore-swarm/1"

// Transport dials or listens for connections to other swarm peers.
type Transport interface {
	Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error)
	Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)
	Name() string
	DefaultPort() int
}

// Listener accepts incoming peer connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Conn is a byte stream to one peer, carrying length-prefixed wire
// frames in both directions.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Config groups dial timeouts. QUICTransport and TCPTransport do not
// take a Config; each sets its own timeouts in code.
type Config struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxIdleTimeout time.Duration
}

// DefaultConfig returns the dial timeouts used when a caller doesn't
// override them.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		KeepAlive:      30 * time.Second,
		MaxIdleTimeout: 5 * time.Minute,
	}
}

// Registry looks transports up by name so a dialer can try QUIC first
// and fall back to TCP without hardcoding either.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds a transport under name, replacing any prior entry.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Get looks up a transport by name.
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.transports[name]
	return t, ok
}

// List returns the names of every registered transport.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}
