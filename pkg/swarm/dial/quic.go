package dial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICTransport dials and listens over QUIC, the swarm's primary
// transport: cheaper connection setup across NAT and built-in stream
// multiplexing if a peer ever needs more than one concurrent fetch.
type QUICTransport struct{}

// NewQUIC returns a QUIC Transport.
func NewQUIC() Transport { return &QUICTransport{} }

func (t *QUICTransport) Name() string     { return "quic" }
func (t *QUICTransport) DefaultPort() int { return DefaultSwarmPort }

func (t *QUICTransport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: resolve UDP address: %w", err)
	}
	cfg := cloneTLS(tlsConfig)

	listener, err := quic.ListenAddr(udpAddr.String(), cfg, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: create QUIC listener: %w", err)
	}
	return &quicListener{listener: listener}, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := cloneTLS(tlsConfig)

	conn, err := quic.DialAddr(ctx, addr, cfg, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: dial QUIC connection: %w", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("dial: open QUIC stream: %w", err)
	}
	return &quicConn{connection: conn, stream: stream}, nil
}

func cloneTLS(tlsConfig *tls.Config) *tls.Config {
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{alpnProtocol}
	}
	return cfg
}

type quicListener struct {
	listener *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to accept stream")
		return nil, fmt.Errorf("dial: accept QUIC stream: %w", err)
	}
	return &quicConn{connection: conn, stream: stream}, nil
}

func (l *quicListener) Close() error    { return l.listener.Close() }
func (l *quicListener) Addr() net.Addr  { return l.listener.Addr() }

type quicConn struct {
	connection *quic.Conn
	stream     *quic.Stream
}

func (c *quicConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *quicConn) Write(b []byte) (int, error) { return c.stream.Write(b) }

func (c *quicConn) Close() error {
	if err := c.stream.Close(); err != nil {
		c.connection.CloseWithError(0, "stream close error")
		return err
	}
	return c.connection.CloseWithError(0, "normal close")
}

func (c *quicConn) LocalAddr() net.Addr  { return c.connection.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.connection.RemoteAddr() }

func (c *quicConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *quicConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
