package dial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TCPTransport is the fallback used when a peer's network blocks the
// UDP traffic QUIC needs.
type TCPTransport struct{}

// NewTCP returns a TCP+TLS Transport.
func NewTCP() Transport { return &TCPTransport{} }

func (t *TCPTransport) Name() string     { return "tcp" }
func (t *TCPTransport) DefaultPort() int { return DefaultSwarmPort }

func (t *TCPTransport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: resolve TCP address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial: create TCP listener: %w", err)
	}

	cfg := cloneTLS(tlsConfig)
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}
	return &tcpListener{listener: listener, tlsConfig: cfg}, nil
}

func (t *TCPTransport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := cloneTLS(tlsConfig)
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial: dial TCP+TLS connection: %w", err)
	}
	return &tcpConn{conn: conn}, nil
}

type tcpListener struct {
	listener  *net.TCPListener
	tlsConfig *tls.Config
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = l.listener.SetDeadline(deadline)
	}
	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Server(tcpConn, l.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("dial: TLS handshake failed: %w", err)
	}
	return &tcpConn{conn: tlsConn}, nil
}

func (l *tcpListener) Close() error   { return l.listener.Close() }
func (l *tcpListener) Addr() net.Addr { return l.listener.Addr() }

type tcpConn struct {
	conn *tls.Conn
}

func (c *tcpConn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *tcpConn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *tcpConn) Close() error                { return c.conn.Close() }

func (c *tcpConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *tcpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *tcpConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *tcpConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *tcpConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
