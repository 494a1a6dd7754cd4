package moq

import (
	"context"
	"crypto/tls"
	"io"

	"github.com/quic-go/quic-go"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/internal/logger"
)

// Stream is the bidirectional control stream.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Conn is the subset of a QUIC connection the session uses.
type Conn interface {
	OpenStreamSync(ctx context.Context) (Stream, error)
	AcceptUniStream(ctx context.Context) (io.ReadCloser, error)
	CloseWithError(code uint64, reason string) error
}

type quicConn struct {
	conn quic.Connection
}

// NewQUICConn adapts a quic-go connection.
func NewQUICConn(conn quic.Connection) Conn {
	return &quicConn{conn: conn}
}

func (c *quicConn) OpenStreamSync(ctx context.Context) (Stream, error) {
	return c.conn.OpenStreamSync(ctx)
}

func (c *quicConn) AcceptUniStream(ctx context.Context) (io.ReadCloser, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &receiveStream{s}, nil
}

func (c *quicConn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// receiveStream closes by cancelling the read side.
type receiveStream struct {
	quic.ReceiveStream
}

func (s *receiveStream) Close() error {
	s.CancelRead(0)
	return nil
}

// Dial connects to the relay at cfg.Addr and completes the MoQ setup
// handshake.
func Dial(ctx context.Context, cfg config.TransportConfig, log logger.Logger) (*Session, error) {
	tlsConf := &tls.Config{
		NextProtos:         []string{cfg.ALPN},
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed dev relays
		MinVersion:         tls.VersionTLS13,
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:  cfg.MaxIdleTimeout,
		KeepAlivePeriod: cfg.KeepAlivePeriod,
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	conn, err := quic.DialAddr(dialCtx, cfg.Addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"addr": cfg.Addr,
		"alpn": cfg.ALPN,
	}).Info("Connected to relay")

	sess, err := NewSession(dialCtx, NewQUICConn(conn), log)
	if err != nil {
		_ = conn.CloseWithError(0, "setup failed")
		return nil, err
	}
	return sess, nil
}
