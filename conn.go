package ftp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// withDeadlines wraps conn so every Read and Write is bounded by timeout.
func withDeadlines(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &deadlineConn{Conn: conn, timeout: timeout}
}

// netError maps a socket error onto ErrTimeout or ErrConnectionClosed.
// Errors that are neither are returned unchanged.
func netError(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// isConnectionLevel reports whether err means the control channel is unusable.
func isConnectionLevel(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBindFailed)
}
