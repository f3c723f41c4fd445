package ftp

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/ftpdesk/ftpdesk/internal/ratelimit"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the timeout for connection and operations.
// It bounds the TCP connect, every reply wait, the accept of an active data
// connection and every data-channel read or write. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		if timeout < 0 {
			return errors.New("timeout must not be negative")
		}
		s.timeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending NOOP keep-alive.
// If the connection is idle for longer than this duration, a NOOP command
// will be sent automatically to prevent the server from closing the connection.
// No NOOP is sent while a command or a transfer holds the control connection.
//
// Example:
//
//	s, _ := ftp.Dial("192.168.1.10:21",
//	    ftp.WithIdleTimeout(5*time.Minute),
//	)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.idleTimeout = timeout
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and responses will be logged at debug level.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := ftp.Dial("192.168.1.10:21", ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
// This can be used to configure source addresses, keep-alive settings, etc.
func WithDialer(dialer *net.Dialer) Option {
	return func(s *Session) error {
		if dialer == nil {
			return errors.New("dialer must not be nil")
		}
		s.dialer = dialer
		return nil
	}
}

// WithActiveMode makes Download and Upload negotiate their data channels
// with PORT instead of PASV. The client opens a port and the server connects
// to it, which may not work behind NAT/firewalls.
func WithActiveMode() Option {
	return func(s *Session) error {
		s.mode = ActiveMode
		return nil
	}
}

// WithLocalDir sets the directory relative local paths of Download and
// Upload are resolved against.
func WithLocalDir(dir string) Option {
	return func(s *Session) error {
		s.localDir = dir
		return nil
	}
}

// WithBandwidthLimit throttles every data connection to bytesPerSecond.
// Zero means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		if bytesPerSecond < 0 {
			return errors.New("bandwidth limit must not be negative")
		}
		s.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithCustomListParser adds a custom directory listing parser.
// Custom parsers are tried before the built-in parsers (Unix, DOS).
// This allows handling non-standard LIST formats.
func WithCustomListParser(parser ListingParser) Option {
	return func(s *Session) error {
		// Prepend the custom parser so it has priority
		s.parsers = append([]ListingParser{parser}, s.parsers...)
		return nil
	}
}

// WithTranscript registers fn to receive every status line as it is
// recorded. fn runs on the goroutine that produced the line and must not
// call back into the Session.
func WithTranscript(fn func(StatusLine)) Option {
	return func(s *Session) error {
		s.transcript.hook = fn
		return nil
	}
}

// WithProgress registers fn to receive a snapshot of a managed transfer
// after every chunk and once more when the activation ends.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) error {
		s.progress = fn
		return nil
	}
}
