package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// hostPortRegex matches the first comma-separated run of numbers in a PASV
// reply, e.g. "227 Entering Passive Mode (192,168,1,1,195,149)".
var hostPortRegex = regexp.MustCompile(`\d+(,\d+)+`)

// EncodeHostPort renders an IPv4 address and port as the PORT/PASV argument
// "h1,h2,h3,h4,p1,p2" with p1 = port/256 and p2 = port%256.
func EncodeHostPort(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("%w: PORT requires an IPv4 address, got %s", ErrBindFailed, ip)
	}
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port/256, port%256), nil
}

// DecodeHostPort extracts the address announced in a PASV reply. The first
// comma-separated run of integers must have exactly six values in 0-255.
func DecodeHostPort(text string) (net.IP, int, error) {
	match := hostPortRegex.FindString(text)
	if match == "" {
		return nil, 0, fmt.Errorf("%w: no address in %q", ErrInvalidAddress, text)
	}

	parts := strings.Split(match, ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("%w: expected 6 values in %q, got %d", ErrInvalidAddress, match, len(parts))
	}

	var v [6]byte
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return nil, 0, fmt.Errorf("%w: value %q out of range", ErrInvalidAddress, p)
		}
		v[i] = byte(n)
	}

	return net.IPv4(v[0], v[1], v[2], v[3]).To4(), int(v[4])*256 + int(v[5]), nil
}

// resolveDataAddr resolves the data connection address.
// If the PASV response contains 0.0.0.0, it replaces it with the control connection host.
func resolveDataAddr(ip net.IP, port int, controlHost string) string {
	host := ip.String()
	if ip.IsUnspecified() && controlHost != "" {
		host = controlHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// dataBinding is a negotiated, not yet used, data channel: a listener the
// server will connect to (active) or an address to dial (passive). It is
// consumed by exactly one LIST, RETR or STOR.
type dataBinding struct {
	mode     DataMode
	listener *net.TCPListener
	addr     string
	timeout  time.Duration
	dialer   *net.Dialer
}

// open establishes the data connection. An active binding accepts exactly
// one connection and always releases its listener; a passive binding dials
// the announced address.
func (b *dataBinding) open(ctx context.Context) (net.Conn, error) {
	if b.mode == ActiveMode {
		defer b.listener.Close()
		if b.timeout > 0 {
			_ = b.listener.SetDeadline(time.Now().Add(b.timeout))
		}
		stop := context.AfterFunc(ctx, func() {
			_ = b.listener.SetDeadline(time.Now())
		})
		defer stop()

		conn, err := b.listener.Accept()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			return nil, fmt.Errorf("accepting data connection: %w", netError(err))
		}
		return withDeadlines(conn, b.timeout), nil
	}

	conn, err := b.dialer.DialContext(ctx, "tcp4", b.addr)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("connecting to data port %s: %w", b.addr, netError(err))
	}
	return withDeadlines(conn, b.timeout), nil
}

// Close releases an unused binding.
func (b *dataBinding) Close() error {
	if b == nil || b.listener == nil {
		return nil
	}
	return b.listener.Close()
}

// closeData closes a data connection together with whatever binding produced
// it and reports every failure.
func closeData(conn net.Conn, b *dataBinding) error {
	var result *multierror.Error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing data connection: %w", err))
		}
	}
	if err := b.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("closing data listener: %w", err))
	}
	return result.ErrorOrNil()
}

// SetActiveMode opens a local listener and announces it with PORT. The
// binding is used by the next LIST, RETR or STOR.
//
// The listener binds the control connection's local IPv4 address, falling
// back to all interfaces. When neither can be bound the session is reset
// to Disconnected and ErrBindFailed is returned. A rejected PORT closes the
// listener and leaves the state unchanged.
func (s *Session) SetActiveMode() (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, resp, err := s.bindActiveLocked()
	if err != nil {
		if resp == nil && !errors.Is(err, ErrBindFailed) {
			s.transcript.system("%v", err)
		}
		return resp, err
	}
	s.replacePendingLocked(b)
	s.setState(StateActive)
	s.mode = ActiveMode
	return resp, nil
}

func (s *Session) bindActiveLocked() (*dataBinding, *Response, error) {
	if s.conn == nil {
		return nil, nil, ErrNotConnected
	}

	var ip net.IP
	if local, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		ip = local.IP.To4()
	}
	if ip == nil {
		return nil, nil, s.dropLocked(fmt.Errorf("%w: control connection has no local IPv4 address", ErrBindFailed))
	}

	var listener *net.TCPListener
	var lastErr error
	for _, addr := range []net.IP{ip, net.IPv4zero} {
		listener, lastErr = s.listen("tcp4", &net.TCPAddr{IP: addr})
		if lastErr == nil {
			break
		}
	}
	if listener == nil {
		return nil, nil, s.dropLocked(fmt.Errorf("%w: %w", ErrBindFailed, lastErr))
	}

	port := listener.Addr().(*net.TCPAddr).Port
	arg, err := EncodeHostPort(ip, port)
	if err != nil {
		listener.Close()
		return nil, nil, err
	}

	resp, err := s.exchangeLocked("PORT", arg)
	if err != nil {
		listener.Close()
		return nil, nil, err
	}
	if resp.IsNegative() {
		listener.Close()
		return nil, resp, newProtocolError("PORT", resp)
	}

	s.logger.Debug("active data channel bound", "addr", listener.Addr().String())
	return &dataBinding{
		mode:     ActiveMode,
		listener: listener,
		timeout:  s.timeout,
	}, resp, nil
}

// SetPassiveMode sends PASV and records the announced address for the next
// LIST, RETR or STOR. A reply whose address cannot be decoded fails with
// ErrInvalidAddress and leaves the state unchanged.
func (s *Session) SetPassiveMode() (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, resp, err := s.bindPassiveLocked()
	if err != nil {
		if resp != nil && errors.Is(err, ErrInvalidAddress) {
			s.transcript.system("%v", err)
		}
		return resp, err
	}
	s.replacePendingLocked(b)
	s.setState(StatePassive)
	s.mode = PassiveMode
	return resp, nil
}

func (s *Session) bindPassiveLocked() (*dataBinding, *Response, error) {
	resp, err := s.exchangeLocked("PASV")
	if err != nil {
		return nil, nil, err
	}
	if resp.IsNegative() {
		return nil, resp, newProtocolError("PASV", resp)
	}

	ip, port, err := DecodeHostPort(resp.Message)
	if err != nil {
		return nil, resp, err
	}

	return &dataBinding{
		mode:    PassiveMode,
		addr:    resolveDataAddr(ip, port, s.host),
		timeout: s.timeout,
		dialer:  s.dialer,
	}, resp, nil
}

// bindLocked negotiates a data channel in mode without touching the
// caller's pending binding or the session state.
func (s *Session) bindLocked(mode DataMode) (*dataBinding, error) {
	var b *dataBinding
	var err error
	if mode == ActiveMode {
		b, _, err = s.bindActiveLocked()
	} else {
		b, _, err = s.bindPassiveLocked()
	}
	return b, err
}

// renewPendingLocked re-announces the caller's pending binding after a
// managed transfer made the server forget it. The server keeps only the
// latest PORT or PASV.
func (s *Session) renewPendingLocked() {
	if s.pending == nil || s.conn == nil {
		return
	}
	mode := s.pending.mode
	s.replacePendingLocked(nil)

	b, err := s.bindLocked(mode)
	if err != nil {
		s.transcript.system("renewing %s data channel: %v", mode, err)
		if s.conn != nil {
			s.restoreBaseline()
		}
		return
	}
	s.pending = b
}

func (s *Session) replacePendingLocked(b *dataBinding) {
	if s.pending != nil {
		_ = s.pending.Close()
	}
	s.pending = b
}

// takePendingLocked hands the pending binding to a data command.
func (s *Session) takePendingLocked() *dataBinding {
	b := s.pending
	s.pending = nil
	return b
}
