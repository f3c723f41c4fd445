package ftp

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftpdesk/ftpdesk/internal/ratelimit"
)

// Session owns one FTP control connection and everything negotiated on it:
// the login state, the pending data-channel binding, and the registry of
// transfers started through it.
//
// All command/reply exchanges are serialized on the control connection.
// Transfers started with Download or Upload run on their own goroutines and
// take turns on the control connection for the whole
// negotiate/command/stream/completion sequence; their data sockets are
// independent.
type Session struct {
	// conn is the underlying network connection (control channel)
	conn net.Conn

	// reader is a buffered reader for the control channel
	reader *bufio.Reader

	// host is the IPv4 address the control connection was made to
	host string

	// timeout bounds every reply wait, data accept and data read/write
	timeout time.Duration

	// idleTimeout is the maximum time to wait before sending NOOP to keep connection alive
	// If zero, no automatic keep-alive is performed
	idleTimeout time.Duration

	// logger is used for debug logging
	logger *slog.Logger

	// dialer is used to establish control and passive data connections
	dialer *net.Dialer

	// listen opens the local listener of an active data channel
	listen func(network string, laddr *net.TCPAddr) (*net.TCPListener, error)

	// parsers stores the list of directory listing parsers
	parsers []ListingParser

	// mode is the data mode used by managed transfers
	mode DataMode

	// localDir resolves relative local paths of managed transfers
	localDir string

	// limiter throttles data connections when a bandwidth limit is set
	limiter *ratelimit.Limiter

	// progress is notified after every chunk of a managed transfer
	progress ProgressFunc

	// pending is the binding negotiated by SetActiveMode/SetPassiveMode,
	// consumed by the next LIST, RETR or STOR
	pending *dataBinding

	// mu serializes use of the control connection and guards the fields above
	mu sync.Mutex

	// state is readable without mu so status queries never wait on a transfer
	state atomic.Int32

	// baseline is the last state outside a data mode, restored after each
	// data exchange
	baseline atomic.Int32

	// lastCommand tracks the time of the last command sent
	lastCommand time.Time

	// quitChan signals the keep-alive goroutine to stop
	quitChan chan struct{}

	transcript *transcript
	registry   *Registry
	tasks      sync.WaitGroup
}

// New creates a disconnected Session configured by options.
func New(options ...Option) (*Session, error) {
	s := &Session{
		timeout:    30 * time.Second,
		dialer:     &net.Dialer{},
		listen:     net.ListenTCP,
		logger:     slog.New(slog.DiscardHandler),
		parsers:    defaultParsers(),
		transcript: &transcript{},
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	s.dialer.Timeout = s.timeout
	s.registry = NewRegistry(s.logger)
	return s, nil
}

// Dial creates a Session and connects it to addr ("host:port").
//
// Example:
//
//	s, err := ftp.Dial("192.168.1.10:21", ftp.WithTimeout(10*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Quit()
func Dial(addr string, options ...Option) (*Session, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	s, err := New(options...)
	if err != nil {
		return nil, err
	}
	if _, err := s.Connect(host, port); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect opens the control connection and reads the greeting.
//
// host must be a dotted-quad IPv4 literal and port a decimal number in
// 0-65535; otherwise ErrInvalidAddress is returned.
// A refused or unreachable endpoint fails with ErrConnectFailed. The session
// stays Disconnected on any failure.
func (s *Session) Connect(host, port string) (*Response, error) {
	addr, err := s.resolve(host, port)
	if err != nil {
		s.transcript.system("%v", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, ErrAlreadyConnected
	}

	s.logger.Debug("connecting to ftp server", "addr", addr)
	conn, err := s.dialer.Dial("tcp4", addr)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		s.transcript.system("%v", err)
		return nil, err
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.host, _, _ = net.SplitHostPort(addr)

	// Read the greeting; a failure here already reset the session.
	resp, err := s.readReplyLocked()
	if err != nil {
		return nil, err
	}

	if resp.IsNegative() {
		s.closeLocked()
		return resp, newProtocolError("CONNECT", resp)
	}

	s.setState(StateConnected)
	s.lastCommand = time.Now()
	s.startKeepAliveLocked()
	return resp, nil
}

// resolve validates host and port and returns a dialable IPv4 address.
// Host names are not looked up; callers resolve them first.
func (s *Session) resolve(host, port string) (string, error) {
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return "", fmt.Errorf("%w: port %q", ErrInvalidAddress, port)
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, host)
	}
	return net.JoinHostPort(ip.To4().String(), port), nil
}

// AuthenticateUser sends USER. The state advances to StateUser whatever the
// reply; a 5xx reply is also returned as a *ProtocolError so the caller can
// stop the login sequence.
func (s *Session) AuthenticateUser(name string) (*Response, error) {
	resp, err := s.expectOK("USER", name)
	if resp != nil {
		s.setState(StateUser)
	}
	return resp, err
}

// AuthenticatePassword sends PASS. The state advances to StateAuthenticated
// whatever the reply.
func (s *Session) AuthenticatePassword(password string) (*Response, error) {
	resp, err := s.expectOK("PASS", password)
	if resp != nil {
		s.setState(StateAuthenticated)
	}
	return resp, err
}

// Login runs the USER/PASS sequence, skipping PASS when USER is answered
// with 230 and stopping at the first negative reply.
func (s *Session) Login(username, password string) error {
	resp, err := s.AuthenticateUser(username)
	if err != nil {
		return err
	}

	// If we get 230, we're already logged in (no password required)
	if resp.Code == "230" {
		s.setState(StateAuthenticated)
		return nil
	}

	_, err = s.AuthenticatePassword(password)
	return err
}

// Quit pauses running transfers, sends QUIT and releases the control
// connection. Paused transfers stay registered and can be resumed after a
// new Connect on the same Session.
func (s *Session) Quit() (*Response, error) {
	s.registry.pauseAll()
	s.tasks.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, nil
	}

	// Ignore errors, we're closing anyway
	resp, err := s.exchangeLocked("QUIT")
	s.closeLocked()
	return resp, err
}

// State returns the current control-channel state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if st != StateActive && st != StatePassive {
		s.baseline.Store(int32(st))
	}
}

// Transcript returns a copy of every status line recorded so far.
func (s *Session) Transcript() []StatusLine {
	return s.transcript.snapshot()
}

// closeLocked releases the control connection and any pending binding.
func (s *Session) closeLocked() {
	s.stopKeepAliveLocked()
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
	s.setState(StateDisconnected)
}

// dropLocked resets the session after a connection-level failure and
// returns err tagged as such.
func (s *Session) dropLocked(err error) error {
	if !isConnectionLevel(err) {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	s.closeLocked()
	s.logger.Debug("control connection dropped", "error", err)
	s.transcript.system("connection lost: %v", err)
	return err
}

// localPath resolves p against the configured local directory.
func (s *Session) localPath(p string) string {
	if p == "" || filepath.IsAbs(p) || s.localDir == "" {
		return p
	}
	return filepath.Join(s.localDir, p)
}
