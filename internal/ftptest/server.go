// Package ftptest provides a scripted in-process FTP server for tests.
//
// The server keeps its files in memory, speaks the subset of RFC 959 the
// client uses (USER, PASS, SYST, TYPE, PWD, CWD, MKD, RMD, DELE, RNFR, RNTO,
// REST, PORT, PASV, LIST, RETR, STOR, NOOP, QUIT) and records every command
// line it receives so tests can assert on ordering.
package ftptest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// dataTimeout bounds every wait for a data connection.
const dataTimeout = 5 * time.Second

// Server is an in-memory FTP server listening on 127.0.0.1.
type Server struct {
	ln net.Listener

	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]bool
	commands  []string
	overrides map[string][]string
	greeting  []string
	stallAt   int64
	noConnect bool
	conns     map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ftptest: listen: %v", err)
	}

	s := &Server{
		ln:        ln,
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		overrides: make(map[string][]string),
		greeting:  []string{"220-Welcome to ftptest", "220 Service ready"},
		stallAt:   -1,
		conns:     make(map[net.Conn]struct{}),
	}

	s.wg.Go(s.serve)
	t.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.Addr())
	return port
}

// Close stops the server and drops every open connection.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Commands returns every command line received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// Verbs returns the verbs of Commands, without arguments.
func (s *Server) Verbs() []string {
	cmds := s.Commands()
	verbs := make([]string, len(cmds))
	for i, c := range cmds {
		verbs[i], _, _ = strings.Cut(c, " ")
	}
	return verbs
}

// PutFile stores a remote file. Relative names live under "/".
func (s *Server) PutFile(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[clean("/", name)] = slices.Clone(data)
}

// File returns the content of a remote file.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[clean("/", name)]
	return slices.Clone(data), ok
}

// MakeDir creates a remote directory.
func (s *Server) MakeDir(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[clean("/", name)] = true
}

// SetGreeting replaces the greeting sent to new connections. Each line is
// sent verbatim.
func (s *Server) SetGreeting(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting = lines
}

// Reply makes the server answer verb with lines, sent verbatim, instead of
// running its normal handler.
func (s *Server) Reply(verb string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[strings.ToUpper(verb)] = lines
}

// StallRetrieve makes the next RETR send n bytes and then wait until the
// client closes the data connection, answering 426. It applies once.
func (s *Server) StallRetrieve(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallAt = n
}

// NeverConnect makes data commands in active mode answer 150 without
// connecting to the client, followed by 425.
func (s *Server) NeverConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noConnect = true
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Go(func() {
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			newSession(s, conn).run()
		})
	}
}

func (s *Server) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

func (s *Server) override(verb string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, ok := s.overrides[verb]
	return lines, ok
}

func clean(cwd, name string) string {
	if !strings.HasPrefix(name, "/") {
		name = path.Join(cwd, name)
	}
	return path.Clean(name)
}

// session is one control connection.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader

	cwd        string
	restart    int64
	renameFrom string
	activeAddr string
	pasv       *net.TCPListener
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		reader: bufio.NewReader(conn),
		cwd:    "/",
	}
}

func (c *session) run() {
	defer c.closePassive()

	c.srv.mu.Lock()
	greeting := slices.Clone(c.srv.greeting)
	c.srv.mu.Unlock()
	c.raw(greeting)

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		c.srv.record(line)

		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		if lines, ok := c.srv.override(verb); ok {
			if isDataVerb(verb) {
				c.closePassive()
			}
			c.raw(lines)
			continue
		}

		if verb == "QUIT" {
			c.reply(221, "Goodbye.")
			return
		}
		c.handle(verb, arg)
	}
}

func isDataVerb(verb string) bool {
	return verb == "LIST" || verb == "RETR" || verb == "STOR"
}

func (c *session) reply(code int, msg string) {
	fmt.Fprintf(c.conn, "%d %s\r\n", code, msg)
}

func (c *session) raw(lines []string) {
	for _, l := range lines {
		fmt.Fprintf(c.conn, "%s\r\n", l)
	}
}

func (c *session) handle(verb, arg string) {
	srv := c.srv
	switch verb {
	case "USER":
		c.reply(331, "Password required for "+arg+".")
	case "PASS":
		if arg == "bad" {
			c.reply(530, "Login incorrect.")
			return
		}
		c.reply(230, "User logged in.")
	case "SYST":
		c.reply(215, "UNIX Type: L8")
	case "TYPE":
		c.reply(200, "Type set to "+arg+".")
	case "NOOP":
		c.reply(200, "NOOP ok.")
	case "PWD":
		c.reply(257, strconv.Quote(c.cwd)+" is the current directory")
	case "CWD":
		p := clean(c.cwd, arg)
		srv.mu.Lock()
		ok := srv.dirs[p]
		srv.mu.Unlock()
		if !ok {
			c.reply(550, arg+": No such directory.")
			return
		}
		c.cwd = p
		c.reply(250, "CWD command successful.")
	case "MKD":
		p := clean(c.cwd, arg)
		srv.mu.Lock()
		_, isFile := srv.files[p]
		exists := srv.dirs[p] || isFile
		if !exists {
			srv.dirs[p] = true
		}
		srv.mu.Unlock()
		if exists {
			c.reply(550, arg+": File exists")
			return
		}
		c.reply(257, strconv.Quote(p)+" directory created")
	case "RMD":
		p := clean(c.cwd, arg)
		srv.mu.Lock()
		ok := srv.dirs[p] && p != "/"
		if ok {
			delete(srv.dirs, p)
		}
		srv.mu.Unlock()
		if !ok {
			c.reply(550, arg+": No such directory.")
			return
		}
		c.reply(250, "RMD command successful.")
	case "DELE":
		p := clean(c.cwd, arg)
		srv.mu.Lock()
		_, ok := srv.files[p]
		delete(srv.files, p)
		srv.mu.Unlock()
		if !ok {
			c.reply(550, arg+": No such file.")
			return
		}
		c.reply(250, "DELE command successful.")
	case "RNFR":
		p := clean(c.cwd, arg)
		srv.mu.Lock()
		_, isFile := srv.files[p]
		ok := isFile || srv.dirs[p]
		srv.mu.Unlock()
		if !ok {
			c.reply(550, arg+": No such file or directory.")
			return
		}
		c.renameFrom = p
		c.reply(350, "Ready for RNTO.")
	case "RNTO":
		if c.renameFrom == "" {
			c.reply(503, "Bad sequence of commands.")
			return
		}
		from, to := c.renameFrom, clean(c.cwd, arg)
		c.renameFrom = ""
		srv.mu.Lock()
		if data, ok := srv.files[from]; ok {
			delete(srv.files, from)
			srv.files[to] = data
		} else {
			delete(srv.dirs, from)
			srv.dirs[to] = true
		}
		srv.mu.Unlock()
		c.reply(250, "Rename successful.")
	case "REST":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || n < 0 {
			c.reply(501, "Invalid restart offset.")
			return
		}
		c.restart = n
		c.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR.", n))
	case "PORT":
		c.handlePORT(arg)
	case "PASV":
		c.handlePASV()
	case "LIST":
		c.handleLIST(arg)
	case "RETR":
		c.handleRETR(arg)
	case "STOR":
		c.handleSTOR(arg)
	default:
		c.reply(502, "Command not implemented.")
	}
}

func (c *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		c.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	var v [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			c.reply(501, "Invalid PORT argument.")
			return
		}
		v[i] = n
	}
	c.closePassive()
	c.activeAddr = net.JoinHostPort(fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3]), strconv.Itoa(v[4]*256+v[5]))
	c.reply(200, "PORT command successful.")
}

func (c *session) handlePASV() {
	c.closePassive()
	c.activeAddr = ""

	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		c.reply(425, "Can't open passive connection.")
		return
	}
	c.pasv = ln

	port := ln.Addr().(*net.TCPAddr).Port
	c.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256))
}

func (c *session) closePassive() {
	if c.pasv != nil {
		_ = c.pasv.Close()
		c.pasv = nil
	}
}

var errNoDataChannel = errors.New("no data channel")

// openData announces the transfer and returns the data connection.
func (c *session) openData(msg string) (net.Conn, error) {
	if c.pasv != nil {
		ln := c.pasv
		c.pasv = nil
		defer ln.Close()
		_ = ln.SetDeadline(time.Now().Add(dataTimeout))
		conn, err := ln.Accept()
		if err != nil {
			c.reply(425, "Can't open data connection.")
			return nil, err
		}
		c.reply(150, msg)
		return conn, nil
	}

	if c.activeAddr == "" {
		c.reply(425, "Use PORT or PASV first.")
		return nil, errNoDataChannel
	}
	addr := c.activeAddr
	c.activeAddr = ""

	c.reply(150, msg)

	c.srv.mu.Lock()
	never := c.srv.noConnect
	c.srv.mu.Unlock()
	if never {
		c.reply(425, "Can't open data connection.")
		return nil, errNoDataChannel
	}

	conn, err := net.DialTimeout("tcp4", addr, dataTimeout)
	if err != nil {
		c.reply(425, "Can't open data connection.")
		return nil, err
	}
	return conn, nil
}

func (c *session) handleLIST(arg string) {
	dir := c.cwd
	if arg != "" && !strings.HasPrefix(arg, "-") {
		dir = clean(c.cwd, arg)
	}
	body := c.srv.listing(dir)

	conn, err := c.openData("Opening ASCII mode data connection for file list.")
	if err != nil {
		return
	}
	_, werr := io.WriteString(conn, body)
	_ = conn.Close()
	if werr != nil {
		c.reply(426, "Connection closed; transfer aborted.")
		return
	}
	c.reply(226, "Transfer complete.")
}

// listing renders dir in "ls -l" format preceded by a total line.
func (s *Server) listing(dir string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	for p := range s.dirs {
		if p != "/" && path.Dir(p) == dir {
			lines = append(lines, fmt.Sprintf("drwxr-xr-x  2 ftp ftp %8d Jan  1 00:00 %s", 4096, path.Base(p)))
		}
	}
	for p, data := range s.files {
		if path.Dir(p) == dir {
			lines = append(lines, fmt.Sprintf("-rw-r--r--  1 ftp ftp %8d Jan  1 00:00 %s", len(data), path.Base(p)))
		}
	}
	slices.SortFunc(lines, func(a, b string) int {
		return strings.Compare(a[strings.LastIndex(a, " ")+1:], b[strings.LastIndex(b, " ")+1:])
	})

	var b strings.Builder
	fmt.Fprintf(&b, "total %d\r\n", len(lines))
	for _, l := range lines {
		b.WriteString(l + "\r\n")
	}
	return b.String()
}

func (c *session) handleRETR(arg string) {
	p := clean(c.cwd, arg)
	offset := c.restart
	c.restart = 0

	c.srv.mu.Lock()
	data, ok := c.srv.files[p]
	data = slices.Clone(data)
	stall := c.srv.stallAt
	c.srv.stallAt = -1
	c.srv.mu.Unlock()

	if !ok {
		c.closePassive()
		c.activeAddr = ""
		c.reply(550, arg+": No such file.")
		return
	}
	offset = min(offset, int64(len(data)))

	msg := "Opening BINARY mode data connection for " + arg + "."
	if offset > 0 {
		msg = fmt.Sprintf("Opening BINARY mode data connection for %s (restarting at %d).", arg, offset)
	}
	conn, err := c.openData(msg)
	if err != nil {
		return
	}
	defer conn.Close()

	payload := data[offset:]
	if stall >= 0 && stall < int64(len(payload)) {
		if _, err := conn.Write(payload[:stall]); err == nil {
			// Hold the transfer open until the client gives up on it.
			_, _ = io.Copy(io.Discard, conn)
		}
		_ = conn.Close()
		c.reply(426, "Connection closed; transfer aborted.")
		return
	}

	if _, err := conn.Write(payload); err != nil {
		c.reply(426, "Connection closed; transfer aborted.")
		return
	}
	_ = conn.Close()
	c.reply(226, "Transfer complete.")
}

func (c *session) handleSTOR(arg string) {
	p := clean(c.cwd, arg)
	offset := c.restart
	c.restart = 0

	conn, err := c.openData("Opening BINARY mode data connection for " + arg + ".")
	if err != nil {
		return
	}
	received, rerr := io.ReadAll(conn)
	_ = conn.Close()

	c.srv.mu.Lock()
	existing := c.srv.files[p]
	if offset > int64(len(existing)) {
		offset = int64(len(existing))
	}
	c.srv.files[p] = append(slices.Clone(existing[:offset]), received...)
	c.srv.mu.Unlock()

	if rerr != nil {
		c.reply(426, "Connection closed; transfer aborted.")
		return
	}
	c.reply(226, "Transfer complete.")
}
