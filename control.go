package ftp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Response represents a complete, possibly multi-line, FTP server reply.
type Response struct {
	// Code is the first three characters of the first line (e.g., "220", "550").
	// It is taken as-is and never validated as a number.
	Code string

	// Message is the human-readable text with the code prefixes removed
	Message string

	// Lines contains all lines of the response in the order received
	Lines []string
}

// Is1xx returns true if the response is a positive preliminary reply.
func (r *Response) Is1xx() bool {
	return codeClass(r.Code) == '1'
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return codeClass(r.Code) == '2'
}

// Is3xx returns true if the response code is in the 3xx range (intermediate).
func (r *Response) Is3xx() bool {
	return codeClass(r.Code) == '3'
}

// Is4xx returns true if the response code is in the 4xx range (temporary failure).
func (r *Response) Is4xx() bool {
	return codeClass(r.Code) == '4'
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return codeClass(r.Code) == '5'
}

// IsNegative returns true for transient or permanent negative completions.
func (r *Response) IsNegative() bool {
	return r.Is4xx() || r.Is5xx()
}

// Number returns the reply code as an integer, or 0 when it is not numeric.
func (r *Response) Number() int {
	n, err := strconv.Atoi(r.Code)
	if err != nil {
		return 0
	}
	return n
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

func codeClass(code string) byte {
	if code == "" {
		return 0
	}
	return code[0]
}

// maxLineLength bounds one control-channel line, terminator included.
const maxLineLength = 8192

// readLine reads one line and strips a trailing CRLF, CR or LF.
// Reading nothing at all, or a line longer than maxLineLength, is reported
// as ErrConnectionClosed.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLineLength {
			return "", fmt.Errorf("%w: reply line longer than %d bytes", ErrConnectionClosed, maxLineLength)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && (len(line) == 0 || err != io.EOF) {
			return "", netError(err)
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

// readResponse reads a complete FTP response from the reader.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	" any text, even 331 or 220-something\r\n"
//	"220 Ready\r\n"
//
// A block opened by "CCC-" ends at the first line that starts with the same
// three characters and does not carry '-' in the fourth column. Lines shorter
// than four characters never open a block.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	code := line
	if len(code) > 3 {
		code = line[:3]
	}
	lines := []string{line}

	if len(line) >= 4 && line[3] == '-' {
		for {
			next, err := readLine(r)
			if err != nil {
				return nil, fmt.Errorf("reading reply %s: %w", code, err)
			}
			lines = append(lines, next)
			if closesBlock(next, code) {
				break
			}
		}
	}

	return &Response{
		Code:    code,
		Message: replyText(lines, code),
		Lines:   lines,
	}, nil
}

func closesBlock(line, code string) bool {
	if len(line) < 3 || line[:3] != code {
		return false
	}
	return len(line) == 3 || line[3] != '-'
}

// replyText strips "CCC " and "CCC-" prefixes and joins the lines.
func replyText(lines []string, code string) string {
	text := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 4 && l[:3] == code && (l[3] == ' ' || l[3] == '-') {
			l = l[4:]
		} else if l == code {
			l = ""
		}
		text = append(text, l)
	}
	return strings.Join(text, "\n")
}

// formatCommand builds "VERB[ argument]" without the line terminator.
func formatCommand(verb string, args ...string) string {
	parts := []string{verb}
	for _, a := range args {
		if a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// writeCommandLocked sends one command line. The caller holds s.mu.
func (s *Session) writeCommandLocked(verb string, args ...string) error {
	if s.conn == nil {
		return ErrNotConnected
	}

	cmd := formatCommand(verb, args...)
	if verb == "PASS" {
		s.logger.Debug("ftp command", "cmd", "PASS ****")
	} else {
		s.logger.Debug("ftp command", "cmd", cmd)
	}

	s.lastCommand = time.Now()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return s.dropLocked(netError(err))
		}
	}

	if _, err := fmt.Fprintf(s.conn, "%s\r\n", cmd); err != nil {
		return s.dropLocked(fmt.Errorf("failed to send command: %w", netError(err)))
	}
	return nil
}

// readReplyLocked blocks for one complete reply. The caller holds s.mu.
func (s *Session) readReplyLocked() (*Response, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	// Note: We set it on the underlying connection, not the bufio Reader
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, s.dropLocked(netError(err))
		}
	}

	resp, err := readResponse(s.reader)
	if err != nil {
		return nil, s.dropLocked(fmt.Errorf("failed to read response: %w", err))
	}

	s.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	s.transcript.server(resp)
	return resp, nil
}

// exchangeLocked performs one command/reply round trip. The caller holds s.mu.
func (s *Session) exchangeLocked(verb string, args ...string) (*Response, error) {
	if err := s.writeCommandLocked(verb, args...); err != nil {
		return nil, err
	}
	return s.readReplyLocked()
}

// sendCommand sends an FTP command and returns the response.
// Negative replies are returned without an error; see expectOK.
func (s *Session) sendCommand(verb string, args ...string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeLocked(verb, args...)
}

// expectOK sends a command and turns a 4xx or 5xx reply into a *ProtocolError.
// The reply is returned in both cases so the caller can display it.
func (s *Session) expectOK(verb string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(verb, args...)
	if err != nil {
		return nil, err
	}
	if resp.IsNegative() {
		return resp, newProtocolError(commandLabel(verb, args...), resp)
	}
	return resp, nil
}

// expectCode sends a command and verifies the response code matches the expected code.
func (s *Session) expectCode(expected string, verb string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(verb, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != expected {
		return resp, newProtocolError(commandLabel(verb, args...), resp)
	}
	return resp, nil
}

func commandLabel(verb string, args ...string) string {
	if verb == "PASS" {
		return verb
	}
	return formatCommand(verb, args...)
}
