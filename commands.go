package ftp

import (
	"fmt"
	"strconv"
	"strings"
)

// Every command here is a single round trip. A 4xx or 5xx reply is returned
// together with a *ProtocolError so the caller can show the server's text
// and decide whether to go on; nothing is retried.

// ChangeDirectory sends CWD.
func (s *Session) ChangeDirectory(path string) (*Response, error) {
	return s.expectOK("CWD", path)
}

// MakeDirectory sends MKD.
func (s *Session) MakeDirectory(name string) (*Response, error) {
	return s.expectOK("MKD", name)
}

// RemoveDirectory sends RMD.
func (s *Session) RemoveDirectory(name string) (*Response, error) {
	return s.expectOK("RMD", name)
}

// DeleteFile sends DELE.
func (s *Session) DeleteFile(name string) (*Response, error) {
	return s.expectOK("DELE", name)
}

// DeleteEntry removes a listed entry, with RMD for folders and DELE for files.
func (s *Session) DeleteEntry(entry *Entry) (*Response, error) {
	if entry.IsFolder() {
		return s.RemoveDirectory(entry.Name)
	}
	return s.DeleteFile(entry.Name)
}

// RenameFrom sends RNFR. The server answers 350 when it waits for RNTO.
func (s *Session) RenameFrom(name string) (*Response, error) {
	return s.expectOK("RNFR", name)
}

// RenameTo sends RNTO.
func (s *Session) RenameTo(name string) (*Response, error) {
	return s.expectOK("RNTO", name)
}

// Rename renames a file or directory with RNFR then RNTO. RNTO is not sent
// unless RNFR is answered with 350.
func (s *Session) Rename(from, to string) (*Response, error) {
	resp, err := s.expectCode("350", "RNFR", from)
	if err != nil {
		return resp, err
	}
	return s.RenameTo(to)
}

// PrintWorkingDirectory sends PWD and extracts the quoted path from the
// reply, e.g. `257 "/home/user" is the current directory`.
func (s *Session) PrintWorkingDirectory() (string, *Response, error) {
	resp, err := s.expectOK("PWD")
	if err != nil {
		return "", resp, err
	}

	path, ok := quotedPath(resp.Message)
	if !ok {
		return "", resp, fmt.Errorf("invalid PWD response: %s", resp.Message)
	}
	return path, resp, nil
}

// quotedPath returns the text between the first pair of double quotes.
// Embedded quotes are doubled per RFC 959.
func quotedPath(msg string) (string, bool) {
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", false
	}

	var b strings.Builder
	rest := msg[start+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] != '"' {
			b.WriteByte(rest[i])
			continue
		}
		if i+1 < len(rest) && rest[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), true
	}
	return "", false
}

// SetTransferType sends TYPE, e.g. "I" for binary or "A" for ASCII.
func (s *Session) SetTransferType(mode string) (*Response, error) {
	return s.expectOK("TYPE", mode)
}

// RestartAt sends REST. The offset applies to the next RETR or STOR only
// when the server answers 350. Retrieve and Store send it themselves.
func (s *Session) RestartAt(offset int64) (*Response, error) {
	return s.expectCode("350", "REST", strconv.FormatInt(offset, 10))
}

// System returns the system type of the server using the SYST command.
func (s *Session) System() (string, *Response, error) {
	resp, err := s.expectOK("SYST")
	if err != nil {
		return "", resp, err
	}
	return resp.Message, resp, nil
}

// Noop sends a NOOP (no operation) command to the server.
// This is useful as a keepalive to prevent the connection from timing out.
func (s *Session) Noop() (*Response, error) {
	return s.expectOK("NOOP")
}

// Quote sends a raw command to the server and returns the response.
// This allows sending commands that are not explicitly supported by the client.
//
// Example:
//
//	resp, err := s.Quote("SITE", "CHMOD", "755", "script.sh")
func (s *Session) Quote(command string, args ...string) (*Response, error) {
	return s.sendCommand(strings.ToUpper(command), args...)
}
