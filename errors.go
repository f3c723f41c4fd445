package ftp

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine. They are matched with errors.Is; the
// concrete error usually wraps one of them with more context.
var (
	// ErrInvalidAddress reports a malformed host, port, or PORT/PASV argument.
	ErrInvalidAddress = errors.New("ftp: invalid address")

	// ErrConnectFailed reports that the TCP connection could not be established.
	ErrConnectFailed = errors.New("ftp: connect failed")

	// ErrConnectionClosed reports that the control or data peer went away
	// while a reply or data was still expected.
	ErrConnectionClosed = errors.New("ftp: connection closed")

	// ErrBindFailed reports that no local address could be bound for active mode.
	ErrBindFailed = errors.New("ftp: no local address could be bound")

	// ErrServerRejected is matched by any reply whose code starts with '5'.
	ErrServerRejected = errors.New("ftp: server rejected command")

	// ErrSizeMismatch is a warning: the transfer completed but the byte count
	// differs from the expected size.
	ErrSizeMismatch = errors.New("ftp: transferred size mismatch")

	// ErrAlreadyRunning reports a second begin for a running transfer identity.
	ErrAlreadyRunning = errors.New("ftp: transfer already running")

	// ErrLocalIO reports a local filesystem open, seek, read or write failure.
	ErrLocalIO = errors.New("ftp: local i/o error")

	// ErrTimeout reports that a reply or data did not arrive in time.
	ErrTimeout = errors.New("ftp: timeout")

	// ErrNotConnected reports a command issued without a control connection.
	ErrNotConnected = errors.New("ftp: not connected")

	// ErrAlreadyConnected reports a connect while a control connection is owned.
	ErrAlreadyConnected = errors.New("ftp: already connected")

	// ErrNoDataChannel reports LIST/RETR/STOR without a prior PORT or PASV.
	ErrNoDataChannel = errors.New("ftp: PORT/PASV mode required")

	// ErrUnknownTransfer reports a transfer id that is not registered.
	ErrUnknownTransfer = errors.New("ftp: unknown transfer")

	// ErrNotPaused reports a resume of a transfer that is not paused.
	ErrNotPaused = errors.New("ftp: transfer is not paused")

	// ErrPaused is the cancellation cause seen by a transfer that was paused.
	ErrPaused = errors.New("ftp: transfer paused")

	// ErrCanceled is the cancellation cause seen by a transfer that was canceled.
	ErrCanceled = errors.New("ftp: transfer canceled")
)

// ProtocolError represents a negative server reply with the context of the
// command/response conversation that produced it.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the text of the reply (e.g., "Permission denied")
	Response string

	// Code is the three character reply code (e.g., "550")
	Code string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %s)", e.Command, e.Response, e.Code)
}

// Is makes errors.Is(err, ErrServerRejected) true for permanent failures.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrServerRejected && e.IsPermanent()
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return codeClass(e.Code) == '4'
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return codeClass(e.Code) == '5'
}

// IsTemporary returns true if the error is a temporary failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

func newProtocolError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: resp.Message,
		Code:     resp.Code,
	}
}

// localIOError tags err as a local filesystem failure.
func localIOError(err error) error {
	if err == nil || errors.Is(err, ErrLocalIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLocalIO, err)
}
