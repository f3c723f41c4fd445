package ftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/ftpdesk/ftpdesk/internal/ratelimit"
)

// BufferSize is the chunk size used for every data-channel read and write.
// Progress is reported and pause/cancel are observed once per chunk.
const BufferSize = 8 * 1024

// dataOp describes one LIST, RETR or STOR exchange.
type dataOp struct {
	verb   string
	arg    string
	offset int64

	// managed operations negotiate their own data channel in the session's
	// preferred mode instead of consuming one set up by the caller
	managed bool

	// stream moves the payload once the data connection is open
	stream func(ctx context.Context, conn net.Conn) error
}

// runData performs the whole data exchange while holding the control lock:
//
//	[TYPE I, PORT|PASV]  managed transfers only, on a private binding
//	REST offset          when offset > 0, must be answered with 350
//	VERB arg             preliminary reply checked for early rejection
//	stream               over the single-use data connection
//	completion reply     after the data connection is closed
//
// A caller-negotiated binding is consumed and the state reverts to the
// post-login baseline afterwards. A managed transfer leaves the state alone
// and re-announces any binding the caller still holds.
func (s *Session) runData(ctx context.Context, op dataOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if s.conn == nil {
		return ErrNotConnected
	}

	var binding *dataBinding
	if op.managed {
		resp, err := s.exchangeLocked("TYPE", "I")
		if err != nil {
			return err
		}
		if resp.IsNegative() {
			return newProtocolError("TYPE I", resp)
		}
		if binding, err = s.bindLocked(s.mode); err != nil {
			return err
		}
		defer s.renewPendingLocked()
	} else {
		binding = s.takePendingLocked()
		if binding == nil {
			s.transcript.system("%s requires PORT/PASV mode", op.verb)
			return ErrNoDataChannel
		}
		defer s.restoreBaseline()
	}

	label := commandLabel(op.verb, op.arg)

	if op.offset > 0 {
		resp, err := s.exchangeLocked("REST", strconv.FormatInt(op.offset, 10))
		if err != nil {
			_ = binding.Close()
			return err
		}
		if resp.Code != "350" {
			_ = binding.Close()
			return newProtocolError("REST", resp)
		}
	}

	if err := s.writeCommandLocked(op.verb, op.arg); err != nil {
		_ = binding.Close()
		return err
	}

	// Passive: the server is already listening, connect before its reply.
	// Active: accept only once the server has agreed to connect.
	var conn net.Conn
	var openErr error
	if binding.mode == PassiveMode {
		conn, openErr = binding.open(ctx)
	}

	resp, err := s.readReplyLocked()
	if err != nil {
		_ = closeData(conn, binding)
		return err
	}
	if resp.IsNegative() {
		_ = closeData(conn, binding)
		return newProtocolError(label, resp)
	}

	if openErr == nil && binding.mode == ActiveMode {
		conn, openErr = binding.open(ctx)
	}
	if openErr != nil {
		_ = closeData(conn, binding)
		s.transcript.system("data connection failed: %v", openErr)
		if resp.Is1xx() {
			// Whatever the server makes of the missing connection.
			_, _ = s.settleLocked()
		}
		return openErr
	}

	var streamErr error
	if op.stream != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})
		streamErr = op.stream(ctx, conn)
		stop()
	}

	if err := closeData(conn, binding); err != nil {
		s.logger.Warn("data channel teardown", "cmd", label, "error", err)
	}

	if !resp.Is1xx() {
		return streamErr
	}

	final, err := s.settleLocked()
	switch {
	case streamErr != nil:
		return streamErr
	case err != nil:
		return err
	case final.IsNegative():
		return newProtocolError(label, final)
	}
	return nil
}

// settleLocked reads replies until one that is not preliminary arrives.
func (s *Session) settleLocked() (*Response, error) {
	for {
		resp, err := s.readReplyLocked()
		if err != nil || !resp.Is1xx() {
			return resp, err
		}
	}
}

func (s *Session) restoreBaseline() {
	s.state.Store(s.baseline.Load())
}

// copyChunks copies src to dst in BufferSize pieces, calling advance after
// every chunk that reached dst. ctx is checked between chunks; once it is
// done the copy stops with its cause. readErr and writeErr classify
// failures of each side.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, readErr, writeErr func(error) error, advance func(int64)) (int64, error) {
	buf := make([]byte, BufferSize)
	var total int64

	for {
		if ctx.Err() != nil {
			return total, context.Cause(ctx)
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			if w > 0 {
				total += int64(w)
				if advance != nil {
					advance(int64(w))
				}
			}
			if werr == nil && w < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				if ctx.Err() != nil {
					return total, context.Cause(ctx)
				}
				return total, writeErr(werr)
			}
		}

		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return total, context.Cause(ctx)
			}
			return total, readErr(rerr)
		}
	}
}

func remoteError(err error) error {
	return fmt.Errorf("data connection: %w", netError(err))
}

func (s *Session) downstream(ctx context.Context, conn net.Conn) io.Reader {
	return ratelimit.NewReader(ctx, conn, s.limiter)
}

func (s *Session) upstream(ctx context.Context, conn net.Conn) io.Writer {
	return ratelimit.NewWriter(ctx, conn, s.limiter)
}

// List sends LIST over the data channel negotiated by SetActiveMode or
// SetPassiveMode and returns the raw listing text.
//
// Example:
//
//	if _, err := s.SetPassiveMode(); err != nil {
//	    return err
//	}
//	text, err := s.List("")
func (s *Session) List(path string) (string, error) {
	var buf bytes.Buffer
	err := s.runData(context.Background(), dataOp{
		verb: "LIST",
		arg:  path,
		stream: func(ctx context.Context, conn net.Conn) error {
			_, err := copyChunks(ctx, &buf, s.downstream(ctx, conn), remoteError, localIOError, nil)
			return err
		},
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ListEntries runs List and parses the result with the configured parsers.
func (s *Session) ListEntries(path string) ([]*Entry, error) {
	text, err := s.List(path)
	if err != nil {
		return nil, err
	}
	return parseListing(text, s.parsers, s.logger), nil
}

// Retrieve downloads remotePath into w over the negotiated data channel.
// When offset is positive, REST offset is sent before RETR and w, if it is
// an io.Seeker, is positioned at offset instead of being rewritten from the
// start. It returns the number of bytes written to w.
func (s *Session) Retrieve(remotePath string, w io.Writer, offset int64) (int64, error) {
	if offset > 0 {
		if seeker, ok := w.(io.Seeker); ok {
			if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
				return 0, localIOError(err)
			}
		}
	}

	var n int64
	err := s.runData(context.Background(), dataOp{
		verb:   "RETR",
		arg:    remotePath,
		offset: offset,
		stream: func(ctx context.Context, conn net.Conn) error {
			var err error
			n, err = copyChunks(ctx, w, s.downstream(ctx, conn), remoteError, localIOError, nil)
			return err
		},
	})
	return n, err
}

// Store uploads r to remotePath over the negotiated data channel. When
// offset is positive, REST offset is sent before STOR and the first offset
// bytes of r are skipped. It returns the number of bytes sent.
func (s *Session) Store(remotePath string, r io.Reader, offset int64) (int64, error) {
	if err := skipTo(r, offset); err != nil {
		return 0, err
	}

	var n int64
	err := s.runData(context.Background(), dataOp{
		verb:   "STOR",
		arg:    remotePath,
		offset: offset,
		stream: func(ctx context.Context, conn net.Conn) error {
			var err error
			n, err = copyChunks(ctx, s.upstream(ctx, conn), r, localIOError, remoteError, nil)
			return err
		},
	})
	return n, err
}

// skipTo positions r at offset, seeking when possible.
func skipTo(r io.Reader, offset int64) error {
	if offset <= 0 {
		return nil
	}
	if seeker, ok := r.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			return localIOError(err)
		}
		return nil
	}
	n, err := io.CopyN(io.Discard, r, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return localIOError(err)
	}
	if n < offset {
		return localIOError(fmt.Errorf("source shorter than resume offset %d", offset))
	}
	return nil
}
