package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
)

// Download starts retrieving remotePath into localPath on its own goroutine
// and returns at once with the registered transfer. size is the expected
// remote size used for the completion check; pass -1 when it is unknown.
//
// With resume set, a Paused download of the same identity continues from its
// recorded byte count: REST is sent before RETR and the local file is
// written from that offset. Otherwise the local file is truncated.
//
// Example:
//
//	info, err := s.Download("report.txt", "report.txt", 1234, false)
//	if err != nil {
//	    return err
//	}
//	info, err = s.Wait(info.ID)
func (s *Session) Download(remotePath, localPath string, size int64, resume bool) (TransferInfo, error) {
	return s.startDownload(Identity{
		Local:     s.localPath(localPath),
		Remote:    remotePath,
		Size:      size,
		Direction: Download,
	}, resume)
}

// Upload starts storing localPath as remotePath on its own goroutine. The
// expected size is the local file size. With resume set, a Paused upload of
// the same identity continues with REST and STOR from its recorded offset.
func (s *Session) Upload(localPath, remotePath string, resume bool) (TransferInfo, error) {
	local := s.localPath(localPath)
	fi, err := os.Stat(local)
	if err != nil {
		s.transcript.system("no such file: %s", local)
		return TransferInfo{}, localIOError(err)
	}
	if fi.IsDir() {
		s.transcript.system("%s is a directory", local)
		return TransferInfo{}, localIOError(fmt.Errorf("%s is a directory", local))
	}

	return s.startUpload(Identity{
		Local:     local,
		Remote:    remotePath,
		Size:      fi.Size(),
		Direction: Upload,
	}, resume)
}

// Resume continues a Paused transfer from its recorded offset.
func (s *Session) Resume(id string) (TransferInfo, error) {
	info, ok := s.registry.Get(id)
	if !ok {
		return TransferInfo{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if info.Status != Paused {
		return info, fmt.Errorf("%w: %s is %s", ErrNotPaused, id, info.Status)
	}

	if info.Direction == Upload {
		return s.startUpload(info.Identity, true)
	}
	return s.startDownload(info.Identity, true)
}

// Pause stops a running transfer at its next chunk boundary, keeping its
// progress for Resume. Pausing a Paused transfer is a no-op.
func (s *Session) Pause(id string) error {
	return s.registry.Pause(id)
}

// Cancel stops a transfer for good. Partially written local files are kept.
func (s *Session) Cancel(id string) error {
	return s.registry.Cancel(id)
}

// Wait blocks until the current activation of the transfer ends.
func (s *Session) Wait(id string) (TransferInfo, error) {
	return s.registry.Wait(context.Background(), id)
}

// Transfer returns the latest snapshot of a transfer.
func (s *Session) Transfer(id string) (TransferInfo, bool) {
	return s.registry.Get(id)
}

// Transfers returns running and paused transfers.
func (s *Session) Transfers() []TransferInfo {
	return s.registry.Active()
}

// History returns transfers that finished, failed or were canceled.
func (s *Session) History() []TransferInfo {
	return s.registry.History()
}

func (s *Session) startDownload(ident Identity, resume bool) (TransferInfo, error) {
	return s.start(ident, resume, s.download)
}

func (s *Session) startUpload(ident Identity, resume bool) (TransferInfo, error) {
	return s.start(ident, resume, s.upload)
}

type transferFunc func(ctx context.Context, h *Handle, ident Identity, offset int64) error

func (s *Session) start(ident Identity, resume bool, fn transferFunc) (TransferInfo, error) {
	if resume {
		s.registry.waitSettled(ident)
	}

	h, offset, err := s.registry.Begin(ident, resume)
	if err != nil {
		s.transcript.system("%v", err)
		return TransferInfo{}, err
	}

	info, _ := s.registry.Get(h.ID())
	if offset > 0 {
		s.transcript.system("resuming %s of %s at %d bytes", ident.Direction, ident.Remote, offset)
	}

	s.tasks.Go(func() {
		err := fn(h.Context(), h, ident, offset)
		s.report(s.registry.End(h, err))
	})
	return info, nil
}

func (s *Session) download(ctx context.Context, h *Handle, ident Identity, offset int64) error {
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(ident.Local, flags, 0o644)
	if err != nil {
		return localIOError(err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return localIOError(err)
	}

	err = s.runData(ctx, dataOp{
		verb:    "RETR",
		arg:     ident.Remote,
		offset:  offset,
		managed: true,
		stream: func(ctx context.Context, conn net.Conn) error {
			_, err := copyChunks(ctx, f, s.downstream(ctx, conn), remoteError, localIOError, s.advancer(h))
			return err
		},
	})

	if cerr := f.Close(); cerr != nil && err == nil {
		err = localIOError(cerr)
	}
	return err
}

func (s *Session) upload(ctx context.Context, h *Handle, ident Identity, offset int64) error {
	f, err := os.Open(ident.Local)
	if err != nil {
		return localIOError(err)
	}
	defer f.Close()

	if err := skipTo(f, offset); err != nil {
		return err
	}

	return s.runData(ctx, dataOp{
		verb:    "STOR",
		arg:     ident.Remote,
		offset:  offset,
		managed: true,
		stream: func(ctx context.Context, conn net.Conn) error {
			_, err := copyChunks(ctx, s.upstream(ctx, conn), f, localIOError, remoteError, s.advancer(h))
			return err
		},
	})
}

// advancer updates the registry after every chunk and notifies the
// progress callback with the new snapshot.
func (s *Session) advancer(h *Handle) func(int64) {
	return func(n int64) {
		info := s.registry.Advance(h, n)
		if s.progress != nil {
			s.progress(info)
		}
	}
}

// report renders the outcome of an activation as a status line.
func (s *Session) report(info TransferInfo) {
	name := info.Remote
	switch info.Status {
	case Finished:
		s.transcript.system("%s of %s finished: %d bytes", info.Direction, name, info.Transferred)
		if info.Warning != nil {
			s.transcript.system("%s of %s: %v", info.Direction, name, info.Warning)
		}
	case Paused:
		s.transcript.system("%s of %s paused at %d bytes", info.Direction, name, info.Transferred)
	case Canceled:
		s.transcript.system("%s of %s canceled at %d bytes", info.Direction, name, info.Transferred)
	case Failed:
		s.transcript.system("%s of %s failed: %v", info.Direction, name, info.Err)
	}

	if s.progress != nil {
		s.progress(info)
	}
}
