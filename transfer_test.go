package ftp

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ftpdesk/ftpdesk/internal/ftptest"
)

// payload returns n deterministic bytes.
func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		verb string
	}{
		{"passive", nil, "PASV"},
		{"active", []Option{WithActiveMode()}, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := payload(3*BufferSize + 17)
			srv := ftptest.NewServer(t)
			srv.PutFile("big.bin", data)

			dir := t.TempDir()
			opts := append([]Option{WithLocalDir(dir)}, tt.opts...)
			s := loginTest(t, srv, opts...)

			info, err := s.Download("big.bin", "big.bin", int64(len(data)), false)
			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if info.Status != Running || info.Direction != Download {
				t.Errorf("initial info = %+v", info)
			}
			if info.Local != filepath.Join(dir, "big.bin") {
				t.Errorf("Local = %q, want it under the local dir", info.Local)
			}

			info, err = s.Wait(info.ID)
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if info.Status != Finished || info.Transferred != int64(len(data)) || info.Warning != nil {
				t.Errorf("final info = %+v", info)
			}

			got, err := os.ReadFile(filepath.Join(dir, "big.bin"))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("downloaded %d bytes, content differs", len(got))
			}

			verbs := srv.Verbs()
			want := []string{"TYPE", tt.verb, "RETR"}
			if i := slices.Index(verbs, "TYPE"); i < 0 || !slices.Equal(verbs[i:i+3], want) {
				t.Errorf("verbs = %v, want %v in sequence", verbs, want)
			}
			if s.State() != StateAuthenticated {
				t.Errorf("state = %s, want authenticated", s.State())
			}
			if len(s.Transfers()) != 0 || len(s.History()) != 1 {
				t.Errorf("transfers = %v, history = %v", s.Transfers(), s.History())
			}
		})
	}
}

func TestDownload_PauseAndResume(t *testing.T) {
	t.Parallel()

	data := payload(1000)
	srv := ftptest.NewServer(t)
	srv.PutFile("file.bin", data)
	srv.StallRetrieve(400)

	dir := t.TempDir()
	s := loginTest(t, srv, WithLocalDir(dir))

	info, err := s.Download("file.bin", "file.bin", 1000, false)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	id := info.ID

	waitFor(t, "400 bytes", func() bool {
		info, _ := s.Transfer(id)
		return info.Transferred == 400
	})

	if err := s.Pause(id); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	// Pausing twice is a no-op.
	if err := s.Pause(id); err != nil {
		t.Fatalf("second Pause() error = %v", err)
	}

	info, err = s.Wait(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Paused || info.Transferred != 400 {
		t.Fatalf("after pause = %+v, want paused at 400", info)
	}
	if got := s.Transfers(); len(got) != 1 || got[0].ID != id {
		t.Errorf("Transfers() = %v, want the paused transfer", got)
	}

	info, err = s.Resume(id)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if info.ID != id {
		t.Errorf("Resume() id = %s, want %s", info.ID, id)
	}

	info, err = s.Wait(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Finished || info.Transferred != 1000 || info.Warning != nil {
		t.Fatalf("after resume = %+v", info)
	}

	got, err := os.ReadFile(filepath.Join(dir, "file.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("local file has %d bytes, content differs", len(got))
	}

	cmds := srv.Commands()
	rest := slices.Index(cmds, "REST 400")
	if rest < 0 {
		t.Fatalf("commands = %q, want REST 400", cmds)
	}
	if retr := slices.Index(cmds[rest:], "RETR file.bin"); retr < 0 {
		t.Errorf("commands = %q, want RETR after REST 400", cmds)
	}

	if _, err := s.Resume(id); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() of a finished transfer error = %v, want ErrNotPaused", err)
	}
}

func TestDownload_AlreadyRunningAndCancel(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	srv.PutFile("file.bin", payload(1000))
	srv.StallRetrieve(100)

	dir := t.TempDir()
	s := loginTest(t, srv, WithLocalDir(dir))

	info, err := s.Download("file.bin", "file.bin", 1000, false)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "100 bytes", func() bool {
		info, _ := s.Transfer(info.ID)
		return info.Transferred == 100
	})

	if _, err := s.Download("file.bin", "file.bin", 1000, false); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Download() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Cancel(info.ID); err != nil {
		t.Fatal(err)
	}
	final, err := s.Wait(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != Canceled {
		t.Errorf("status = %s, want canceled", final.Status)
	}
	if len(s.Transfers()) != 0 {
		t.Errorf("canceled transfer still active: %v", s.Transfers())
	}

	// Partial data stays on disk.
	fi, err := os.Stat(filepath.Join(dir, "file.bin"))
	if err != nil || fi.Size() != 100 {
		t.Errorf("partial file = %v, %v; want 100 bytes kept", fi, err)
	}
}

func TestDownload_SizeMismatch(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	srv.PutFile("file.bin", payload(1000))
	s := loginTest(t, srv, WithLocalDir(t.TempDir()))

	info, err := s.Download("file.bin", "file.bin", 999, false)
	if err != nil {
		t.Fatal(err)
	}
	info, err = s.Wait(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Finished {
		t.Errorf("status = %s, a size mismatch still finishes", info.Status)
	}
	if !errors.Is(info.Warning, ErrSizeMismatch) {
		t.Errorf("Warning = %v, want ErrSizeMismatch", info.Warning)
	}
}

func TestDownload_MissingRemote(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	s := loginTest(t, srv, WithLocalDir(t.TempDir()))

	info, err := s.Download("missing.bin", "missing.bin", -1, false)
	if err != nil {
		t.Fatal(err)
	}
	info, err = s.Wait(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Failed || !errors.Is(info.Err, ErrServerRejected) {
		t.Errorf("info = %+v, want failed with a 550", info)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", s.State())
	}

	lines := s.Transcript()
	if last := lines[len(lines)-1].String(); !strings.HasPrefix(last, "system: download of missing.bin failed") {
		t.Errorf("last status line = %q", last)
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	data := payload(2*BufferSize + 5)
	srv := ftptest.NewServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "up.bin"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	s := loginTest(t, srv, WithLocalDir(dir))

	info, err := s.Upload("up.bin", "remote.bin", false)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if info.Size != int64(len(data)) || info.Direction != Upload {
		t.Errorf("initial info = %+v", info)
	}

	info, err = s.Wait(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Finished || info.Warning != nil {
		t.Errorf("final info = %+v", info)
	}

	got, ok := srv.File("remote.bin")
	if !ok || !bytes.Equal(got, data) {
		t.Errorf("remote file = %d bytes, ok %v", len(got), ok)
	}
}

func TestUpload_MissingLocalFile(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	s := loginTest(t, srv, WithLocalDir(t.TempDir()))

	_, err := s.Upload("nope.bin", "nope.bin", false)
	if !errors.Is(err, ErrLocalIO) {
		t.Fatalf("Upload() error = %v, want ErrLocalIO", err)
	}

	lines := s.Transcript()
	if last := lines[len(lines)-1].String(); !strings.HasPrefix(last, "system: no such file") {
		t.Errorf("last status line = %q", last)
	}
	if slices.Contains(srv.Verbs(), "STOR") {
		t.Error("STOR sent for a missing local file")
	}
}

func TestRetrieveAndStore(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	srv.PutFile("a.txt", []byte("hello, world"))
	s := loginTest(t, srv)

	if _, err := s.SetPassiveMode(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := s.Retrieve("a.txt", &buf, 0)
	if err != nil || n != 12 || buf.String() != "hello, world" {
		t.Fatalf("Retrieve() = %d, %v, %q", n, err, buf.String())
	}

	if _, err := s.SetActiveMode(); err != nil {
		t.Fatal(err)
	}
	n, err = s.Store("b.txt", strings.NewReader("uploaded"), 0)
	if err != nil || n != 8 {
		t.Fatalf("Store() = %d, %v", n, err)
	}
	if got, _ := srv.File("b.txt"); string(got) != "uploaded" {
		t.Errorf("remote b.txt = %q", got)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", s.State())
	}
}

func TestStore_Resume(t *testing.T) {
	t.Parallel()

	data := payload(1000)
	srv := ftptest.NewServer(t)
	srv.PutFile("part.bin", data[:300])
	s := loginTest(t, srv)

	if _, err := s.SetPassiveMode(); err != nil {
		t.Fatal(err)
	}
	n, err := s.Store("part.bin", bytes.NewReader(data), 300)
	if err != nil || n != 700 {
		t.Fatalf("Store() = %d, %v; want 700 bytes", n, err)
	}

	got, _ := srv.File("part.bin")
	if !bytes.Equal(got, data) {
		t.Errorf("remote file has %d bytes, content differs", len(got))
	}

	cmds := srv.Commands()
	rest := slices.Index(cmds, "REST 300")
	if rest < 0 || cmds[rest+1] != "STOR part.bin" {
		t.Errorf("commands = %q, want REST 300 then STOR", cmds)
	}
}

func TestRetrieve_Resume(t *testing.T) {
	t.Parallel()

	data := payload(1000)
	srv := ftptest.NewServer(t)
	srv.PutFile("file.bin", data)
	s := loginTest(t, srv)

	path := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(path, data[:250], 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := s.SetPassiveMode(); err != nil {
		t.Fatal(err)
	}
	n, err := s.Retrieve("file.bin", f, 250)
	if err != nil || n != 750 {
		t.Fatalf("Retrieve() = %d, %v; want 750", n, err)
	}
	f.Close()

	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Errorf("local file has %d bytes, content differs", len(got))
	}
}

func TestList_ActiveServerNeverConnects(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	srv.NeverConnect()

	s, err := Dial(srv.Addr(), WithTimeout(300*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Quit()
	if err := s.Login("alice", "secret"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SetActiveMode(); err != nil {
		t.Fatal(err)
	}
	_, err = s.List("")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("List() error = %v, want ErrTimeout", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", s.State())
	}

	// The listener announced with PORT must not outlive the failure.
	var portArg string
	for _, c := range srv.Commands() {
		if arg, ok := strings.CutPrefix(c, "PORT "); ok {
			portArg = arg
		}
	}
	ip, port, err := DecodeHostPort(portArg)
	if err != nil {
		t.Fatalf("PORT argument %q: %v", portArg, err)
	}
	if conn, err := net.DialTimeout("tcp4", resolveDataAddr(ip, port, ""), time.Second); err == nil {
		conn.Close()
		t.Error("data listener still accepts connections")
	}

	// The control connection is still usable.
	if _, err := s.Noop(); err != nil {
		t.Errorf("Noop() after failed LIST error = %v", err)
	}
}

func TestProgressCallback(t *testing.T) {
	t.Parallel()

	data := payload(4 * BufferSize)
	srv := ftptest.NewServer(t)
	srv.PutFile("file.bin", data)

	var updates []TransferInfo
	done := make(chan struct{})
	s := loginTest(t, srv, WithLocalDir(t.TempDir()), WithProgress(func(info TransferInfo) {
		updates = append(updates, info)
		if info.Status.Terminal() {
			close(done)
		}
	}))

	if _, err := s.Download("file.bin", "file.bin", int64(len(data)), false); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal progress update")
	}

	if len(updates) < 2 {
		t.Fatalf("got %d updates, want per-chunk updates and a final one", len(updates))
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Transferred < updates[i-1].Transferred {
			t.Errorf("progress went backwards: %d then %d", updates[i-1].Transferred, updates[i].Transferred)
		}
	}
	last := updates[len(updates)-1]
	if last.Status != Finished || last.Percent() != 100 {
		t.Errorf("last update = %+v", last)
	}
}

func TestDownload_KeepsCallerBinding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		set   func(*Session) (*Response, error)
		state State
		verb  string
	}{
		{"passive", (*Session).SetPassiveMode, StatePassive, "PASV"},
		{"active", (*Session).SetActiveMode, StateActive, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := ftptest.NewServer(t)
			srv.PutFile("a.bin", payload(100))
			s := loginTest(t, srv, WithLocalDir(t.TempDir()))

			if _, err := tt.set(s); err != nil {
				t.Fatal(err)
			}

			info, err := s.Download("a.bin", "a.bin", 100, false)
			if err != nil {
				t.Fatal(err)
			}
			if info, err = s.Wait(info.ID); err != nil || info.Status != Finished {
				t.Fatalf("Wait() = %+v, %v", info, err)
			}
			if s.State() != tt.state {
				t.Errorf("state after download = %s, want %s", s.State(), tt.state)
			}

			// The server only remembers the latest PORT/PASV, so the
			// caller's channel is announced again after RETR.
			verbs := srv.Verbs()
			retr := slices.Index(verbs, "RETR")
			if retr < 0 || !slices.Contains(verbs[retr:], tt.verb) {
				t.Errorf("verbs = %v, want %s after RETR", verbs, tt.verb)
			}

			entries, err := s.ListEntries("")
			if err != nil {
				t.Fatalf("ListEntries() after download error = %v", err)
			}
			if len(entries) != 1 || entries[0].Name != "a.bin" {
				t.Errorf("entries = %+v", entries)
			}
			if s.State() != StateAuthenticated {
				t.Errorf("state after LIST = %s, want authenticated", s.State())
			}
		})
	}
}

func TestDownload_TypeRejected(t *testing.T) {
	t.Parallel()

	srv := ftptest.NewServer(t)
	srv.PutFile("a.bin", payload(100))
	srv.Reply("TYPE", "504 Type not implemented")
	s := loginTest(t, srv, WithLocalDir(t.TempDir()))

	info, err := s.Download("a.bin", "a.bin", 100, false)
	if err != nil {
		t.Fatal(err)
	}
	info, err = s.Wait(info.ID)
	if err != nil {
		t.Fatal(err)
	}

	var pe *ProtocolError
	if info.Status != Failed || !errors.As(info.Err, &pe) {
		t.Fatalf("info = %+v, want failed with a ProtocolError", info)
	}
	if pe.Command != "TYPE I" || pe.Code != "504" {
		t.Errorf("ProtocolError = %+v", pe)
	}

	verbs := srv.Verbs()
	if slices.Contains(verbs, "PASV") || slices.Contains(verbs, "RETR") {
		t.Errorf("verbs = %v, nothing may follow a rejected TYPE", verbs)
	}
}

func TestUpload_PauseAndResume(t *testing.T) {
	t.Parallel()

	const limit = 16 * 1024
	data := payload(4 * limit)
	srv := ftptest.NewServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "up.bin"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	s := loginTest(t, srv, WithLocalDir(dir), WithBandwidthLimit(limit))

	info, err := s.Upload("up.bin", "up.bin", false)
	if err != nil {
		t.Fatal(err)
	}
	id := info.ID

	waitFor(t, "first second of data", func() bool {
		info, _ := s.Transfer(id)
		return info.Transferred >= limit
	})
	if err := s.Pause(id); err != nil {
		t.Fatal(err)
	}

	info, err = s.Wait(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Paused || info.Transferred <= 0 || info.Transferred >= int64(len(data)) {
		t.Fatalf("after pause = %+v", info)
	}
	paused := info.Transferred
	waitFor(t, "server to hold the paused prefix", func() bool {
		got, _ := srv.File("up.bin")
		return int64(len(got)) == paused
	})

	if _, err := s.Resume(id); err != nil {
		t.Fatal(err)
	}
	info, err = s.Wait(id)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Finished || info.Transferred != int64(len(data)) || info.Warning != nil {
		t.Fatalf("after resume = %+v", info)
	}

	if got, _ := srv.File("up.bin"); !bytes.Equal(got, data) {
		t.Errorf("remote file has %d bytes, content differs", len(got))
	}

	cmds := srv.Commands()
	rest := slices.Index(cmds, "REST "+strconv.FormatInt(paused, 10))
	if rest < 0 || cmds[rest+1] != "STOR up.bin" {
		t.Errorf("commands = %q, want REST %d then STOR", cmds, paused)
	}
}
