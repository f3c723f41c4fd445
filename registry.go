package ftp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Direction tells which way a transfer moves bytes.
type Direction int

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Status is the lifecycle position of a transfer.
type Status int

const (
	Running Status = iota
	Paused
	Finished
	Canceled
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the transfer has left the registry for history.
func (s Status) Terminal() bool {
	return s == Finished || s == Canceled || s == Failed
}

// Identity is the key of a transfer. Two transfers with the same paths and
// size but opposite directions are distinct. A negative Size means the size
// is unknown and no mismatch check is made on completion.
type Identity struct {
	Local     string
	Remote    string
	Size      int64
	Direction Direction
}

// TransferInfo is a point-in-time copy of a transfer's bookkeeping.
type TransferInfo struct {
	ID string
	Identity
	Transferred int64
	Status      Status
	Start       time.Time
	End         time.Time

	// Err is set when the transfer Failed.
	Err error

	// Warning carries ErrSizeMismatch for a Finished transfer whose byte
	// count differs from Size.
	Warning error
}

type registryEntry struct {
	info   TransferInfo
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func (e *registryEntry) settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Handle is one activation of a transfer, from Begin until End.
type Handle struct {
	entry *registryEntry
	id    string
}

// ID returns the transfer id, stable across pause and resume.
func (h *Handle) ID() string {
	return h.id
}

// Context is done once the activation is paused or canceled; its cause is
// ErrPaused or ErrCanceled.
func (h *Handle) Context() context.Context {
	return h.entry.ctx
}

// Registry tracks running and paused transfers by Identity and keeps an
// append-only history of finished ones. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	logger  *slog.Logger
	active  map[Identity]*registryEntry
	byID    map[string]*registryEntry
	history []TransferInfo
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		logger: logger,
		active: make(map[Identity]*registryEntry),
		byID:   make(map[string]*registryEntry),
	}
}

// Begin starts an activation of the transfer identified by ident and
// returns the byte offset to resume from.
//
// An identity that is Running, or Paused but still winding down, fails with
// ErrAlreadyRunning. A Paused identity is reactivated: with resume it
// continues from its recorded byte count, otherwise from zero. Anything else
// creates a new entry at offset zero.
func (r *Registry) Begin(ident Identity, resume bool) (*Handle, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[ident]
	if ok {
		if e.info.Status == Running || !e.settled() {
			return nil, 0, fmt.Errorf("%w: %s %s", ErrAlreadyRunning, ident.Direction, ident.Remote)
		}
		if !resume {
			e.info.Transferred = 0
		}
	} else {
		e = &registryEntry{info: TransferInfo{
			ID:       xid.New().String(),
			Identity: ident,
			Start:    time.Now(),
		}}
		r.active[ident] = e
		r.byID[e.info.ID] = e
	}

	e.info.Status = Running
	e.info.Err = nil
	e.ctx, e.cancel = context.WithCancelCause(context.Background())
	e.done = make(chan struct{})

	r.logger.Debug("transfer begin",
		"id", e.info.ID,
		"direction", ident.Direction.String(),
		"remote", ident.Remote,
		"local", ident.Local,
		"transferred", e.info.Transferred,
		"size", ident.Size,
	)
	return &Handle{entry: e, id: e.info.ID}, e.info.Transferred, nil
}

// Advance adds n to the transferred count and returns the updated snapshot.
func (r *Registry) Advance(h *Handle, n int64) TransferInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.entry.info.Transferred += n
	return h.entry.info
}

// Pause stops a running transfer at its next chunk boundary. Pausing a
// transfer that is already Paused does nothing.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if e.info.Status == Paused {
		return nil
	}

	e.info.Status = Paused
	e.cancel(ErrPaused)
	r.logger.Debug("transfer pause", "id", id, "transferred", e.info.Transferred)
	return nil
}

// Cancel stops a transfer for good. A Paused transfer that is no longer
// streaming moves to history immediately; a running one does so when its
// activation ends. Partial local files are left in place.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}

	e.info.Status = Canceled
	e.cancel(ErrCanceled)
	r.logger.Debug("transfer cancel", "id", id, "transferred", e.info.Transferred)

	if e.settled() {
		r.archiveLocked(e)
	}
	return nil
}

// Finish ends a successful activation and moves the transfer to history.
// A byte count that differs from a known Size is returned as an
// ErrSizeMismatch warning; the transfer is Finished regardless.
func (r *Registry) Finish(h *Handle) (TransferInfo, error) {
	info := r.End(h, nil)
	return info, info.Warning
}

// End closes an activation with the error that stopped it, or nil when it
// completed. ErrPaused leaves the transfer Paused for a later Begin with
// resume; a Canceled transfer or any other error moves it to history.
func (r *Registry) End(h *Handle, err error) TransferInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := h.entry
	defer close(e.done)
	e.cancel(nil)

	switch {
	case err == nil:
		e.info.Status = Finished
		if size := e.info.Size; size >= 0 && e.info.Transferred != size {
			e.info.Warning = fmt.Errorf("%w: transferred %d of %d bytes", ErrSizeMismatch, e.info.Transferred, size)
			r.logger.Warn("transfer size mismatch",
				"id", e.info.ID,
				"remote", e.info.Remote,
				"transferred", e.info.Transferred,
				"size", size,
			)
		}
	case e.info.Status == Canceled || errors.Is(err, ErrCanceled):
		e.info.Status = Canceled
	case e.info.Status == Paused || errors.Is(err, ErrPaused):
		e.info.Status = Paused
		r.logger.Debug("transfer paused", "id", e.info.ID, "transferred", e.info.Transferred)
		return e.info
	default:
		e.info.Status = Failed
		e.info.Err = err
	}

	r.archiveLocked(e)
	return e.info
}

func (r *Registry) archiveLocked(e *registryEntry) {
	e.info.End = time.Now()
	delete(r.active, e.info.Identity)
	delete(r.byID, e.info.ID)
	r.history = append(r.history, e.info)

	r.logger.Debug("transfer end",
		"id", e.info.ID,
		"status", e.info.Status.String(),
		"remote", e.info.Remote,
		"local", e.info.Local,
		"transferred", e.info.Transferred,
		"size", e.info.Size,
	)
}

// Get returns the latest snapshot of the transfer with id, looking at
// running and paused transfers first and history second.
func (r *Registry) Get(id string) (TransferInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[id]; ok {
		return e.info, true
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].ID == id {
			return r.history[i], true
		}
	}
	return TransferInfo{}, false
}

// Wait blocks until the current activation of id ends or ctx is done and
// returns the transfer's snapshot at that point.
func (r *Registry) Wait(ctx context.Context, id string) (TransferInfo, error) {
	r.mu.Lock()
	e, ok := r.byID[id]
	var done chan struct{}
	if ok {
		done = e.done
	}
	r.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return TransferInfo{}, ctx.Err()
		}
	}

	info, ok := r.Get(id)
	if !ok {
		return TransferInfo{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	return info, nil
}

// waitSettled blocks until no activation of ident is streaming.
func (r *Registry) waitSettled(ident Identity) {
	r.mu.Lock()
	e, ok := r.active[ident]
	var done chan struct{}
	if ok && e.info.Status != Running {
		done = e.done
	}
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Active returns running and paused transfers, oldest first.
func (r *Registry) Active() []TransferInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TransferInfo, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b TransferInfo) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// History returns finished, canceled and failed transfers in the order they
// ended.
func (r *Registry) History() []TransferInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}

// pauseAll pauses every running transfer.
func (r *Registry) pauseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.active {
		if e.info.Status == Running {
			e.info.Status = Paused
			e.cancel(ErrPaused)
		}
	}
}
