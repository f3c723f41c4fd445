// Package ratelimit throttles data-channel streams to a byte rate.
//
// It is a thin layer over golang.org/x/time/rate: one token is one byte, and
// reads and writes are split so that no single wait asks for more than the
// bucket can hold.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter limits the rate of data transfer to a specified bytes per second.
// A nil *Limiter is valid and never throttles.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter for bytesPerSecond with a one second burst.
// It returns nil when bytesPerSecond is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst <= 0 {
		burst = int(^uint(0) >> 1)
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Rate returns the configured limit in bytes per second, or 0 for nil.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// chunk returns the largest single wait the bucket accepts.
func (l *Limiter) chunk() int {
	return l.lim.Burst()
}

// Wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	max := l.chunk()
	for n > 0 {
		c := min(n, max)
		if err := l.lim.WaitN(ctx, c); err != nil {
			return err
		}
		n -= c
	}
	return nil
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewReader creates a new rate-limited reader.
// If limiter is nil, returns the original reader unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

// Read implements io.Reader with rate limiting.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > r.limiter.chunk() {
		p = p[:r.limiter.chunk()]
	}

	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.Wait(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a new rate-limited writer.
// If limiter is nil, returns the original writer unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

// Write implements io.Writer with rate limiting.
// Tokens are taken before each chunk is written to apply backpressure.
func (w *writer) Write(p []byte) (int, error) {
	max := w.limiter.chunk()

	total := 0
	for total < len(p) {
		size := min(len(p)-total, max)
		if err := w.limiter.Wait(w.ctx, size); err != nil {
			return total, err
		}

		written, err := w.w.Write(p[total : total+size])
		total += written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
