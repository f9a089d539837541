// Package ratelimiter provides token-bucket bandwidth limiting for data
// transfers, wrapping golang.org/x/time/rate.
package ratelimiter

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter enforces a sustained byte rate using the token bucket algorithm.
// One token corresponds to one byte. Safe for concurrent use, so a single
// Limiter can cap the aggregate bandwidth of all sessions.
type Limiter struct {
	limiter *rate.Limiter
	burst   int
}

// New creates a Limiter allowing bytesPerSecond sustained throughput.
// The burst (bucket capacity) is set to one second's worth of bytes.
// A zero rate returns nil, which every method treats as unlimited.
func New(bytesPerSecond int) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
		burst:   bytesPerSecond,
	}
}

// WaitN blocks until n bytes may pass, or the context is cancelled.
// Requests larger than the bucket are consumed in burst-sized slices.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > l.burst {
			chunk = l.burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// chunkSize caps a single read so one call never has to wait for more
// tokens than the bucket holds.
func (l *Limiter) chunkSize(n int) int {
	if l == nil || n <= l.burst {
		return n
	}
	return l.burst
}

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader wraps r so reads are throttled by l. A nil limiter returns r
// unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if max := r.l.chunkSize(len(p)); max < len(p) {
		p = p[:max]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.l.WaitN(context.Background(), n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter wraps w so writes are throttled by l. A nil limiter returns w
// unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := w.l.chunkSize(len(p))
		if err := w.l.WaitN(context.Background(), chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}
