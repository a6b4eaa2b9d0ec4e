// Package throttle caps the throughput of a byte stream.
package throttle

import (
	"context"
	"io"
	"time"
)

// Reader wraps an io.Reader and keeps its average throughput, measured from
// the first Read, at or below a ceiling in bytes per second.
type Reader struct {
	ctx   context.Context
	r     io.Reader
	limit int64

	started bool
	start   time.Time
	moved   int64

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewReader returns a Reader limiting r to bytesPerSec. A ceiling of zero or
// less disables throttling and every Read passes straight through.
// Sleeps are abandoned when ctx is cancelled.
func NewReader(ctx context.Context, r io.Reader, bytesPerSec int64) *Reader {
	return &Reader{
		ctx:   ctx,
		r:     r,
		limit: bytesPerSec,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Read reads from the underlying reader, then sleeps for as long as it takes
// to bring the observed rate back down to the ceiling.
func (t *Reader) Read(p []byte) (int, error) {
	if t.limit <= 0 {
		return t.r.Read(p)
	}
	if !t.started {
		t.started = true
		t.start = t.now()
	}

	// Never pull more than one second's worth in a single call, so a large
	// caller buffer cannot turn into one long burst followed by one long nap.
	if int64(len(p)) > t.limit {
		p = p[:t.limit]
	}

	n, err := t.r.Read(p)
	t.moved += int64(n)

	elapsed := t.now().Sub(t.start)
	due := time.Duration(float64(t.moved) / float64(t.limit) * float64(time.Second))
	if due > elapsed {
		if serr := t.sleep(t.ctx, due-elapsed); serr != nil && err == nil {
			err = serr
		}
	}
	return n, err
}

// Moved returns the number of bytes read so far.
func (t *Reader) Moved() int64 { return t.moved }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
