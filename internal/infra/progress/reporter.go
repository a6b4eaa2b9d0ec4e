// Package progress samples transfer progress for display.
package progress

import (
	"io"
	"time"
)

// Func receives progress samples. total is zero or negative when the size
// is not known up front.
type Func func(transferred, total int64, elapsed time.Duration)

// DefaultInterval is the minimum time between two non-final samples.
const DefaultInterval = 250 * time.Millisecond

// Reporter counts bytes for one transfer and forwards at most one sample per
// interval to its callback, plus exactly one final sample from Finish.
// It is not safe for concurrent use; callbacks run on the caller's goroutine.
type Reporter struct {
	fn       Func
	total    int64
	interval time.Duration

	start       time.Time
	last        time.Time
	transferred int64
	finished    bool

	now func() time.Time
}

// New returns a Reporter for a transfer of total bytes. A nil fn yields a
// Reporter that only counts.
func New(total int64, interval time.Duration, fn Func) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reporter{fn: fn, total: total, interval: interval, now: time.Now}
	r.start = r.now()
	return r
}

// Add records n more bytes and samples if the interval has elapsed.
func (r *Reporter) Add(n int64) {
	if r.finished || n <= 0 {
		return
	}
	r.transferred += n
	if r.fn == nil {
		return
	}
	now := r.now()
	if now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	r.fn(r.transferred, r.total, now.Sub(r.start))
}

// Finish emits the single 100% sample. Calling it again does nothing.
func (r *Reporter) Finish() {
	if r.finished {
		return
	}
	r.finished = true
	if r.total <= 0 || r.transferred > r.total {
		r.total = r.transferred
	}
	if r.fn != nil {
		r.fn(r.total, r.total, r.now().Sub(r.start))
	}
}

// Transferred returns the byte count so far.
func (r *Reporter) Transferred() int64 { return r.transferred }

// Elapsed returns the time since the Reporter was created.
func (r *Reporter) Elapsed() time.Duration { return r.now().Sub(r.start) }

// Reader wraps rd so every byte read is counted.
func (r *Reporter) Reader(rd io.Reader) io.Reader {
	return &countingReader{r: rd, rep: r}
}

// Writer wraps w so every byte written is counted.
func (r *Reporter) Writer(w io.Writer) io.Writer {
	return &countingWriter{w: w, rep: r}
}

type countingReader struct {
	r   io.Reader
	rep *Reporter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.rep.Add(int64(n))
	return n, err
}

type countingWriter struct {
	w   io.Writer
	rep *Reporter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.rep.Add(int64(n))
	return n, err
}
