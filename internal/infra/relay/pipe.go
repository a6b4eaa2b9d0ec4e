// Package relay implements a fixed-capacity byte pipe that bridges one
// producer goroutine and one consumer goroutine.
//
// The producer writes chunks read from a source stream; the consumer reads
// them back out towards a destination stream. The pipe never holds more than
// its capacity, so a blob of any size crosses it with bounded memory:
//
//	source ──Write──▶ [ ring buffer, cap C ] ──Read──▶ destination
//
// A fault raised on either end is recorded once and observed by both ends on
// their next pending or subsequent call. Faults win over buffered data, so a
// consumer never mistakes a broken transfer for a short one.
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrWriteAfterComplete = errors.New("relay: write after complete")
	ErrAlreadyCompleted   = errors.New("relay: writing already completed")
	ErrReaderClosed       = errors.New("relay: reader closed before end of data")
)

// State is the pipe's lifecycle state.
type State int

const (
	// Open accepts writes.
	Open State = iota
	// Draining means the producer is done but bytes remain buffered.
	Draining
	// Closed means the consumer has seen end-of-data.
	Closed
	// Faulted is terminal and reported to both ends.
	Faulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Pipe is a single-producer/single-consumer bounded byte queue.
// Write and CompleteWriting belong to the producer; Read and Close to the
// consumer. Fault may be called from either side, or from a third party
// such as a context watcher.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []byte // ring storage, len == capacity
	head  int    // index of the next byte to read
	count int    // bytes currently resident

	completed bool
	eof       bool
	fault     error

	peak    int
	written int64
	read    int64
}

// New returns an open pipe holding at most capacity bytes.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		panic(fmt.Sprintf("relay: capacity must be positive, got %d", capacity))
	}
	p := &Pipe{buf: make([]byte, capacity)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write copies b into the pipe, blocking while it is full. Large chunks are
// moved piecewise as the consumer frees space. It returns the pipe's fault
// as soon as one is recorded.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fault != nil {
		return 0, p.fault
	}
	if p.completed {
		return 0, ErrWriteAfterComplete
	}

	written := 0
	for written < len(b) {
		for p.count == len(p.buf) && p.fault == nil {
			p.cond.Wait()
		}
		if p.fault != nil {
			return written, p.fault
		}

		tail := (p.head + p.count) % len(p.buf)
		space := len(p.buf) - p.count
		if run := len(p.buf) - tail; run < space {
			space = run
		}
		n := copy(p.buf[tail:tail+space], b[written:])
		p.count += n
		written += n
		p.written += int64(n)
		if p.count > p.peak {
			p.peak = p.count
		}
		p.cond.Broadcast()
	}
	return written, nil
}

// CompleteWriting signals that the producer has written its last chunk.
// It must be called exactly once; it is not the same as writing zero bytes.
func (p *Pipe) CompleteWriting() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fault != nil {
		return p.fault
	}
	if p.completed {
		return ErrAlreadyCompleted
	}
	p.completed = true
	p.cond.Broadcast()
	return nil
}

// Read copies buffered bytes into b, blocking while the pipe is empty and
// the producer has not completed. It returns io.EOF once the pipe is empty
// and completed, and the recorded fault if there is one.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 && !p.completed && p.fault == nil {
		p.cond.Wait()
	}
	if p.fault != nil {
		return 0, p.fault
	}
	if p.count == 0 {
		p.eof = true
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	n := 0
	for n < len(b) && p.count > 0 {
		run := len(p.buf) - p.head
		if run > p.count {
			run = p.count
		}
		c := copy(b[n:], p.buf[p.head:p.head+run])
		p.head = (p.head + c) % len(p.buf)
		p.count -= c
		n += c
	}
	p.read += int64(n)
	p.cond.Broadcast()
	return n, nil
}

// Close is the consumer hanging up. Closing after end-of-data is a no-op;
// closing earlier faults the pipe so a blocked producer wakes up.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.eof || p.fault != nil {
		return nil
	}
	if p.completed && p.count == 0 {
		p.eof = true
		return nil
	}
	p.setFault(ErrReaderClosed)
	return nil
}

// Fault records err as the pipe's terminal error. Only the first fault is
// kept; a nil err is ignored. Faulting a pipe the consumer has already
// drained to end-of-data is also ignored.
func (p *Pipe) Fault(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eof {
		return
	}
	p.setFault(err)
}

func (p *Pipe) setFault(err error) {
	if p.fault != nil {
		return
	}
	p.fault = err
	p.cond.Broadcast()
}

// Err returns the recorded fault, or nil.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fault
}

// State reports the pipe's current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.fault != nil:
		return Faulted
	case p.eof:
		return Closed
	case p.completed:
		return Draining
	default:
		return Open
	}
}

// Cap returns the configured capacity.
func (p *Pipe) Cap() int { return len(p.buf) }

// Buffered returns the number of resident bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Peak returns the highest number of bytes ever resident at once.
func (p *Pipe) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Stats returns the total bytes written into and read out of the pipe.
func (p *Pipe) Stats() (written, read int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written, p.read
}
