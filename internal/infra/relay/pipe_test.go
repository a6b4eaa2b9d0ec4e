package relay

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// produce writes src into p in chunks of size chunk, pausing between chunks.
func produce(p *Pipe, src []byte, chunk int, pause time.Duration) error {
	for off := 0; off < len(src); off += chunk {
		end := min(off+chunk, len(src))
		if _, err := p.Write(src[off:end]); err != nil {
			return err
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
	return p.CompleteWriting()
}

// consume drains p with reads of size chunk, pausing between reads.
func consume(p *Pipe, chunk int, pause time.Duration) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, chunk)
	for {
		n, err := p.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Open, "open"},
		{Draining, "draining"},
		{Closed, "closed"},
		{Faulted, "faulted"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}

func TestFastProducerStaysBounded(t *testing.T) {
	const capacity = 1024
	src := randomBytes(t, 256*1024)
	p := New(capacity)

	var (
		wg       sync.WaitGroup
		prodErr  error
		maxSeen  int
		sampling = make(chan struct{})
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		prodErr = produce(p, src, 8*1024, 0)
	}()

	// Sample resident bytes while the transfer runs.
	go func() {
		defer close(sampling)
		for p.State() == Open || p.State() == Draining {
			if b := p.Buffered(); b > maxSeen {
				maxSeen = b
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()

	got, err := consume(p, 100, 20*time.Microsecond)
	wg.Wait()
	<-sampling

	require.NoError(t, prodErr)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(src, got), "consumer must see exactly the produced bytes")
	assert.LessOrEqual(t, p.Peak(), capacity)
	assert.LessOrEqual(t, maxSeen, capacity)
	assert.Equal(t, capacity, p.Peak(), "a strictly faster producer should fill the buffer")

	written, read := p.Stats()
	assert.Equal(t, int64(len(src)), written)
	assert.Equal(t, int64(len(src)), read)
	assert.Equal(t, Closed, p.State())
}

func TestFastConsumerLosesNothing(t *testing.T) {
	src := randomBytes(t, 64*1024)
	p := New(4096)

	var prodErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		prodErr = produce(p, src, 333, 10*time.Microsecond)
	}()

	got, err := consume(p, 64*1024, 0)
	<-done

	require.NoError(t, prodErr)
	require.NoError(t, err)
	require.Len(t, got, len(src))
	assert.True(t, bytes.Equal(src, got), "no bytes lost or duplicated")
	assert.LessOrEqual(t, p.Peak(), 4096)
}

func TestWriteLargerThanCapacity(t *testing.T) {
	src := randomBytes(t, 10_000)
	p := New(7)

	go func() { _ = produce(p, src, len(src), 0) }()

	got, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, src, got)
	assert.LessOrEqual(t, p.Peak(), 7)
}

func TestCompleteAfterPartialWritesDrainsEverything(t *testing.T) {
	p := New(64)

	_, err := p.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = p.Write([]byte("relay"))
	require.NoError(t, err)
	require.NoError(t, p.CompleteWriting())
	assert.Equal(t, Draining, p.State())

	buf := make([]byte, 4)
	var got []byte
	for {
		n, err := p.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "hello relay", string(got))
	assert.Equal(t, Closed, p.State())

	// End-of-data is sticky.
	n, err := p.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestCompleteWritingWithNoData(t *testing.T) {
	p := New(8)
	require.NoError(t, p.CompleteWriting())

	n, err := p.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestCompleteWritingTwice(t *testing.T) {
	p := New(8)
	require.NoError(t, p.CompleteWriting())
	assert.ErrorIs(t, p.CompleteWriting(), ErrAlreadyCompleted)

	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrWriteAfterComplete)
}

func TestProducerFaultReachesPendingRead(t *testing.T) {
	p := New(8)
	boom := errors.New("source connection reset")

	result := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 8))
		result <- err
	}()

	// Give the reader time to block on the empty pipe.
	time.Sleep(20 * time.Millisecond)
	p.Fault(boom)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("pending Read did not observe the fault")
	}
	assert.Equal(t, Faulted, p.State())
}

func TestFaultWinsOverBufferedData(t *testing.T) {
	p := New(8)
	boom := errors.New("truncated source")

	_, err := p.Write([]byte("abc"))
	require.NoError(t, err)
	p.Fault(boom)

	n, err := p.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, boom)

	// CompleteWriting after a fault surfaces the fault, not success.
	assert.ErrorIs(t, p.CompleteWriting(), boom)
}

func TestFirstFaultIsKept(t *testing.T) {
	p := New(8)
	first := errors.New("first")
	p.Fault(first)
	p.Fault(errors.New("second"))
	p.Fault(nil)
	assert.Equal(t, first, p.Err())
}

func TestConsumerCloseUnblocksProducer(t *testing.T) {
	p := New(4)

	result := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("more than four bytes"))
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrReaderClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Write did not observe consumer close")
	}
}

func TestConsumerFaultReachesProducer(t *testing.T) {
	p := New(4)
	rejected := errors.New("destination rejected upload")

	_, err := p.Write([]byte("abcd"))
	require.NoError(t, err)
	p.Fault(rejected)

	_, err = p.Write([]byte("e"))
	assert.ErrorIs(t, err, rejected)
}

func TestCloseAfterEOFIsClean(t *testing.T) {
	p := New(4)
	go func() { _ = produce(p, []byte("done"), 4, 0) }()

	got, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, "done", string(got))

	require.NoError(t, p.Close())
	p.Fault(errors.New("late"))
	assert.NoError(t, p.Err())
	assert.Equal(t, Closed, p.State())
}
