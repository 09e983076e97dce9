package capture

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

var errFakeCancelled = errors.New("fake: cancelled")

// fakeDevice feeds chunks pushed on chunkc and records every retune.
type fakeDevice struct {
	mu      sync.Mutex
	tunes   []uint32
	closed  int
	cancels int

	tunec   chan uint32
	chunkc  chan []byte
	cancelc chan struct{}
	once    sync.Once

	// tuneErr fails every SetCenterFreq after the first tuneOK calls.
	tuneErr  error
	tuneOK   int
	resetErr error
	asyncErr error
	// endAsync makes ReadAsync return as soon as chunkc is closed.
	endAsync bool
	// cancelDelay holds CancelAsync open after it releases the reader.
	cancelDelay time.Duration
	inCancel    int
	// lateCancels counts CancelAsync calls that overlapped or followed Close.
	lateCancels int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		tunec:   make(chan uint32, 64),
		chunkc:  make(chan []byte),
		cancelc: make(chan struct{}),
	}
}

func (d *fakeDevice) SetCenterFreq(hz uint32) error {
	d.mu.Lock()
	d.tunes = append(d.tunes, hz)
	calls := len(d.tunes)
	d.mu.Unlock()
	if d.tuneErr != nil && calls > d.tuneOK {
		return d.tuneErr
	}
	d.tunec <- hz
	return nil
}

func (d *fakeDevice) ResetBuffer() error { return d.resetErr }

func (d *fakeDevice) ReadAsync(cb func([]byte), buffers int, unit uint32) error {
	for {
		select {
		case <-d.cancelc:
			return d.asyncErr
		case b, ok := <-d.chunkc:
			if !ok {
				if d.endAsync {
					return d.asyncErr
				}
				<-d.cancelc
				return d.asyncErr
			}
			cb(b)
		}
	}
}

func (d *fakeDevice) ReadSync(buf []byte) (int, error) {
	select {
	case <-d.cancelc:
		return 0, errFakeCancelled
	case b, ok := <-d.chunkc:
		if !ok {
			return 0, io.EOF
		}
		return copy(buf, b), nil
	}
}

func (d *fakeDevice) CancelAsync() error {
	d.mu.Lock()
	d.cancels++
	d.inCancel++
	if d.closed > 0 {
		d.lateCancels++
	}
	d.mu.Unlock()
	d.once.Do(func() { close(d.cancelc) })
	time.Sleep(d.cancelDelay)
	d.mu.Lock()
	d.inCancel--
	if d.closed > 0 {
		d.lateCancels++
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed++
	if d.inCancel > 0 {
		d.lateCancels++
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) tuneLog() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.tunes...)
}

// push hands one chunk to the delivery loop; it fails the test if the
// session has stopped reading.
func (d *fakeDevice) push(t *testing.T, b []byte) {
	t.Helper()
	select {
	case d.chunkc <- b:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out pushing chunk")
	}
}

func (d *fakeDevice) expectTune(t *testing.T, want uint32) {
	t.Helper()
	select {
	case got := <-d.tunec:
		if got != want {
			t.Fatalf("expected retune to %d, got %d", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for retune to %d", want)
	}
}

type fakeSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed int
	// limit caps how many bytes one Write accepts; zero is unlimited.
	limit int
	err   error
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(p) > s.limit {
		n, _ := s.buf.Write(p[:s.limit])
		return n, s.err
	}
	return s.buf.Write(p)
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func chunk(n int, fill byte) []byte { return bytes.Repeat([]byte{fill}, n) }
