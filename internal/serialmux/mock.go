package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort replays lines at a fixed interval and discards writes.
type MockSerialPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func (m *MockSerialPort) Read(p []byte) (int, error)  { return m.r.Read(p) }
func (m *MockSerialPort) Write(p []byte) (int, error) { return len(p), nil }

func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.w.Close()
	})
	return m.r.Close()
}

// NewMockSerialMux creates a SerialMux whose port emits next() every
// interval until closed. Each value must be a single line; a trailing
// newline is added when missing.
func NewMockSerialMux(interval time.Duration, next func() []byte) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w, done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-port.done:
				return
			case <-ticker.C:
				line := next()
				if !bytes.HasSuffix(line, []byte("\n")) {
					line = append(line, '\n')
				}
				if _, err := w.Write(line); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port)
}

// TestableSerialPort implements SerialPorter with scripted reads and
// captured writes.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
	eof      bool
	cond     *sync.Cond

	// WriteError is returned by the next Write call if set.
	WriteError error
	// ShortWrite makes Write report one byte fewer than given.
	ShortWrite bool
}

// NewTestableSerialPort creates a port whose reads block until data is
// added, CloseInput is called, or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && !t.eof && t.readBuf.Len() == 0 {
		t.cond.Wait()
	}
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return t.readBuf.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, _ := t.writeBuf.Write(p)
	if t.ShortWrite {
		n--
	}
	return n, nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return nil
}

// AddReadData appends data returned by subsequent reads.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.WriteString(data)
	t.cond.Broadcast()
}

// CloseInput makes reads return io.EOF once buffered data is consumed.
func (t *TestableSerialPort) CloseInput() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eof = true
	t.cond.Broadcast()
}

// Written returns everything written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}
