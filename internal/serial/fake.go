package serial

import "sync"

// FakeLink is an in-memory Link for tests. Send queues a received line and
// Written returns what the controller sent back.
type FakeLink struct {
	lines chan string

	mu      sync.Mutex
	written []string
	closed  bool
}

// NewFakeLink creates a FakeLink with room for buffer pending lines.
func NewFakeLink(buffer int) *FakeLink {
	return &FakeLink{lines: make(chan string, buffer)}
}

// Send delivers a line as if it had been received.
func (f *FakeLink) Send(line string) {
	f.lines <- line
}

func (f *FakeLink) Lines() <-chan string { return f.lines }

func (f *FakeLink) WriteLine(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.written = append(f.written, s)
	return nil
}

// Written returns a copy of all lines written so far.
func (f *FakeLink) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.lines)
	}
	return nil
}
