package scan

import "sync"

// Source adapts a callback-driven code detector (camera decoder, HID wedge
// scanner) into a bounded channel of decoded codes consumed one at a time by
// the Gate. Its lifecycle is tied to the scanner view: Start on mount, Stop
// on unmount.
type Source struct {
	mu     sync.Mutex
	codes  chan string
	closed bool
}

// NewSource creates a source with the given buffer. Codes emitted while the
// buffer is full are dropped, matching the "ignored, not queued" input rule.
func NewSource(buffer int) *Source {
	if buffer <= 0 {
		buffer = 16
	}
	return &Source{codes: make(chan string, buffer)}
}

// Emit offers a decoded code. It never blocks; a full buffer drops the code.
// Safe to call from the detector's callback goroutine.
func (s *Source) Emit(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || code == "" {
		return false
	}
	select {
	case s.codes <- code:
		return true
	default:
		return false
	}
}

// Codes is the consumer side.
func (s *Source) Codes() <-chan string {
	return s.codes
}

// Stop closes the source. Emit after Stop is a no-op.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.codes)
	}
}
