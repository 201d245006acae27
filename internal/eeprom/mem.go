package eeprom

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Mem is an in-memory Store. It is used by tests and as a fallback when no
// persistent store is configured.
type Mem struct {
	mu   sync.Mutex
	data []byte

	// FailAfter makes the Nth and later WriteAt calls fail (0 disables).
	FailAfter int
	writes    int
}

func NewMem(size int) *Mem {
	m := &Mem{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m
}

var errInjected = errors.New("injected write failure")

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.FailAfter > 0 && m.writes >= m.FailAfter {
		return 0, errInjected
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write past end off=%d len=%d", off, len(p))
	}
	return copy(m.data[off:], p), nil
}

// Bytes returns a copy of the image.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
