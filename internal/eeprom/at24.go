package eeprom

import (
	"fmt"
	"time"
)

// Transactor is one I2C device endpoint. Each call is a single bus
// transaction; the bus lock is never held across calls.
type Transactor interface {
	Write(p []byte) error
	WriteRead(w, r []byte) error
}

const (
	at24PageSize   = 32
	at24ReadChunk  = 64
	at24WriteCycle = 5 * time.Millisecond
)

var sleepFn = time.Sleep

// AT24 drives a 16-bit addressed AT24Cxx EEPROM (AT24C32/C64).
type AT24 struct {
	dev  Transactor
	size int64
}

func NewAT24(dev Transactor, size int) *AT24 {
	return &AT24{dev: dev, size: int64(size)}
}

func (e *AT24) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > e.size {
		return 0, fmt.Errorf("at24: read out of range off=%d len=%d", off, len(p))
	}
	done := 0
	for done < len(p) {
		n := len(p) - done
		if n > at24ReadChunk {
			n = at24ReadChunk
		}
		addr := off + int64(done)
		if err := e.dev.WriteRead([]byte{byte(addr >> 8), byte(addr)}, p[done:done+n]); err != nil {
			return done, fmt.Errorf("at24: read 0x%04X: %w", addr, err)
		}
		done += n
	}
	return done, nil
}

// WriteAt splits p on page boundaries and waits out the write cycle after
// each page.
func (e *AT24) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > e.size {
		return 0, fmt.Errorf("at24: write out of range off=%d len=%d", off, len(p))
	}
	done := 0
	for done < len(p) {
		addr := off + int64(done)
		room := at24PageSize - int(addr%at24PageSize)
		n := len(p) - done
		if n > room {
			n = room
		}
		buf := make([]byte, 0, 2+n)
		buf = append(buf, byte(addr>>8), byte(addr))
		buf = append(buf, p[done:done+n]...)
		if err := e.dev.Write(buf); err != nil {
			return done, fmt.Errorf("at24: write 0x%04X: %w", addr, err)
		}
		sleepFn(at24WriteCycle)
		done += n
	}
	return done, nil
}
