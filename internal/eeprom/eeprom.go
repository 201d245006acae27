// Package eeprom owns the small non-volatile store and its fixed region map.
//
// Every record lives in its own disjoint region and starts with a magic value
// followed by a version byte. All integers are little-endian.
package eeprom

import (
	"errors"
	"fmt"
	"io"
)

// Size is the total footprint of the region map (AT24C64).
const Size = 8192

// Region is a fixed, byte-addressable window of the store.
type Region struct {
	Name   string
	Offset int64
	Len    int
}

var (
	SysState    = Region{Name: "sysstate", Offset: 0x0000, Len: 16}
	Calibration = Region{Name: "calibration", Offset: 0x0040, Len: 32}
	Feedback    = Region{Name: "feedback", Offset: 0x0080, Len: 64}
	ErrorLog    = Region{Name: "errlog", Offset: 0x0100, Len: 1792}
)

const (
	lapSlotBase = 0x0800
	lapSlotLen  = 0x0400
	LapSlots    = 3
)

// LapSlot returns the region of lap slot n (1..LapSlots).
func LapSlot(n int) (Region, error) {
	if n < 1 || n > LapSlots {
		return Region{}, fmt.Errorf("eeprom: lap slot %d out of range", n)
	}
	return Region{
		Name:   fmt.Sprintf("lap%d", n),
		Offset: lapSlotBase + int64(n-1)*lapSlotLen,
		Len:    lapSlotLen,
	}, nil
}

// Regions lists every region in address order.
func Regions() []Region {
	out := []Region{SysState, Calibration, Feedback, ErrorLog}
	for n := 1; n <= LapSlots; n++ {
		r, _ := LapSlot(n)
		out = append(out, r)
	}
	return out
}

var (
	ErrBadMagic   = errors.New("eeprom: bad magic")
	ErrBadVersion = errors.New("eeprom: unsupported version")
	ErrTooLarge   = errors.New("eeprom: record exceeds region")
)

// IsUnset reports whether err only means the region was never written.
func IsUnset(err error) bool {
	return errors.Is(err, ErrBadMagic) || errors.Is(err, ErrBadVersion)
}

// Store is the byte-addressable backing device.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// ReadRegion reads the whole region.
func ReadRegion(s Store, r Region) ([]byte, error) {
	buf := make([]byte, r.Len)
	if _, err := s.ReadAt(buf, r.Offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("eeprom: read %s: %w", r.Name, err)
	}
	return buf, nil
}

// WriteRegion writes p at the start of the region.
func WriteRegion(s Store, r Region, p []byte) error {
	if len(p) > r.Len {
		return fmt.Errorf("%w: %s len=%d max=%d", ErrTooLarge, r.Name, len(p), r.Len)
	}
	if _, err := s.WriteAt(p, r.Offset); err != nil {
		return fmt.Errorf("eeprom: write %s: %w", r.Name, err)
	}
	return nil
}

// WriteRegionAt writes p at off bytes into the region.
func WriteRegionAt(s Store, r Region, off int, p []byte) error {
	if off < 0 || off+len(p) > r.Len {
		return fmt.Errorf("%w: %s off=%d len=%d max=%d", ErrTooLarge, r.Name, off, len(p), r.Len)
	}
	if _, err := s.WriteAt(p, r.Offset+int64(off)); err != nil {
		return fmt.Errorf("eeprom: write %s+%d: %w", r.Name, off, err)
	}
	return nil
}

// CheckHeader validates a two-byte magic followed by a version byte and
// returns the version.
func CheckHeader(b []byte, magic string, versions ...byte) (byte, error) {
	if len(b) < 3 || string(b[:2]) != magic {
		return 0, ErrBadMagic
	}
	v := b[2]
	for _, want := range versions {
		if v == want {
			return v, nil
		}
	}
	return v, fmt.Errorf("%w: %s v%d", ErrBadVersion, magic, v)
}

// PutHeader writes a two-byte magic and a version byte into b.
func PutHeader(b []byte, magic string, version byte) {
	copy(b[:2], magic)
	b[2] = version
}
