package lap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"axion/internal/eeprom"
)

const (
	slotMagic   uint32 = 0x4C415031 // "LAP1"
	slotVersion        = 1
	slotHdrLen         = 16
	pointLen           = 8
	fixedScale         = 1e7
)

// Slot layout: magic u32, count u16, version u8, reserved u8, best lap ms
// u32, reserved u32, then count × (lat i32, lon i32) in degrees × 1e7.

func toFixed(deg float64) int32 { return int32(math.Round(deg * fixedScale)) }

func fromFixed(v int32) float64 { return float64(v) / fixedScale }

func encodeSlot(points []Point, best time.Duration) []byte {
	buf := make([]byte, slotHdrLen+len(points)*pointLen)
	binary.LittleEndian.PutUint32(buf[0:4], slotMagic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(points)))
	buf[6] = slotVersion
	ms := best.Milliseconds()
	if ms < 0 || ms > math.MaxUint32 {
		ms = 0
	}
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ms))
	for i, p := range points {
		off := slotHdrLen + i*pointLen
		binary.LittleEndian.PutUint32(buf[off:], uint32(toFixed(p.Lat)))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(toFixed(p.Lon)))
	}
	return buf
}

func decodeSlot(raw []byte) ([]Point, time.Duration, error) {
	if binary.LittleEndian.Uint32(raw[0:4]) != slotMagic {
		return nil, 0, eeprom.ErrBadMagic
	}
	n := int(binary.LittleEndian.Uint16(raw[4:6]))
	if n < 1 || n > MaxPoints {
		return nil, 0, fmt.Errorf("lap: point count %d: %w", n, eeprom.ErrBadMagic)
	}
	if raw[6] != slotVersion {
		return nil, 0, fmt.Errorf("%w: lap v%d", eeprom.ErrBadVersion, raw[6])
	}
	best := time.Duration(binary.LittleEndian.Uint32(raw[8:12])) * time.Millisecond
	pts := make([]Point, n)
	for i := range pts {
		off := slotHdrLen + i*pointLen
		pts[i] = Point{
			Lat: fromFixed(int32(binary.LittleEndian.Uint32(raw[off:]))),
			Lon: fromFixed(int32(binary.LittleEndian.Uint32(raw[off+4:]))),
		}
	}
	return pts, best, nil
}

// Save writes the track and best time into the selected slot.
func (m *Machine) Save(s eeprom.Store) error {
	if len(m.points) == 0 {
		return fmt.Errorf("lap: nothing to save")
	}
	r, err := eeprom.LapSlot(m.slot)
	if err != nil {
		return err
	}
	return eeprom.WriteRegion(s, r, encodeSlot(m.points, m.best))
}

// LoadSlot reads one slot into the machine.
func (m *Machine) LoadSlot(s eeprom.Store, slot int) error {
	r, err := eeprom.LapSlot(slot)
	if err != nil {
		return err
	}
	raw, err := eeprom.ReadRegion(s, r)
	if err != nil {
		return err
	}
	pts, best, err := decodeSlot(raw)
	if err != nil {
		return err
	}
	m.SetTrack(pts, best, slot)
	return nil
}

// Load scans slots 1..3 and loads the first valid one. It returns the slot
// loaded, or 0 with an error when none is valid; the machine is then left
// in learning mode.
func (m *Machine) Load(s eeprom.Store) (int, error) {
	var errs []error
	for slot := 1; slot <= eeprom.LapSlots; slot++ {
		err := m.LoadSlot(s, slot)
		if err == nil {
			return slot, nil
		}
		errs = append(errs, fmt.Errorf("slot %d: %w", slot, err))
	}
	return 0, errors.Join(errs...)
}
