// Package errlog keeps the rotating diagnostic log and its compact persisted
// snapshot.
package errlog

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"axion/internal/eeprom"
	"axion/internal/ring"
	"axion/internal/timeutil"
)

// Capacity is the number of entries kept in memory.
const Capacity = 256

// MaxPersisted bounds the records written to the store.
const MaxPersisted = 128

const (
	magic      = "EL"
	version    = 1
	headerLen  = 8
	recordLen  = 12
	byteBudget = headerLen + MaxPersisted*recordLen
)

// Code identifies the kind of diagnostic event.
type Code uint8

const (
	GPSLost          Code = 1
	IMUFail          Code = 2
	OBDTimeout       Code = 3
	StorageFlush     Code = 4
	HeapLow          Code = 5
	RebootCause      Code = 6
	StorageWriteFail Code = 7
)

func (c Code) String() string {
	switch c {
	case GPSLost:
		return "gps_lost"
	case IMUFail:
		return "imu_fail"
	case OBDTimeout:
		return "obd_timeout"
	case StorageFlush:
		return "storage_flush"
	case HeapLow:
		return "heap_low"
	case RebootCause:
		return "reboot_cause"
	case StorageWriteFail:
		return "storage_write_fail"
	default:
		return fmt.Sprintf("code_%d", uint8(c))
	}
}

// Entry is one diagnostic record. Src is a lossy one-byte hash of the
// source tag and is only good for rough grouping.
type Entry struct {
	Epoch uint32 `json:"epoch"`
	Code  Code   `json:"code"`
	Src   uint8  `json:"src"`
	Data  int32  `json:"data"`
}

// HashSource folds a tag into one byte: h = h*131 + c.
func HashSource(tag string) uint8 {
	var h uint8
	for i := 0; i < len(tag); i++ {
		h = h*131 + tag[i]
	}
	return h
}

// Log is a fixed-capacity diagnostic ring. Add always succeeds.
type Log struct {
	mu    sync.Mutex
	buf   *ring.Buffer[Entry]
	clock timeutil.Clock
}

func New(clock timeutil.Clock) *Log {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &Log{buf: ring.New[Entry](Capacity), clock: clock}
}

// Add records an event stamped with the current epoch second.
func (l *Log) Add(code Code, src string, data int32) Entry {
	e := Entry{
		Epoch: epoch(l.clock.Now()),
		Code:  code,
		Src:   HashSource(src),
		Data:  data,
	}
	l.mu.Lock()
	l.buf.Push(e)
	l.mu.Unlock()
	return e
}

// Restore appends previously persisted entries, oldest first.
func (l *Log) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		l.buf.Push(e)
	}
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Last(0)
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Reset()
}

func epoch(t time.Time) uint32 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint32(s)
}

// Persist writes the header and then the newest entries (at most
// MaxPersisted) one record at a time. It returns the number of records
// written. A failed record write is reported; records already written stay.
func (l *Log) Persist(s eeprom.Store) (int, error) {
	entries := l.Entries()
	if len(entries) > MaxPersisted {
		entries = entries[len(entries)-MaxPersisted:]
	}
	if headerLen+len(entries)*recordLen > byteBudget || byteBudget > eeprom.ErrorLog.Len {
		return 0, fmt.Errorf("errlog: snapshot exceeds byte budget")
	}

	hdr := make([]byte, headerLen)
	eeprom.PutHeader(hdr, magic, version)
	binary.LittleEndian.PutUint16(hdr[4:6], uint16(len(entries)))
	if err := eeprom.WriteRegion(s, eeprom.ErrorLog, hdr); err != nil {
		return 0, fmt.Errorf("errlog: header: %w", err)
	}

	var rec [recordLen]byte
	for i, e := range entries {
		encode(rec[:], e)
		if err := eeprom.WriteRegionAt(s, eeprom.ErrorLog, headerLen+i*recordLen, rec[:]); err != nil {
			return i, fmt.Errorf("errlog: record %d: %w", i, err)
		}
	}
	return len(entries), nil
}

// Load reads a persisted snapshot. A bad magic or version yields
// eeprom.ErrBadMagic / eeprom.ErrBadVersion.
func Load(s eeprom.Store) ([]Entry, error) {
	raw, err := eeprom.ReadRegion(s, eeprom.ErrorLog)
	if err != nil {
		return nil, err
	}
	if _, err := eeprom.CheckHeader(raw, magic, version); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(raw[4:6]))
	if n > MaxPersisted {
		return nil, fmt.Errorf("errlog: count %d exceeds %d: %w", n, MaxPersisted, eeprom.ErrBadMagic)
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		off := headerLen + i*recordLen
		out = append(out, decode(raw[off:off+recordLen]))
	}
	return out, nil
}

func encode(b []byte, e Entry) {
	binary.LittleEndian.PutUint32(b[0:4], e.Epoch)
	b[4] = byte(e.Code)
	b[5] = e.Src
	binary.LittleEndian.PutUint32(b[6:10], uint32(e.Data))
	b[10] = 0
	b[11] = 0
}

func decode(b []byte) Entry {
	return Entry{
		Epoch: binary.LittleEndian.Uint32(b[0:4]),
		Code:  Code(b[4]),
		Src:   b[5],
		Data:  int32(binary.LittleEndian.Uint32(b[6:10])),
	}
}
