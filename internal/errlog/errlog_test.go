package errlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axion/internal/eeprom"
	"axion/internal/timeutil"
)

func newTestLog() (*Log, *timeutil.MockClock) {
	clk := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	return New(clk), clk
}

func TestHashSource(t *testing.T) {
	assert.Equal(t, uint8(0), HashSource(""))
	assert.Equal(t, uint8('A'), HashSource("A"))
	// ('g'*131 + 'p') mod 256
	want := uint8((uint32('g')*131 + uint32('p')) % 256)
	assert.Equal(t, want, HashSource("gp"))
	assert.Equal(t, HashSource("gps"), HashSource("gps"))
}

func TestLog_AddStampsEpoch(t *testing.T) {
	l, clk := newTestLog()
	clk.Advance(3 * time.Second)
	e := l.Add(GPSLost, "gps", -7)
	assert.Equal(t, uint32(1_700_000_003), e.Epoch)
	assert.Equal(t, HashSource("gps"), e.Src)
	assert.Equal(t, int32(-7), e.Data)
	assert.Equal(t, []Entry{e}, l.Entries())
}

func TestLog_OverwritesOldestWhenFull(t *testing.T) {
	l, _ := newTestLog()
	for i := 0; i < Capacity+10; i++ {
		l.Add(IMUFail, "imu", int32(i))
	}
	got := l.Entries()
	require.Len(t, got, Capacity)
	assert.Equal(t, int32(10), got[0].Data)
	assert.Equal(t, int32(Capacity+9), got[len(got)-1].Data)
}

func TestPersistLoad_RoundTripNewest(t *testing.T) {
	l, _ := newTestLog()
	for i := 0; i < 200; i++ {
		l.Add(OBDTimeout, "obd", int32(i-100))
	}
	m := eeprom.NewMem(eeprom.Size)
	n, err := l.Persist(m)
	require.NoError(t, err)
	assert.Equal(t, MaxPersisted, n)

	got, err := Load(m)
	require.NoError(t, err)
	require.Len(t, got, MaxPersisted)
	assert.Equal(t, int32(200-MaxPersisted-100), got[0].Data)
	assert.Equal(t, int32(99), got[len(got)-1].Data)
	assert.Equal(t, OBDTimeout, got[0].Code)
}

func TestPersist_FailurePartwayKeepsWrittenRecords(t *testing.T) {
	l, _ := newTestLog()
	for i := 0; i < 5; i++ {
		l.Add(StorageFlush, "store", int32(i))
	}
	m := eeprom.NewMem(eeprom.Size)
	m.FailAfter = 4 // header + 2 records succeed

	n, err := l.Persist(m)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	raw := m.Bytes()[eeprom.ErrorLog.Offset:]
	assert.Equal(t, "EL", string(raw[:2]))
	rec1 := decode(raw[headerLen+recordLen : headerLen+2*recordLen])
	assert.Equal(t, int32(1), rec1.Data)
}

func TestLoad_BadMagic(t *testing.T) {
	m := eeprom.NewMem(eeprom.Size)
	_, err := Load(m)
	assert.ErrorIs(t, err, eeprom.ErrBadMagic)
}

func TestLog_Restore(t *testing.T) {
	l, _ := newTestLog()
	l.Restore([]Entry{{Epoch: 1, Code: HeapLow}, {Epoch: 2, Code: RebootCause}})
	l.Add(GPSLost, "gps", 0)
	got := l.Entries()
	require.Len(t, got, 3)
	assert.Equal(t, HeapLow, got[0].Code)
	assert.Equal(t, GPSLost, got[2].Code)
}

func TestCode_String(t *testing.T) {
	assert.Equal(t, "gps_lost", GPSLost.String())
	assert.Equal(t, "code_99", Code(99).String())
}
