package ahrs

import (
	"encoding/binary"
	"math"

	"axion/internal/eeprom"
)

const (
	calMagic   = "MC"
	calVersion = 1
	calHdrLen  = 4
	calLen     = 24
)

// Calibration is the hard/soft-iron magnetometer correction:
// calibrated = (raw - Offset) * Scale, per axis, in µT.
type Calibration struct {
	Offset [3]float32 `json:"offset"`
	Scale  [3]float32 `json:"scale"`
	Valid  bool       `json:"valid"`
}

// DefaultCalibration is the identity correction. It is not Valid, so the
// estimator runs without the magnetometer.
func DefaultCalibration() Calibration {
	return Calibration{Scale: [3]float32{1, 1, 1}}
}

// Sanitize replaces non-finite offsets with 0 and non-finite or near-zero
// scales with 1.
func (c *Calibration) Sanitize() {
	for i := 0; i < 3; i++ {
		if !finite32(c.Offset[i]) {
			c.Offset[i] = 0
		}
		if !finite32(c.Scale[i]) || math.Abs(float64(c.Scale[i])) < 1e-6 {
			c.Scale[i] = 1
		}
	}
}

func finite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Apply converts a raw magnetometer reading into calibrated µT.
func (c Calibration) Apply(raw Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = (raw[i] - float64(c.Offset[i])) * float64(c.Scale[i])
	}
	return out
}

// LoadCalibration reads the stored record. A missing or foreign record
// returns DefaultCalibration together with the eeprom sentinel error.
func LoadCalibration(s eeprom.Store) (Calibration, error) {
	raw, err := eeprom.ReadRegion(s, eeprom.Calibration)
	if err != nil {
		return DefaultCalibration(), err
	}
	if _, err := eeprom.CheckHeader(raw, calMagic, calVersion); err != nil {
		return DefaultCalibration(), err
	}
	p := raw[calHdrLen : calHdrLen+calLen]
	var c Calibration
	for i := 0; i < 3; i++ {
		c.Offset[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		c.Scale[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[12+i*4:]))
	}
	c.Sanitize()
	c.Valid = true
	return c, nil
}

func SaveCalibration(s eeprom.Store, c Calibration) error {
	c.Sanitize()
	buf := make([]byte, calHdrLen+calLen)
	eeprom.PutHeader(buf, calMagic, calVersion)
	p := buf[calHdrLen:]
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(c.Offset[i]))
		binary.LittleEndian.PutUint32(p[12+i*4:], math.Float32bits(c.Scale[i]))
	}
	return eeprom.WriteRegion(s, eeprom.Calibration, buf)
}
