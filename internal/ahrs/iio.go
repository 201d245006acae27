package ahrs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	iioBase         = "/sys/bus/iio/devices"
	standardGravity = 9.80665
	gaussToMicroT   = 100.0
)

// Sample is one pre-scaled IMU reading: accel in g, gyro in rad/s, mag in
// µT (raw, before calibration).
type Sample struct {
	Accel  Vec3      `json:"accel_g"`
	Gyro   Vec3      `json:"gyro_rads"`
	Mag    Vec3      `json:"mag_ut"`
	HasMag bool      `json:"has_mag"`
	At     time.Time `json:"at"`
}

// Source yields IMU samples. Read must not block for more than a few
// milliseconds.
type Source interface {
	Read() (Sample, error)
}

type iioChannel struct {
	raw   [3]string
	scale [3]float64
	mult  float64
}

func openChannel(dir, kind string, mult float64) (*iioChannel, error) {
	ch := &iioChannel{mult: mult}
	shared, sharedOK := readFloatFile(filepath.Join(dir, "in_"+kind+"_scale"))
	for i, axis := range []string{"x", "y", "z"} {
		ch.raw[i] = filepath.Join(dir, fmt.Sprintf("in_%s_%s_raw", kind, axis))
		if _, err := os.Stat(ch.raw[i]); err != nil {
			return nil, fmt.Errorf("ahrs: iio %s: %w", kind, err)
		}
		if v, ok := readFloatFile(filepath.Join(dir, fmt.Sprintf("in_%s_%s_scale", kind, axis))); ok {
			ch.scale[i] = v
		} else if sharedOK {
			ch.scale[i] = shared
		} else {
			ch.scale[i] = 1
		}
	}
	return ch, nil
}

func (ch *iioChannel) read() (Vec3, error) {
	var v Vec3
	for i := 0; i < 3; i++ {
		raw, ok := readFloatFile(ch.raw[i])
		if !ok {
			return Vec3{}, fmt.Errorf("ahrs: read %s", ch.raw[i])
		}
		v[i] = raw * ch.scale[i] * ch.mult
	}
	return v, nil
}

// IIO reads accelerometer, gyroscope and optional magnetometer channels from
// Linux IIO sysfs directories.
type IIO struct {
	accel, gyro, mag *iioChannel
	now              func() time.Time
}

// OpenIIO opens the IMU device directory and, when magDir is non-empty, a
// magnetometer directory. An empty imuDir selects the first device exposing
// both accel and gyro channels.
func OpenIIO(imuDir, magDir string) (*IIO, error) {
	if imuDir == "" {
		d, err := findIIODevice(iioBase)
		if err != nil {
			return nil, err
		}
		imuDir = d
	}
	accel, err := openChannel(imuDir, "accel", 1/standardGravity)
	if err != nil {
		return nil, err
	}
	gyro, err := openChannel(imuDir, "anglvel", 1)
	if err != nil {
		return nil, err
	}
	dev := &IIO{accel: accel, gyro: gyro, now: time.Now}
	if magDir != "" {
		mag, err := openChannel(magDir, "magn", gaussToMicroT)
		if err != nil {
			return nil, err
		}
		dev.mag = mag
	}
	return dev, nil
}

func (d *IIO) Read() (Sample, error) {
	s := Sample{At: d.now()}
	var err error
	if s.Accel, err = d.accel.read(); err != nil {
		return Sample{}, err
	}
	if s.Gyro, err = d.gyro.read(); err != nil {
		return Sample{}, err
	}
	if d.mag != nil {
		if s.Mag, err = d.mag.read(); err != nil {
			return Sample{}, err
		}
		s.HasMag = true
	}
	return s, nil
}

func findIIODevice(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("ahrs: list %s: %w", base, err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "iio:device") {
			continue
		}
		dir := filepath.Join(base, e.Name())
		if fileExists(filepath.Join(dir, "in_accel_x_raw")) && fileExists(filepath.Join(dir, "in_anglvel_x_raw")) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("ahrs: no iio device with accel+gyro under %s", base)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func readFloatFile(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
