package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"axion/internal/drag"
	"axion/internal/feedback"
)

// Environment overrides.
const (
	EnvConfig    = "AXION_CONFIG"
	EnvGPSDevice = "AXION_GPS_DEVICE"
	EnvOBDAddr   = "AXION_OBD_ADDR"

	DefaultPath = "./axion.yaml"
)

type Config struct {
	GPS      GPSConfig      `yaml:"gps"`
	OBD      OBDConfig      `yaml:"obd"`
	AHRS     AHRSConfig     `yaml:"ahrs"`
	Store    StoreConfig    `yaml:"store"`
	PPS      PPSConfig      `yaml:"pps"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Drag     DragConfig     `yaml:"drag"`
	Lap      LapConfig      `yaml:"lap"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Web      WebConfig      `yaml:"web"`
	Engine   EngineConfig   `yaml:"engine"`
}

type GPSConfig struct {
	Enable   bool   `yaml:"enable"`
	Source   string `yaml:"source"` // serial|gpsd
	Device   string `yaml:"device"` // empty auto-detects
	Baud     int    `yaml:"baud"`
	GPSDAddr string `yaml:"gpsd_addr"`
}

type OBDConfig struct {
	Enable    bool          `yaml:"enable"`
	Transport string        `yaml:"transport"` // serial|tcp
	Device    string        `yaml:"device"`
	Baud      int           `yaml:"baud"`
	Addr      string        `yaml:"addr"`
	Interval  time.Duration `yaml:"interval"`
}

type AHRSConfig struct {
	Enable bool    `yaml:"enable"`
	IMUDir string  `yaml:"imu_dir"` // IIO device dir; empty scans /sys/bus/iio/devices
	MagDir string  `yaml:"mag_dir"`
	Beta   float64 `yaml:"beta"`

	// ForwardAxis is the sensor axis toward the vehicle nose (+/-1..3).
	ForwardAxis     int       `yaml:"forward_axis"`
	GravityInSensor []float64 `yaml:"gravity_in_sensor"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // file|i2c|memory
	Path    string `yaml:"path"`
	I2CBus  string `yaml:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr"`
}

type PPSConfig struct {
	Enable    bool          `yaml:"enable"`
	Chip      string        `yaml:"chip"`
	Line      string        `yaml:"line"`
	Synthetic bool          `yaml:"synthetic"`
	Period    time.Duration `yaml:"period"`
}

type FeedbackConfig struct {
	Enable     bool   `yaml:"enable"`
	Mode       string `yaml:"mode"`
	Chip       string `yaml:"chip"`
	RedLine    string `yaml:"red_line"`
	GreenLine  string `yaml:"green_line"`
	Buzzer     bool   `yaml:"buzzer"`
	PWMChip    string `yaml:"pwm_chip"`
	PWMChannel int    `yaml:"pwm_channel"`
}

type DragConfig struct {
	Target string `yaml:"target"` // 1/8|1/4|1000ft
}

type LapConfig struct {
	Slot int `yaml:"slot"`
}

type ArchiveConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type EngineConfig struct {
	Interval       time.Duration `yaml:"interval"`
	GPSStale       time.Duration `yaml:"gps_stale"`
	IMUStale       time.Duration `yaml:"imu_stale"`
	LostLong       time.Duration `yaml:"lost_long"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	DriftHighScore float64       `yaml:"drift_high_score"`
}

// ResolvePath returns AXION_CONFIG when set, else path, else DefaultPath.
// An optional .env in the working directory is read first.
func ResolvePath(path string) string {
	_ = godotenv.Load()
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	if strings.TrimSpace(path) == "" {
		return DefaultPath
	}
	return path
}

// Load reads path, applies environment overrides, then defaults and
// validation.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvGPSDevice)); v != "" {
		cfg.GPS.Device = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOBDAddr)); v != "" {
		cfg.OBD.Addr = v
	}
}

// DefaultAndValidate fills omitted fields and rejects inconsistent ones.
// Error messages name the offending key.
func DefaultAndValidate(cfg *Config) error {
	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	switch cfg.GPS.Source {
	case "", "nmea":
		cfg.GPS.Source = "serial"
	case "serial", "gpsd":
	default:
		return fmt.Errorf("gps.source must be 'serial' or 'gpsd'")
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 115200
	}
	if cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	if cfg.GPS.Source == "gpsd" && strings.TrimSpace(cfg.GPS.GPSDAddr) == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}

	cfg.OBD.Transport = strings.ToLower(strings.TrimSpace(cfg.OBD.Transport))
	if cfg.OBD.Transport == "" {
		cfg.OBD.Transport = "tcp"
	}
	switch cfg.OBD.Transport {
	case "tcp":
		if strings.TrimSpace(cfg.OBD.Addr) == "" {
			cfg.OBD.Addr = "192.168.0.10:35000"
		}
	case "serial":
		if cfg.OBD.Enable && strings.TrimSpace(cfg.OBD.Device) == "" {
			return fmt.Errorf("obd.device is required when obd.transport is 'serial'")
		}
	default:
		return fmt.Errorf("obd.transport must be 'serial' or 'tcp'")
	}
	if cfg.OBD.Baud == 0 {
		cfg.OBD.Baud = 38400
	}
	if cfg.OBD.Interval <= 0 {
		cfg.OBD.Interval = 200 * time.Millisecond
	}

	if cfg.AHRS.Beta == 0 {
		cfg.AHRS.Beta = 0.1
	}
	if cfg.AHRS.Beta < 0 || cfg.AHRS.Beta > 1 {
		return fmt.Errorf("ahrs.beta must be in (0, 1]")
	}
	if cfg.AHRS.ForwardAxis == 0 {
		cfg.AHRS.ForwardAxis = 1
	}
	if a := cfg.AHRS.ForwardAxis; a < -3 || a > 3 {
		return fmt.Errorf("ahrs.forward_axis must be one of 1,2,3 or -1,-2,-3")
	}
	if n := len(cfg.AHRS.GravityInSensor); n != 0 && n != 3 {
		return fmt.Errorf("ahrs.gravity_in_sensor must have 3 elements")
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	switch cfg.Store.Backend {
	case "file":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			cfg.Store.Path = "./data/axion.eeprom"
		}
	case "i2c":
		if strings.TrimSpace(cfg.Store.I2CBus) == "" {
			cfg.Store.I2CBus = "/dev/i2c-1"
		}
		if cfg.Store.I2CAddr == 0 {
			cfg.Store.I2CAddr = 0x50
		}
		if cfg.Store.I2CAddr > 0x7f {
			return fmt.Errorf("store.i2c_addr must be a 7-bit address")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be 'file', 'i2c' or 'memory'")
	}

	if cfg.PPS.Enable && !cfg.PPS.Synthetic && strings.TrimSpace(cfg.PPS.Line) == "" {
		return fmt.Errorf("pps.line is required when pps.enable is true")
	}
	if cfg.PPS.Period <= 0 {
		cfg.PPS.Period = time.Second
	}

	if strings.TrimSpace(cfg.Feedback.Mode) == "" {
		cfg.Feedback.Mode = feedback.Dashboard.String()
	}
	if _, err := feedback.ParseMode(cfg.Feedback.Mode); err != nil {
		return fmt.Errorf("feedback.mode %q is not a known mode", cfg.Feedback.Mode)
	}
	if cfg.Feedback.PWMChannel < 0 {
		return fmt.Errorf("feedback.pwm_channel must be >= 0")
	}

	if strings.TrimSpace(cfg.Drag.Target) == "" {
		cfg.Drag.Target = drag.EighthMile.String()
	}
	if _, err := drag.ParseTarget(cfg.Drag.Target); err != nil {
		return fmt.Errorf("drag.target must be '1/8', '1/4' or '1000ft'")
	}

	if cfg.Lap.Slot == 0 {
		cfg.Lap.Slot = 1
	}
	if cfg.Lap.Slot < 1 || cfg.Lap.Slot > 3 {
		return fmt.Errorf("lap.slot must be 1, 2 or 3")
	}

	if cfg.Archive.Enable && strings.TrimSpace(cfg.Archive.Path) == "" {
		cfg.Archive.Path = "./data/axion.db"
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Engine.Interval <= 0 {
		cfg.Engine.Interval = 10 * time.Millisecond
	}
	if cfg.Engine.Interval > 100*time.Millisecond {
		return fmt.Errorf("engine.interval must be <= 100ms")
	}
	if cfg.Engine.GPSStale <= 0 {
		cfg.Engine.GPSStale = 2 * time.Second
	}
	if cfg.Engine.IMUStale <= 0 {
		cfg.Engine.IMUStale = 500 * time.Millisecond
	}
	if cfg.Engine.LostLong <= 0 {
		cfg.Engine.LostLong = 10 * time.Second
	}
	if cfg.Engine.LostLong < cfg.Engine.GPSStale {
		return fmt.Errorf("engine.lost_long must be >= engine.gps_stale")
	}
	if cfg.Engine.FlushInterval == 0 {
		cfg.Engine.FlushInterval = 5 * time.Minute
	}
	return nil
}
