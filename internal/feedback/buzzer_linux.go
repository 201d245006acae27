//go:build linux

package feedback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var pwmSysfsBase = "/sys/class/pwm"

// pwmBuzzer drives a piezo from a sysfs PWM channel at 50% duty.
type pwmBuzzer struct {
	chipPath string
	pwmPath  string
	channel  int
	hz       int
	enabled  bool
}

var openBuzzerFn = openBuzzer

func openBuzzer(cfg HardwareConfig) (*pwmBuzzer, error) {
	chip, err := findPWMChip(cfg.PWMChip)
	if err != nil {
		return nil, err
	}
	ch := cfg.PWMChannel
	if ch < 0 {
		ch = 0
	}
	b := &pwmBuzzer{
		chipPath: chip,
		channel:  ch,
		pwmPath:  filepath.Join(chip, fmt.Sprintf("pwm%d", ch)),
	}
	if err := b.ensureExported(); err != nil {
		return nil, err
	}
	_ = writeSysfs(filepath.Join(b.pwmPath, "enable"), "0")
	return b, nil
}

func findPWMChip(name string) (string, error) {
	base := pwmSysfsBase
	if name != "" {
		p := filepath.Join(base, name)
		if _, err := readInt(filepath.Join(p, "npwm")); err != nil {
			return "", fmt.Errorf("feedback: pwm chip %s: %w", name, err)
		}
		return p, nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("feedback: read %s: %w", base, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		p := filepath.Join(base, n)
		if v, err := readInt(filepath.Join(p, "npwm")); err == nil && v > 0 {
			return p, nil
		}
	}
	return "", errors.New("feedback: no sysfs pwmchip found (is the pwm overlay enabled?)")
}

func (b *pwmBuzzer) ensureExported() error {
	if _, err := os.Stat(b.pwmPath); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(b.chipPath, "export"), strconv.Itoa(b.channel)); err != nil {
		if _, statErr := os.Stat(b.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("feedback: export pwm: %w", err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(b.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("feedback: %s not created after export", b.pwmPath)
}

func (b *pwmBuzzer) tone(hz int) error {
	if hz <= 0 {
		return b.silence()
	}
	if hz == b.hz && b.enabled {
		return nil
	}
	period := uint64(1_000_000_000 / hz)
	_ = b.write("enable", "0")
	b.enabled = false
	// duty must stay below period while the period shrinks
	if err := b.write("duty_cycle", "0"); err != nil {
		return err
	}
	if err := b.write("period", strconv.FormatUint(period, 10)); err != nil {
		return err
	}
	if err := b.write("duty_cycle", strconv.FormatUint(period/2, 10)); err != nil {
		return err
	}
	if err := b.write("enable", "1"); err != nil {
		return err
	}
	b.hz, b.enabled = hz, true
	return nil
}

func (b *pwmBuzzer) silence() error {
	if !b.enabled {
		return nil
	}
	if err := b.write("enable", "0"); err != nil {
		return err
	}
	b.enabled = false
	return nil
}

func (b *pwmBuzzer) close() error {
	b.enabled = true
	return b.silence()
}

func (b *pwmBuzzer) write(attr, v string) error {
	return writeSysfs(filepath.Join(b.pwmPath, attr), v)
}

var sysfsRetryWindow = 500 * time.Millisecond

// writeSysfs opens without O_TRUNC or O_CREATE and retries briefly while
// udev settles permissions on freshly exported nodes.
func writeSysfs(path, value string) error {
	deadline := time.Now().Add(sysfsRetryWindow)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			_, err = f.WriteString(value)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err == nil {
				return nil
			}
		}
		if !time.Now().Before(deadline) || !retryableSysfs(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func retryableSysfs(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) ||
		errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, errors.New("empty")
	}
	return strconv.Atoi(s)
}
