package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"axion/internal/archive"
	"axion/internal/config"
	"axion/internal/drag"
	"axion/internal/eeprom"
	"axion/internal/engine"
	"axion/internal/feedback"
	"axion/internal/pps"
	"axion/internal/sysstate"
	"axion/internal/web"
)

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	cfg := config.Config{
		Store:   config.StoreConfig{Backend: "file", Path: filepath.Join(dir, "axion.eeprom")},
		Archive: config.ArchiveConfig{Enable: true, Path: filepath.Join(dir, "axion.db")},
		PPS:     config.PPSConfig{Enable: true, Synthetic: true, Period: 50 * time.Millisecond},
		Drag:    config.DragConfig{Target: "1000ft"},
		Lap:     config.LapConfig{Slot: 2},
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	return cfg
}

func TestOpenStore(t *testing.T) {
	s, closeFn, err := openStore(config.StoreConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*eeprom.Mem); !ok {
		t.Fatalf("memory store type=%T", s)
	}
	_ = closeFn()

	path := filepath.Join(t.TempDir(), "sub", "img.bin")
	s, closeFn, err = openStore(config.StoreConfig{Backend: "file", Path: path})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := s.(*eeprom.File); !ok {
		t.Fatalf("file store type=%T", s)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, _, err := openStore(config.StoreConfig{Backend: "floppy"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestAboutFacts(t *testing.T) {
	db, err := archive.Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("archive.Open() error: %v", err)
	}
	defer db.Close()

	f := aboutFacts("memory", 3, db, engine.Deps{Pulse: &pps.Capture{}})
	if f.Store != "memory" || f.Boots != 3 || f.StoreSize != "8.0 KiB" {
		t.Fatalf("facts=%+v", f)
	}
	if f.SchemaVersion != 2 {
		t.Fatalf("schema=%d", f.SchemaVersion)
	}
	if len(f.Inputs) != 0 {
		t.Fatalf("inputs=%v", f.Inputs)
	}

	f = aboutFacts("memory", 0, nil, engine.Deps{})
	if f.SchemaVersion != 0 || f.Inputs == nil {
		t.Fatalf("facts=%+v", f)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Feedback.Mode = "drift"
	ec := engineConfig(cfg)
	if ec.DragTarget != drag.Thousand {
		t.Fatalf("drag target=%v", ec.DragTarget)
	}
	if ec.Mode != feedback.Drift {
		t.Fatalf("mode=%v", ec.Mode)
	}
	if ec.LapSlot != 2 || ec.Interval != 10*time.Millisecond {
		t.Fatalf("engine config=%+v", ec)
	}
	if ec.Mount.Set {
		t.Fatalf("identity mount expected, got %+v", ec.Mount)
	}
}

func TestMountFromConfig(t *testing.T) {
	m := mountFromConfig(config.AHRSConfig{ForwardAxis: 1, GravityInSensor: []float64{0, 0, -1}})
	if !m.Set || m.ForwardAxis != 1 {
		t.Fatalf("mount=%+v", m)
	}

	// Forward axis parallel to gravity cannot define a frame.
	bad := mountFromConfig(config.AHRSConfig{ForwardAxis: 3, GravityInSensor: []float64{0, 0, -1}})
	if bad.Set {
		t.Fatalf("expected identity fallback, got %+v", bad)
	}
}

func TestHardwareConfig(t *testing.T) {
	hw := hardwareConfig(config.FeedbackConfig{RedLine: "GPIO5", GreenLine: "GPIO6", Buzzer: true, PWMChannel: 1})
	if hw.RedLine != "GPIO5" || hw.GreenLine != "GPIO6" || !hw.Buzzer || hw.PWMChannel != 1 {
		t.Fatalf("hw=%+v", hw)
	}
}

func TestRuntime_StartAndCleanShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := startRuntime(ctx, cfg, web.NewLogBuffer(100))
	if err != nil {
		t.Fatalf("startRuntime() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rt.engine.Snapshot().Ticks == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("engine never ticked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := rt.engine.Snapshot().Drag.TargetName; got != "1000ft" {
		t.Fatalf("drag target=%q", got)
	}

	cancel()
	rt.Close()

	s, closeFn, err := openStore(cfg.Store)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer closeFn()
	st, err := sysstate.Load(s)
	if err != nil {
		t.Fatalf("sysstate.Load() error: %v", err)
	}
	if st.Boots != 1 {
		t.Fatalf("boots=%d", st.Boots)
	}
	if st.LastResetReason != sysstate.ResetShutdown {
		t.Fatalf("reset reason=%d", st.LastResetReason)
	}
}
