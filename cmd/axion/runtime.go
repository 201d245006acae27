package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dustin/go-humanize"

	"axion/internal/ahrs"
	"axion/internal/archive"
	"axion/internal/config"
	"axion/internal/drag"
	"axion/internal/eeprom"
	"axion/internal/engine"
	"axion/internal/errlog"
	"axion/internal/feedback"
	"axion/internal/gps"
	"axion/internal/i2c"
	"axion/internal/obd"
	"axion/internal/pps"
	"axion/internal/sysstate"
	"axion/internal/timeutil"
	"axion/internal/web"
)

// liveRuntime owns everything started by startRuntime. Close stops it in
// reverse order.
type liveRuntime struct {
	engine  *engine.Engine
	gps     *gps.Service
	obd     *obd.Service
	router  *feedback.Router
	archive *archive.DB
	closers []func() error
}

// openStore returns the persistent store and its closer.
func openStore(cfg config.StoreConfig) (eeprom.Store, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return eeprom.NewMem(eeprom.Size), func() error { return nil }, nil
	case "i2c":
		bus, err := i2c.Open(cfg.I2CBus)
		if err != nil {
			return nil, nil, err
		}
		return eeprom.NewAT24(bus.Dev(cfg.I2CAddr), eeprom.Size), bus.Close, nil
	case "file", "":
		f, err := eeprom.OpenFile(cfg.Path, eeprom.Size)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func storeDesc(cfg config.StoreConfig) string {
	switch cfg.Backend {
	case "i2c":
		return fmt.Sprintf("i2c bus=%s addr=0x%02x", cfg.I2CBus, cfg.I2CAddr)
	case "file":
		return "file path=" + cfg.Path
	default:
		return cfg.Backend
	}
}

// mountFromConfig rebuilds the persisted sensor orientation. Without a
// gravity vector the sensor frame is the vehicle frame.
func mountFromConfig(a config.AHRSConfig) ahrs.Mount {
	if len(a.GravityInSensor) != 3 {
		return ahrs.IdentityMount()
	}
	g := ahrs.Vec3{a.GravityInSensor[0], a.GravityInSensor[1], a.GravityInSensor[2]}
	m, err := ahrs.MountFromGravity(a.ForwardAxis, g)
	if err != nil {
		log.Printf("ahrs orientation ignored: %v", err)
		return ahrs.IdentityMount()
	}
	return m
}

func engineConfig(cfg config.Config) engine.Config {
	target, _ := drag.ParseTarget(cfg.Drag.Target)
	mode, _ := feedback.ParseMode(cfg.Feedback.Mode)
	return engine.Config{
		Interval:       cfg.Engine.Interval,
		GPSStale:       cfg.Engine.GPSStale,
		IMUStale:       cfg.Engine.IMUStale,
		LostLong:       cfg.Engine.LostLong,
		FlushInterval:  cfg.Engine.FlushInterval,
		Beta:           cfg.AHRS.Beta,
		DriftHighScore: cfg.Engine.DriftHighScore,
		DragTarget:     target,
		LapSlot:        cfg.Lap.Slot,
		Mode:           mode,
		Mount:          mountFromConfig(cfg.AHRS),
	}
}

func hardwareConfig(f config.FeedbackConfig) feedback.HardwareConfig {
	return feedback.HardwareConfig{
		Chip:       f.Chip,
		RedLine:    f.RedLine,
		GreenLine:  f.GreenLine,
		Buzzer:     f.Buzzer,
		PWMChip:    f.PWMChip,
		PWMChannel: f.PWMChannel,
	}
}

// aboutFacts describes the wired store and the inputs that actually came up.
func aboutFacts(store string, boots uint32, db *archive.DB, deps engine.Deps) web.Facts {
	f := web.Facts{
		Store:     store,
		StoreSize: humanize.IBytes(eeprom.Size),
		Boots:     boots,
		Inputs:    []string{},
	}
	if deps.GPS != nil {
		f.Inputs = append(f.Inputs, "gps")
	}
	if deps.OBD != nil {
		f.Inputs = append(f.Inputs, "obd")
	}
	if deps.IMU != nil {
		f.Inputs = append(f.Inputs, "imu")
	}
	if db != nil {
		if v, _, err := db.SchemaVersion(); err == nil {
			f.SchemaVersion = v
		}
	}
	return f
}

func startRuntime(ctx context.Context, cfg config.Config, logs *web.LogBuffer) (*liveRuntime, error) {
	rt := &liveRuntime{}
	clock := timeutil.NewRealClock()

	storeName := storeDesc(cfg.Store)
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Printf("store open failed backend=%s: %v; using volatile memory", cfg.Store.Backend, err)
		store, closeStore = eeprom.NewMem(eeprom.Size), func() error { return nil }
		storeName = "memory (fallback)"
	} else {
		log.Printf("store ready %s size=%s", storeName, humanize.IBytes(eeprom.Size))
	}
	rt.closers = append(rt.closers, closeStore)

	state, err := sysstate.Open(store)
	if err != nil {
		log.Printf("sysstate load failed: %v", err)
	}
	prev := state.State()
	log.Printf("boot count=%s last_uptime=%dms last_error=%s",
		humanize.Comma(int64(prev.Boots)+1), prev.LastUptimeMs, errlog.Code(prev.LastError))

	elog := errlog.New(clock)
	if entries, err := errlog.Load(store); err == nil {
		elog.Restore(entries)
		log.Printf("errlog restored entries=%d", len(entries))
	} else if !eeprom.IsUnset(err) {
		log.Printf("errlog load failed: %v", err)
	}

	prefs, err := feedback.LoadPrefs(store)
	if err != nil && !eeprom.IsUnset(err) {
		log.Printf("feedback prefs load failed: %v", err)
	}
	var act feedback.Actuator = feedback.Nop{}
	if cfg.Feedback.Enable {
		hw, err := feedback.OpenHardware(hardwareConfig(cfg.Feedback))
		if err != nil {
			log.Printf("feedback hardware unavailable: %v", err)
		} else {
			act = hw
		}
	}
	rt.router = feedback.NewRouter(act, prefs)

	deps := engine.Deps{
		Store:  store,
		Router: rt.router,
		Log:    elog,
		State:  state,
		Clock:  clock,
		Pulse:  &pps.Capture{},
	}

	rt.gps = gps.New(gps.Config{
		Enable:   cfg.GPS.Enable,
		Source:   cfg.GPS.Source,
		GPSDAddr: cfg.GPS.GPSDAddr,
		Device:   cfg.GPS.Device,
		Baud:     cfg.GPS.Baud,
	})
	if cfg.GPS.Enable {
		if err := rt.gps.Start(ctx); err != nil {
			log.Printf("gps init failed: %v", err)
		}
		deps.GPS = rt.gps
	}

	rt.obd = obd.New(obd.Config{
		Enable:    cfg.OBD.Enable,
		Transport: cfg.OBD.Transport,
		Device:    cfg.OBD.Device,
		Baud:      cfg.OBD.Baud,
		Addr:      cfg.OBD.Addr,
		Interval:  cfg.OBD.Interval,
	})
	if cfg.OBD.Enable {
		if err := rt.obd.Start(ctx); err != nil {
			log.Printf("obd init failed: %v", err)
		}
		deps.OBD = rt.obd
	}

	if cfg.AHRS.Enable {
		imu, err := ahrs.OpenIIO(cfg.AHRS.IMUDir, cfg.AHRS.MagDir)
		if err != nil {
			log.Printf("ahrs init failed: %v", err)
		} else {
			deps.IMU = imu
		}
	}

	pulseSrc := ""
	if cfg.PPS.Enable {
		pcfg := pps.Config{
			Enable:    true,
			Chip:      cfg.PPS.Chip,
			Line:      cfg.PPS.Line,
			Synthetic: cfg.PPS.Synthetic,
			Period:    cfg.PPS.Period,
		}
		if pcfg.Synthetic {
			go pps.RunSynthetic(ctx, deps.Pulse, pcfg.Period, clock.MonotonicMicros)
			log.Printf("pps synthetic period=%s", pcfg.Period)
			pulseSrc = "pps:synthetic"
		} else if line, err := pps.Open(pcfg, deps.Pulse); err != nil {
			log.Printf("pps init failed: %v", err)
		} else {
			log.Printf("pps enabled line=%s", line.Name())
			pulseSrc = "pps:" + line.Name()
			rt.closers = append(rt.closers, line.Close)
		}
	}

	if cfg.Archive.Enable {
		db, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			log.Printf("archive open failed path=%s: %v", cfg.Archive.Path, err)
		} else {
			rt.archive = db
			deps.Archive = db
			runs, laps, err := db.Counts()
			if err == nil {
				log.Printf("archive ready path=%s drag_runs=%s laps=%s",
					db.Path(), humanize.Comma(int64(runs)), humanize.Comma(int64(laps)))
			}
		}
	}

	rt.engine = engine.New(engineConfig(cfg), deps)
	if err := rt.engine.Start(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Web.Enable {
		status := web.NewStatus()
		status.SetStatic(map[string]any{
			"store":       storeName,
			"drag_target": cfg.Drag.Target,
			"lap_slot":    cfg.Lap.Slot,
			"interval":    cfg.Engine.Interval.String(),
		})
		src := web.Sources{
			Engine:   rt.engine.Snapshot,
			Feedback: rt.router.Snapshot,
			Boot:     state.State,
			Pulse:    deps.Pulse.Stats,
		}
		if cfg.GPS.Enable {
			src.GPS = rt.gps.Snapshot
		}
		if cfg.OBD.Enable {
			src.OBD = rt.obd.Snapshot
		}
		status.SetSources(src)

		opts := web.Options{
			Logs:    logs,
			Errors:  elog,
			Control: rt.engine,
			Level:   rt.engine,
			Prefs:   rt.router,
			About:   aboutFacts(storeName, state.State().Boots, rt.archive, deps),
		}
		if pulseSrc != "" {
			opts.About.Inputs = append(opts.About.Inputs, pulseSrc)
		}
		if rt.archive != nil {
			opts.History = rt.archive
		}
		h := web.Handler(status, opts)
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
		log.Printf("web listening addr=%s", cfg.Web.Listen)
	}
	return rt, nil
}

// Close persists engine state before the stores go away.
func (rt *liveRuntime) Close() {
	rt.engine.Close()
	rt.gps.Close()
	rt.obd.Close()
	if rt.router != nil {
		if err := rt.router.Close(); err != nil {
			log.Printf("feedback close: %v", err)
		}
	}
	if rt.archive != nil {
		if err := rt.archive.Close(); err != nil {
			log.Printf("archive close: %v", err)
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}
