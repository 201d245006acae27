package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"axion/internal/ahrs"
	"axion/internal/archive"
	"axion/internal/drag"
	"axion/internal/errlog"
	"axion/internal/feedback"
)

// Controller exposes engine commands. *engine.Engine satisfies it.
// Implementations must be safe to call from HTTP handlers.
type Controller interface {
	SetMode(name string) error
	SetDragTarget(t drag.Target) error
	StartDrag() error
	AbortDrag() error
	ConfirmDrag(save bool) (drag.Run, error)
	ResetAccel() error
	ResetPeakG() error
	LapStartRacing() error
	LapReset() error
	LapSelectSlot(n int) (int, error)
	LapSave() error
	FlushLog() error
	ClearLog() error
	SetFeedbackPrefs(p feedback.Prefs) error
	SaveCalibration(c ahrs.Calibration) error
}

// PrefsSource is satisfied by *feedback.Router.
type PrefsSource interface {
	Prefs() feedback.Prefs
}

// Leveler rebuilds the sensor mount from gravity. *engine.Engine satisfies it.
type Leveler interface {
	Level(forwardAxis int) (ahrs.Mount, error)
}

// Diagnostics is satisfied by *errlog.Log.
type Diagnostics interface {
	Entries() []errlog.Entry
}

// History is satisfied by *archive.DB.
type History interface {
	DragRuns(target string, limit int) ([]archive.DragRun, error)
	Laps(slot, limit int) ([]archive.Lap, error)
}

// Options carries the optional collaborators of Handler.
type Options struct {
	Logs    *LogBuffer
	Errors  Diagnostics
	Control Controller
	Level   Leveler
	History History
	Prefs   PrefsSource
	About   Facts
}

type okResponse struct {
	OK bool `json:"ok"`
}

type ErrorEntry struct {
	Epoch    uint32 `json:"epoch"`
	Code     uint8  `json:"code"`
	CodeName string `json:"code_name"`
	Src      uint8  `json:"src"`
	Data     int32  `json:"data"`
}

type ErrorsResponse struct {
	NowUTC  string       `json:"now_utc"`
	Count   int          `json:"count"`
	Entries []ErrorEntry `json:"entries"`
}

func Handler(status *Status, opts Options) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/errors", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if opts.Errors == nil {
			http.Error(w, "error log unavailable", http.StatusNotFound)
			return
		}
		entries := opts.Errors.Entries()
		resp := ErrorsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Count:   len(entries),
			Entries: make([]ErrorEntry, 0, len(entries)),
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, ErrorEntry{
				Epoch:    e.Epoch,
				Code:     uint8(e.Code),
				CodeName: e.Code.String(),
				Src:      e.Src,
				Data:     e.Data,
			})
		}
		writeJSON(w, resp)
	})

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler(opts.About))

	mux.HandleFunc("/api/archive/drag", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if opts.History == nil {
			http.Error(w, "archive unavailable", http.StatusNotFound)
			return
		}
		limit, err := intParam(r, "limit", 20, 1, 500)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		runs, err := opts.History.DragRuns(r.URL.Query().Get("target"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, runs)
	})

	mux.HandleFunc("/api/archive/laps", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if opts.History == nil {
			http.Error(w, "archive unavailable", http.StatusNotFound)
			return
		}
		limit, err := intParam(r, "limit", 20, 1, 500)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slot, err := intParam(r, "slot", 0, 0, 3)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		laps, err := opts.History.Laps(slot, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, laps)
	})

	mux.HandleFunc("/api/feedback/prefs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if opts.Prefs == nil {
				http.Error(w, "feedback unavailable", http.StatusNotFound)
				return
			}
			writeJSON(w, opts.Prefs.Prefs())
		case http.MethodPost:
			if opts.Control == nil {
				http.Error(w, "engine unavailable", http.StatusNotFound)
				return
			}
			var p feedback.Prefs
			if err := decodeBody(r, &p); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := opts.Control.SetFeedbackPrefs(p); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, p)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	registerCommands(mux, opts)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "%s uptime=%ds\n", snap.Service, snap.UptimeSec)
		if snap.Engine != nil {
			_, _ = fmt.Fprintf(w, "mode=%s ticks=%d speed_kmh=%.1f\n",
				snap.Engine.Mode, snap.Engine.Ticks, snap.Engine.Speed.KMH())
		}
		_, _ = fmt.Fprintf(w, "see /api/status /api/errors /api/logs\n")
	})

	return mux
}

func registerCommands(mux *http.ServeMux, opts Options) {
	ctl := opts.Control
	post := func(path string, fn func(r *http.Request) (any, error)) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if !allow(w, r, http.MethodPost) {
				return
			}
			if ctl == nil {
				http.Error(w, "engine unavailable", http.StatusNotFound)
				return
			}
			v, err := fn(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if v == nil {
				v = okResponse{OK: true}
			}
			writeJSON(w, v)
		})
	}
	post("/api/mode", func(r *http.Request) (any, error) {
		return nil, ctl.SetMode(strings.TrimSpace(r.URL.Query().Get("name")))
	})
	post("/api/drag/target", func(r *http.Request) (any, error) {
		t, err := drag.ParseTarget(strings.TrimSpace(r.URL.Query().Get("target")))
		if err != nil {
			return nil, err
		}
		return nil, ctl.SetDragTarget(t)
	})
	post("/api/drag/start", func(*http.Request) (any, error) { return nil, ctl.StartDrag() })
	post("/api/drag/abort", func(*http.Request) (any, error) { return nil, ctl.AbortDrag() })
	post("/api/drag/confirm", func(r *http.Request) (any, error) {
		save, _ := strconv.ParseBool(r.URL.Query().Get("save"))
		run, err := ctl.ConfirmDrag(save)
		if err != nil {
			return nil, err
		}
		return run, nil
	})
	post("/api/accel/reset", func(*http.Request) (any, error) { return nil, ctl.ResetAccel() })
	post("/api/gforces/reset", func(*http.Request) (any, error) { return nil, ctl.ResetPeakG() })
	post("/api/lap/start", func(*http.Request) (any, error) { return nil, ctl.LapStartRacing() })
	post("/api/lap/reset", func(*http.Request) (any, error) { return nil, ctl.LapReset() })
	post("/api/lap/save", func(*http.Request) (any, error) { return nil, ctl.LapSave() })
	post("/api/lap/slot", func(r *http.Request) (any, error) {
		n, err := intParam(r, "n", 0, 1, 3)
		if err != nil {
			return nil, err
		}
		got, err := ctl.LapSelectSlot(n)
		if err != nil {
			return nil, err
		}
		return struct {
			Slot int `json:"slot"`
		}{got}, nil
	})
	post("/api/log/flush", func(*http.Request) (any, error) { return nil, ctl.FlushLog() })
	post("/api/log/clear", func(*http.Request) (any, error) { return nil, ctl.ClearLog() })
	post("/api/ahrs/calibration", func(r *http.Request) (any, error) {
		var c ahrs.Calibration
		if err := decodeBody(r, &c); err != nil {
			return nil, err
		}
		for _, s := range c.Scale {
			if s <= 0 {
				return nil, fmt.Errorf("scale must be > 0")
			}
		}
		return nil, ctl.SaveCalibration(c)
	})

	mux.HandleFunc("/api/ahrs/level", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if opts.Level == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		axis, err := intParam(r, "forward_axis", 1, -3, 3)
		if err == nil && axis == 0 {
			err = fmt.Errorf("forward_axis must not be 0")
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m, err := opts.Level.Level(axis)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, struct {
			ForwardAxis int       `json:"forward_axis"`
			X           ahrs.Vec3 `json:"x"`
			Y           ahrs.Vec3 `json:"y"`
			Z           ahrs.Vec3 `json:"z"`
		}{m.ForwardAxis, m.X, m.Y, m.Z})
	})
}

const maxBody = 4 << 10

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, key string, def, lo, hi int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s must be an integer in [%d,%d]", key, lo, hi)
	}
	return v, nil
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
