// Package archive keeps saved drag runs and completed laps in SQLite.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DragRun is one confirmed drag run.
type DragRun struct {
	ID         string  `json:"id"`
	Target     string  `json:"target"`
	DistanceM  float64 `json:"distance_m"`
	PeakG      float64 `json:"peak_g"`
	EndSpeedMS float64 `json:"end_speed_ms"`
	Split60    int64   `json:"split_60ft_ms"`
	Split330   int64   `json:"split_330ft_ms"`
	Split660   int64   `json:"split_660ft_ms"`
	FinalMs    int64   `json:"final_ms"`
	StartedAt  int64   `json:"started_at"`  // unix ms
	RecordedAt int64   `json:"recorded_at"` // unix ms
}

// Lap is one completed lap.
type Lap struct {
	ID         string `json:"id"`
	Slot       int    `json:"slot"`
	Number     int    `json:"number"`
	LapMs      int64  `json:"lap_ms"`
	Best       bool   `json:"best"`
	RecordedAt int64  `json:"recorded_at"`
}

type DB struct {
	*sql.DB
	path string
}

// Open creates the database file if needed and migrates it to the latest
// schema.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("archive: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	out := &DB{DB: db, path: path}
	if err := out.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return out, nil
}

func (db *DB) Path() string { return db.path }

// InsertDrag stores r. An empty ID is filled with a new UUID.
func (db *DB) InsertDrag(r *DragRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RecordedAt == 0 {
		r.RecordedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO drag_runs (
			run_id, target, distance_m, peak_g, end_speed_ms,
			split_60_ms, split_330_ms, split_660_ms, final_ms,
			started_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Target, r.DistanceM, r.PeakG, r.EndSpeedMS,
		r.Split60, r.Split330, r.Split660, r.FinalMs,
		r.StartedAt, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: insert drag run: %w", err)
	}
	return nil
}

// InsertLap stores l. An empty ID is filled with a new UUID.
func (db *DB) InsertLap(l *Lap) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.RecordedAt == 0 {
		l.RecordedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO laps (lap_id, slot, number, lap_ms, best, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.Slot, l.Number, l.LapMs, l.Best, l.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: insert lap: %w", err)
	}
	return nil
}

// DragRuns returns up to limit runs, newest first. A target filter of ""
// matches all.
func (db *DB) DragRuns(target string, limit int) ([]DragRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, target, distance_m, peak_g, end_speed_ms,
		       split_60_ms, split_330_ms, split_660_ms, final_ms,
		       started_at, recorded_at
		FROM drag_runs
		WHERE ? = '' OR target = ?
		ORDER BY recorded_at DESC
		LIMIT ?`, target, target, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query drag runs: %w", err)
	}
	defer rows.Close()

	var out []DragRun
	for rows.Next() {
		var r DragRun
		if err := rows.Scan(&r.ID, &r.Target, &r.DistanceM, &r.PeakG, &r.EndSpeedMS,
			&r.Split60, &r.Split330, &r.Split660, &r.FinalMs,
			&r.StartedAt, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Laps returns up to limit laps for slot, fastest first. Slot 0 matches all.
func (db *DB) Laps(slot, limit int) ([]Lap, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT lap_id, slot, number, lap_ms, best, recorded_at
		FROM laps
		WHERE ? = 0 OR slot = ?
		ORDER BY lap_ms ASC
		LIMIT ?`, slot, slot, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query laps: %w", err)
	}
	defer rows.Close()

	var out []Lap
	for rows.Next() {
		var l Lap
		if err := rows.Scan(&l.ID, &l.Slot, &l.Number, &l.LapMs, &l.Best, &l.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Counts returns the number of stored drag runs and laps.
func (db *DB) Counts() (runs, laps int, err error) {
	if err = db.QueryRow(`SELECT COUNT(*) FROM drag_runs`).Scan(&runs); err != nil {
		return 0, 0, fmt.Errorf("archive: count drag runs: %w", err)
	}
	if err = db.QueryRow(`SELECT COUNT(*) FROM laps`).Scan(&laps); err != nil {
		return 0, 0, fmt.Errorf("archive: count laps: %w", err)
	}
	return runs, laps, nil
}
