package archive

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sub", "axion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestInsertDrag_AssignsID(t *testing.T) {
	db := openTemp(t)
	r := &DragRun{Target: "1/4", DistanceM: 402.336, PeakG: 0.71, FinalMs: 13420, Split60: 2110}
	require.NoError(t, db.InsertDrag(r))
	assert.Len(t, r.ID, 36)
	assert.NotZero(t, r.RecordedAt)

	runs, err := db.DragRuns("", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, *r, runs[0])
}

func TestDragRuns_TargetFilterAndOrder(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.InsertDrag(&DragRun{Target: "1/8", FinalMs: 9000, RecordedAt: 1}))
	require.NoError(t, db.InsertDrag(&DragRun{Target: "1/4", FinalMs: 14000, RecordedAt: 2}))
	require.NoError(t, db.InsertDrag(&DragRun{Target: "1/4", FinalMs: 13500, RecordedAt: 3}))

	runs, err := db.DragRuns("1/4", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(13500), runs[0].FinalMs)

	all, err := db.DragRuns("", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLaps_FastestFirst(t *testing.T) {
	db := openTemp(t)
	for i, ms := range []int64{62000, 59800, 61000} {
		require.NoError(t, db.InsertLap(&Lap{Slot: 2, Number: i + 1, LapMs: ms}))
	}
	require.NoError(t, db.InsertLap(&Lap{Slot: 1, Number: 1, LapMs: 50000, Best: true}))

	laps, err := db.Laps(2, 0)
	require.NoError(t, err)
	require.Len(t, laps, 3)
	assert.Equal(t, int64(59800), laps[0].LapMs)
	assert.Equal(t, 2, laps[0].Number)

	all, err := db.Laps(0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].Best)

	runs, n, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, runs)
	assert.Equal(t, 4, n)
}

func TestOpen_MigratesToLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "axion.db")
	db, err := Open(path)
	require.NoError(t, err)
	v, dirty, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	require.NoError(t, db.InsertLap(&Lap{Slot: 1, Number: 1, LapMs: 1000}))
	require.NoError(t, db.Close())

	// Reopening an up-to-date file is a no-op and keeps the data.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	_, n, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func mockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, path: "mock"}, mock
}

func TestInsertDrag_WrapsExecError(t *testing.T) {
	db, mock := mockDB(t)
	boom := errors.New("disk I/O error")
	mock.ExpectExec(`INSERT INTO drag_runs`).WillReturnError(boom)

	err := db.InsertDrag(&DragRun{ID: "fixed", Target: "1/8", RecordedAt: 7})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "archive: insert drag run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLap_PassesFields(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`INSERT INTO laps`).
		WithArgs("lap-1", 3, 4, int64(58000), true, int64(99)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, db.InsertLap(&Lap{ID: "lap-1", Slot: 3, Number: 4, LapMs: 58000, Best: true, RecordedAt: 99}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounts_QueryError(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM drag_runs`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM laps`).WillReturnError(errors.New("locked"))

	_, _, err := db.Counts()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: count laps")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDragRuns_ScanError(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`SELECT run_id`).
		WithArgs("", "", 5).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow("only-one-column"))

	_, err := db.DragRuns("", 5)
	assert.Error(t, err)
}
