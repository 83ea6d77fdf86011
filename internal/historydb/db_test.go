package historydb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/metrics"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/sessionstore"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_RunsMigrations(t *testing.T) {
	db := openTestDB(t)

	sub, err := migrationsSubFS()
	require.NoError(t, err)
	version, dirty, err := db.Version(sub)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func seedSession(t *testing.T, fsys fsutil.FileSystem, root, timestamp string, overallScore float64, dropouts int) {
	t.Helper()
	artifact := sessionstore.Artifact{
		RunID:     "run-" + timestamp,
		Timestamp: timestamp,
		DurationS: 60,
		PlayArea:  playarea.Default(),
		CoverageSummary: &sessionstore.CoverageSummary{
			OverallScore:    overallScore,
			OverlapPctFoot:  80,
			OverlapPctWaist: 70,
		},
		Metrics: &metrics.SessionMetrics{
			PerTracker: []metrics.TrackerMetrics{
				{Serial: "TRK-1", Role: "Left Foot", DropoutCount: dropouts, DropoutDurationS: float64(dropouts) * 1.5},
			},
		},
	}
	_, err := sessionstore.Save(fsys, root, artifact)
	require.NoError(t, err)
}

func TestRebuild_IndexesSavedSessions(t *testing.T) {
	db := openTestDB(t)
	fsys := fsutil.NewMemoryFileSystem()

	seedSession(t, fsys, "/data", "20260101_100000", 90.0, 1)
	seedSession(t, fsys, "/data", "20260101_110000", 40.0, 5)

	require.NoError(t, db.Rebuild(fsys, "/data"))

	recent, err := db.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "20260101_110000", recent[0].Timestamp)
	require.Equal(t, "20260101_100000", recent[1].Timestamp)
	require.NotNil(t, recent[0].OverallScore)
	require.InDelta(t, 40.0, *recent[0].OverallScore, 1e-9)

	worst, err := db.WorstTrackers(10)
	require.NoError(t, err)
	require.Len(t, worst, 2)
	require.Equal(t, "20260101_110000", worst[0].Timestamp)
	require.Equal(t, 5, worst[0].DropoutCount)
}

func TestRebuild_ClearsPriorIndex(t *testing.T) {
	db := openTestDB(t)
	fsys := fsutil.NewMemoryFileSystem()

	seedSession(t, fsys, "/data", "20260101_100000", 90.0, 1)
	require.NoError(t, db.Rebuild(fsys, "/data"))

	recent, err := db.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	emptyFsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, db.Rebuild(emptyFsys, "/empty"))

	recent, err = db.RecentSessions(10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestRebuild_SkipsCorruptSessionFiles(t *testing.T) {
	db := openTestDB(t)
	fsys := fsutil.NewMemoryFileSystem()

	seedSession(t, fsys, "/data", "20260101_100000", 90.0, 0)
	require.NoError(t, fsys.WriteFile("/data/sessions/20260101_110000.json", []byte("not json"), 0o644))

	require.NoError(t, db.Rebuild(fsys, "/data"))

	recent, err := db.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "20260101_100000", recent[0].Timestamp)
}
