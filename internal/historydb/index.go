package historydb

import (
	"fmt"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/sessionstore"
)

// SessionRow is one indexed session's headline fields, a SQLite mirror of
// the matching sessionstore.Artifact.
type SessionRow struct {
	Timestamp       string
	RunID           string
	DurationS       float64
	OverallScore    *float64
	OverlapPctFoot  *float64
	OverlapPctWaist *float64
}

// TrackerDropoutRow is one tracker's dropout totals within an indexed
// session.
type TrackerDropoutRow struct {
	Timestamp        string
	Serial           string
	Role             string
	DropoutCount     int
	DropoutDurationS float64
}

// Rebuild clears the index and repopulates it from every session artifact
// under root. It is safe to call at any time: sessions that fail to decode
// are skipped rather than aborting the whole rebuild, matching
// sessionstore.Load's corrupt-file tolerance.
func (db *DB) Rebuild(fsys fsutil.FileSystem, root string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tracker_dropouts`); err != nil {
		return fmt.Errorf("clear tracker_dropouts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	timestamps, err := sessionstore.List(fsys, root)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	for _, ts := range timestamps {
		artifact, err := sessionstore.Load(fsys, root, ts)
		if err != nil || artifact == nil {
			continue
		}

		var overallScore, overlapFoot, overlapWaist *float64
		if artifact.CoverageSummary != nil {
			score := artifact.CoverageSummary.OverallScore
			foot := artifact.CoverageSummary.OverlapPctFoot
			waist := artifact.CoverageSummary.OverlapPctWaist
			overallScore, overlapFoot, overlapWaist = &score, &foot, &waist
		}

		if _, err := tx.Exec(`
			INSERT INTO sessions (timestamp, run_id, duration_s, overall_score, overlap_pct_foot, overlap_pct_waist)
			VALUES (?, ?, ?, ?, ?, ?)`,
			artifact.Timestamp, artifact.RunID, artifact.DurationS, overallScore, overlapFoot, overlapWaist,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", artifact.Timestamp, err)
		}

		if artifact.Metrics == nil {
			continue
		}
		for _, tm := range artifact.Metrics.PerTracker {
			if _, err := tx.Exec(`
				INSERT INTO tracker_dropouts (timestamp, serial, role, dropout_count, dropout_duration_s)
				VALUES (?, ?, ?, ?, ?)`,
				artifact.Timestamp, tm.Serial, tm.Role, tm.DropoutCount, tm.DropoutDurationS,
			); err != nil {
				return fmt.Errorf("insert tracker_dropouts %s/%s: %w", artifact.Timestamp, tm.Serial, err)
			}
		}
	}

	return tx.Commit()
}

// RecentSessions returns up to limit sessions, most recent timestamp first.
func (db *DB) RecentSessions(limit int) ([]SessionRow, error) {
	rows, err := db.Query(`
		SELECT timestamp, run_id, duration_s, overall_score, overlap_pct_foot, overlap_pct_waist
		FROM sessions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.Timestamp, &r.RunID, &r.DurationS, &r.OverallScore, &r.OverlapPctFoot, &r.OverlapPctWaist); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WorstTrackers returns per-session tracker rows ordered by that session's
// dropout duration, longest first. Rows are not summed across sessions, so
// one serial can appear once per indexed session.
func (db *DB) WorstTrackers(limit int) ([]TrackerDropoutRow, error) {
	rows, err := db.Query(`
		SELECT timestamp, serial, role, dropout_count, dropout_duration_s
		FROM tracker_dropouts ORDER BY dropout_duration_s DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query worst trackers: %w", err)
	}
	defer rows.Close()

	var out []TrackerDropoutRow
	for rows.Next() {
		var r TrackerDropoutRow
		if err := rows.Scan(&r.Timestamp, &r.Serial, &r.Role, &r.DropoutCount, &r.DropoutDurationS); err != nil {
			return nil, fmt.Errorf("scan tracker dropout row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
