package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ScanRecord is one row of scan history.
type ScanRecord struct {
	ID           int64      `json:"id"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Duration     float64    `json:"durationSeconds"`
	Total        int        `json:"total"`
	Changed      int        `json:"changed"`
	Skipped      int        `json:"skipped"`
	FallbackUsed int        `json:"fallbackUsed"`
	Errors       int        `json:"errors"`
	DryRun       bool       `json:"dryRun"`
	TriggeredBy  string     `json:"triggeredBy"`
}

// StartScan records the start of a scan and returns its ID.
func (db *DB) StartScan(triggeredBy string, dryRun bool) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO scan_history (started_at, triggered_by, dry_run) VALUES (?, ?, ?)
	`, time.Now().UTC(), triggeredBy, dryRun)
	if err != nil {
		return 0, fmt.Errorf("failed to record scan start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get scan id: %w", err)
	}
	return id, nil
}

// FinishScan updates a scan record with final results.
func (db *DB) FinishScan(id int64, duration time.Duration, total, changed, skipped, fallbackUsed, errors int) error {
	_, err := db.Exec(`
		UPDATE scan_history
		SET finished_at = ?, duration_seconds = ?, total = ?, changed = ?,
		    skipped = ?, fallback_used = ?, errors = ?
		WHERE id = ?
	`, time.Now().UTC(), duration.Seconds(), total, changed, skipped, fallbackUsed, errors, id)
	if err != nil {
		return fmt.Errorf("failed to record scan result: %w", err)
	}
	return nil
}

// ListRecentScans returns the most recent scan records, newest first.
func (db *DB) ListRecentScans(limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, duration_seconds, total, changed,
		       skipped, fallback_used, errors, dry_run, triggered_by
		FROM scan_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		record, err := scanRecordFromRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetScan returns a single scan record by ID.
func (db *DB) GetScan(id int64) (*ScanRecord, error) {
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, duration_seconds, total, changed,
		       skipped, fallback_used, errors, dry_run, triggered_by
		FROM scan_history WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	record, err := scanRecordFromRow(rows)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// PruneScans deletes scan records older than the given retention period.
// A non-positive retention keeps everything.
func (db *DB) PruneScans(keep time.Duration) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-keep)
	res, err := db.Exec("DELETE FROM scan_history WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scan history: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return deleted, nil
}

func scanRecordFromRow(rows *sql.Rows) (ScanRecord, error) {
	var record ScanRecord
	var finishedAt sql.NullTime
	var duration sql.NullFloat64
	err := rows.Scan(
		&record.ID, &record.StartedAt, &finishedAt, &duration,
		&record.Total, &record.Changed, &record.Skipped,
		&record.FallbackUsed, &record.Errors, &record.DryRun, &record.TriggeredBy,
	)
	if err != nil {
		return record, fmt.Errorf("failed to scan history row: %w", err)
	}
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		record.Duration = duration.Float64
	}
	return record, nil
}
