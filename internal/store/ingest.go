package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Ingest run outcomes.
const (
	RunOK      = "ok"
	RunOffline = "offline"
	RunError   = "error"
)

// IngestRun is one background poll of the sensor source, kept for auditing.
type IngestRun struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	StationID    string
	Source       string // "sensor"
	Outcome      string
	ErrorMessage sql.NullString
}

// RecordIngestRun stores a finished run.
func (s *Store) RecordIngestRun(run IngestRun) error {
	_, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, finished_at, station_id, source, outcome, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.StationID, run.Source, run.Outcome, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert ingest run: %w", err)
	}
	return nil
}

// IngestHealthSummary counts runs by outcome since a point in time.
type IngestHealthSummary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Offline int `json:"offline"`
	Failed  int `json:"failed"`
}

func (s *Store) GetIngestHealth(since time.Time) (IngestHealthSummary, error) {
	var h IngestHealthSummary
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM ingest_runs
		WHERE started_at >= ?
	`, RunOK, RunOffline, RunError, since.UTC()).Scan(&h.Total, &h.OK, &h.Offline, &h.Failed)
	return h, err
}

// GetRecentIngestErrors returns the newest failed runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, station_id, source, outcome, error_message
		FROM ingest_runs
		WHERE outcome = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, RunError, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.StationID, &r.Source, &r.Outcome, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
