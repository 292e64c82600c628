package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/stationcast/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the SQLite database at path with WAL and a
// busy timeout, the settings every caller wants.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// InsertReading stores a reading. Readings are keyed by the station's own
// timestamp so repeated fetches of one document are stored once; readings
// without a timestamp are keyed by fetch time.
func (s *Store) InsertReading(stationID string, r models.Reading, fetchedAt time.Time, flags []string) error {
	key := string(r.Timestamp)
	if key == "" {
		key = "fetched:" + fetchedAt.UTC().Format(time.RFC3339Nano)
	}

	var qc sql.NullString
	if len(flags) > 0 {
		b, _ := json.Marshal(flags)
		qc = sql.NullString{String: string(b), Valid: true}
	}

	raw := string(r.Raw)
	if raw == "" {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		raw = string(b)
	}

	_, err := s.db.Exec(`
		INSERT INTO readings (station_id, reading_ts, fetched_at, bme280_temperature, dht22_temperature, bme280_humidity, dht22_humidity, bme280_pressure, bh1750_illuminance, qc_flags, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, reading_ts) DO NOTHING
	`, stationID, key, fetchedAt.UTC(), r.BME280Temperature, r.DHT22Temperature, r.BME280Humidity, r.DHT22Humidity, r.BME280Pressure, r.BH1750Illuminance, qc, raw)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

const readingColumns = `id, station_id, reading_ts, fetched_at, bme280_temperature, dht22_temperature, bme280_humidity, dht22_humidity, bme280_pressure, bh1750_illuminance, qc_flags, raw_json`

func scanReading(row interface{ Scan(...any) error }) (models.StoredReading, error) {
	var (
		sr  models.StoredReading
		ts  string
		qc  sql.NullString
		raw sql.NullString
	)
	err := row.Scan(&sr.ID, &sr.StationID, &ts, &sr.FetchedAt,
		&sr.BME280Temperature, &sr.DHT22Temperature, &sr.BME280Humidity, &sr.DHT22Humidity,
		&sr.BME280Pressure, &sr.BH1750Illuminance, &qc, &raw)
	if err != nil {
		return sr, err
	}
	if len(ts) < 8 || ts[:8] != "fetched:" {
		sr.Timestamp = models.Timestamp(ts)
	}
	if qc.Valid && qc.String != "" {
		json.Unmarshal([]byte(qc.String), &sr.QCFlags)
	}
	if raw.Valid {
		sr.Raw = json.RawMessage(raw.String)
	}
	return sr, nil
}

// RecentReadings returns up to limit of the newest readings, oldest first.
func (s *Store) RecentReadings(stationID string, limit int) ([]models.StoredReading, error) {
	rows, err := s.db.Query(`
		SELECT `+readingColumns+` FROM (
			SELECT * FROM readings WHERE station_id = ? ORDER BY fetched_at DESC, id DESC LIMIT ?
		) ORDER BY fetched_at ASC, id ASC
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.StoredReading
	for rows.Next() {
		sr, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, sr)
	}
	return readings, rows.Err()
}

func (s *Store) LatestReading(stationID string) (*models.StoredReading, error) {
	row := s.db.QueryRow(`
		SELECT `+readingColumns+` FROM readings
		WHERE station_id = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, stationID)

	sr, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

func (s *Store) InsertPrediction(stationID string, p models.Prediction, createdAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO predictions (station_id, created_at, source, summary, rain_chance, confidence, change_index, trend, risk_level, city)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stationID, createdAt.UTC(), p.Source, p.Summary, p.RainChance, p.Confidence, string(p.ChangeIndex), string(p.Trend), string(p.RiskLevel), p.City)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(stationID string, limit int) ([]models.StoredPrediction, error) {
	rows, err := s.db.Query(`
		SELECT id, station_id, created_at, source, summary, rain_chance, confidence, change_index, trend, risk_level, city
		FROM predictions
		WHERE station_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var preds []models.StoredPrediction
	for rows.Next() {
		var (
			sp                     models.StoredPrediction
			summary, city          sql.NullString
			change, trend, risk    sql.NullString
			rainChance, confidence sql.NullInt64
		)
		if err := rows.Scan(&sp.ID, &sp.StationID, &sp.CreatedAt, &sp.Source, &summary, &rainChance, &confidence, &change, &trend, &risk, &city); err != nil {
			return nil, err
		}
		sp.Summary = summary.String
		sp.RainChance = int(rainChance.Int64)
		sp.Confidence = int(confidence.Int64)
		sp.ChangeIndex = models.Level(change.String)
		sp.Trend = models.Trend(trend.String)
		sp.RiskLevel = models.Level(risk.String)
		sp.City = city.String
		preds = append(preds, sp)
	}
	return preds, rows.Err()
}

// PruneStats reports rows removed by Prune.
type PruneStats struct {
	Readings    int64
	Predictions int64
	RawPayloads int64
	IngestRuns  int64
}

// Prune deletes stored history older than cutoff.
func (s *Store) Prune(cutoff time.Time) (PruneStats, error) {
	var stats PruneStats
	cutoff = cutoff.UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []struct {
		sql string
		n   *int64
	}{
		{`DELETE FROM readings WHERE fetched_at < ?`, &stats.Readings},
		{`DELETE FROM predictions WHERE created_at < ?`, &stats.Predictions},
		{`DELETE FROM raw_payloads WHERE fetched_at < ?`, &stats.RawPayloads},
		{`DELETE FROM ingest_runs WHERE started_at < ?`, &stats.IngestRuns},
	} {
		res, err := tx.Exec(q.sql, cutoff)
		if err != nil {
			return stats, fmt.Errorf("prune: %w", err)
		}
		*q.n, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit prune: %w", err)
	}
	return stats, nil
}
