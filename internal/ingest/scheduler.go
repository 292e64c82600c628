// Package ingest keeps the relay cache warm by polling the sensor source in
// the background, and enforces retention on the stored history.
package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron"

	"github.com/lox/stationcast/internal/metrics"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/store"
)

type Refresher interface {
	Latest(ctx context.Context) (*models.Reading, error)
}

type Pruner interface {
	Prune(cutoff time.Time) (store.PruneStats, error)
}

// RunLog records each poll for the health endpoint.
type RunLog interface {
	RecordIngestRun(run store.IngestRun) error
}

type Config struct {
	// PollInterval is the wait between polls while the station is online.
	PollInterval time.Duration
	// MaxInterval caps the backoff while the station is offline or failing.
	MaxInterval time.Duration
	// Retention is how long stored history is kept; zero disables pruning.
	Retention time.Duration
	// PruneAt is the daily UTC time of the retention job, "HH:MM".
	PruneAt string
}

type Scheduler struct {
	relay  Refresher
	pruner Pruner
	cfg    Config
	bo     *backoff.ExponentialBackOff
	cron   *gocron.Scheduler
	now    func() time.Time

	runLog    RunLog
	stationID string
}

func NewScheduler(relay Refresher, pruner Pruner, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.PollInterval {
		cfg.MaxInterval = 10 * cfg.PollInterval
	}
	if cfg.PruneAt == "" {
		cfg.PruneAt = "03:00"
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PollInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Scheduler{
		relay:  relay,
		pruner: pruner,
		cfg:    cfg,
		bo:     bo,
		cron:   gocron.NewScheduler(time.UTC),
		now:    time.Now,
	}
}

// SetRunLog enables recording of poll outcomes.
func (s *Scheduler) SetRunLog(l RunLog, stationID string) {
	s.runLog = l
	s.stationID = stationID
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.pruner != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.Every(1).Day().At(s.cfg.PruneAt).Do(s.PruneOnce); err != nil {
			return err
		}
		s.cron.StartAsync()
		defer s.cron.Stop()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler: shutting down")
			return nil
		case <-timer.C:
			timer.Reset(s.PollOnce(ctx))
		}
	}
}

// PollOnce refreshes the relay cache and returns how long to wait before the
// next poll.
func (s *Scheduler) PollOnce(ctx context.Context) time.Duration {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	started := s.now()
	r, err := s.relay.Latest(pctx)
	switch {
	case err != nil:
		s.recordRun(started, store.RunError, err)
		wait := s.next()
		slog.Warn("scheduler: poll failed", "error", err, "retry_in", wait)
		return wait
	case r == nil:
		s.recordRun(started, store.RunOffline, nil)
		wait := s.next()
		slog.Info("scheduler: station offline", "retry_in", wait)
		return wait
	}

	s.recordRun(started, store.RunOK, nil)
	s.bo.Reset()
	slog.Debug("scheduler: reading cached",
		"temperature", r.Temperature(), "humidity", r.Humidity(), "pressure", r.Pressure())
	return s.cfg.PollInterval
}

func (s *Scheduler) recordRun(started time.Time, outcome string, runErr error) {
	if s.runLog == nil {
		return
	}
	run := store.IngestRun{
		StartedAt:  started,
		FinishedAt: s.now(),
		StationID:  s.stationID,
		Source:     "sensor",
		Outcome:    outcome,
	}
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	if err := s.runLog.RecordIngestRun(run); err != nil {
		slog.Warn("scheduler: record ingest run", "error", err)
	}
}

func (s *Scheduler) next() time.Duration {
	wait := s.bo.NextBackOff()
	if wait == backoff.Stop || wait > s.cfg.MaxInterval {
		wait = s.cfg.MaxInterval
	}
	return wait
}

// PruneOnce removes stored history older than the retention window.
func (s *Scheduler) PruneOnce() {
	if s.pruner == nil || s.cfg.Retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.Retention)
	stats, err := s.pruner.Prune(cutoff)
	if err != nil {
		slog.Error("scheduler: prune failed", "error", err)
		return
	}
	metrics.ReadingsPrunedTotal.Add(float64(stats.Readings))
	slog.Info("scheduler: pruned history",
		"cutoff", cutoff.Format(time.RFC3339),
		"readings", stats.Readings, "predictions", stats.Predictions,
		"raw_payloads", stats.RawPayloads, "ingest_runs", stats.IngestRuns)
}
