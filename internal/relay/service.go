// Package relay sits between the dashboard and its two upstreams: it serves
// the station's latest reading and a rate-limited rain prediction.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lox/stationcast/internal/metrics"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
	"github.com/lox/stationcast/internal/sensor"
)

// ErrNoData is returned by Predict before any reading has been cached.
var ErrNoData = errors.New("no reading available for analysis")

// DefaultForecastTimeout bounds one forecast call.
const DefaultForecastTimeout = 30 * time.Second

type SensorSource interface {
	FetchLatest(ctx context.Context) (*models.Reading, error)
}

type Forecaster interface {
	Forecast(ctx context.Context, current models.Reading) (*models.Prediction, error)
}

// Recorder persists readings and generated predictions. Failures are logged
// and never surface to callers.
type Recorder interface {
	InsertReading(stationID string, r models.Reading, fetchedAt time.Time, flags []string) error
	InsertPrediction(stationID string, p models.Prediction, createdAt time.Time) error
}

type Config struct {
	StationID       string
	City            string
	Strategy        rain.Strategy
	Freshness       time.Duration
	ForecastTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type Service struct {
	sensor     SensorSource
	forecaster Forecaster
	recorder   Recorder
	estimator  *rain.Estimator
	cache      *Cache

	stationID string
	city      string
	timeout   time.Duration

	genMu sync.Mutex // one forecast generation at a time
}

// NewService wires a relay. forecaster and recorder may be nil: without a
// forecaster every prediction comes from the heuristic.
func NewService(src SensorSource, fc Forecaster, rec Recorder, cfg Config) *Service {
	if cfg.ForecastTimeout <= 0 {
		cfg.ForecastTimeout = DefaultForecastTimeout
	}
	return &Service{
		sensor:     src,
		forecaster: fc,
		recorder:   rec,
		estimator:  rain.NewEstimator(cfg.Strategy),
		cache:      NewCache(cfg.Freshness, cfg.Now),
		stationID:  cfg.StationID,
		city:       cfg.City,
		timeout:    cfg.ForecastTimeout,
	}
}

func (s *Service) Cache() *Cache { return s.cache }

func (s *Service) Estimator() *rain.Estimator { return s.estimator }

// Latest fetches the current sensor document. It returns nil, nil when the
// station is offline; the cache is left untouched in that case.
func (s *Service) Latest(ctx context.Context) (*models.Reading, error) {
	r, err := s.sensor.FetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest reading: %w", err)
	}
	if r == nil {
		return nil, nil
	}

	s.cache.StoreReading(*r)
	s.record(*r)
	return r, nil
}

func (s *Service) record(r models.Reading) {
	if s.recorder == nil {
		return
	}
	flags := sensor.ValidateReading(r)
	if len(flags) > 0 {
		slog.Debug("relay: reading quality flags", "flags", flags)
	}
	if err := s.recorder.InsertReading(s.stationID, r, s.cache.LastFetched(), flags); err != nil {
		slog.Warn("relay: record reading", "error", err)
	}
}

// Predict returns the cached prediction while it is fresh, and otherwise
// generates a new one from the latest cached reading. A failed forecast
// degrades to the heuristic; the only error is ErrNoData.
func (s *Service) Predict(ctx context.Context) (*models.Prediction, error) {
	if p, ok := s.cache.Prediction(); ok {
		metrics.PredictionsServedTotal.WithLabelValues("cache").Inc()
		return p, nil
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	// Another request may have generated one while we waited.
	if p, ok := s.cache.Prediction(); ok {
		metrics.PredictionsServedTotal.WithLabelValues("cache").Inc()
		return p, nil
	}

	current, previous := s.cache.Readings()
	if current == nil {
		return nil, ErrNoData
	}

	p := s.generate(ctx, *current, previous)
	p.City = s.city
	p.Normalize()

	createdAt := s.cache.StorePrediction(*p)
	metrics.PredictionsServedTotal.WithLabelValues(p.Source).Inc()
	metrics.RainChance.Set(float64(p.RainChance))

	if s.recorder != nil {
		if err := s.recorder.InsertPrediction(s.stationID, *p, createdAt); err != nil {
			slog.Warn("relay: record prediction", "error", err)
		}
	}
	return p, nil
}

func (s *Service) generate(ctx context.Context, current models.Reading, previous *models.Reading) *models.Prediction {
	if s.forecaster != nil {
		// The call outlives a disconnecting client so the result still
		// lands in the cache.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		p, err := s.forecaster.Forecast(fctx, current)
		if err == nil && p != nil {
			if p.Source == "" {
				p.Source = models.SourceAI
			}
			return p
		}
		slog.Warn("relay: forecast failed, using heuristic", "error", err)
	}
	return s.estimator.Fallback(current, previous)
}
