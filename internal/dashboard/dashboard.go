// Package dashboard drives the station dashboard: it polls the relay,
// keeps a short reading history, and tells a Renderer what to show.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
)

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseFetchingReading    Phase = "fetching_reading"
	PhaseOnline             Phase = "online"
	PhaseOffline            Phase = "offline"
	PhaseFetchingPrediction Phase = "fetching_prediction"
	PhasePredicted          Phase = "predicted"
	PhasePredictionFailed   Phase = "prediction_failed"
)

const (
	DefaultReadingInterval    = 5 * time.Second
	DefaultPredictionInterval = 40 * time.Second
)

// RelayClient is the dashboard's view of the relay. Latest returns nil, nil
// when the station is offline.
type RelayClient interface {
	Latest(ctx context.Context) (*models.Reading, error)
	Predict(ctx context.Context) (*models.Prediction, error)
}

// Renderer receives what to show. The reading and prediction pollers call
// it from separate goroutines, so implementations must be safe for
// concurrent use.
type Renderer interface {
	RenderStatus(StationStatus)
	RenderReading(ReadingView)
	RenderPrediction(PredictionView)
	ShowAlert(Alert)
	HideAlert()
}

type Options struct {
	ReadingInterval    time.Duration
	PredictionInterval time.Duration
	HistorySize        int
	Strategy           rain.Strategy
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type Dashboard struct {
	client    RelayClient
	renderer  Renderer
	station   models.Station
	history   *History
	alerts    *AlertTracker
	estimator *rain.Estimator
	now       func() time.Time

	readingInterval    time.Duration
	predictionInterval time.Duration

	mu     sync.Mutex
	phase  Phase
	status StationStatus
}

func New(client RelayClient, renderer Renderer, station models.Station, opts Options) *Dashboard {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReadingInterval <= 0 {
		opts.ReadingInterval = DefaultReadingInterval
	}
	if opts.PredictionInterval <= 0 {
		opts.PredictionInterval = DefaultPredictionInterval
	}
	return &Dashboard{
		client:             client,
		renderer:           renderer,
		station:            station,
		history:            NewHistory(opts.HistorySize),
		alerts:             NewAlertTracker(opts.Now),
		estimator:          rain.NewEstimator(opts.Strategy),
		now:                opts.Now,
		readingInterval:    opts.ReadingInterval,
		predictionInterval: opts.PredictionInterval,
		phase:              PhaseIdle,
		status:             OfflineStatus(),
	}
}

func (d *Dashboard) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Dashboard) Status() StationStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dashboard) History() *History { return d.history }

func (d *Dashboard) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

// RefreshReading fetches the latest reading and renders either the cards or
// the offline indicator.
func (d *Dashboard) RefreshReading(ctx context.Context) {
	d.setPhase(PhaseFetchingReading)

	r, err := d.client.Latest(ctx)
	if err != nil || r == nil {
		if err != nil {
			slog.Warn("dashboard: fetch reading", "error", err)
		}
		d.mu.Lock()
		d.phase = PhaseOffline
		d.status = OfflineStatus()
		d.mu.Unlock()
		d.renderer.RenderStatus(OfflineStatus())
		return
	}

	d.history.Push(*r, d.now())
	d.mu.Lock()
	d.phase = PhaseOnline
	d.status = OnlineStatus()
	d.mu.Unlock()

	d.renderer.RenderStatus(OnlineStatus())
	if v, ok := NewReadingView(d.station, d.history, d.estimator); ok {
		d.renderer.RenderReading(v)
	}
}

// RefreshPrediction fetches a prediction and renders it, raising an alert
// for high-confidence summaries not shown before.
func (d *Dashboard) RefreshPrediction(ctx context.Context) {
	d.setPhase(PhaseFetchingPrediction)

	p, err := d.client.Predict(ctx)
	if err != nil || p == nil {
		if err != nil {
			slog.Debug("dashboard: fetch prediction", "error", err)
		}
		d.setPhase(PhasePredictionFailed)
		d.renderer.RenderPrediction(PlaceholderView(d.localEstimate(), "Прогноз недоступен"))
		return
	}

	d.setPhase(PhasePredicted)
	d.renderer.RenderPrediction(NewPredictionView(p))
	if a, ok := d.alerts.Offer(p); ok {
		d.renderer.ShowAlert(a)
	}
}

func (d *Dashboard) localEstimate() *rain.Estimate {
	latest, previous := d.history.Latest()
	if latest == nil {
		return nil
	}
	est := d.estimator.Estimate(latest.Reading, previous)
	return &est
}

// Tick hides an alert whose display time has passed.
func (d *Dashboard) Tick() {
	if d.alerts.Expire() {
		d.renderer.HideAlert()
	}
}

// Run refreshes both panels immediately and then on their own intervals
// until ctx is cancelled. Each panel polls on its own goroutine, so a slow
// prediction never holds up reading updates.
func (d *Dashboard) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.poll(gctx, d.readingInterval, d.RefreshReading)
		return nil
	})
	g.Go(func() error {
		d.poll(gctx, d.predictionInterval, d.RefreshPrediction)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d.Tick()
			}
		}
	})
	return g.Wait()
}

// poll runs refresh now and then every interval.
func (d *Dashboard) poll(ctx context.Context, interval time.Duration, refresh func(context.Context)) {
	refresh(ctx)
	d.setPhase(PhaseIdle)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
			d.setPhase(PhaseIdle)
		}
	}
}
