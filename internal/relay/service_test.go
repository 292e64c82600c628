package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSensor struct {
	mu      sync.Mutex
	reading *models.Reading
	err     error
}

func (f *fakeSensor) set(r *models.Reading, err error) {
	f.mu.Lock()
	f.reading, f.err = r, err
	f.mu.Unlock()
}

func (f *fakeSensor) FetchLatest(ctx context.Context) (*models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reading == nil {
		return nil, nil
	}
	r := *f.reading
	return &r, nil
}

type fakeForecaster struct {
	calls  atomic.Int32
	result models.Prediction
	err    error
	delay  time.Duration
}

func (f *fakeForecaster) Forecast(ctx context.Context, current models.Reading) (*models.Prediction, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	p := f.result
	p.Summary = p.Summary + " " + string(current.Timestamp)
	return &p, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	readings    int
	predictions []models.Prediction
}

func (r *fakeRecorder) InsertReading(stationID string, reading models.Reading, fetchedAt time.Time, flags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings++
	return nil
}

func (r *fakeRecorder) InsertPrediction(stationID string, p models.Prediction, createdAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, p)
	return nil
}

func sample(ts string, humidity, pressure float64) *models.Reading {
	return &models.Reading{
		BME280Humidity: humidity,
		BME280Pressure: pressure,
		Timestamp:      models.Timestamp(ts),
		Raw:            json.RawMessage(`{"timestamp":"` + ts + `"}`),
	}
}

func newTestService(src SensorSource, fc Forecaster, rec Recorder, clock *fakeClock) *Service {
	return NewService(src, fc, rec, Config{
		StationID: "almaty",
		City:      "Алматы",
		Strategy:  rain.StrategyTrend,
		Now:       clock.Now,
	})
}

func TestLatest_Offline(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(&fakeSensor{}, nil, nil, clock)

	r, err := svc.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil reading when offline, got %+v", r)
	}
	if latest, _ := svc.Cache().Readings(); latest != nil {
		t.Error("offline fetch must not populate the cache")
	}
}

func TestLatest_Error(t *testing.T) {
	clock := newFakeClock()
	boom := errors.New("boom")
	svc := newTestService(&fakeSensor{err: boom}, nil, nil, clock)

	if _, err := svc.Latest(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestLatest_CachesAndRecords(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSensor{reading: sample("1", 60, 1010)}
	rec := &fakeRecorder{}
	svc := newTestService(src, nil, rec, clock)

	r, err := svc.Latest(context.Background())
	if err != nil || r == nil {
		t.Fatalf("Latest: %v, %v", r, err)
	}
	if string(r.Raw) != `{"timestamp":"1"}` {
		t.Errorf("Raw = %s", r.Raw)
	}

	// Same document again does not rotate previous.
	svc.Latest(context.Background())
	if _, prev := svc.Cache().Readings(); prev != nil {
		t.Error("unchanged timestamp should not rotate previous")
	}

	src.set(sample("2", 60, 1009), nil)
	svc.Latest(context.Background())
	latest, prev := svc.Cache().Readings()
	if latest.Timestamp != "2" || prev == nil || prev.Timestamp != "1" {
		t.Errorf("rotation wrong: latest=%v prev=%v", latest, prev)
	}
	if rec.readings != 3 {
		t.Errorf("recorded %d readings, want 3", rec.readings)
	}
}

func TestPredict_NoData(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeForecaster{}
	svc := newTestService(&fakeSensor{}, fc, nil, clock)

	if _, err := svc.Predict(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	if fc.calls.Load() != 0 {
		t.Error("forecaster must not be called without data")
	}
}

func TestPredict_CachedWithinWindow(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSensor{reading: sample("1", 60, 1010)}
	fc := &fakeForecaster{result: models.Prediction{Summary: "Дождь", RainChance: 70, Confidence: 80}}
	svc := newTestService(src, fc, nil, clock)
	svc.Latest(context.Background())

	first, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// A newer reading inside the window must not change the answer.
	src.set(sample("2", 95, 990), nil)
	svc.Latest(context.Background())
	clock.Advance(9 * time.Second)

	second, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("responses differ within window:\n%s\n%s", a, b)
	}
	if fc.calls.Load() != 1 {
		t.Errorf("forecaster called %d times, want 1", fc.calls.Load())
	}
	if first.City != "Алматы" || first.Source != models.SourceAI {
		t.Errorf("city/source = %q/%q", first.City, first.Source)
	}
}

func TestPredict_RegeneratesAfterWindow(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSensor{reading: sample("1", 60, 1010)}
	fc := &fakeForecaster{result: models.Prediction{Summary: "x", RainChance: 10, Confidence: 80}}
	svc := newTestService(src, fc, nil, clock)
	svc.Latest(context.Background())

	if _, err := svc.Predict(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	p, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fc.calls.Load() != 2 {
		t.Errorf("forecaster called %d times, want 2", fc.calls.Load())
	}
	if p.Summary != "x 1" {
		t.Errorf("Summary = %q", p.Summary)
	}
}

func TestPredict_FallbackOnFailure(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSensor{reading: sample("1", 60, 1010)}
	fc := &fakeForecaster{err: errors.New("upstream down")}
	rec := &fakeRecorder{}
	svc := newTestService(src, fc, rec, clock)

	svc.Latest(context.Background())
	src.set(sample("2", 60, 1009), nil)
	svc.Latest(context.Background())

	p, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if p.Source != models.SourceFallback {
		t.Errorf("Source = %q, want fallback", p.Source)
	}
	if p.RainChance != 95 {
		t.Errorf("RainChance = %d, want 95 (humidity 60, drop 1.0)", p.RainChance)
	}
	if p.City != "Алматы" {
		t.Errorf("City = %q", p.City)
	}

	// Cached like any other prediction.
	clock.Advance(5 * time.Second)
	if _, err := svc.Predict(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fc.calls.Load() != 1 {
		t.Errorf("forecaster called %d times, want 1", fc.calls.Load())
	}
	if len(rec.predictions) != 1 {
		t.Errorf("recorded %d predictions, want 1", len(rec.predictions))
	}
}

func TestPredict_NoForecasterUsesHeuristic(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(&fakeSensor{reading: sample("1", 40, 1015)}, nil, nil, clock)
	svc.Latest(context.Background())

	p, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.RainChance != 0 || rain.StatusFor(float64(p.RainChance)) != rain.StatusClear {
		t.Errorf("RainChance = %d, want 0/clear", p.RainChance)
	}
}

func TestPredict_ClampsForecasterOutput(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeForecaster{result: models.Prediction{Summary: "x", RainChance: 250, Confidence: -40}}
	svc := newTestService(&fakeSensor{reading: sample("1", 60, 1010)}, fc, nil, clock)
	svc.Latest(context.Background())

	p, err := svc.Predict(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.RainChance != 100 || p.Confidence != 0 {
		t.Errorf("got %d/%d, want 100/0", p.RainChance, p.Confidence)
	}
}

func TestPredict_ConcurrentCallersShareOneForecast(t *testing.T) {
	clock := newFakeClock()
	fc := &fakeForecaster{
		result: models.Prediction{Summary: "x", RainChance: 30, Confidence: 70},
		delay:  50 * time.Millisecond,
	}
	svc := newTestService(&fakeSensor{reading: sample("1", 60, 1010)}, fc, nil, clock)
	svc.Latest(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Predict(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := fc.calls.Load(); n != 1 {
		t.Errorf("forecaster called %d times, want 1", n)
	}
}

func TestPredict_SurvivesCancelledRequest(t *testing.T) {
	clock := newFakeClock()
	fc := &ctxForecaster{}
	svc := newTestService(&fakeSensor{reading: sample("1", 60, 1010)}, fc, nil, clock)
	svc.Latest(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := svc.Predict(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.Source != models.SourceAI {
		t.Errorf("Source = %q, want ai: forecast context should not inherit cancellation", p.Source)
	}
}

type ctxForecaster struct{}

func (ctxForecaster) Forecast(ctx context.Context, current models.Reading) (*models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.Prediction{Summary: "ok", Confidence: 70}, nil
}
