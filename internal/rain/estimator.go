// Package rain estimates the probability of precipitation from station
// readings. It backs the fallback prediction served when the forecast
// source is unavailable, and the client-side estimate on the dashboard.
package rain

import (
	"fmt"
	"math"

	"github.com/lox/stationcast/internal/models"
)

// Strategy selects the probability formula.
type Strategy string

const (
	// StrategyTrend weighs humidity against the pressure drop since the
	// previous reading.
	StrategyTrend Strategy = "trend"
	// StrategySnapshot uses only the current humidity and absolute pressure.
	StrategySnapshot Strategy = "snapshot"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyTrend, "":
		return StrategyTrend, nil
	case StrategySnapshot:
		return StrategySnapshot, nil
	}
	return "", fmt.Errorf("unknown rain strategy %q", s)
}

type Status string

const (
	StatusClear    Status = "clear"
	StatusPossible Status = "possible"
	StatusRain     Status = "rain"
)

// StatusFor maps a probability to its status band.
func StatusFor(probability float64) Status {
	switch {
	case probability < 30:
		return StatusClear
	case probability < 60:
		return StatusPossible
	default:
		return StatusRain
	}
}

// Class is the marker class used by the map and cards.
func (s Status) Class() string {
	switch s {
	case StatusPossible:
		return "medium"
	case StatusRain:
		return "high"
	default:
		return "low"
	}
}

func (s Status) Label() string {
	switch s {
	case StatusPossible:
		return "Возможен дождь"
	case StatusRain:
		return "Ожидается дождь"
	default:
		return "Осадков не ожидается"
	}
}

// PressureDrop is how far pressure fell since the previous reading, in hPa.
// A rise gives a negative value; no previous reading gives 0.
func PressureDrop(current models.Reading, previous *models.Reading) float64 {
	if previous == nil {
		return 0
	}
	return previous.Pressure() - current.Pressure()
}

// Probability is the trend formula.
func Probability(humidity, pressureDrop float64) float64 {
	var p float64
	switch {
	case humidity > 55 && pressureDrop > 0.5:
		p = math.Min(95, 60+humidity*0.5+pressureDrop*10)
	case humidity > 55:
		p = 40 + humidity*0.3
	case pressureDrop > 1:
		p = 50 + pressureDrop*8
	}
	return clamp(p)
}

// SnapshotProbability is the absolute-pressure formula. The second return
// reports whether the saturated low-pressure boost applied.
func SnapshotProbability(humidity, pressure float64) (float64, bool) {
	p := math.Min(100, math.Round(humidity*0.8+(1013-pressure)*2))
	boosted := humidity > 70 && pressure < 1000
	if boosted {
		p = math.Min(95, p+20)
	}
	return clamp(p), boosted
}

func clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

type Estimate struct {
	Probability  float64
	PressureDrop float64
	Status       Status
	Strategy     Strategy

	boosted bool
}

// Estimator computes estimates with a fixed strategy.
type Estimator struct {
	strategy Strategy
}

func NewEstimator(strategy Strategy) *Estimator {
	if strategy == "" {
		strategy = StrategyTrend
	}
	return &Estimator{strategy: strategy}
}

func (e *Estimator) Strategy() Strategy { return e.strategy }

func (e *Estimator) Estimate(current models.Reading, previous *models.Reading) Estimate {
	est := Estimate{
		PressureDrop: PressureDrop(current, previous),
		Strategy:     e.strategy,
	}
	switch e.strategy {
	case StrategySnapshot:
		est.Probability, est.boosted = SnapshotProbability(current.Humidity(), current.Pressure())
	default:
		est.Probability = Probability(current.Humidity(), est.PressureDrop)
	}
	est.Status = StatusFor(est.Probability)
	return est
}

// Fallback builds the heuristic prediction served when the forecast source
// fails. City is left for the caller to stamp.
func (e *Estimator) Fallback(current models.Reading, previous *models.Reading) *models.Prediction {
	est := e.Estimate(current, previous)
	chance := models.ClampPercent(est.Probability)

	confidence := 75
	if chance > 70 {
		confidence = 85
	}
	if est.boosted {
		confidence = 90
	}

	summary := "Стабильная погода"
	if chance > 70 {
		summary = "Высокая вероятность осадков"
	}

	var trend models.Trend
	if e.strategy == StrategySnapshot {
		trend = models.TrendStable
		if current.Pressure() < 1005 {
			trend = models.TrendWorsening
		}
	} else {
		trend = TrendFromDrop(est.PressureDrop)
	}

	return &models.Prediction{
		Summary:     summary,
		RainChance:  chance,
		ChangeIndex: ChangeIndex(chance),
		Confidence:  confidence,
		Trend:       trend,
		RiskLevel:   RiskLevel(chance),
		Source:      models.SourceFallback,
	}
}

func ChangeIndex(rainChance int) models.Level {
	switch {
	case rainChance > 60:
		return models.LevelHigh
	case rainChance > 30:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

func RiskLevel(rainChance int) models.Level {
	switch {
	case rainChance > 80:
		return models.LevelHigh
	case rainChance > 50:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

// TrendFromDrop reads the pressure tendency: falling pressure worsens.
func TrendFromDrop(drop float64) models.Trend {
	switch {
	case drop > 0.5:
		return models.TrendWorsening
	case drop < -0.5:
		return models.TrendImproving
	default:
		return models.TrendStable
	}
}
