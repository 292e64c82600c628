package dashboard

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
	"github.com/lox/stationcast/internal/sensor"
)

const chartPoints = 5

type StationStatus struct {
	Online bool
	Active int
	Text   string
}

func OnlineStatus() StationStatus {
	return StationStatus{Online: true, Active: 1, Text: "Онлайн · 1 станция активна"}
}

func OfflineStatus() StationStatus {
	return StationStatus{Online: false, Active: 0, Text: "Станция оффлайн"}
}

type ChartPoint struct {
	Label       string
	Temperature float64
	Humidity    float64
}

type ReadingView struct {
	Station     models.Station
	Temperature float64
	DHT22Temp   float64
	Humidity    float64
	Pressure    float64
	Light       float64
	UpdatedAt   time.Time
	// TempMismatch is set when the two thermometers disagree.
	TempMismatch bool
	TempSpread   float64
	Chart        []ChartPoint
	Estimate     rain.Estimate
}

// NewReadingView builds the card data from the newest history entry. It
// returns false when the history is empty.
func NewReadingView(st models.Station, h *History, est *rain.Estimator) (ReadingView, bool) {
	latest, previous := h.Latest()
	if latest == nil {
		return ReadingView{}, false
	}
	r := latest.Reading
	loc := st.Location()

	updated, ok := r.Timestamp.Time()
	if !ok {
		updated = latest.FetchedAt
	}

	v := ReadingView{
		Station:      st,
		Temperature:  round1(r.BME280Temperature),
		DHT22Temp:    round1(r.DHT22Temperature),
		Humidity:     math.Round(r.BME280Humidity),
		Pressure:     math.Round(r.BME280Pressure),
		Light:        math.Round(r.BH1750Illuminance),
		UpdatedAt:    updated.In(loc),
		TempSpread:   round1(r.TemperatureSpread()),
		TempMismatch: r.TemperatureSpread() > sensor.MaxTemperatureSpread,
		Estimate:     est.Estimate(r, previous),
	}
	for _, e := range h.Last(chartPoints) {
		v.Chart = append(v.Chart, ChartPoint{
			Label:       e.FetchedAt.In(loc).Format("15:04:05"),
			Temperature: round1(e.Reading.BME280Temperature),
			Humidity:    math.Round(e.Reading.BME280Humidity),
		})
	}
	return v, true
}

type PredictionView struct {
	// Prediction is nil when no prediction could be fetched.
	Prediction *models.Prediction
	Status     rain.Status
	// Estimated is set when Status comes from the local estimate rather than
	// a relay prediction.
	Estimated bool
	Message   string
}

func NewPredictionView(p *models.Prediction) PredictionView {
	return PredictionView{
		Prediction: p,
		Status:     rain.StatusFor(float64(p.RainChance)),
	}
}

// PlaceholderView is shown when the relay has no prediction. The marker
// status falls back to the local estimate when one is available.
func PlaceholderView(est *rain.Estimate, message string) PredictionView {
	v := PredictionView{Status: rain.StatusClear, Message: message}
	if est != nil {
		v.Status = est.Status
		v.Estimated = true
	}
	return v
}

func (v PredictionView) Headline() string {
	if v.Prediction == nil {
		if v.Estimated {
			return fmt.Sprintf("%s (оценка станции)", v.Status.Label())
		}
		return v.Message
	}
	return v.Status.Label()
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
