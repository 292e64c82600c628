package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Station struct {
	StationID string  `json:"id"`
	Name      string  `json:"name"`
	District  string  `json:"district"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	// UTCOffset is the fixed local offset used for display, in hours.
	UTCOffset int `json:"utcOffset"`
}

// Location returns the station's fixed-offset zone.
func (s Station) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", s.UTCOffset), s.UTCOffset*3600)
}

// Reading is one sensor document as published by the station.
type Reading struct {
	BME280Temperature float64   `json:"bme280_temperature"`
	DHT22Temperature  float64   `json:"dht22_temperature"`
	BME280Humidity    float64   `json:"bme280_humidity"`
	DHT22Humidity     float64   `json:"dht22_humidity"`
	BME280Pressure    float64   `json:"bme280_pressure"`
	BH1750Illuminance float64   `json:"bh1750_illuminance"`
	Timestamp         Timestamp `json:"timestamp,omitempty"`

	// Raw is the verbatim source document.
	Raw json.RawMessage `json:"-"`
	// Unparsed names the fields present in Raw that held unusable values.
	Unparsed []string `json:"-"`
}

// Humidity is the humidity the estimator works from.
func (r Reading) Humidity() float64 { return r.BME280Humidity }

// Pressure is the station pressure in hPa.
func (r Reading) Pressure() float64 { return r.BME280Pressure }

// Temperature is the primary air temperature.
func (r Reading) Temperature() float64 { return r.BME280Temperature }

// TemperatureSpread is the absolute disagreement between the two thermometers.
func (r Reading) TemperatureSpread() float64 {
	return math.Abs(r.BME280Temperature - r.DHT22Temperature)
}

// Timestamp accepts either a JSON string or number. The raw text is kept
// so that identity checks compare exactly what the station sent.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp(n.String())
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(t), 64); err == nil {
		return []byte(t), nil
	}
	return json.Marshal(string(t))
}

// Time interprets the timestamp. Numbers above 1e12 are epoch milliseconds,
// smaller numbers epoch seconds.
func (t Timestamp) Time() (time.Time, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		return time.Unix(int64(f), 0).UTC(), true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

type Level string

const (
	LevelLow    Level = "Низкий"
	LevelMedium Level = "Средний"
	LevelHigh   Level = "Высокий"
)

type Trend string

const (
	TrendStable    Trend = "Стабильно"
	TrendWorsening Trend = "Ухудшение"
	TrendImproving Trend = "Улучшение"
)

const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

type Prediction struct {
	Summary     string `json:"summary"`
	RainChance  int    `json:"rainChance"`
	ChangeIndex Level  `json:"changeIndex"`
	Confidence  int    `json:"confidence"`
	Trend       Trend  `json:"trend"`
	RiskLevel   Level  `json:"riskLevel"`
	City        string `json:"city"`
	Source      string `json:"source,omitempty"`
}

// Normalize clamps the percentage fields into [0,100].
func (p *Prediction) Normalize() {
	p.RainChance = ClampPercent(float64(p.RainChance))
	p.Confidence = ClampPercent(float64(p.Confidence))
}

// ClampPercent rounds v and clamps it to [0,100]. NaN becomes 0.
func ClampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// StoredReading is a reading as kept in the history table.
type StoredReading struct {
	ID        int64     `json:"id"`
	StationID string    `json:"stationId"`
	FetchedAt time.Time `json:"fetchedAt"`
	Reading
	QCFlags []string `json:"qcFlags,omitempty"`
}

// StoredPrediction is one entry of the prediction log.
type StoredPrediction struct {
	ID        int64     `json:"id"`
	StationID string    `json:"stationId"`
	CreatedAt time.Time `json:"createdAt"`
	Prediction
}
