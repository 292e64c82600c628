package forecaster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lox/stationcast/internal/htmlutil"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
)

// ErrMalformed is returned when the model's reply is not the expected JSON
// object.
var ErrMalformed = errors.New("malformed forecast response")

// DefaultConfidence applies when the reply omits confidence.
const DefaultConfidence = 70

const maxSummaryRunes = 280

type reply struct {
	Summary     string  `json:"summary"`
	RainChance  *number `json:"rainChance"`
	ChangeIndex string  `json:"changeIndex"`
	Confidence  *number `json:"confidence"`
	Trend       string  `json:"trend"`
	RiskLevel   string  `json:"riskLevel"`
}

// number accepts 85, 85.5, "85" and "85%".
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// ParsePrediction parses the model's reply strictly: the whole text, after
// trimming whitespace, must be one JSON object. Percentages are clamped,
// missing confidence defaults to DefaultConfidence and missing levels are
// derived from the rain chance.
func ParsePrediction(text string) (*models.Prediction, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var r reply
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	p := &models.Prediction{
		Summary:    cleanSummary(r.Summary),
		Confidence: DefaultConfidence,
		Source:     models.SourceAI,
	}
	if r.RainChance != nil {
		p.RainChance = models.ClampPercent(float64(*r.RainChance))
	}
	if r.Confidence != nil {
		p.Confidence = models.ClampPercent(float64(*r.Confidence))
	}

	p.ChangeIndex = parseLevel(r.ChangeIndex, rain.ChangeIndex(p.RainChance))
	p.RiskLevel = parseLevel(r.RiskLevel, rain.RiskLevel(p.RainChance))
	p.Trend = parseTrend(r.Trend)
	return p, nil
}

func cleanSummary(s string) string {
	s = htmlutil.CleanLine(s)
	if runes := []rune(s); len(runes) > maxSummaryRunes {
		s = string(runes[:maxSummaryRunes-1]) + "…"
	}
	return s
}

func parseLevel(s string, fallback models.Level) models.Level {
	switch l := models.Level(strings.TrimSpace(s)); l {
	case models.LevelLow, models.LevelMedium, models.LevelHigh:
		return l
	}
	return fallback
}

func parseTrend(s string) models.Trend {
	switch t := models.Trend(strings.TrimSpace(s)); t {
	case models.TrendStable, models.TrendWorsening, models.TrendImproving:
		return t
	}
	return models.TrendStable
}
