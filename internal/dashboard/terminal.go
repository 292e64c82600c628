package dashboard

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal renders the dashboard as plain text lines.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

func (t *Terminal) RenderStatus(s StationStatus) {
	marker := "○"
	if s.Online {
		marker = "●"
	}
	t.printf("%s %s\n", marker, s.Text)
}

func (t *Terminal) RenderReading(v ReadingView) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", v.Station.Name, v.UpdatedAt.Format("15:04:05"))
	fmt.Fprintf(&b, "  Температура  %.1f°C", v.Temperature)
	if v.TempMismatch {
		fmt.Fprintf(&b, "  (DHT22 %.1f°C, расхождение %.1f°C)", v.DHT22Temp, v.TempSpread)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Влажность    %.0f%%\n", v.Humidity)
	fmt.Fprintf(&b, "  Давление     %.0f гПа\n", v.Pressure)
	fmt.Fprintf(&b, "  Освещённость %.0f лк\n", v.Light)
	fmt.Fprintf(&b, "  Дождь        %.0f%% %s\n", v.Estimate.Probability, v.Estimate.Status.Label())
	if len(v.Chart) > 0 {
		b.WriteString("  ")
		for i, p := range v.Chart {
			if i > 0 {
				b.WriteString(" │ ")
			}
			fmt.Fprintf(&b, "%s %.1f°", p.Label, p.Temperature)
		}
		b.WriteString("\n")
	}
	t.printf("%s", b.String())
}

func (t *Terminal) RenderPrediction(v PredictionView) {
	if v.Prediction == nil {
		t.printf("Прогноз: %s\n", v.Headline())
		return
	}
	p := v.Prediction
	t.printf("Прогноз: %s · дождь %d%% · уверенность %d%% · %s · риск %s\n  %s\n",
		v.Headline(), p.RainChance, p.Confidence, p.Trend, p.RiskLevel, p.Summary)
}

func (t *Terminal) ShowAlert(a Alert) {
	t.printf("!! %s (дождь %d%%, уверенность %d%%)\n", a.Summary, a.RainChance, a.Confidence)
}

func (t *Terminal) HideAlert() {}
