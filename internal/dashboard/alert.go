package dashboard

import (
	"sync"
	"time"

	"github.com/lox/stationcast/internal/models"
)

const (
	// AlertConfidence is the minimum confidence that raises an alert.
	AlertConfidence = 90
	// AlertDuration is how long an alert stays visible.
	AlertDuration = 6 * time.Second
)

type Alert struct {
	Summary    string
	RainChance int
	Confidence int
	ShownAt    time.Time
	HideAt     time.Time
}

// AlertTracker decides when a prediction raises an alert. The same summary
// never alerts twice in a row, however often it is re-fetched.
type AlertTracker struct {
	mu       sync.Mutex
	now      func() time.Time
	duration time.Duration

	lastSummary string
	visible     *Alert
}

func NewAlertTracker(now func() time.Time) *AlertTracker {
	if now == nil {
		now = time.Now
	}
	return &AlertTracker{now: now, duration: AlertDuration}
}

// Offer returns an alert to show for p, if any.
func (t *AlertTracker) Offer(p *models.Prediction) (Alert, bool) {
	if p == nil || p.Confidence < AlertConfidence {
		return Alert{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Summary == t.lastSummary {
		return Alert{}, false
	}
	t.lastSummary = p.Summary

	now := t.now()
	a := Alert{
		Summary:    p.Summary,
		RainChance: p.RainChance,
		Confidence: p.Confidence,
		ShownAt:    now,
		HideAt:     now.Add(t.duration),
	}
	t.visible = &a
	return a, true
}

// Expire reports whether the visible alert has just passed its hide time.
func (t *AlertTracker) Expire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visible == nil || t.now().Before(t.visible.HideAt) {
		return false
	}
	t.visible = nil
	return true
}

// Visible returns the alert currently on screen.
func (t *AlertTracker) Visible() (Alert, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visible == nil {
		return Alert{}, false
	}
	return *t.visible, true
}
