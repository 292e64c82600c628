package dashboard

import (
	"sync"
	"time"

	"github.com/lox/stationcast/internal/models"
)

// DefaultHistorySize is how many readings the dashboard keeps.
const DefaultHistorySize = 10

type Entry struct {
	Reading   models.Reading
	FetchedAt time.Time
}

// History is a bounded, oldest-first record of recent readings.
type History struct {
	mu      sync.RWMutex
	max     int
	entries []Entry
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{max: max, entries: make([]Entry, 0, max)}
}

// Push appends a reading, dropping the oldest beyond capacity. A reading
// with the same non-empty timestamp as the newest entry only refreshes its
// fetch time. Reports whether a new entry was added.
func (h *History) Push(r models.Reading, fetchedAt time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && r.Timestamp != "" && h.entries[n-1].Reading.Timestamp == r.Timestamp {
		h.entries[n-1].FetchedAt = fetchedAt
		return false
	}

	h.entries = append(h.entries, Entry{Reading: r, FetchedAt: fetchedAt})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Last returns up to n newest entries, oldest first.
func (h *History) Last(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]Entry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Latest returns the newest reading and the one before it.
func (h *History) Latest() (latest *Entry, previous *models.Reading) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.entries)
	if n == 0 {
		return nil, nil
	}
	l := h.entries[n-1]
	latest = &l
	if n > 1 {
		p := h.entries[n-2].Reading
		previous = &p
	}
	return latest, previous
}
