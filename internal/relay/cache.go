package relay

import (
	"sync"
	"time"

	"github.com/lox/stationcast/internal/models"
)

// DefaultFreshness is how long a generated prediction is served unchanged.
const DefaultFreshness = 10 * time.Second

// Cache holds the most recent reading, the previous distinct reading and the
// last generated prediction. It is safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	now func() time.Time
	ttl time.Duration

	latest    *models.Reading
	previous  *models.Reading
	fetchedAt time.Time

	prediction  *models.Prediction
	predictedAt time.Time
}

// NewCache creates a cache whose predictions stay fresh for ttl. now is the
// clock; nil means time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now}
}

// StoreReading makes r the latest reading. The old latest becomes previous
// only when r carries a different timestamp, so repeated fetches of an
// unchanged document do not erase the pressure trend.
func (c *Cache) StoreReading(r models.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest != nil && c.latest.Timestamp != r.Timestamp {
		c.previous = c.latest
	}
	c.latest = &r
	c.fetchedAt = c.now()
}

// Readings returns copies of the latest and previous readings. Either may be
// nil.
func (c *Cache) Readings() (latest, previous *models.Reading) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest != nil {
		l := *c.latest
		latest = &l
	}
	if c.previous != nil {
		p := *c.previous
		previous = &p
	}
	return latest, previous
}

// LastFetched is when the latest reading was stored; zero if never.
func (c *Cache) LastFetched() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Prediction returns the cached prediction if it is younger than the
// freshness window. An expired prediction is dropped.
func (c *Cache) Prediction() (*models.Prediction, bool) {
	c.mu.RLock()
	p, at := c.prediction, c.predictedAt
	c.mu.RUnlock()

	if p == nil {
		return nil, false
	}
	if c.now().Sub(at) < c.ttl {
		cp := *p
		return &cp, true
	}

	c.mu.Lock()
	if c.predictedAt.Equal(at) {
		c.prediction = nil
	}
	c.mu.Unlock()
	return nil, false
}

// StorePrediction caches p stamped with the current time.
func (c *Cache) StorePrediction(p models.Prediction) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prediction = &p
	c.predictedAt = c.now()
	return c.predictedAt
}
