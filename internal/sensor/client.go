// Package sensor reads the station's latest sensor document from the hosted
// real-time database.
package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/stationcast/internal/httputil"
	"github.com/lox/stationcast/internal/metrics"
	"github.com/lox/stationcast/internal/models"
)

const DefaultURL = "https://aerospace-476fc-default-rtdb.europe-west1.firebasedatabase.app/latest.json"

var (
	// ErrStatus is returned when the source answers with a non-200 status.
	ErrStatus = errors.New("unexpected status")
	// ErrMalformed is returned when the document is not a JSON object.
	ErrMalformed = errors.New("malformed sensor document")
)

type Client struct {
	url         string
	client      *http.Client
	retryWindow time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRetryWindow bounds how long transient failures (429, 5xx) are retried.
// Zero disables retries.
func WithRetryWindow(d time.Duration) Option {
	return func(cl *Client) { cl.retryWindow = d }
}

func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:         url,
		client:      httputil.NewClient(10 * time.Second),
		retryWindow: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchLatest returns the current reading, or nil when the station has
// published nothing (the document is null, empty or {}).
func (c *Client) FetchLatest(ctx context.Context) (*models.Reading, error) {
	start := time.Now()
	body, err := c.fetch(ctx)
	metrics.SensorFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SensorFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	reading, err := Decode(body)
	if err != nil {
		metrics.SensorFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if reading == nil {
		metrics.SensorFetchesTotal.WithLabelValues("offline").Inc()
		return nil, nil
	}
	metrics.SensorFetchesTotal.WithLabelValues("ok").Inc()
	return reading, nil
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch sensor document: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch sensor document: %w %d", ErrStatus, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch sensor document: %w %d: %s", ErrStatus, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	if c.retryWindow <= 0 {
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return body, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.retryWindow
	notify := func(err error, wait time.Duration) {
		slog.Debug("sensor: retrying fetch", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// Decode parses a sensor document. It returns nil, nil for an offline
// station. Any other JSON object is accepted: fields that cannot be read as
// numbers stay zero and are listed in Reading.Unparsed.
func Decode(body []byte) (*models.Reading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	r := models.Reading{Raw: append(json.RawMessage(nil), trimmed...)}
	numbers := []struct {
		key string
		dst *float64
	}{
		{"bme280_temperature", &r.BME280Temperature},
		{"dht22_temperature", &r.DHT22Temperature},
		{"bme280_humidity", &r.BME280Humidity},
		{"dht22_humidity", &r.DHT22Humidity},
		{"bme280_pressure", &r.BME280Pressure},
		{"bh1750_illuminance", &r.BH1750Illuminance},
	}
	for _, n := range numbers {
		raw, ok := fields[n.key]
		if !ok {
			continue
		}
		v, ok := parseNumber(raw)
		if !ok {
			r.Unparsed = append(r.Unparsed, n.key)
			continue
		}
		*n.dst = v
	}
	if raw, ok := fields["timestamp"]; ok {
		if err := r.Timestamp.UnmarshalJSON(raw); err != nil {
			r.Unparsed = append(r.Unparsed, "timestamp")
		}
	}
	return &r, nil
}

// parseNumber accepts JSON numbers and numeric strings such as "18.2".
// null reads as zero.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return 0, true
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
