package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lox/stationcast/internal/httputil"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/sensor"
)

// ErrUnavailable is returned when the relay answers with an error payload.
var ErrUnavailable = errors.New("relay unavailable")

// Client talks to a relay over HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = httputil.NewClient(0)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s: %w", path, err)
	}
	return body, resp.StatusCode, nil
}

type errorPayload struct {
	Error string `json:"error"`
}

func relayError(path string, status int, body []byte) error {
	var e errorPayload
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, path, e.Error)
	}
	return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, status)
}

// Latest returns the relay's current reading, or nil when the station is
// offline.
func (c *Client) Latest(ctx context.Context) (*models.Reading, error) {
	body, status, err := c.get(ctx, "/api/latest")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, relayError("/api/latest", status, body)
	}
	return sensor.Decode(body)
}

// Predict returns the relay's prediction. The relay's "no data" payload
// comes back as ErrUnavailable.
func (c *Client) Predict(ctx context.Context) (*models.Prediction, error) {
	body, status, err := c.get(ctx, "/api/predict")
	if err != nil {
		return nil, err
	}

	var payload struct {
		errorPayload
		models.Prediction
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if status != http.StatusOK || payload.Error != "" {
		return nil, relayError("/api/predict", status, body)
	}
	p := payload.Prediction
	p.Normalize()
	return &p, nil
}
