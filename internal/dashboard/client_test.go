package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lox/stationcast/internal/models"
)

func relayServer(t *testing.T, latest, predict string, predictStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(latest))
	})
	mux.HandleFunc("/api/predict", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(predictStatus)
		w.Write([]byte(predict))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLatest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantNil bool
	}{
		{"reading", `{"bme280_temperature":20.5,"timestamp":1760605200000}`, false},
		{"offline empty object", `{}`, true},
		{"offline null", `null`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := relayServer(t, tt.body, `{}`, http.StatusOK)
			c := NewClient(srv.URL+"/", nil)

			r, err := c.Latest(context.Background())
			if err != nil {
				t.Fatalf("Latest: %v", err)
			}
			if (r == nil) != tt.wantNil {
				t.Fatalf("reading = %+v, wantNil %v", r, tt.wantNil)
			}
			if r != nil && r.BME280Temperature != 20.5 {
				t.Errorf("temperature = %v", r.BME280Temperature)
			}
		})
	}
}

func TestClientPredict(t *testing.T) {
	body := `{"summary":"Облачно","rainChance":140,"changeIndex":"Средний","confidence":80,"trend":"Стабильно","riskLevel":"Низкий","city":"Бишкек"}`
	srv := relayServer(t, `{}`, body, http.StatusOK)

	p, err := NewClient(srv.URL, nil).Predict(context.Background())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.RainChance != 100 {
		t.Errorf("rainChance = %d, want clamped 100", p.RainChance)
	}
	if p.ChangeIndex != models.LevelMedium || p.City != "Бишкек" {
		t.Errorf("prediction = %+v", p)
	}
}

func TestClientPredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"no data", `{"error":"Нет данных для анализа"}`, http.StatusOK},
		{"server error", `{"error":"Ошибка анализа"}`, http.StatusInternalServerError},
		{"bare status", `{}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := relayServer(t, `{}`, tt.body, tt.status)
			_, err := NewClient(srv.URL, nil).Predict(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("err = %v, want ErrUnavailable", err)
			}
		})
	}
}
