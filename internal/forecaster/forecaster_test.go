package forecaster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/stationcast/internal/models"
)

func TestParsePrediction(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantChance     int
		wantConfidence int
		wantSummary    string
		wantChange     models.Level
	}{
		{
			name:           "well formed",
			text:           `{"summary":"Без осадков","rainChance":12,"changeIndex":"Низкий","confidence":88,"trend":"Стабильно","riskLevel":"Низкий"}`,
			wantChance:     12,
			wantConfidence: 88,
			wantSummary:    "Без осадков",
			wantChange:     models.LevelLow,
		},
		{
			name:           "clamps out of range",
			text:           `{"summary":"x","rainChance":150,"confidence":-7}`,
			wantChance:     100,
			wantConfidence: 0,
			wantSummary:    "x",
			wantChange:     models.LevelHigh,
		},
		{
			name:           "confidence defaults",
			text:           "  \n{\"summary\":\"y\",\"rainChance\":45}\n",
			wantChance:     45,
			wantConfidence: DefaultConfidence,
			wantSummary:    "y",
			wantChange:     models.LevelMedium,
		},
		{
			name:           "numeric strings",
			text:           `{"summary":"z","rainChance":"64%","confidence":"90.4"}`,
			wantChance:     64,
			wantConfidence: 90,
			wantSummary:    "z",
			wantChange:     models.LevelHigh,
		},
		{
			name:           "strips markup",
			text:           `{"summary":"<b>Дождь</b> &amp; ветер","rainChance":80}`,
			wantChance:     80,
			wantConfidence: DefaultConfidence,
			wantSummary:    "Дождь & ветер",
			wantChange:     models.LevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrediction(tt.text)
			if err != nil {
				t.Fatalf("ParsePrediction: %v", err)
			}
			if p.RainChance != tt.wantChance {
				t.Errorf("RainChance = %d, want %d", p.RainChance, tt.wantChance)
			}
			if p.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %d, want %d", p.Confidence, tt.wantConfidence)
			}
			if p.Summary != tt.wantSummary {
				t.Errorf("Summary = %q, want %q", p.Summary, tt.wantSummary)
			}
			if p.ChangeIndex != tt.wantChange {
				t.Errorf("ChangeIndex = %q, want %q", p.ChangeIndex, tt.wantChange)
			}
			if p.Source != models.SourceAI {
				t.Errorf("Source = %q, want ai", p.Source)
			}
		})
	}
}

func TestParsePrediction_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"null",
		"Конечно! Вот прогноз: {\"rainChance\": 10}",
		"```json\n{\"rainChance\": 10}\n```",
		`{"rainChance": 10} trailing`,
		`{"rainChance": true}`,
		`[{"rainChance": 10}]`,
	}
	for _, in := range inputs {
		if _, err := ParsePrediction(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParsePrediction(%q) err = %v, want ErrMalformed", in, err)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	r := models.Reading{
		BME280Humidity: 72,
		Raw:            json.RawMessage(`{"bme280_humidity":72,"bme280_pressure":998.5}`),
	}
	prompt, err := BuildPrompt(r)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ТОЛЬКО JSON", "\"rainChance\": 0-100", "Влажность > 70%", "\"bme280_pressure\": 998.5"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

type memArchive struct {
	mu       sync.Mutex
	payloads []string
}

func (a *memArchive) StoreRawPayload(source, endpoint string, payload []byte) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, string(payload))
	return int64(len(a.payloads)), nil
}

func chatServer(t *testing.T, status int, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1760000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestOpenAI_Forecast(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"summary":"Ожидается дождь","rainChance":82,"changeIndex":"Высокий","confidence":91,"trend":"Ухудшение","riskLevel":"Высокий"}`)
	archive := &memArchive{}

	f, err := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", Archive: archive})
	if err != nil {
		t.Fatal(err)
	}

	p, err := f.Forecast(context.Background(), models.Reading{BME280Humidity: 80})
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if p.RainChance != 82 || p.Confidence != 91 || p.Trend != models.TrendWorsening {
		t.Errorf("unexpected prediction %+v", p)
	}
	if len(archive.payloads) != 1 {
		t.Errorf("archived %d payloads, want 1", len(archive.payloads))
	}
}

func TestOpenAI_MalformedReply(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, "Сегодня будет солнечно.")
	f, err := NewOpenAI(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Forecast(context.Background(), models.Reading{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestOpenAI_BreakerOpensAfterFailures(t *testing.T) {
	srv, calls := chatServer(t, http.StatusInternalServerError, "")
	f, err := NewOpenAI(Config{
		APIKey:          "test",
		BaseURL:         srv.URL + "/v1/",
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if _, err := f.Forecast(context.Background(), models.Reading{}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream saw %d calls, want 2 before the breaker opened", n)
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}
