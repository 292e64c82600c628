package config

import (
	"strings"
	"testing"
	"time"
)

func validServer() Server {
	return Server{
		Port:         "3000",
		DBPath:       "data/test.db",
		PollInterval: 30 * time.Second,
		Retention:    720 * time.Hour,
		Relay: Relay{
			SensorURL:        "https://example.firebaseio.com/latest.json",
			OpenAIModel:      "gpt-4o-mini",
			ForecastTimeout:  30 * time.Second,
			Freshness:        10 * time.Second,
			FallbackStrategy: "trend",
			City:             "Алматы",
			Station: Station{
				StationID: "almaty",
				Name:      "Алматы",
				Latitude:  43.2389,
				Longitude: 76.8897,
				UTCOffset: 6,
			},
		},
	}
}

func TestValidate_Server(t *testing.T) {
	if err := Validate(validServer()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Server)
		field  string
	}{
		{"bad port", func(s *Server) { s.Port = "http" }, "Port"},
		{"bad sensor url", func(s *Server) { s.SensorURL = "not a url" }, "SensorURL"},
		{"unknown strategy", func(s *Server) { s.FallbackStrategy = "magic" }, "FallbackStrategy"},
		{"zero freshness", func(s *Server) { s.Freshness = 0 }, "Freshness"},
		{"bad latitude", func(s *Server) { s.Latitude = 120 }, "Latitude"},
		{"bad base url", func(s *Server) { s.OpenAIBaseURL = "::" }, "OpenAIBaseURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServer()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

func TestValidate_WatchPredictionInterval(t *testing.T) {
	w := Watch{
		RelayURL:           "http://localhost:3000",
		ReadingInterval:    5 * time.Second,
		PredictionInterval: 40 * time.Second,
		Station:            validServer().Station,
	}
	if err := Validate(w); err != nil {
		t.Fatalf("valid watch config rejected: %v", err)
	}
	w.PredictionInterval = 5 * time.Second
	if err := Validate(w); err == nil {
		t.Error("expected error for prediction interval below 10s")
	}
}

func TestStationModel(t *testing.T) {
	st := validServer().Station.Model()
	if st.StationID != "almaty" || st.UTCOffset != 6 {
		t.Errorf("Model() = %+v", st)
	}
	if _, off := time.Date(2025, 1, 1, 0, 0, 0, 0, st.Location()).Zone(); off != 6*3600 {
		t.Errorf("offset = %d, want %d", off, 6*3600)
	}
}
