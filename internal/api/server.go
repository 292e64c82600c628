// Package api serves the relay endpoints, the dashboard page and the
// operational endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/stationcast/internal/imagegen"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/relay"
	"github.com/lox/stationcast/internal/store"
)

// StaleAfter is how old the latest reading may get before the station is
// reported as degraded.
const StaleAfter = 15 * time.Minute

type Server struct {
	relay   *relay.Service
	store   *store.Store
	station models.Station
	port    string
	tmpl    *template.Template
	ogCache *imagegen.OGImageCache
	now     func() time.Time
}

// NewServer creates a server for one station. st may be nil, in which case
// the history endpoints return empty lists.
func NewServer(svc *relay.Service, st *store.Store, station models.Station, port string) *Server {
	return &Server{
		relay:   svc,
		store:   st,
		station: station,
		port:    port,
		tmpl:    newTemplates(),
		ogCache: imagegen.NewOGImageCache(5 * time.Minute),
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/og-image.png", s.handleOGImage)
	mux.HandleFunc("/partials/current", s.handleCurrentPartial)
	mux.HandleFunc("/partials/prediction", s.handlePredictionPartial)
	mux.HandleFunc("/api/latest", s.handleAPILatest)
	mux.HandleFunc("/api/predict", s.handleAPIPredict)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/api/predictions", s.handleAPIPredictions)
	mux.HandleFunc("/api/stations", s.handleAPIStations)
	mux.Handle("/metrics", promhttp.Handler())
	return withRequestID(logRequests(recoverPanics(mux)))
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("api: listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status     string    `json:"status"`
	StationID  string    `json:"stationId"`
	LastSeen   time.Time `json:"lastSeen,omitzero"`
	AgeMinutes int       `json:"ageMinutes"`
	Stale      bool      `json:"stale"`

	// Ingest counts background polls over the last day.
	Ingest    *store.IngestHealthSummary `json:"ingest,omitempty"`
	LastError string                     `json:"lastError,omitempty"`
	Errors    []string                   `json:"errors,omitempty"`
}

// lastSeen is when a reading was last fetched, from the cache or, after a
// restart, from the stored history.
func (s *Server) lastSeen() (time.Time, error) {
	if t := s.relay.Cache().LastFetched(); !t.IsZero() {
		return t, nil
	}
	if s.store == nil {
		return time.Time{}, nil
	}
	sr, err := s.store.LatestReading(s.station.StationID)
	if err != nil || sr == nil {
		return time.Time{}, err
	}
	return sr.FetchedAt, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", StationID: s.station.StationID}

	seen, err := s.lastSeen()
	if err != nil {
		health.Errors = append(health.Errors, err.Error())
	}

	now := s.now()
	if seen.IsZero() {
		health.Stale = true
		health.AgeMinutes = -1
	} else {
		health.LastSeen = seen
		health.AgeMinutes = int(now.Sub(seen).Minutes())
		health.Stale = now.Sub(seen) > StaleAfter
	}

	if s.store != nil {
		if ih, err := s.store.GetIngestHealth(now.Add(-24 * time.Hour)); err != nil {
			health.Errors = append(health.Errors, err.Error())
		} else if ih.Total > 0 {
			health.Ingest = &ih
		}
		if runs, err := s.store.GetRecentIngestErrors(1); err == nil && len(runs) > 0 {
			health.LastError = runs[0].ErrorMessage.String
		}
	}

	if health.Stale {
		health.Status = "degraded"
	}
	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		slog.Warn("health: write response", "error", err)
	}
}

type StationInfo struct {
	models.Station
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

func (s *Server) handleAPIStations(w http.ResponseWriter, r *http.Request) {
	seen, err := s.lastSeen()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	info := StationInfo{
		Station:  s.station,
		LastSeen: seen,
		Online:   !seen.IsZero() && s.now().Sub(seen) <= StaleAfter,
	}
	writeJSON(w, http.StatusOK, []StationInfo{info})
}
