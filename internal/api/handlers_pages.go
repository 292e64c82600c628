package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lox/stationcast/internal/dashboard"
	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/rain"
	"github.com/lox/stationcast/internal/relay"
)

type CurrentData struct {
	Status  dashboard.StationStatus
	Reading *dashboard.ReadingView
}

type IndexData struct {
	*CurrentData
	Station    models.Station
	Prediction dashboard.PredictionView
}

// getCurrentData fetches the latest reading and builds the card view on top
// of the stored history.
func (s *Server) getCurrentData(ctx context.Context) *CurrentData {
	reading, err := s.relay.Latest(ctx)
	if err != nil {
		slog.Warn("api: current data", "error", err)
	}
	if reading == nil {
		return &CurrentData{Status: dashboard.OfflineStatus()}
	}

	h := dashboard.NewHistory(dashboard.DefaultHistorySize)
	if s.store != nil {
		stored, err := s.store.RecentReadings(s.station.StationID, dashboard.DefaultHistorySize)
		if err != nil {
			slog.Warn("api: recent readings", "error", err)
		}
		for _, sr := range stored {
			h.Push(sr.Reading, sr.FetchedAt)
		}
	} else if _, previous := s.relay.Cache().Readings(); previous != nil {
		h.Push(*previous, s.relay.Cache().LastFetched())
	}
	h.Push(*reading, s.relay.Cache().LastFetched())

	data := &CurrentData{Status: dashboard.OnlineStatus()}
	if v, ok := dashboard.NewReadingView(s.station, h, s.relay.Estimator()); ok {
		data.Reading = &v
	}
	return data
}

// getPredictionView returns the relay prediction, or a placeholder marked
// with the local estimate when none is available.
func (s *Server) getPredictionView(ctx context.Context) dashboard.PredictionView {
	p, err := s.relay.Predict(ctx)
	if err == nil {
		return dashboard.NewPredictionView(p)
	}

	msg := msgPredictFailed
	if errors.Is(err, relay.ErrNoData) {
		msg = msgNoData
	} else {
		slog.Warn("api: prediction view", "error", err)
	}

	var est *rain.Estimate
	if latest, previous := s.relay.Cache().Readings(); latest != nil {
		e := s.relay.Estimator().Estimate(*latest, previous)
		est = &e
	}
	return dashboard.PlaceholderView(est, msg)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := IndexData{
		CurrentData: s.getCurrentData(r.Context()),
		Station:     s.station,
		Prediction:  s.getPredictionView(r.Context()),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		slog.Error("template error", "template", "index.html", "error", err)
	}
}

func (s *Server) handleCurrentPartial(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "current.html", s.getCurrentData(r.Context())); err != nil {
		slog.Error("template error", "template", "current.html", "error", err)
	}
}

func (s *Server) handlePredictionPartial(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "prediction.html", s.getPredictionView(r.Context())); err != nil {
		slog.Error("template error", "template", "prediction.html", "error", err)
	}
}
