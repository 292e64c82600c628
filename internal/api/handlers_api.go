package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lox/stationcast/internal/models"
	"github.com/lox/stationcast/internal/relay"
)

const (
	msgFetchFailed   = "Ошибка получения данных"
	msgNoData        = "Нет данных для анализа"
	msgPredictFailed = "Ошибка анализа"

	defaultHistoryLimit = 10
	maxHistoryLimit     = 500
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handleAPILatest returns the sensor document exactly as the station
// published it, or {} while the station is offline.
func (s *Server) handleAPILatest(w http.ResponseWriter, r *http.Request) {
	reading, err := s.relay.Latest(r.Context())
	if err != nil {
		slog.Error("api: latest", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, msgFetchFailed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case reading == nil:
		w.Write([]byte("{}\n"))
	case len(reading.Raw) > 0:
		w.Write(reading.Raw)
	default:
		json.NewEncoder(w).Encode(reading)
	}
}

func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("api: predict panic", "panic", rec, "request_id", requestID(r.Context()))
			writeError(w, http.StatusInternalServerError, msgPredictFailed)
		}
	}()

	p, err := s.relay.Predict(r.Context())
	switch {
	case errors.Is(err, relay.ErrNoData):
		writeError(w, http.StatusOK, msgNoData)
	case err != nil:
		slog.Error("api: predict", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, msgPredictFailed)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	readings := []models.StoredReading{}
	if s.store != nil {
		got, err := s.store.RecentReadings(s.station.StationID, parseLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if got != nil {
			readings = got
		}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleAPIPredictions(w http.ResponseWriter, r *http.Request) {
	preds := []models.StoredPrediction{}
	if s.store != nil {
		got, err := s.store.RecentPredictions(s.station.StationID, parseLimit(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if got != nil {
			preds = got
		}
	}
	writeJSON(w, http.StatusOK, preds)
}
