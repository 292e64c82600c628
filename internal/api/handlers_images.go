package api

import (
	"log/slog"
	"net/http"

	"github.com/lox/stationcast/internal/imagegen"
)

// handleOGImage serves the station card used for link previews. It draws
// from the cached reading and never calls the station itself.
func (s *Server) handleOGImage(w http.ResponseWriter, r *http.Request) {
	if data, ok := s.ogCache.Get(); ok {
		serveOGImage(w, data)
		return
	}

	ogData := imagegen.OGImageData{StationName: s.station.Name, Offline: true}
	if latest, previous := s.relay.Cache().Readings(); latest != nil {
		est := s.relay.Estimator().Estimate(*latest, previous)
		ogData = imagegen.OGImageData{
			StationName: s.station.Name,
			Temperature: latest.Temperature(),
			Humidity:    latest.Humidity(),
			Pressure:    latest.Pressure(),
			RainChance:  est.Probability,
			Status:      est.Status,
			UpdatedAt:   s.relay.Cache().LastFetched().In(s.station.Location()),
		}
	}

	img, err := imagegen.GenerateOGImage(ogData)
	if err != nil {
		slog.Error("og-image: generate", "error", err)
		http.Error(w, "Failed to generate OG image", http.StatusInternalServerError)
		return
	}
	s.ogCache.Set(img)
	serveOGImage(w, img)
}

func serveOGImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}
