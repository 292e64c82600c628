package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SensorFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationcast_sensor_fetches_total",
			Help: "Total sensor document fetches by outcome (ok, offline, error)",
		},
		[]string{"status"},
	)

	SensorFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stationcast_sensor_fetch_latency_seconds",
			Help:    "Sensor document fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForecastCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationcast_forecast_calls_total",
			Help: "Total forecast source calls by outcome",
		},
		[]string{"status"},
	)

	ForecastLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stationcast_forecast_latency_seconds",
			Help:    "Forecast source call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	PredictionsServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationcast_predictions_served_total",
			Help: "Predictions served by origin (cache, ai, fallback)",
		},
		[]string{"origin"},
	)

	RainChance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stationcast_rain_chance_percent",
			Help: "Rain chance of the most recently generated prediction",
		},
	)

	ReadingsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stationcast_readings_pruned_total",
			Help: "Stored readings removed by retention",
		},
	)
)
