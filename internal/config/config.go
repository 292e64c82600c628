// Package config defines the command-line and environment configuration.
// Values come from flags, then the environment (optionally loaded from a
// .env file), then defaults; the result is checked with struct tags.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/stationcast/internal/models"
)

type Station struct {
	StationID string  `name:"station-id" help:"Station identifier." env:"STATION_ID" default:"almaty" validate:"required"`
	Name      string  `name:"station-name" help:"Station display name." env:"STATION_NAME" default:"Алматы" validate:"required"`
	District  string  `name:"station-district" help:"District shown under the name." env:"STATION_DISTRICT" default:"Бостандыкский район"`
	Latitude  float64 `name:"station-lat" help:"Station latitude." env:"STATION_LAT" default:"43.2389" validate:"latitude"`
	Longitude float64 `name:"station-lon" help:"Station longitude." env:"STATION_LON" default:"76.8897" validate:"longitude"`
	UTCOffset int     `name:"station-utc-offset" help:"Fixed UTC offset for display, hours." env:"STATION_UTC_OFFSET" default:"6" validate:"min=-12,max=14"`
}

func (s Station) Model() models.Station {
	return models.Station{
		StationID: s.StationID,
		Name:      s.Name,
		District:  s.District,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		UTCOffset: s.UTCOffset,
	}
}

// Relay holds what is needed to fetch readings and produce predictions.
type Relay struct {
	SensorURL        string        `name:"sensor-url" help:"URL of the latest sensor document." env:"SENSOR_URL" default:"https://aerospace-476fc-default-rtdb.europe-west1.firebasedatabase.app/latest.json" validate:"required,url"`
	OpenAIAPIKey     string        `name:"openai-api-key" help:"OpenAI API key; without it predictions use the heuristic." env:"OPENAI_API_KEY"`
	OpenAIModel      string        `name:"openai-model" help:"Chat model used for predictions." env:"OPENAI_MODEL" default:"gpt-4o-mini" validate:"required"`
	OpenAIBaseURL    string        `name:"openai-base-url" help:"Override the OpenAI API base URL." env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	ForecastTimeout  time.Duration `name:"forecast-timeout" help:"Timeout for one forecast call." env:"FORECAST_TIMEOUT" default:"30s" validate:"gt=0"`
	Freshness        time.Duration `name:"prediction-freshness" help:"How long a prediction is served unchanged." env:"PREDICTION_FRESHNESS" default:"10s" validate:"gt=0"`
	FallbackStrategy string        `name:"fallback-strategy" help:"Heuristic used when the forecast fails (trend, snapshot)." env:"FALLBACK_STRATEGY" enum:"trend,snapshot" default:"trend" validate:"oneof=trend snapshot"`
	City             string        `name:"city" help:"City stamped on predictions." env:"STATION_CITY" default:"Алматы" validate:"required"`

	Station `embed:""`
}

// Server is the configuration of the serve command.
type Server struct {
	Port         string        `help:"HTTP server port." env:"PORT" default:"3000" validate:"required,numeric"`
	DBPath       string        `name:"db" help:"Path to the SQLite database." env:"STATIONCAST_DB" default:"data/stationcast.db" validate:"required"`
	PollInterval time.Duration `name:"poll-interval" help:"Background poll interval while the station is online." env:"POLL_INTERVAL" default:"30s" validate:"gt=0"`
	NoPoll       bool          `name:"no-poll" help:"Disable background polling." env:"NO_POLL"`
	Retention    time.Duration `help:"How long stored history is kept; 0 keeps everything." env:"RETENTION" default:"720h" validate:"gte=0"`

	Relay `embed:""`
}

// Watch is the configuration of the terminal dashboard.
type Watch struct {
	RelayURL           string        `name:"relay" help:"Base URL of a running relay." env:"RELAY_URL" default:"http://localhost:3000" validate:"required,url"`
	ReadingInterval    time.Duration `name:"reading-interval" help:"Reading poll interval." default:"5s" validate:"gt=0"`
	PredictionInterval time.Duration `name:"prediction-interval" help:"Prediction poll interval (10s to 40s)." default:"40s" validate:"min=10s,max=40s"`

	Station `embed:""`
}

var validate = validator.New()

// Validate checks struct tags on any of the configuration structs.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
