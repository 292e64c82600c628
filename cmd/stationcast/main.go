package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"

	"github.com/lox/stationcast/internal/api"
	"github.com/lox/stationcast/internal/config"
	"github.com/lox/stationcast/internal/dashboard"
	"github.com/lox/stationcast/internal/forecaster"
	"github.com/lox/stationcast/internal/httputil"
	"github.com/lox/stationcast/internal/ingest"
	"github.com/lox/stationcast/internal/logging"
	"github.com/lox/stationcast/internal/rain"
	"github.com/lox/stationcast/internal/relay"
	"github.com/lox/stationcast/internal/sensor"
	"github.com/lox/stationcast/internal/store"
)

type CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)." env:"LOG_FORMAT" enum:"text,json" default:"text"`

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the relay server (default)."`
	Watch   WatchCmd   `cmd:"" help:"Show the terminal dashboard for a running relay."`
	Predict PredictCmd `cmd:"" help:"Fetch one reading, print a prediction and exit."`
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("stationcast"),
		kong.Description("Weather station relay with rain prediction."),
		kong.UsageOnError(),
	)

	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	slog.SetDefault(logging.New(os.Stderr, cli.LogFormat, level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(); err != nil {
		slog.Error("stationcast: exiting", "error", err)
		os.Exit(1)
	}
}

// buildRelay wires the sensor client, the forecaster and the recorder.
func buildRelay(cfg config.Relay, st *store.Store) (*relay.Service, error) {
	strategy, err := rain.ParseStrategy(cfg.FallbackStrategy)
	if err != nil {
		return nil, err
	}

	var archive forecaster.Archive
	var recorder relay.Recorder
	if st != nil {
		archive = st
		recorder = st
	}

	var fc relay.Forecaster
	ai, err := forecaster.NewOpenAI(forecaster.Config{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: httputil.NewClient(cfg.ForecastTimeout),
		Archive:    archive,
	})
	if err != nil {
		slog.Warn("forecaster disabled, predictions use the heuristic", "error", err)
	} else {
		fc = ai
	}

	src := sensor.NewClient(cfg.SensorURL)
	return relay.NewService(src, fc, recorder, relay.Config{
		StationID:       cfg.StationID,
		City:            cfg.City,
		Strategy:        strategy,
		Freshness:       cfg.Freshness,
		ForecastTimeout: cfg.ForecastTimeout,
	}), nil
}

type ServeCmd struct {
	config.Server `embed:""`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	if err := config.Validate(c.Server); err != nil {
		return err
	}

	if dir := filepath.Dir(c.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(c.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("database migrated", "path", c.DBPath)

	svc, err := buildRelay(c.Relay, st)
	if err != nil {
		return err
	}
	server := api.NewServer(svc, st, c.Station.Model(), c.Port)

	g, gctx := errgroup.WithContext(ctx)
	if !c.NoPoll {
		scheduler := ingest.NewScheduler(svc, st, ingest.Config{
			PollInterval: c.PollInterval,
			Retention:    c.Retention,
		})
		scheduler.SetRunLog(st, c.StationID)
		g.Go(func() error { return scheduler.Run(gctx) })
	} else {
		slog.Info("polling disabled (--no-poll)")
	}
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}

type WatchCmd struct {
	config.Watch `embed:""`
}

func (c *WatchCmd) Run(ctx context.Context) error {
	if err := config.Validate(c.Watch); err != nil {
		return err
	}
	client := dashboard.NewClient(c.RelayURL, nil)
	d := dashboard.New(client, dashboard.NewTerminal(os.Stdout), c.Station.Model(), dashboard.Options{
		ReadingInterval:    c.ReadingInterval,
		PredictionInterval: c.PredictionInterval,
	})
	return d.Run(ctx)
}

type PredictCmd struct {
	config.Relay `embed:""`
}

func (c *PredictCmd) Run(ctx context.Context) error {
	if err := config.Validate(c.Relay); err != nil {
		return err
	}
	svc, err := buildRelay(c.Relay, nil)
	if err != nil {
		return err
	}

	reading, err := svc.Latest(ctx)
	if err != nil {
		return err
	}
	if reading == nil {
		return fmt.Errorf("station is offline")
	}
	p, err := svc.Predict(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
