package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/classifier"
	"github.com/user/viral-detector-go/internal/config"
	"github.com/user/viral-detector-go/internal/export"
	"github.com/user/viral-detector-go/internal/feed"
	"github.com/user/viral-detector-go/internal/pipeline"
	"github.com/user/viral-detector-go/internal/scheduler"
	"github.com/user/viral-detector-go/internal/server"
	"github.com/user/viral-detector-go/internal/store"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file (JSON or YAML)")
	createConfig := flag.Bool("create-config", false, "write a sample config file and exit")
	verifyOnly := flag.Bool("verify-only", false, "check the API credentials and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	mock := flag.Bool("mock", false, "use the generated fixture feed instead of the API")
	serve := flag.Bool("serve", false, "run periodically and serve /health and /metrics")
	exportOnly := flag.Bool("export-only", false, "export the stored rows without collecting")
	flag.Parse()

	setupLogging("info", "json")

	if *exportOnly && (*verifyOnly || *serve) {
		log.Fatal().Msg("-export-only cannot be combined with -verify-only or -serve")
	}

	if *createConfig {
		if err := config.WriteSample(*configPath); err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to create config file")
		}
		fmt.Printf("Created %s. Add your API key and adjust the thresholds before running.\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *mock {
		cfg.Mock.Enabled = true
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	validate := cfg.Validate
	if *exportOnly {
		validate = cfg.ValidateExport
	}
	if err := validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Bool("mock", cfg.Mock.Enabled).
		Strs("countries", cfg.Detection.Countries).
		Int64("min_views", cfg.Detection.MinViews).
		Float64("time_limit_hours", cfg.Detection.TimeLimitHours).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// export-only never touches the feed
	var client feed.Client
	if !*exportOnly {
		client, err = newFeedClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create feed client")
		}
	}

	if *verifyOnly {
		if err := client.Verify(ctx); err != nil {
			log.Error().Err(err).Msg("Credential check failed")
			os.Exit(1)
		}
		fmt.Println("API credentials verified.")
		return
	}

	st, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}()

	targets, err := newTargets(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exporters")
	}

	cls := classifier.New(classifier.Params{
		MinViews:       cfg.Detection.MinViews,
		TimeLimitHours: cfg.Detection.TimeLimitHours,
	})
	runner := pipeline.NewRunner(client, st, cls, targets, pipeline.OptionsFromConfig(cfg))

	if *serve {
		runDaemon(ctx, cfg, st, runner)
		return
	}

	run := runner.Run
	if *exportOnly {
		run = runner.ExportOnly
	}

	summary, err := run(ctx)
	printSummary(os.Stdout, summary)
	if err != nil {
		st.Close()
		os.Exit(1)
	}
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newFeedClient(cfg *config.Config) (feed.Client, error) {
	gate := feed.NewIntervalGate(cfg.API.MinInterval)

	if cfg.Mock.Enabled {
		log.Info().Int64("seed", cfg.Mock.Seed).Msg("Mock mode: using generated feed")
		return feed.NewFixtureClient(feed.FixtureConfig{
			Seed:           cfg.Mock.Seed,
			PagesPerRegion: cfg.Mock.PagesPerRegion,
			ItemsPerPage:   cfg.Mock.ItemsPerPage,
			MinViews:       cfg.Detection.MinViews,
			TimeLimitHours: cfg.Detection.TimeLimitHours,
		}, gate), nil
	}

	clientCfg := &feed.ClientConfig{
		APIKey:       cfg.API.Key,
		BaseURL:      cfg.API.BaseURL,
		Strategies:   cfg.API.Strategies,
		PageSize:     cfg.API.PageSize,
		Timeout:      cfg.API.Timeout,
		MaxRetries:   cfg.API.MaxRetries,
		RetryBackoff: cfg.API.RetryBackoff,
		UserAgent:    cfg.API.UserAgent,
		ProxyURL:     cfg.API.ProxyURL,
		VerifyRegion: cfg.Detection.Countries[0],
	}
	return feed.NewHTTPClient(clientCfg, gate)
}

func newStore(cfg *config.Config) (store.Store, error) {
	if cfg.DB.Driver == config.DriverMemory {
		log.Info().Msg("Using in-memory store")
		return store.NewMemoryStore(), nil
	}

	st, err := store.NewSQLStore(&cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("Database connection established")
	return st, nil
}

func newTargets(ctx context.Context, cfg *config.Config) ([]pipeline.Target, error) {
	mode := export.Mode(cfg.Output.Mode)
	out := &cfg.Output
	var targets []pipeline.Target

	if out.CSV.Enabled {
		targets = append(targets, pipeline.Target{
			Exporter:    export.NewCSVExporter(out.CSV.Dir, mode),
			Destination: out.CSV.Filename,
			Required:    out.CSV.Required,
		})
	}

	if out.Sheets.Enabled {
		sheets, err := export.NewSheetsExporter(ctx, &out.Sheets, mode)
		if err != nil {
			return nil, err
		}
		targets = append(targets, pipeline.Target{
			Exporter:    sheets,
			Destination: out.Sheets.SheetName,
			Required:    out.Sheets.Required,
		})
	}

	if out.ObjectStore.Enabled {
		objects, err := export.NewObjectStoreExporter(&out.ObjectStore)
		if err != nil {
			return nil, err
		}
		targets = append(targets, pipeline.Target{
			Exporter:    objects,
			Destination: out.CSV.Filename,
			Required:    out.ObjectStore.Required,
		})
	}

	if out.Telegram.Enabled {
		sender, err := export.NewBotSender(out.Telegram.Token)
		if err != nil {
			return nil, err
		}
		targets = append(targets, pipeline.Target{
			Exporter:    export.NewTelegramExporter(sender, &out.Telegram),
			Destination: "Viral videos {date}",
		})
	}

	if len(targets) == 0 {
		log.Warn().Msg("No exporters enabled; results are only stored")
	}
	return targets, nil
}

func runDaemon(ctx context.Context, cfg *config.Config, st store.Store, runner *pipeline.Runner) {
	sched := scheduler.NewScheduler(runner, &cfg.Scheduler)
	httpServer := server.NewServer(st, runner)

	go func() {
		if err := httpServer.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	sched.Start(ctx)
	log.Info().Msg("Viral detector started")

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	log.Info().Msg("Starting graceful shutdown...")

	// 1. Stop triggering runs; an in-flight run sees the cancelled context
	sched.Stop()

	// 2. Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	} else {
		log.Info().Msg("HTTP server stopped")
	}

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
	default:
		log.Info().Msg("Graceful shutdown completed")
	}
}
