package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	vnengine "github.com/snarg/vn-engine"
	"github.com/snarg/vn-engine/internal/api"
	"github.com/snarg/vn-engine/internal/config"
	"github.com/snarg/vn-engine/internal/database"
	"github.com/snarg/vn-engine/internal/ingest"
	"github.com/snarg/vn-engine/internal/notify"
	"github.com/snarg/vn-engine/internal/pipeline"
	"github.com/snarg/vn-engine/internal/probe"
	"github.com/snarg/vn-engine/internal/segment"
	"github.com/snarg/vn-engine/internal/storage"
	"github.com/snarg/vn-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..panic)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection string")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "local blob storage directory")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "drop directory to ingest audio from")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vn-engine starting")

	if !probe.CheckTools() {
		log.Warn().Msg("ffmpeg/ffprobe not found on PATH; transcription runs will fail")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, vnengine.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Blob storage
	blobs, err := storage.New(cfg.S3, cfg.DataDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// MQTT status notifications (optional)
	var notifier pipeline.Notifier
	if cfg.MQTTBrokerURL != "" {
		pub, err := notify.Connect(notify.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopic,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer pub.Close()
		notifier = pub
	}

	// Transcription pipeline
	pipeLog := log.With().Str("component", "pipeline").Logger()
	processor := pipeline.New(pipeline.Options{
		Store:  db,
		Blobs:  blobs,
		Probe:  probe.Duration,
		Cutter: segment.New(cfg.SegmentSeconds, pipeLog),
		Pool: transcribe.NewPool(transcribe.PoolOptions{
			Client: transcribe.NewWhisperClient(transcribe.WhisperOptions{
				URL:      cfg.ASRURL,
				APIKey:   cfg.ASRAPIKey,
				Model:    cfg.ASRModel,
				Language: cfg.ASRLanguage,
				Prompt:   cfg.ASRPrompt,
				Timeout:  cfg.ASRTimeout,
			}),
			Workers:   cfg.ASRWorkers,
			Attempts:  cfg.ASRAttempts,
			BaseDelay: cfg.ASRRetryDelay,
			Log:       log.With().Str("component", "asr").Logger(),
		}),
		Notifier: notifier,
		Log:      pipeLog,
	})

	// Watch-folder ingest (optional)
	if cfg.WatchDir != "" {
		watcher := ingest.New(ingest.Options{
			WatchDir:  cfg.WatchDir,
			Store:     db,
			Blobs:     blobs,
			Processor: processor,
			Log:       log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start watch-folder ingest")
		}
		defer watcher.Stop()
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	voices := api.NewVoicesHandler(db, blobs, processor, cfg.MaxUploadMB, httpLog)
	health := api.NewHealthHandler(db, probe.CheckTools, version, startTime)
	srv := api.NewServer(cfg, voices, health, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("vn-engine stopped")
}
