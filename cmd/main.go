package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hearing-processor/pkg/analysis"
	"hearing-processor/pkg/api"
	"hearing-processor/pkg/artifacts"
	"hearing-processor/pkg/config"
	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/media"
	"hearing-processor/pkg/metrics"
	"hearing-processor/pkg/pipeline"
	"hearing-processor/pkg/speakers"
	"hearing-processor/pkg/storage"
	"hearing-processor/pkg/transcription"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	m := metrics.NewMetrics()

	// Initialize storage
	memStore := storage.NewMemoryStore()
	diskStore, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize result storage")
	}
	defer diskStore.Close()

	blobs, err := artifacts.NewBlobStore(filepath.Join(cfg.StoragePath, "blobs"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize blob storage")
	}

	stt, err := newSpeechProvider(cfg.Transcription)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize speech-to-text provider")
	}
	gen, err := newGenerator(cfg.LLM)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize text-generation provider")
	}
	calendar, closeCalendar, err := newScheduler(cfg.Calendar)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize calendar")
	}
	defer closeCalendar()

	pipelineManager := pipeline.NewManager(cfg.Pipeline, pipeline.Deps{
		Sessions:    memStore,
		Results:     diskStore,
		Extractor:   media.NewExtractor(cfg.Media.FFmpegPath, cfg.Media.SampleRate, cfg.Media.FetchTimeout),
		Chunker:     media.NewChunker(cfg.Media.ChunkThresholdBytes, cfg.Media.ChunkDuration),
		Transcriber: transcription.NewTranscriber(stt, m),
		Speakers:    speakers.NewRoundRobin(),
		Judgments:   analysis.NewJudgmentExtractor(gen, m, log),
		Probability: analysis.NewProbabilityAnalyzer(gen, m, log),
		PDF:         artifacts.NewPDFRenderer(blobs),
		Calendar:    calendar,
		Logger:      log,
		Metrics:     m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pipelineManager.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start pipeline")
	}

	handlers := api.NewHandlers(pipelineManager, log).WithDocuments(blobs)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewRouter(handlers, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("address", cfg.Server.Address).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	pipelineManager.Stop()

	log.Info("server exited")
}

func newSpeechProvider(cfg config.TranscriptionConfig) (transcription.Provider, error) {
	switch cfg.Provider {
	case "whisper":
		return transcription.NewWhisperClient(transcription.WhisperConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
			MaxRetry: cfg.MaxRetry,
		})
	case "mock":
		return transcription.NewMockProvider(), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
}

func newGenerator(cfg config.LLMConfig) (analysis.Generator, error) {
	switch cfg.Provider {
	case "gateway":
		return analysis.NewGatewayClient(analysis.GatewayConfig{
			Endpoint:    cfg.Endpoint,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			MaxRetry:    cfg.MaxRetry,
		})
	case "mock":
		// four weeks out keeps the calendar stage busy in demos
		return analysis.NewMockGenerator(time.Now().AddDate(0, 0, 28).Format("2006-01-02")), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func newScheduler(cfg config.CalendarConfig) (artifacts.Scheduler, func(), error) {
	switch cfg.Provider {
	case "http":
		cal, err := artifacts.NewHTTPCalendar(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
		return cal, func() {}, err
	case "sqlite":
		cal, err := artifacts.OpenSQLiteCalendar(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return cal, func() { cal.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown calendar provider %q", cfg.Provider)
}
