package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/audio"
	"github.com/fankserver/voice-align-mcp/internal/config"
	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/httpapi"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/mcp"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/sirupsen/logrus"
)

var version = "dev"

var (
	ConfigPath      string
	Mode            string
	HTTPAddr        string
	TranscriberType string
	VocabularyPath  string
	LogLevel        string
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "Path to YAML config file (or ALIGN_CONFIG)")
	flag.StringVar(&Mode, "mode", "", "Serve mode: mcp, http or both")
	flag.StringVar(&HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&TranscriberType, "transcriber", "", "Transcriber type: faster-whisper or mock")
	flag.StringVar(&VocabularyPath, "vocabulary", "", "Path to vocab.json of the acoustic model")
	flag.StringVar(&LogLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// applyFlags overrides cfg with flags given on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = Mode
		case "http-addr":
			cfg.HTTPAddr = HTTPAddr
		case "transcriber":
			cfg.Transcriber.Backend = TranscriberType
		case "vocabulary":
			cfg.VocabularyPath = VocabularyPath
		case "log-level":
			cfg.LogLevel = LogLevel
		}
	})
}

func main() {
	flag.Parse()

	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// MCP speaks JSON-RPC on stdout
	logrus.SetOutput(os.Stderr)

	cfg, err := config.FromEnvironment(ConfigPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	applyFlags(cfg)
	logrus.SetLevel(config.ParseLogLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	vocab := align.DefaultVocabulary()
	if cfg.VocabularyPath != "" {
		if vocab, err = align.LoadVocabulary(cfg.VocabularyPath, ""); err != nil {
			logrus.WithError(err).Fatal("Failed to load vocabulary")
		}
	}
	logrus.WithFields(logrus.Fields{
		"symbols": vocab.Size(),
		"blank":   vocab.Label(vocab.Blank()),
	}).Debug("Vocabulary loaded")

	backends := newBackends(ctx, cfg)
	backends.Converter = audio.NewConverter(cfg.FFmpegPath, "")

	svc := service.New(vocab, cfg.AlignerConfig(), backends)
	defer func() {
		if err := svc.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close backends")
		}
	}()

	queueConfig := cfg.PipelineConfig()
	queueConfig.Retryable = service.Retryable
	queue := pipeline.NewJobQueue(queueConfig)
	queue.Start()
	defer queue.Stop()

	events := feedback.NewEventBus(1000)
	defer events.Stop()
	events.SubscribeAll(logEvent)

	store := jobs.NewStore(cfg.ExportDir)
	if cfg.JobRetention > 0 {
		go pruneJobs(ctx, store, cfg.JobRetention)
	}
	dispatcher := service.NewDispatcher(svc, queue, store, events)

	if cfg.Mode == "http" || cfg.Mode == "both" {
		httpServer := httpapi.NewServer(cfg.HTTPAddr, dispatcher)
		if err := httpServer.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start HTTP server")
		}
		defer func() {
			if err := httpServer.Stop(context.Background()); err != nil {
				logrus.WithError(err).Warn("Failed to stop HTTP server")
			}
		}()
	}

	if cfg.Mode == "mcp" || cfg.Mode == "both" {
		mcpServer := mcp.NewServer(dispatcher, version)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				logrus.WithError(err).Error("MCP server error")
			}
			// stdin closed, the client is gone
			cancel()
		}()
	}

	logrus.WithFields(logrus.Fields{
		"mode":    cfg.Mode,
		"workers": queue.WorkerCount(),
		"version": version,
	}).Info("voice-align-mcp is running. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	// Deferred functions will handle cleanup
}

// pruneJobs drops finished jobs older than retention until ctx ends.
func pruneJobs(ctx context.Context, store *jobs.Store, retention time.Duration) {
	interval := min(retention, 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Prune(retention); n > 0 {
				logrus.WithField("pruned", n).Debug("Pruned finished jobs")
			}
		}
	}
}

func logEvent(event feedback.Event) {
	entry := logrus.WithFields(logrus.Fields{
		"event":  event.Type,
		"job_id": event.JobID,
	})
	switch event.Type {
	case feedback.EventJobFailed, feedback.EventAlignWarning:
		entry.WithField("data", event.Data).Warn("Job event")
	default:
		entry.WithField("data", event.Data).Debug("Job event")
	}
}
