package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audio-pipeline/internal/media"
	"audio-pipeline/internal/pipeline"
	"audio-pipeline/internal/platform/config"
	"audio-pipeline/internal/platform/logger"
	"audio-pipeline/internal/platform/metrics"
	"audio-pipeline/internal/storage"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	sliceSeconds := config.GetEnvInt("SLICE_SECONDS", 10)
	uploadWorkers := config.GetEnvInt("UPLOAD_WORKERS", pipeline.DefaultUploadWorkers)
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", pipeline.DefaultPollInterval)
	sweepInterval := config.GetEnvDuration("SWEEP_INTERVAL", 10*time.Minute)
	taskMaxAge := config.GetEnvDuration("TASK_MAX_AGE", 1*time.Hour)

	log := logger.New(logLevel, logFormat)

	store, err := buildArtifactStore()
	if err != nil {
		log.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	codec := media.NewFFmpeg(
		config.GetEnv("FFMPEG_BIN", "ffmpeg"),
		config.GetEnv("FFPROBE_BIN", "ffprobe"),
	)

	registry := pipeline.NewInMemoryRegistry()
	met := metrics.New()
	svc := pipeline.NewService(registry, codec, store, log, met, pipeline.Options{
		SliceSeconds:  sliceSeconds,
		UploadWorkers: uploadWorkers,
		Encode: media.EncodeOptions{
			Bitrate:    config.GetEnv("AUDIO_BITRATE", "192k"),
			SampleRate: config.GetEnvInt("AUDIO_SAMPLE_RATE", 44100),
		},
		TmpDir: config.GetEnv("TMP_DIR", ""),
	})
	gateway := pipeline.NewGateway(registry, pollInterval)
	h := pipeline.NewHandler(svc, gateway, log, met)

	// Task state is volatile in-process memory; the sweeper bounds its growth.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweeper(sweepCtx, registry, sweepInterval, taskMaxAge, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveTasks(registry.ActiveTaskCount()) }).ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/tracks", h.SubmitTrack)
	r.Route("/tasks/{task_id}", func(r chi.Router) {
		r.Get("/", h.GetTask)
		r.Get("/events", h.StreamEvents)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"slice_seconds", sliceSeconds,
		"upload_workers", uploadWorkers,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// buildArtifactStore selects the store backend from STORE_BACKEND:
// "s3" (default) or "memory" for credential-free local runs.
func buildArtifactStore() (storage.ArtifactStore, error) {
	if config.GetEnv("STORE_BACKEND", "s3") == "memory" {
		return storage.NewMemoryStore(), nil
	}

	client, err := storage.NewS3Client(context.Background())
	if err != nil {
		return nil, err
	}
	bucket := config.GetEnv("S3_BUCKET", "audio-artifacts")
	prefix := config.GetEnv("S3_KEY_PREFIX", "")
	return storage.NewS3Store(client, bucket, prefix), nil
}

// runSweeper periodically removes tasks not updated within maxAge.
func runSweeper(ctx context.Context, registry pipeline.Registry, interval, maxAge time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := registry.Sweep(maxAge); removed > 0 {
				log.Info("task sweep", "removed", removed)
			}
		}
	}
}
