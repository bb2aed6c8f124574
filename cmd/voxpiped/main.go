// Command voxpiped runs the voxpipe HTTP server: upload intake, the
// transcription pipeline, the status endpoint, and the stale-job
// sweeper, backed by a pluggable job store.
//
// Configuration is environment-driven:
//
//	VOXPIPE_ADDR            listen address (default ":8080")
//	VOXPIPE_STORE           memory | sqlite | postgres | redis (default "memory")
//	VOXPIPE_SQLITE_PATH     sqlite file path (default "voxpipe.db")
//	VOXPIPE_POSTGRES_URL    postgres connection string
//	VOXPIPE_REDIS_ADDR      redis address (default "localhost:6379")
//	VOXPIPE_BLOB_DIR        blob storage root (default "data/blobs")
//	VOXPIPE_STT_URL         speech-to-text endpoint base URL (required)
//	VOXPIPE_STT_KEY         speech-to-text bearer token
//	VOXPIPE_STT_MODEL       speech-to-text model override
//	VOXPIPE_LLM_URL         summarizer endpoint base URL (required)
//	VOXPIPE_LLM_KEY         summarizer bearer token
//	VOXPIPE_LLM_MODEL       summarizer model override
//	VOXPIPE_CHUNK_LENGTH    target chunk duration (default "1m")
//	VOXPIPE_CONCURRENCY     per-job transcription concurrency (default 8)
//	VOXPIPE_STALL_THRESHOLD sweeper stall threshold (default "30m")
//	VOXPIPE_SWEEP_SCHEDULE  sweeper cron schedule (default "@every 5m")
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voxpipe/voxpipe"
	"github.com/voxpipe/voxpipe/api"
	audithook "github.com/voxpipe/voxpipe/audit_hook"
	"github.com/voxpipe/voxpipe/blob"
	"github.com/voxpipe/voxpipe/engine"
	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/media"
	"github.com/voxpipe/voxpipe/observability"
	"github.com/voxpipe/voxpipe/pipeline"
	"github.com/voxpipe/voxpipe/store"
	"github.com/voxpipe/voxpipe/store/memory"
	"github.com/voxpipe/voxpipe/store/postgres"
	redisstore "github.com/voxpipe/voxpipe/store/redis"
	"github.com/voxpipe/voxpipe/store/sqlite"
	"github.com/voxpipe/voxpipe/summarize"
	"github.com/voxpipe/voxpipe/sweep"
	"github.com/voxpipe/voxpipe/transcribe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("voxpiped exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	js, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer js.Close()

	if err := js.Migrate(ctx); err != nil {
		return err
	}
	if err := js.Ping(ctx); err != nil {
		return err
	}

	blobs, err := blob.NewFS(getenv("VOXPIPE_BLOB_DIR", "data/blobs"))
	if err != nil {
		return err
	}

	hooks := ext.NewRegistry(logger)
	hooks.Register(observability.NewMetricsExtension())
	hooks.Register(audithook.New(slogRecorder(logger)))

	eng, err := engine.New(js,
		engine.WithLogger(logger),
		engine.WithHooks(hooks),
	)
	if err != nil {
		return err
	}

	sttURL := os.Getenv("VOXPIPE_STT_URL")
	if sttURL == "" {
		return errors.New("VOXPIPE_STT_URL is required")
	}
	llmURL := os.Getenv("VOXPIPE_LLM_URL")
	if llmURL == "" {
		return errors.New("VOXPIPE_LLM_URL is required")
	}

	var sttOpts []transcribe.Option
	sttOpts = append(sttOpts, transcribe.WithLogger(logger))
	if key := os.Getenv("VOXPIPE_STT_KEY"); key != "" {
		sttOpts = append(sttOpts, transcribe.WithAPIKey(key))
	}
	if model := os.Getenv("VOXPIPE_STT_MODEL"); model != "" {
		sttOpts = append(sttOpts, transcribe.WithModel(model))
	}
	stt := transcribe.NewClient(sttURL, sttOpts...)

	var llmOpts []summarize.Option
	llmOpts = append(llmOpts, summarize.WithLogger(logger))
	if key := os.Getenv("VOXPIPE_LLM_KEY"); key != "" {
		llmOpts = append(llmOpts, summarize.WithAPIKey(key))
	}
	if model := os.Getenv("VOXPIPE_LLM_MODEL"); model != "" {
		llmOpts = append(llmOpts, summarize.WithModel(model))
	}
	summer := summarize.NewClient(llmURL, llmOpts...)

	proc := media.NewProcessor(media.WithLogger(logger))

	orch, err := pipeline.New(eng, js, blobs, proc, stt, summer,
		pipeline.WithConfig(cfg),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	sweeper, err := sweep.New(js, eng, getenv("VOXPIPE_SWEEP_SCHEDULE", "@every 5m"),
		sweep.WithLogger(logger),
		sweep.WithHooks(hooks),
		sweep.WithThreshold(cfg.StallThreshold),
	)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}

	a := api.New(eng, js, blobs, orch, api.WithLogger(logger))
	srv := &http.Server{
		Addr:              getenv("VOXPIPE_ADDR", ":8080"),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("voxpiped listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	a.Wait()
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Warn("sweeper stop", "error", err)
	}
	hooks.EmitShutdown(shutdownCtx)
	return nil
}

// openStore builds the job store selected by VOXPIPE_STORE.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	switch backend := getenv("VOXPIPE_STORE", "memory"); backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		s, _, err := sqlite.Open(getenv("VOXPIPE_SQLITE_PATH", "voxpipe.db"),
			sqlite.WithLogger(logger))
		return s, err
	case "postgres":
		url := os.Getenv("VOXPIPE_POSTGRES_URL")
		if url == "" {
			return nil, errors.New("VOXPIPE_POSTGRES_URL is required for the postgres store")
		}
		return postgres.New(ctx, url, postgres.WithLogger(logger))
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: getenv("VOXPIPE_REDIS_ADDR", "localhost:6379"),
		})
		return redisstore.New(client, redisstore.WithLogger(logger)), nil
	default:
		return nil, errors.New("unknown VOXPIPE_STORE: " + backend)
	}
}

// loadConfig applies environment overrides on top of the defaults.
func loadConfig() voxpipe.Config {
	cfg := voxpipe.DefaultConfig()
	if d, err := time.ParseDuration(os.Getenv("VOXPIPE_CHUNK_LENGTH")); err == nil && d > 0 {
		cfg.ChunkLength = d
	}
	if d, err := time.ParseDuration(os.Getenv("VOXPIPE_STALL_THRESHOLD")); err == nil && d > 0 {
		cfg.StallThreshold = d
	}
	if n, err := strconv.Atoi(os.Getenv("VOXPIPE_CONCURRENCY")); err == nil && n > 0 {
		cfg.TranscribeConcurrency = n
	}
	return cfg
}

// slogRecorder emits audit events as structured log records. Deployments
// with a durable audit backend swap in their own Recorder here.
func slogRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
