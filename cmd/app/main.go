// Command app is the financial-summarizer binary: wires the Job
// Orchestration Engine (PDF Segmenter, Transcript Store, Dedup Index, Job
// Registry, Stage Runner, Cleanup Worker) to the HTTP Surface, grounded on
// the reference repo's cmd/app/main.go dependency-injection style — a
// single main that builds every collaborator and passes it down rather
// than relying on package-level globals.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tatiwuli/financial-summarizer/internal/ai"
	"github.com/Tatiwuli/financial-summarizer/internal/archive"
	"github.com/Tatiwuli/financial-summarizer/internal/cleanupworker"
	cfgpkg "github.com/Tatiwuli/financial-summarizer/internal/config"
	"github.com/Tatiwuli/financial-summarizer/internal/dedup"
	"github.com/Tatiwuli/financial-summarizer/internal/filetype"
	"github.com/Tatiwuli/financial-summarizer/internal/httpapi"
	"github.com/Tatiwuli/financial-summarizer/internal/jobs"
	"github.com/Tatiwuli/financial-summarizer/internal/limiter"
	logpkg "github.com/Tatiwuli/financial-summarizer/internal/logger"
	mpkg "github.com/Tatiwuli/financial-summarizer/internal/metrics"
	"github.com/Tatiwuli/financial-summarizer/internal/prompts"
	"github.com/Tatiwuli/financial-summarizer/internal/stagerunner"
	"github.com/Tatiwuli/financial-summarizer/internal/transcript"
)

func main() {
	_ = godotenv.Load()

	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	mpkg.Init()

	registry := jobs.New(cfg.Job.CacheDir)
	dedupIndex := dedup.New(cfg.Job.CacheDir)
	transcriptStore := transcript.New(cfg.Job.CacheDir)

	modelClient := buildModelClient(cfg)

	deps := stagerunner.Deps{
		Registry: registry,
		Model:    modelClient,
		Prompts:  prompts.Default{},

		RateLimitThreshold: cfg.Job.RateLimitThreshold,
		BackoffSleep:       cfg.Job.BackoffSleep,
		FanOutDeadline:     cfg.Job.FanOutDeadline,
		ModelTimeout:       cfg.Job.ModelRequestTimeout,

		QAModel:       cfg.Model.QAModel,
		OverviewModel: cfg.Model.OverviewModel,
		JudgeModel:    cfg.Model.JudgeModel,

		OverviewPromptVersion: cfg.Prompts.Overview,
		JudgePromptVersion:    cfg.Prompts.Judge,
	}

	server := &httpapi.Server{
		Registry:         registry,
		Dedup:            dedupIndex,
		Transcript:       transcriptStore,
		FileType:         filetype.New(),
		MaxFileSizeBytes: cfg.Job.MaxFileSizeBytes,
		StageDeps:        deps,
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	mux.Handle("/metrics", mpkg.Handler())

	handler := httpapi.WithMiddleware(mux, cfg.HTTP.CORSOrigins)

	ctx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	worker := &cleanupworker.Worker{
		Registry:         registry,
		Dedup:            dedupIndex,
		Archiver:         buildArchiver(ctx, cfg),
		Interval:         cfg.Retention.Interval,
		StartupDelay:     cfg.Retention.StartupDelay,
		RetentionDays:    cfg.Retention.RetentionDays,
		ForceCleanupDays: cfg.Retention.ForceCleanupDays,
	}
	go worker.Run(ctx)

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: handler}

	go func() {
		log.Info().Msgf("financial-summarizer listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	cancelWorker()
	fmt.Println("shutdown complete")
}

// buildModelClient wires the configured provider behind the Redis-backed
// circuit breaker (SPEC_FULL.md §11). The breaker degrades to pass-through
// when REDIS_URL is unset, since it is additive resiliency, not a Job
// Registry dependency (spec.md Non-goals excludes distributed
// coordination from the core engine itself).
func buildModelClient(cfg cfgpkg.Config) ai.Client {
	var inner ai.Client
	switch cfg.Model.Provider {
	case "anthropic":
		inner = ai.NewAnthropicClient(cfg.Model.AnthropicAPIKey)
	default:
		inner = ai.NewOpenAIClient(cfg.Model.OpenAIAPIKey)
	}

	if cfg.Breaker.RedisURL == "" {
		return inner
	}
	// Cooldown bounds track the stage runner's own rate-limit model
	// (spec.md §4.5) rather than the breaker's own hardcoded defaults: a
	// base cooldown six times the single backoff sleep, capped at the
	// fan-out deadline a cooled-down stage would otherwise stall past.
	breaker, err := limiter.New(limiter.Options{
		RedisURL:    cfg.Breaker.RedisURL,
		BaseBackoff: cfg.Job.BackoffSleep * 6,
		MaxBackoff:  cfg.Job.FanOutDeadline,
	})
	if err != nil {
		log.Warn().Err(err).Msg("model client circuit breaker disabled: redis unavailable")
		return inner
	}
	return ai.NewBreakerClient(inner, breaker, cfg.Model.Provider)
}

// buildArchiver returns the Cleanup Worker's optional S3 archiver, or nil
// when ARCHIVE_S3_BUCKET is unset (SPEC_FULL.md §11 — archiving is
// best-effort and never gates retention).
func buildArchiver(ctx context.Context, cfg cfgpkg.Config) cleanupworker.Archiver {
	if cfg.Archive.S3Bucket == "" {
		return nil
	}
	client, err := archive.New(ctx, cfg.Archive.S3Bucket)
	if err != nil {
		log.Warn().Err(err).Msg("cleanup worker archive disabled: failed to init S3 client")
		return nil
	}
	return client
}
