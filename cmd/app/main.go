// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batched-inference/internal/config"
	"batched-inference/internal/domain/ports/repository"
	"batched-inference/internal/infra/adapters/inference"
	metricshttp "batched-inference/internal/infra/http"
	"batched-inference/internal/infra/logging"
	"batched-inference/internal/infra/metrics"
	"batched-inference/internal/infra/queue"
	red "batched-inference/internal/infra/redis"
	"batched-inference/internal/infra/sched"
	"batched-inference/internal/infra/store"
	"batched-inference/internal/infra/tokenizer"
	"batched-inference/internal/infra/web"
	"batched-inference/internal/infra/worker"
	"batched-inference/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file (optional)")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	mintTTL := flag.Duration("mint-token", 0, "print a bearer token valid for the given duration and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *mintTTL > 0 {
		auth := web.NewAuthManager(cfg.Auth.JWTSecret)
		if !auth.Enabled() {
			log.Fatalf("mint-token: auth.jwt_secret / JWT_SECRET is not set")
		}
		tok, err := auth.Mint("cli", *mintTTL)
		if err != nil {
			log.Fatalf("mint-token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exited with error")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Backend.Model)

	// ---- Queue & result store ----
	pending, results, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	// ---- Inference backend ----
	tok := tokenizer.NewTiktoken(cfg.Backend.Model, logger)
	backend, err := inference.New(ctx, cfg.Backend, tok)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	logger.Info().
		Str("provider", cfg.Backend.Provider).
		Str("model", backend.Model()).
		Msg("inference backend ready")

	// ---- Workers & use cases ----
	scheduler := worker.NewBatchScheduler(pending, results, backend, tok, cfg.Batch, logger)
	genUC := usecase.NewGenerationUseCase(pending, results, cfg.Wait, logger)
	statsUC := usecase.NewStatsUseCase(pending, results, scheduler, backend.Model(), cfg.Batch, logger)

	apiSrv := web.NewServer(cfg.Server, genUC, statsUC, web.NewAuthManager(cfg.Auth.JWTSecret), logger)
	metricsSrv := metricshttp.NewServer(cfg.Metrics, logger)

	// The scheduler outlives the API listener so requests already waiting
	// during the drain still get their batch results.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(scheduler.Run(workCtx)) })
	if cfg.Results.KeepOrphans {
		logger.Info().Msg("orphan sweeping disabled; unconsumed results are kept")
	} else {
		sweeper := sched.NewResultSweeper(cfg.Results.SweepInterval, results, logger)
		g.Go(func() error { return ignoreCanceled(sweeper.Run(workCtx)) })
	}
	g.Go(apiSrv.Start)
	g.Go(metricsSrv.Start)

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		defer stopWork()
		logger.Info().Msg("shutdown requested")
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout+5*time.Second)
		defer cancel()
		err := errors.Join(apiSrv.Shutdown(shCtx), metricsSrv.Shutdown(shCtx))
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn().Err(err).Msg("shutdown did not finish in time")
			return nil
		}
		return err
	})

	return g.Wait()
}

// buildStores picks the in-process or Redis implementations of the queue
// and the result store.
func buildStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.PendingQueue, repository.ResultStore, func(), error) {
	ttl := cfg.Results.TTL
	if cfg.Results.KeepOrphans {
		ttl = 0
	}

	var redisClient *red.Client
	if cfg.Queue.Backend == "redis" || cfg.Results.Backend == "redis" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis: %w", err)
		}
		redisClient = c
	}

	var pending repository.PendingQueue
	closeFn := func() {}
	if cfg.Queue.Backend == "redis" {
		pending = red.NewQueue(redisClient)
	} else {
		mq := queue.NewMemory()
		pending = mq
		closeFn = mq.Close
	}

	var results repository.ResultStore
	if cfg.Results.Backend == "redis" {
		results = red.NewResultStore(redisClient, ttl)
	} else {
		results = store.NewMemory(cfg.Results.Shards, ttl)
	}

	logger.Info().
		Str("queue", cfg.Queue.Backend).
		Str("results", cfg.Results.Backend).
		Dur("result_ttl", ttl).
		Msg("stores ready")

	return pending, results, func() {
		closeFn()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("redis close")
			}
		}
	}, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
