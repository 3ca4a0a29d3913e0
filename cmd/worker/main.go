package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshu-sajeev/resumeflow/internal/cache"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/extract"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/parser"
	"github.com/joshu-sajeev/resumeflow/internal/pool"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/reconciler"
	"github.com/joshu-sajeev/resumeflow/internal/storage/objectstore"
	"github.com/joshu-sajeev/resumeflow/internal/storage/postgres"
	"github.com/joshu-sajeev/resumeflow/internal/worker"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		return err
	}

	db, err := postgres.ConnectDB(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	blobs, err := objectstore.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return err
	}

	mq, err := queue.Dial(cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer mq.Close()

	var statusCache job.StatusCache = cache.Noop{}
	if rc := cache.NewRedisClient(cfg.Redis); rc != nil {
		defer rc.Close()
		statusCache = cache.NewStatusCache(rc, cfg.Redis.TTL, logger)
	}

	repo := postgres.NewJobRepository(db)
	deps := worker.Deps{
		Repo:      repo,
		Blobs:     blobs,
		Extractor: extract.NewExtractor(cfg.MaxTextChars),
		Parser:    parser.NewClient(cfg.Parser, logger),
		Publisher: mq,
		Cache:     statusCache,
		Log:       logger,
	}
	rec := reconciler.New(repo, mq, statusCache, cfg, logger)

	p := pool.NewWorkerPool(cfg, deps, mq, rec, logger)
	p.Start()

	<-ctx.Done()
	logger.Info("shutting down")
	p.Stop()
	return nil
}
