package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/resumeflow/internal/cache"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/storage/objectstore"
	"github.com/joshu-sajeev/resumeflow/internal/storage/postgres"
	"github.com/joshu-sajeev/resumeflow/middleware"
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
		logger.Fatal("api stopped", zap.Error(err))
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

	if err := postgres.Migrate(sqlDB); err != nil {
		return err
	}
	logger.Info("migrations applied")

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
	service := job.NewJobService(repo, blobs, mq, statusCache, cfg, logger)
	handler := job.NewJobHandler(service, cfg.MaxUploadBytes)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(logger),
		middleware.TimeoutMiddleware(cfg.RequestTimeout),
		middleware.ErrorHandler(),
	)
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.GET("/healthz", func(c *gin.Context) {
		if err := sqlDB.PingContext(c.Request.Context()); err != nil || !mq.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	job.RegisterRoutes(r, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
