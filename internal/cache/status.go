// Package cache holds best-effort caches in front of the job store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "resumeflow:job-status:"

// StatusCache caches job status responses in Redis. Every failure degrades
// to a miss; the database stays the source of truth.
type StatusCache struct {
	rc  *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewStatusCache(rc *redis.Client, ttl time.Duration, log *zap.Logger) *StatusCache {
	return &StatusCache{rc: rc, ttl: ttl, log: log}
}

// NewRedisClient opens a client for cfg, or returns nil when no address is
// configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

func key(jobID string) string {
	return keyPrefix + jobID
}

func (c *StatusCache) Get(ctx context.Context, jobID string) (*dto.JobStatusDTO, bool) {
	if c.rc == nil {
		return nil, false
	}

	raw, err := c.rc.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("status cache get failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return nil, false
	}

	var status dto.JobStatusDTO
	if err := json.Unmarshal(raw, &status); err != nil {
		c.log.Warn("discarding corrupt status cache entry", zap.String("job_id", jobID), zap.Error(err))
		return nil, false
	}
	return &status, true
}

func (c *StatusCache) Set(ctx context.Context, status *dto.JobStatusDTO) {
	if c.rc == nil || status == nil {
		return
	}

	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, key(status.JobID), raw, c.ttl).Err(); err != nil {
		c.log.Debug("status cache set failed", zap.String("job_id", status.JobID), zap.Error(err))
	}
}

// Purge drops the cached status of jobID. It never blocks the caller: the
// delete runs on its own goroutine with a short deadline.
func (c *StatusCache) Purge(ctx context.Context, jobID string) {
	if c.rc == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := c.rc.Del(ctx, key(jobID)).Err(); err != nil {
			c.log.Debug("status cache purge failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

// Noop satisfies the status cache contract without caching anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*dto.JobStatusDTO, bool) { return nil, false }
func (Noop) Set(context.Context, *dto.JobStatusDTO)                {}
func (Noop) Purge(context.Context, string)                         {}
