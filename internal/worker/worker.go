package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/cache"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/parser"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/retry"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type TextExtractor interface {
	Extract(data []byte) (string, error)
}

type ResumeParser interface {
	Parse(ctx context.Context, text string) (json.RawMessage, error)
}

type Deps struct {
	Repo      job.JobRepoInterface
	Blobs     storage.BlobStore
	Extractor TextExtractor
	Parser    ResumeParser
	Publisher job.Publisher
	Cache     job.StatusCache
	Log       *zap.Logger
}

// Worker runs one processing attempt per queue message.
type Worker struct {
	ID             int
	repo           job.JobRepoInterface
	blobs          storage.BlobStore
	extractor      TextExtractor
	parser         ResumeParser
	publisher      job.Publisher
	cache          job.StatusCache
	policy         retry.Policy
	attemptTimeout time.Duration
	log            *zap.Logger
	now            func() time.Time
	quit           chan struct{}
}

func NewWorker(id int, d Deps, cfg *config.Config) *Worker {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Worker{
		ID:             id,
		repo:           d.Repo,
		blobs:          d.Blobs,
		extractor:      d.Extractor,
		parser:         d.Parser,
		publisher:      d.Publisher,
		cache:          d.Cache,
		policy:         retry.NewPolicy(cfg),
		attemptTimeout: cfg.AttemptTimeout,
		log:            d.Log.With(zap.Int("worker_id", id)),
		now:            time.Now,
		quit:           make(chan struct{}),
	}
}

// Run consumes from c until ctx is done or Stop is called, and returns once
// the delivery in hand is resolved. A consumer that drops out (broker
// restart, closed channel) is restarted with backoff.
func (w *Worker) Run(ctx context.Context, c queue.Consumer) {
	currentDelay := 1 * time.Second
	maxDelay := 60 * time.Second

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		started := time.Now()
		err := c.Consume(ctx, w.Handle)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > maxDelay {
			currentDelay = 1 * time.Second
		}
		w.log.Warn("consumer stopped, restarting",
			zap.Duration("retry_in", currentDelay),
			zap.Error(err),
		)

		select {
		case <-time.After(currentDelay):
			currentDelay = min(currentDelay*2, maxDelay)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) Stop() { close(w.quit) }

// Handle processes one message. It returns an error only when the outcome
// could not be recorded, so the message is redelivered.
func (w *Worker) Handle(ctx context.Context, msg dto.JobMessage) error {
	log := w.log.With(zap.String("job_id", msg.JobID), zap.Int("attempt", msg.AttemptNumber))

	j, err := w.repo.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			log.Info("dropping message for unknown job")
			return nil
		}
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}

	if reason := skipReason(j, msg.AttemptNumber); reason != "" {
		log.Info("skipping message", zap.String("reason", reason), zap.String("status", string(j.Status)))
		return nil
	}

	log.Info("processing attempt", zap.String("owner_id", j.OwnerID))
	start := time.Now()

	data, failure := w.run(ctx, j)

	// shutdown, not the job: keep the attempt and let the broker redeliver
	if failure != nil && errors.Is(ctx.Err(), context.Canceled) {
		log.Info("attempt interrupted, leaving it for redelivery", zap.Duration("elapsed", time.Since(start)))
		return fmt.Errorf("attempt %d of job %s interrupted: %w", msg.AttemptNumber, j.ID, ctx.Err())
	}

	// the attempt context may be spent; outcomes are written on a fresh one
	wctx := context.WithoutCancel(ctx)
	if failure != nil {
		log.Warn("attempt failed",
			zap.String("error_type", string(failure.Type)),
			zap.Bool("permanent", failure.Permanent()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(failure),
		)
		return w.fail(wctx, log, j, msg.AttemptNumber, failure)
	}

	if err := w.repo.Complete(wctx, j.ID, msg.AttemptNumber, data, w.now()); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			log.Info("attempt superseded, discarding result")
			return nil
		}
		return fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	w.cache.Purge(wctx, j.ID)

	log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// skipReason reports why a delivery must not run, or "" if it should.
func skipReason(j *models.ResumeJob, attempt int) string {
	switch {
	case j.Status == config.JobStatusCompleted:
		return "already completed"
	case j.TotalAttempts > attempt:
		return "newer attempt queued"
	case j.Status == config.JobStatusFailed && j.TotalAttempts >= attempt:
		return "attempt already failed"
	}
	return ""
}

// run executes fetch, extract, parse and validate under the attempt
// deadline.
func (w *Worker) run(ctx context.Context, j *models.ResumeJob) (datatypes.JSON, *common.Failure) {
	ctx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
	defer cancel()

	data, failure := w.process(ctx, j)
	if failure != nil && !failure.Permanent() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, common.Fail(config.ErrorTypeTimeout, "processing took too long", failure)
	}
	return data, failure
}

func (w *Worker) process(ctx context.Context, j *models.ResumeJob) (datatypes.JSON, *common.Failure) {
	content, err := w.blobs.Get(ctx, j.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, common.Fail(config.ErrorTypeFileMissing, "the uploaded file no longer exists", err)
		}
		return nil, common.Fail(config.ErrorTypeStorageUnavailable, "file storage is unavailable", err)
	}

	text, err := w.extractor.Extract(content)
	if err != nil {
		return nil, common.AsFailure(err)
	}

	raw, err := w.parser.Parse(ctx, text)
	if err != nil {
		return nil, common.AsFailure(err)
	}

	resume, err := parser.Validate(raw)
	if err != nil {
		return nil, common.AsFailure(err)
	}

	b, err := json.Marshal(resume)
	if err != nil {
		return nil, common.Fail(config.ErrorTypeInternal, "could not encode result", err)
	}
	return datatypes.JSON(b), nil
}

// fail records the failure and, for transient ones with automatic budget
// left, queues the next attempt.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, j *models.ResumeJob, attempt int, failure *common.Failure) error {
	if err := w.repo.MarkFailed(ctx, j.ID, attempt, failure); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			log.Info("attempt superseded, discarding failure")
			return nil
		}
		return fmt.Errorf("mark job %s failed: %w", j.ID, err)
	}
	defer w.cache.Purge(ctx, j.ID)

	if failure.Permanent() {
		return nil
	}

	current, err := w.repo.Get(ctx, j.ID)
	if err != nil {
		log.Error("failed to reload job for automatic retry", zap.Error(err))
		return nil
	}

	if rej := w.policy.Evaluate(current, retry.Automatic); rej != nil {
		log.Info("no automatic retry", zap.String("reason", string(rej.Reason)))
		return nil
	}

	tr := w.policy.Next(current, retry.Automatic)
	if err := job.Requeue(ctx, w.repo, w.publisher, log, current, tr, "", w.now()); err != nil {
		// the job stays failed and the user may retry by hand
		log.Warn("automatic retry not queued", zap.Error(err))
		return nil
	}

	log.Info("automatic retry queued", zap.Int("next_attempt", tr.AttemptNumber()))
	return nil
}
