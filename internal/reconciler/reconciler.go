// Package reconciler recovers jobs whose queue message never went out,
// typically because a process died between a database write and the
// publish: claims left in pending_claim and retries left in queued.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/cache"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/retry"
	"go.uber.org/zap"
)

// Report summarizes one pass.
type Report struct {
	Candidates    int
	Published     int
	Skipped       int
	PublishFailed int
	// Recovered counts rows moved to queued. It can be below Published when
	// a claim finished its own queued write concurrently.
	Recovered int64

	// Stale counts queued jobs whose message is presumed lost.
	Stale       int
	Republished int
}

type Reconciler struct {
	repo        job.JobRepoInterface
	publisher   job.Publisher
	cache       job.StatusCache
	policy      retry.Policy
	gracePeriod time.Duration
	staleAfter  time.Duration
	batchSize   int
	log         *zap.Logger
	now         func() time.Time
}

func New(repo job.JobRepoInterface, pub job.Publisher, statusCache job.StatusCache, cfg *config.Config, log *zap.Logger) *Reconciler {
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		repo:        repo,
		publisher:   pub,
		cache:       statusCache,
		policy:      retry.NewPolicy(cfg),
		gracePeriod: cfg.OrphanGracePeriod,
		staleAfter:  cfg.StaleQueuedAfter,
		batchSize:   cfg.OrphanBatchSize,
		log:         log.With(zap.String("component", "reconciler")),
		now:         time.Now,
	}
}

// Run makes one recovery pass: orphans first, then stale queued jobs.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	now := r.now()

	if err := r.recoverOrphans(ctx, now, &rep); err != nil {
		return rep, err
	}
	if err := r.republishStale(ctx, now, &rep); err != nil {
		return rep, err
	}

	if rep != (Report{}) {
		r.log.Info("reconcile pass finished",
			zap.Int("candidates", rep.Candidates),
			zap.Int("published", rep.Published),
			zap.Int("skipped", rep.Skipped),
			zap.Int("publish_failed", rep.PublishFailed),
			zap.Int64("recovered", rep.Recovered),
			zap.Int("stale", rep.Stale),
			zap.Int("republished", rep.Republished),
		)
	}
	return rep, nil
}

// recoverOrphans publishes one message per orphan older than the grace
// period, then moves every published orphan to queued in a single
// statement. A failed publish leaves its job in pending_claim for the next
// pass.
func (r *Reconciler) recoverOrphans(ctx context.Context, now time.Time, rep *Report) error {
	orphans, err := r.repo.ListOrphans(ctx, now.Add(-r.gracePeriod), r.batchSize)
	if err != nil {
		return fmt.Errorf("list orphans: %w", err)
	}
	rep.Candidates = len(orphans)

	published := make([]string, 0, len(orphans))
	for i := range orphans {
		o := &orphans[i]

		if rej := r.policy.Evaluate(o, retry.Orphan); rej != nil {
			r.log.Info("skipping orphan",
				zap.String("job_id", o.ID),
				zap.String("reason", string(rej.Reason)),
			)
			rep.Skipped++
			continue
		}

		tr := r.policy.Next(o, retry.Orphan)
		if err := r.publisher.Publish(ctx, message(o, tr.AttemptNumber())); err != nil {
			r.log.Warn("orphan publish failed", zap.String("job_id", o.ID), zap.Error(err))
			rep.PublishFailed++
			continue
		}
		published = append(published, o.ID)
	}
	rep.Published = len(published)
	if len(published) == 0 {
		return nil
	}

	n, err := r.repo.MarkOrphansQueued(context.WithoutCancel(ctx), published, now)
	if err != nil {
		// the messages are out; workers resolve the jobs regardless
		return fmt.Errorf("mark orphans queued: %w", err)
	}
	rep.Recovered = n
	r.purge(ctx, published)
	return nil
}

// republishStale sends the current attempt again for every job that has
// been queued longer than the stale window. That covers a retry whose
// process died between the queued write and the publish. A duplicate of a
// delivered message is harmless: only one outcome write per attempt lands.
func (r *Reconciler) republishStale(ctx context.Context, now time.Time, rep *Report) error {
	stale, err := r.repo.ListStaleQueued(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return fmt.Errorf("list stale queued: %w", err)
	}
	rep.Stale = len(stale)

	published := make([]string, 0, len(stale))
	for i := range stale {
		j := &stale[i]
		if err := r.publisher.Publish(ctx, message(j, j.TotalAttempts)); err != nil {
			r.log.Warn("stale job publish failed", zap.String("job_id", j.ID), zap.Error(err))
			rep.PublishFailed++
			continue
		}
		published = append(published, j.ID)
	}
	rep.Republished = len(published)
	if len(published) == 0 {
		return nil
	}

	if _, err := r.repo.RefreshQueued(context.WithoutCancel(ctx), published, now); err != nil {
		return fmt.Errorf("refresh queued: %w", err)
	}
	return nil
}

func (r *Reconciler) purge(ctx context.Context, ids []string) {
	for _, id := range ids {
		r.cache.Purge(ctx, id)
	}
}

func message(j *models.ResumeJob, attempt int) dto.JobMessage {
	return dto.JobMessage{
		JobID:         j.ID,
		OwnerID:       j.OwnerID,
		StorageKey:    j.StorageKey,
		ContentHash:   j.ContentHash,
		AttemptNumber: attempt,
	}
}
