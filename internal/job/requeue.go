package job

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/retry"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"go.uber.org/zap"
)

// Requeue moves a failed job back to queued with the counters in tr and
// publishes exactly one message for the new attempt. The conditional write
// happens first so two concurrent retries cannot both publish; if the
// publish then fails the write is reverted.
//
// contentHash is only non-empty when it was recomputed for a legacy row.
func Requeue(
	ctx context.Context,
	repo JobRepoInterface,
	pub Publisher,
	log *zap.Logger,
	job *models.ResumeJob,
	tr retry.Transition,
	contentHash string,
	now time.Time,
) error {
	upd := storage.RequeueUpdate{
		FromStatus:     job.Status,
		FromRetryCount: job.RetryCount,
		FromAttempts:   job.TotalAttempts,
		RetryCount:     tr.RetryCount,
		TotalAttempts:  tr.TotalAttempts,
		ContentHash:    contentHash,
		QueuedAt:       now,
	}

	if err := repo.Requeue(ctx, job.ID, upd); err != nil {
		return err
	}

	hash := job.ContentHash
	if contentHash != "" {
		hash = contentHash
	}

	msg := dto.JobMessage{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		StorageKey:    job.StorageKey,
		ContentHash:   hash,
		AttemptNumber: tr.AttemptNumber(),
	}
	if err := pub.Publish(ctx, msg); err != nil {
		failure := common.Fail(config.ErrorTypeQueueUnavailable, "could not queue the job, please retry", err)
		if revertErr := repo.RevertRequeue(context.WithoutCancel(ctx), job.ID, upd, failure); revertErr != nil {
			log.Error("failed to revert requeue after publish failure",
				zap.String("job_id", job.ID),
				zap.Int("attempt", tr.AttemptNumber()),
				zap.Error(revertErr),
			)
		}
		return fmt.Errorf("publish attempt %d: %w", tr.AttemptNumber(), err)
	}

	return nil
}
