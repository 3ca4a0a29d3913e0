package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ job.JobRepoInterface = (*JobRepository)(nil)

// Create inserts a new job record. It uses the provided context for
// cancellation and timeout propagation.
func (r *JobRepository) Create(ctx context.Context, job *models.ResumeJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.ResumeJob, error) {
	var job models.ResumeJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get job %s: %w", id, storage.ErrJobNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// FindLatestCompleted returns the most recently completed job with the
// given content hash. An empty ownerID searches across all owners.
func (r *JobRepository) FindLatestCompleted(ctx context.Context, ownerID, contentHash string) (*models.ResumeJob, error) {
	q := r.db.WithContext(ctx).
		Where("content_hash = ? AND status = ?", contentHash, config.JobStatusCompleted)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}

	var job models.ResumeJob
	err := q.Order("completed_at DESC").Order("created_at DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrJobNotFound
		}
		return nil, fmt.Errorf("find completed job: %w", err)
	}
	return &job, nil
}

// GetResult returns the owner's current parse result.
func (r *JobRepository) GetResult(ctx context.Context, ownerID string) (*models.ResumeResult, error) {
	var res models.ResumeResult
	if err := r.db.WithContext(ctx).First(&res, "owner_id = ?", ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrResultNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &res, nil
}

// CreateCompleted inserts an already completed job and points the owner's
// result at it, in one transaction. Used for dedup hits.
func (r *JobRepository) CreateCompleted(ctx context.Context, job *models.ResumeJob, data datatypes.JSON) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return upsertResult(tx, job.OwnerID, job.ID, data)
	})
	if err != nil {
		return fmt.Errorf("create completed job: %w", err)
	}
	return nil
}

// MarkQueued moves a freshly claimed job from pending_claim to queued.
func (r *JobRepository) MarkQueued(ctx context.Context, id string, attempt int, queuedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id = ? AND status = ?", id, config.JobStatusPendingClaim).
		Updates(map[string]any{
			"status":         config.JobStatusQueued,
			"queued_at":      queuedAt,
			"total_attempts": attempt,
		})
	return conditional("mark queued", res)
}

// Complete records a successful attempt and upserts the owner's result in
// one transaction. The write only applies while the job is still active
// and no newer attempt has been queued. totalAttempts catches up with
// attempt when the queued write of a claim has not landed yet.
func (r *JobRepository) Complete(ctx context.Context, id string, attempt int, data datatypes.JSON, at time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ResumeJob
		if err := tx.Select("id", "owner_id").First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrJobNotFound
			}
			return err
		}

		res := tx.Model(&models.ResumeJob{}).
			Where("id = ? AND status IN ? AND total_attempts <= ?", id, config.ActiveStatuses, attempt).
			Updates(map[string]any{
				"status":         config.JobStatusCompleted,
				"error_message":  "",
				"completed_at":   at,
				"total_attempts": attempt,
			})
		if err := conditional("complete", res); err != nil {
			return err
		}

		return upsertResult(tx, job.OwnerID, id, data)
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Like Complete, it never overwrites a
// terminal state or a newer attempt.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, attempt int, failure *common.Failure) error {
	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id = ? AND status IN ? AND total_attempts <= ?", id, config.ActiveStatuses, attempt).
		Updates(map[string]any{
			"status":             config.JobStatusFailed,
			"error_message":      failure.Message,
			"last_error_type":    failure.Type,
			"last_error_message": failure.Error(),
			"total_attempts":     attempt,
		})
	return conditional("mark failed", res)
}

// Requeue applies a retry decision. It succeeds only if status and
// counters are still what the caller read.
func (r *JobRepository) Requeue(ctx context.Context, id string, upd storage.RequeueUpdate) error {
	values := map[string]any{
		"status":         config.JobStatusQueued,
		"error_message":  "",
		"retry_count":    upd.RetryCount,
		"total_attempts": upd.TotalAttempts,
		"queued_at":      upd.QueuedAt,
	}
	if upd.ContentHash != "" {
		values["content_hash"] = upd.ContentHash
	}

	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id = ? AND status = ? AND retry_count = ? AND total_attempts = ?",
			id, upd.FromStatus, upd.FromRetryCount, upd.FromAttempts).
		Updates(values)
	return conditional("requeue", res)
}

// RevertRequeue undoes a Requeue whose publish failed. Nothing can have
// consumed the attempt, so the counters go back to their previous values.
func (r *JobRepository) RevertRequeue(ctx context.Context, id string, upd storage.RequeueUpdate, failure *common.Failure) error {
	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id = ? AND status = ? AND total_attempts = ?", id, config.JobStatusQueued, upd.TotalAttempts).
		Updates(map[string]any{
			"status":             upd.FromStatus,
			"retry_count":        upd.FromRetryCount,
			"total_attempts":     upd.FromAttempts,
			"error_message":      failure.Message,
			"last_error_type":    failure.Type,
			"last_error_message": failure.Error(),
		})
	return conditional("revert requeue", res)
}

// ListOrphans returns jobs stuck in pending_claim that have everything a
// worker needs, oldest first.
func (r *JobRepository) ListOrphans(ctx context.Context, createdBefore time.Time, limit int) ([]models.ResumeJob, error) {
	var jobs []models.ResumeJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusPendingClaim).
		Where("storage_key <> '' AND content_hash IS NOT NULL AND content_hash <> ''").
		Where("created_at < ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	return jobs, nil
}

// MarkOrphansQueued moves every listed job that is still pending_claim to
// queued in a single statement and returns how many rows changed.
func (r *JobRepository) MarkOrphansQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id IN ? AND status = ?", ids, config.JobStatusPendingClaim).
		Updates(map[string]any{
			"status":         config.JobStatusQueued,
			"queued_at":      queuedAt,
			"total_attempts": gorm.Expr("total_attempts + ?", 1),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark orphans queued: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListStaleQueued returns jobs that have sat in queued since before
// queuedBefore, oldest first. Their message was lost or never sent.
func (r *JobRepository) ListStaleQueued(ctx context.Context, queuedBefore time.Time, limit int) ([]models.ResumeJob, error) {
	var jobs []models.ResumeJob
	if err := r.db.WithContext(ctx).
		Where("status = ? AND queued_at < ?", config.JobStatusQueued, queuedBefore).
		Order("queued_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list stale queued: %w", err)
	}
	return jobs, nil
}

// RefreshQueued restamps queued_at on every listed job that is still queued
// and returns how many rows changed. Counters are left alone: the
// republished message carries the same attempt.
func (r *JobRepository) RefreshQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.ResumeJob{}).
		Where("id IN ? AND status = ?", ids, config.JobStatusQueued).
		Update("queued_at", queuedAt)
	if res.Error != nil {
		return 0, fmt.Errorf("refresh queued: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteOwner removes every job and the result of an owner in one
// transaction and returns the deleted jobs, so the caller can clean up the
// stored bytes and cached statuses.
func (r *JobRepository) DeleteOwner(ctx context.Context, ownerID string) ([]models.ResumeJob, error) {
	var jobs []models.ResumeJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "storage_key").
			Where("owner_id = ?", ownerID).
			Find(&jobs).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", ownerID).Delete(&models.ResumeResult{}).Error; err != nil {
			return err
		}
		return tx.Where("owner_id = ?", ownerID).Delete(&models.ResumeJob{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete owner: %w", err)
	}
	return jobs, nil
}

func upsertResult(tx *gorm.DB, ownerID, jobID string, data datatypes.JSON) error {
	res := models.ResumeResult{OwnerID: ownerID, JobID: jobID, Data: data}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"job_id", "data", "updated_at"}),
	}).Create(&res).Error
}

// conditional turns a zero-row conditional update into ErrStatusConflict.
func conditional(op string, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrStatusConflict)
	}
	return nil
}
