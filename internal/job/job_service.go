package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/cache"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/digest"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/retry"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"go.uber.org/zap"
)

type JobService struct {
	repo           JobRepoInterface
	blobs          storage.BlobStore
	publisher      Publisher
	cache          StatusCache
	policy         retry.Policy
	dedupScope     string
	maxUploadBytes int64
	log            *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewJobService(
	repo JobRepoInterface,
	blobs storage.BlobStore,
	publisher Publisher,
	statusCache StatusCache,
	cfg *config.Config,
	log *zap.Logger,
) *JobService {
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JobService{
		repo:           repo,
		blobs:          blobs,
		publisher:      publisher,
		cache:          statusCache,
		policy:         retry.NewPolicy(cfg),
		dedupScope:     cfg.DedupScope,
		maxUploadBytes: cfg.MaxUploadBytes,
		log:            log,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

var _ JobServiceInterface = (*JobService)(nil)

// Upload stores the file bytes and claims them in one call.
func (s *JobService) Upload(ctx context.Context, ownerID, filename string, content []byte) (*dto.ClaimResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if strings.TrimSpace(ownerID) == "" {
		return nil, common.Errf(http.StatusBadRequest, "owner id is required")
	}

	if len(content) == 0 {
		return nil, common.Errf(http.StatusBadRequest, "file is empty")
	}

	if int64(len(content)) > s.maxUploadBytes {
		return nil, common.NewAPIError(
			http.StatusRequestEntityTooLarge,
			"file too large",
			map[string]any{"max_bytes": s.maxUploadBytes},
		)
	}

	key := fmt.Sprintf("resumes/%s/%s.pdf", url.PathEscape(ownerID), s.newID())
	if err := s.blobs.Put(ctx, key, content); err != nil {
		s.log.Error("failed to store upload",
			zap.String("owner_id", ownerID),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return nil, serviceError(err, "failed to store file")
	}

	return s.Claim(ctx, dto.ClaimRequest{OwnerID: ownerID, StorageKey: key, Content: content})
}

// Claim registers stored bytes as a job. A dedup hit completes the job on
// the spot with a copy of the earlier result and publishes nothing; a miss
// inserts a pending_claim row, publishes attempt 1 and marks it queued.
func (s *JobService) Claim(ctx context.Context, req dto.ClaimRequest) (*dto.ClaimResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.StorageKey) == "" {
		return nil, common.Errf(http.StatusBadRequest, "owner id and storage key are required")
	}

	hash, err := s.resolveHash(ctx, req)
	if err != nil {
		return nil, err
	}

	dedup, err := s.lookupDedup(ctx, req.OwnerID, hash)
	if err != nil {
		s.log.Error("dedup lookup failed", zap.String("owner_id", req.OwnerID), zap.Error(err))
		return nil, serviceError(err, "failed to claim job")
	}

	if dedup.Outcome == DedupHit {
		return s.claimFromCache(ctx, req, hash, dedup)
	}
	if dedup.Outcome == DedupStale {
		s.log.Info("dedup entry superseded, processing again",
			zap.String("owner_id", req.OwnerID),
			zap.String("source_job_id", dedup.Source.ID),
		)
	}

	job := &models.ResumeJob{
		ID:          s.newID(),
		OwnerID:     req.OwnerID,
		StorageKey:  req.StorageKey,
		ContentHash: hash,
		Status:      config.JobStatusPendingClaim,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		s.log.Error("failed to create job", zap.String("owner_id", req.OwnerID), zap.Error(err))
		return nil, serviceError(err, "failed to claim job")
	}

	const attempt = 1
	msg := dto.JobMessage{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		StorageKey:    job.StorageKey,
		ContentHash:   hash,
		AttemptNumber: attempt,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		failure := common.Fail(config.ErrorTypeQueueUnavailable, "could not queue the job, please retry", err)
		if markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID, attempt, failure); markErr != nil {
			// still pending_claim; the reconciler will pick it up
			s.log.Error("failed to record publish failure", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		s.log.Warn("claim publish failed", zap.String("job_id", job.ID), zap.Error(err))
		return nil, common.NewAPIError(
			http.StatusServiceUnavailable,
			"queue unavailable, please retry",
			map[string]any{"job_id": job.ID},
		)
	}

	// the message is out; a client going away must not strand the row
	wctx := context.WithoutCancel(ctx)
	status := config.JobStatusQueued
	if err := s.repo.MarkQueued(wctx, job.ID, attempt, s.now()); err != nil {
		status = s.statusAfterLostWrite(wctx, job.ID, err)
	}
	s.cache.Purge(ctx, job.ID)

	s.log.Info("job claimed",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("status", string(status)),
	)

	return &dto.ClaimResponseDTO{JobID: job.ID, Status: status}, nil
}

// statusAfterLostWrite reports the job status when the queued write did not
// apply. A conflict means a worker already moved the job on; anything else
// leaves it in pending_claim for the reconciler.
func (s *JobService) statusAfterLostWrite(ctx context.Context, id string, err error) config.JobStatus {
	if errors.Is(err, storage.ErrStatusConflict) {
		if current, getErr := s.repo.Get(ctx, id); getErr == nil {
			return current.Status
		}
	}
	s.log.Warn("queued status write failed after publish; leaving job to reconciler",
		zap.String("job_id", id),
		zap.Error(err),
	)
	return config.JobStatusPendingClaim
}

func (s *JobService) claimFromCache(ctx context.Context, req dto.ClaimRequest, hash string, dedup DedupResult) (*dto.ClaimResponseDTO, error) {
	now := s.now()
	job := &models.ResumeJob{
		ID:          s.newID(),
		OwnerID:     req.OwnerID,
		StorageKey:  req.StorageKey,
		ContentHash: hash,
		Status:      config.JobStatusCompleted,
		CompletedAt: &now,
	}

	if err := s.repo.CreateCompleted(ctx, job, dedup.Data); err != nil {
		s.log.Error("failed to record dedup hit", zap.String("owner_id", req.OwnerID), zap.Error(err))
		return nil, serviceError(err, "failed to claim job")
	}

	s.log.Info("dedup hit",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("source_job_id", dedup.Source.ID),
	)

	return &dto.ClaimResponseDTO{JobID: job.ID, Status: config.JobStatusCompleted, Deduplicated: true}, nil
}

// resolveHash prefers a caller supplied digest, then the supplied bytes,
// then the stored object.
func (s *JobService) resolveHash(ctx context.Context, req dto.ClaimRequest) (string, error) {
	if req.ContentHash != "" {
		hash := strings.ToLower(req.ContentHash)
		if !digest.Valid(hash) {
			return "", common.Errf(http.StatusBadRequest, "content hash must be %d hex characters", digest.Size)
		}
		return hash, nil
	}

	if req.Content != nil {
		return digest.Sum(req.Content), nil
	}

	content, err := s.blobs.Get(ctx, req.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", common.NewAPIError(
				http.StatusUnprocessableEntity,
				"no stored file under storage key",
				map[string]any{"storage_key": req.StorageKey},
			)
		}
		return "", serviceError(err, "failed to read stored file")
	}
	return digest.Sum(content), nil
}

// GetStatus returns the job status, served from the status cache when
// possible.
func (s *JobService) GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if cached, ok := s.cache.Get(ctx, id); ok {
		return cached, nil
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get job")
	}

	status := s.statusDTO(job)
	if s.settled(job) {
		s.cache.Set(ctx, status)
	}
	return status, nil
}

// settled reports whether no component can move the job any more. Only
// those statuses are cached: a live job may change between the read above
// and the Set, and the purge of that change could land before the Set.
func (s *JobService) settled(job *models.ResumeJob) bool {
	switch job.Status {
	case config.JobStatusCompleted:
		return true
	case config.JobStatusFailed:
		return s.policy.Evaluate(job, retry.Manual) != nil && s.policy.Evaluate(job, retry.Automatic) != nil
	}
	return false
}

func (s *JobService) statusDTO(job *models.ResumeJob) *dto.JobStatusDTO {
	return &dto.JobStatusDTO{
		JobID:         job.ID,
		Status:        job.Status,
		ErrorMessage:  job.ErrorMessage,
		ErrorType:     job.LastErrorType,
		UserMessage:   s.policy.UserMessage(job),
		CanRetry:      s.policy.CanRetry(job),
		RetryCount:    job.RetryCount,
		TotalAttempts: job.TotalAttempts,
		UpdatedAt:     job.UpdatedAt,
	}
}

// Retry is the user triggered failed -> queued transition.
func (s *JobService) Retry(ctx context.Context, id string) (*dto.RetryResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, serviceError(err, "failed to get job")
	}

	if rej := s.policy.Evaluate(job, retry.Manual); rej != nil {
		s.log.Info("retry rejected",
			zap.String("job_id", job.ID),
			zap.String("owner_id", job.OwnerID),
			zap.String("reason", string(rej.Reason)),
		)
		return nil, RejectionError(rej)
	}

	var backfill string
	if job.ContentHash == "" {
		backfill, err = s.resolveHash(ctx, dto.ClaimRequest{StorageKey: job.StorageKey})
		if err != nil {
			return nil, err
		}
	}

	tr := s.policy.Next(job, retry.Manual)
	if err := Requeue(ctx, s.repo, s.publisher, s.log, job, tr, backfill, s.now()); err != nil {
		s.cache.Purge(ctx, job.ID)
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, RejectionError(&retry.Rejection{
				Reason:        retry.ReasonStateConflict,
				Message:       "job changed while retrying; reload its status",
				ErrorType:     job.LastErrorType,
				RetryCount:    job.RetryCount,
				TotalAttempts: job.TotalAttempts,
			})
		}
		s.log.Warn("retry failed", zap.String("job_id", job.ID), zap.Error(err))
		return nil, serviceError(err, "failed to retry job")
	}
	s.cache.Purge(ctx, job.ID)

	s.log.Info("retry accepted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.Int("retry_count", tr.RetryCount),
		zap.Int("total_attempts", tr.TotalAttempts),
	)

	return &dto.RetryResponseDTO{JobID: job.ID, Status: config.JobStatusQueued, RetryCount: tr.RetryCount}, nil
}

// GetResult returns the owner's current structured resume.
func (s *JobService) GetResult(ctx context.Context, ownerID string) (*dto.ResultResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	res, err := s.repo.GetResult(ctx, ownerID)
	if err != nil {
		return nil, serviceError(err, "failed to get result")
	}

	return &dto.ResultResponseDTO{
		OwnerID:   res.OwnerID,
		JobID:     res.JobID,
		Data:      json.RawMessage(res.Data),
		UpdatedAt: res.UpdatedAt,
	}, nil
}

// DeleteOwner is the account level cascade. Rows go in one transaction;
// stored objects and cached statuses are cleaned up best-effort afterwards.
func (s *JobService) DeleteOwner(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.repo.DeleteOwner(ctx, ownerID)
	if err != nil {
		return serviceError(err, "failed to delete owner data")
	}

	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		s.cache.Purge(ctx, j.ID)

		if j.StorageKey == "" {
			continue
		}
		if _, ok := seen[j.StorageKey]; ok {
			continue
		}
		seen[j.StorageKey] = struct{}{}

		if err := s.blobs.Delete(ctx, j.StorageKey); err != nil {
			s.log.Warn("failed to delete stored file",
				zap.String("owner_id", ownerID),
				zap.String("storage_key", j.StorageKey),
				zap.Error(err),
			)
		}
	}

	s.log.Info("owner data deleted", zap.String("owner_id", ownerID), zap.Int("jobs", len(jobs)))
	return nil
}

// RejectionError maps a retry rejection onto an API error carrying the
// reason and the counters.
func RejectionError(rej *retry.Rejection) common.APIError {
	status := http.StatusConflict
	switch rej.Reason {
	case retry.ReasonPermanentError:
		status = http.StatusUnprocessableEntity
	case retry.ReasonBudgetExceeded:
		status = http.StatusTooManyRequests
	}

	fields := map[string]any{
		"reason":         rej.Reason,
		"retry_count":    rej.RetryCount,
		"total_attempts": rej.TotalAttempts,
	}
	if rej.ErrorType != "" {
		fields["error_type"] = rej.ErrorType
	}
	return common.NewAPIError(status, rej.Message, fields)
}

// serviceError maps repository and collaborator errors onto API errors.
func serviceError(err error, msg string) error {
	var apiErr common.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	case errors.Is(err, storage.ErrJobNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	case errors.Is(err, storage.ErrResultNotFound):
		return common.Errf(http.StatusNotFound, "result not found")
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, queue.ErrUnavailable):
		return common.Errf(http.StatusServiceUnavailable, "%s: service temporarily unavailable, please retry", msg)
	default:
		return common.Errf(http.StatusInternalServerError, "%s", msg)
	}
}
