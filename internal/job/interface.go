package job

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"gorm.io/datatypes"
)

// JobRepoInterface defines the contract for resume job persistence.
type JobRepoInterface interface {
	Create(ctx context.Context, job *models.ResumeJob) error
	Get(ctx context.Context, id string) (*models.ResumeJob, error)
	FindLatestCompleted(ctx context.Context, ownerID, contentHash string) (*models.ResumeJob, error)
	GetResult(ctx context.Context, ownerID string) (*models.ResumeResult, error)
	CreateCompleted(ctx context.Context, job *models.ResumeJob, data datatypes.JSON) error
	MarkQueued(ctx context.Context, id string, attempt int, queuedAt time.Time) error
	Complete(ctx context.Context, id string, attempt int, data datatypes.JSON, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempt int, failure *common.Failure) error
	Requeue(ctx context.Context, id string, upd storage.RequeueUpdate) error
	RevertRequeue(ctx context.Context, id string, upd storage.RequeueUpdate, failure *common.Failure) error
	ListOrphans(ctx context.Context, createdBefore time.Time, limit int) ([]models.ResumeJob, error)
	MarkOrphansQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error)
	ListStaleQueued(ctx context.Context, queuedBefore time.Time, limit int) ([]models.ResumeJob, error)
	RefreshQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error)
	DeleteOwner(ctx context.Context, ownerID string) ([]models.ResumeJob, error)
}

// Publisher emits one queue message per queued transition.
type Publisher interface {
	Publish(ctx context.Context, msg dto.JobMessage) error
}

// StatusCache is a best-effort cache of job status responses.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*dto.JobStatusDTO, bool)
	Set(ctx context.Context, status *dto.JobStatusDTO)
	Purge(ctx context.Context, jobID string)
}

// JobServiceInterface defines the contract for the caller-facing operations.
type JobServiceInterface interface {
	Upload(ctx context.Context, ownerID, filename string, content []byte) (*dto.ClaimResponseDTO, error)
	Claim(ctx context.Context, req dto.ClaimRequest) (*dto.ClaimResponseDTO, error)
	GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error)
	Retry(ctx context.Context, id string) (*dto.RetryResponseDTO, error)
	GetResult(ctx context.Context, ownerID string) (*dto.ResultResponseDTO, error)
	DeleteOwner(ctx context.Context, ownerID string) error
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Upload(c *gin.Context)
	Claim(c *gin.Context)
	Status(c *gin.Context)
	Retry(c *gin.Context)
	Result(c *gin.Context)
	DeleteOwner(c *gin.Context)
}
