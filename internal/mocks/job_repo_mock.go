package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) Create(ctx context.Context, job *models.ResumeJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id string) (*models.ResumeJob, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.ResumeJob)
	return job, args.Error(1)
}

func (m *JobRepoMock) FindLatestCompleted(ctx context.Context, ownerID, contentHash string) (*models.ResumeJob, error) {
	args := m.Called(ctx, ownerID, contentHash)

	job, _ := args.Get(0).(*models.ResumeJob)
	return job, args.Error(1)
}

func (m *JobRepoMock) GetResult(ctx context.Context, ownerID string) (*models.ResumeResult, error) {
	args := m.Called(ctx, ownerID)

	res, _ := args.Get(0).(*models.ResumeResult)
	return res, args.Error(1)
}

func (m *JobRepoMock) CreateCompleted(ctx context.Context, job *models.ResumeJob, data datatypes.JSON) error {
	args := m.Called(ctx, job, data)
	return args.Error(0)
}

func (m *JobRepoMock) MarkQueued(ctx context.Context, id string, attempt int, queuedAt time.Time) error {
	args := m.Called(ctx, id, attempt, queuedAt)
	return args.Error(0)
}

func (m *JobRepoMock) Complete(ctx context.Context, id string, attempt int, data datatypes.JSON, at time.Time) error {
	args := m.Called(ctx, id, attempt, data, at)
	return args.Error(0)
}

func (m *JobRepoMock) MarkFailed(ctx context.Context, id string, attempt int, failure *common.Failure) error {
	args := m.Called(ctx, id, attempt, failure)
	return args.Error(0)
}

func (m *JobRepoMock) Requeue(ctx context.Context, id string, upd storage.RequeueUpdate) error {
	args := m.Called(ctx, id, upd)
	return args.Error(0)
}

func (m *JobRepoMock) RevertRequeue(ctx context.Context, id string, upd storage.RequeueUpdate, failure *common.Failure) error {
	args := m.Called(ctx, id, upd, failure)
	return args.Error(0)
}

func (m *JobRepoMock) ListOrphans(ctx context.Context, createdBefore time.Time, limit int) ([]models.ResumeJob, error) {
	args := m.Called(ctx, createdBefore, limit)

	jobs, _ := args.Get(0).([]models.ResumeJob)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) MarkOrphansQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error) {
	args := m.Called(ctx, ids, queuedAt)

	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *JobRepoMock) ListStaleQueued(ctx context.Context, queuedBefore time.Time, limit int) ([]models.ResumeJob, error) {
	args := m.Called(ctx, queuedBefore, limit)

	jobs, _ := args.Get(0).([]models.ResumeJob)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) RefreshQueued(ctx context.Context, ids []string, queuedAt time.Time) (int64, error) {
	args := m.Called(ctx, ids, queuedAt)

	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *JobRepoMock) DeleteOwner(ctx context.Context, ownerID string) ([]models.ResumeJob, error) {
	args := m.Called(ctx, ownerID)

	jobs, _ := args.Get(0).([]models.ResumeJob)
	return jobs, args.Error(1)
}
