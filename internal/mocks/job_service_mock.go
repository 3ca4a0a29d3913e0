package mocks

import (
	"context"

	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) Upload(ctx context.Context, ownerID, filename string, content []byte) (*dto.ClaimResponseDTO, error) {
	args := m.Called(ctx, ownerID, filename, content)

	resp, _ := args.Get(0).(*dto.ClaimResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Claim(ctx context.Context, req dto.ClaimRequest) (*dto.ClaimResponseDTO, error) {
	args := m.Called(ctx, req)

	resp, _ := args.Get(0).(*dto.ClaimResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error) {
	args := m.Called(ctx, id)

	resp, _ := args.Get(0).(*dto.JobStatusDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Retry(ctx context.Context, id string) (*dto.RetryResponseDTO, error) {
	args := m.Called(ctx, id)

	resp, _ := args.Get(0).(*dto.RetryResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) GetResult(ctx context.Context, ownerID string) (*dto.ResultResponseDTO, error) {
	args := m.Called(ctx, ownerID)

	resp, _ := args.Get(0).(*dto.ResultResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) DeleteOwner(ctx context.Context, ownerID string) error {
	args := m.Called(ctx, ownerID)
	return args.Error(0)
}
