package mocks

import (
	"context"

	"github.com/joshu-sajeev/resumeflow/internal/dto"
	"github.com/stretchr/testify/mock"
)

type BlobStoreMock struct {
	mock.Mock
}

func (m *BlobStoreMock) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *BlobStoreMock) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)

	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *BlobStoreMock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, msg dto.JobMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// StatusCacheMock records purges; Get always misses unless stubbed.
type StatusCacheMock struct {
	mock.Mock
}

func (m *StatusCacheMock) Get(ctx context.Context, jobID string) (*dto.JobStatusDTO, bool) {
	args := m.Called(ctx, jobID)

	status, _ := args.Get(0).(*dto.JobStatusDTO)
	return status, args.Bool(1)
}

func (m *StatusCacheMock) Set(ctx context.Context, status *dto.JobStatusDTO) {
	m.Called(ctx, status)
}

func (m *StatusCacheMock) Purge(ctx context.Context, jobID string) {
	m.Called(ctx, jobID)
}
