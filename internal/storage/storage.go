// Package storage holds the contracts shared by the persistence adapters.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrResultNotFound = errors.New("result not found")
	// ErrStatusConflict means the row changed since it was read and the
	// conditional write did not apply.
	ErrStatusConflict = errors.New("job status changed concurrently")

	ErrObjectNotFound = errors.New("object not found")
	ErrUnavailable    = errors.New("storage unavailable")
)

// BlobStore keeps uploaded file bytes by opaque key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// RequeueUpdate describes a conditional failed -> queued transition. The
// From fields are the values read before the decision and act as the write
// precondition.
type RequeueUpdate struct {
	FromStatus     config.JobStatus
	FromRetryCount int
	FromAttempts   int
	RetryCount     int
	TotalAttempts  int
	// ContentHash is only written when backfilling rows created before
	// hashing existed.
	ContentHash string
	QueuedAt    time.Time
}
