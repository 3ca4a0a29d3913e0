package dto

import (
	"encoding/json"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
)

// JobMessage is the queue payload for one processing attempt.
type JobMessage struct {
	JobID         string `json:"job_id"`
	OwnerID       string `json:"owner_id"`
	StorageKey    string `json:"storage_key"`
	ContentHash   string `json:"content_hash"`
	AttemptNumber int    `json:"attempt_number"`
}

type ClaimCreateDTO struct {
	OwnerID     string `json:"owner_id" validate:"required,max=255"`
	StorageKey  string `json:"storage_key" validate:"required,max=1024"`
	ContentHash string `json:"content_hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// ClaimRequest registers stored bytes as a processing job. At most one of
// Content and ContentHash needs to be set; with neither the bytes are read
// back from storage.
type ClaimRequest struct {
	OwnerID     string
	StorageKey  string
	Content     []byte
	ContentHash string
}

type ClaimResponseDTO struct {
	JobID        string           `json:"job_id"`
	Status       config.JobStatus `json:"status"`
	Deduplicated bool             `json:"deduplicated"`
}

type JobStatusDTO struct {
	JobID         string           `json:"job_id"`
	Status        config.JobStatus `json:"status"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ErrorType     config.ErrorType `json:"error_type,omitempty"`
	UserMessage   string           `json:"user_message,omitempty"`
	CanRetry      bool             `json:"can_retry"`
	RetryCount    int              `json:"retry_count"`
	TotalAttempts int              `json:"total_attempts"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type RetryResponseDTO struct {
	JobID      string           `json:"job_id"`
	Status     config.JobStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
}

type ResultResponseDTO struct {
	OwnerID   string          `json:"owner_id"`
	JobID     string          `json:"job_id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}
