package config

import "slices"

type JobStatus string

const (
	JobStatusPendingClaim JobStatus = "pending_claim"
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// ActiveStatuses are the statuses a worker attempt may resolve from.
var ActiveStatuses = []JobStatus{JobStatusPendingClaim, JobStatusQueued, JobStatusProcessing}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorType classifies the most recent failure of a job.
type ErrorType string

const (
	// transient
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeStorageUnavailable ErrorType = "storage_unavailable"
	ErrorTypeQueueUnavailable   ErrorType = "queue_unavailable"
	ErrorTypeParserTimeout      ErrorType = "parser_timeout"
	ErrorTypeParserUnavailable  ErrorType = "parser_unavailable"
	ErrorTypeInternal           ErrorType = "internal"

	// permanent
	ErrorTypeCorruptFile         ErrorType = "corrupt_file"
	ErrorTypeUnsupportedFormat   ErrorType = "unsupported_format"
	ErrorTypeFileMissing         ErrorType = "file_missing"
	ErrorTypeNoText              ErrorType = "no_text"
	ErrorTypeParserRejected      ErrorType = "parser_rejected"
	ErrorTypeParserInvalidOutput ErrorType = "parser_invalid_output"
	ErrorTypeSchemaValidation    ErrorType = "schema_validation"
)

var PermanentErrorTypes = []ErrorType{
	ErrorTypeCorruptFile,
	ErrorTypeUnsupportedFormat,
	ErrorTypeFileMissing,
	ErrorTypeNoText,
	ErrorTypeParserRejected,
	ErrorTypeParserInvalidOutput,
	ErrorTypeSchemaValidation,
}

// IsPermanent reports whether retrying a failure of type t can never help.
func IsPermanent(t ErrorType) bool {
	return slices.Contains(PermanentErrorTypes, t)
}

const (
	DedupScopeOwner  = "owner"
	DedupScopeGlobal = "global"
)

var AllowedDedupScopes = []string{DedupScopeOwner, DedupScopeGlobal}

// AllowedContentTypes are accepted by the upload endpoint.
var AllowedContentTypes = []string{"application/pdf", "application/x-pdf", "application/octet-stream"}
