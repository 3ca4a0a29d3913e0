// Package retry decides whether a failed resume job may be queued again and
// computes the counters for the new attempt.
package retry

import (
	"fmt"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/models"
)

// Kind is who asked for the retry.
type Kind string

const (
	Manual    Kind = "manual"
	Automatic Kind = "automatic"
	Orphan    Kind = "orphan"
)

type Reason string

const (
	ReasonBudgetExceeded Reason = "budget_exceeded"
	ReasonPermanentError Reason = "permanent_error"
	ReasonStateConflict  Reason = "state_conflict"
)

// Rejection explains why a retry was refused.
type Rejection struct {
	Reason        Reason
	Message       string
	ErrorType     config.ErrorType
	RetryCount    int
	TotalAttempts int
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("retry rejected (%s): %s", r.Reason, r.Message)
}

// Policy holds the attempt budgets.
type Policy struct {
	MaxTotalAttempts int
	MaxManualRetries int
	MaxAutoRetries   int
}

func NewPolicy(cfg *config.Config) Policy {
	return Policy{
		MaxTotalAttempts: cfg.MaxTotalAttempts,
		MaxManualRetries: cfg.MaxManualRetries,
		MaxAutoRetries:   cfg.MaxAutoRetries,
	}
}

// Evaluate runs the eligibility checks in order: total ceiling, permanent
// error, status, then the kind specific ceiling. Orphan recovery starts from
// pending_claim rather than failed.
func (p Policy) Evaluate(job *models.ResumeJob, kind Kind) *Rejection {
	reject := func(reason Reason, msg string) *Rejection {
		return &Rejection{
			Reason:        reason,
			Message:       msg,
			ErrorType:     job.LastErrorType,
			RetryCount:    job.RetryCount,
			TotalAttempts: job.TotalAttempts,
		}
	}

	if job.TotalAttempts >= p.MaxTotalAttempts {
		return reject(ReasonBudgetExceeded, "this upload has used all of its processing attempts; please upload the file again")
	}

	if config.IsPermanent(job.LastErrorType) {
		return reject(ReasonPermanentError, "this file cannot be processed and retrying will not help")
	}

	want := config.JobStatusFailed
	if kind == Orphan {
		want = config.JobStatusPendingClaim
	}
	if job.Status != want {
		return reject(ReasonStateConflict, fmt.Sprintf("job is %s; only %s jobs can be retried", job.Status, want))
	}

	switch kind {
	case Manual:
		if job.RetryCount >= p.MaxManualRetries {
			return reject(ReasonBudgetExceeded, "the manual retry limit for this upload was reached; please upload the file again")
		}
	case Automatic:
		if AutomaticAttempts(job) >= p.MaxAutoRetries {
			return reject(ReasonBudgetExceeded, "automatic retries exhausted")
		}
	}

	return nil
}

// AutomaticAttempts counts attempts that were neither the first one nor
// user triggered.
func AutomaticAttempts(job *models.ResumeJob) int {
	n := job.TotalAttempts - 1 - job.RetryCount
	if n < 0 {
		return 0
	}
	return n
}

// Transition is the counter state for the next queued attempt.
type Transition struct {
	RetryCount    int
	TotalAttempts int
}

// AttemptNumber is the number carried on the queue message.
func (t Transition) AttemptNumber() int {
	return t.TotalAttempts
}

// Next returns the counters after accepting a retry of the given kind.
// Manual retries bump both counters; every other kind only the total.
func (p Policy) Next(job *models.ResumeJob, kind Kind) Transition {
	t := Transition{RetryCount: job.RetryCount, TotalAttempts: job.TotalAttempts + 1}
	if kind == Manual {
		t.RetryCount++
	}
	return t
}

// CanRetry reports whether a manual retry would currently be accepted.
func (p Policy) CanRetry(job *models.ResumeJob) bool {
	return p.Evaluate(job, Manual) == nil
}

// UserMessage is the guidance shown next to a job's status.
func (p Policy) UserMessage(job *models.ResumeJob) string {
	if job.Status != config.JobStatusFailed {
		return ""
	}

	switch {
	case job.TotalAttempts >= p.MaxTotalAttempts:
		return "please upload again"
	case config.IsPermanent(job.LastErrorType):
		if job.ErrorMessage != "" {
			return "this file cannot be processed: " + job.ErrorMessage
		}
		return "this file cannot be processed"
	case p.CanRetry(job):
		return "processing failed, you may retry"
	default:
		return "please upload again"
	}
}
