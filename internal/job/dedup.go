package job

import (
	"context"
	"errors"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/storage"
	"gorm.io/datatypes"
)

type DedupOutcome int

const (
	DedupMiss DedupOutcome = iota
	DedupHit
	// DedupStale: a completed job with the digest exists but its owner's
	// result has since been replaced by a different upload.
	DedupStale
)

func (o DedupOutcome) String() string {
	switch o {
	case DedupHit:
		return "hit"
	case DedupStale:
		return "stale"
	default:
		return "miss"
	}
}

type DedupResult struct {
	Outcome DedupOutcome
	Source  *models.ResumeJob
	Data    datatypes.JSON
}

// lookupDedup finds the most recent completed job with contentHash in the
// configured scope and the result it produced.
func (s *JobService) lookupDedup(ctx context.Context, ownerID, contentHash string) (DedupResult, error) {
	scopeOwner := ownerID
	if s.dedupScope == config.DedupScopeGlobal {
		scopeOwner = ""
	}

	source, err := s.repo.FindLatestCompleted(ctx, scopeOwner, contentHash)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			return DedupResult{Outcome: DedupMiss}, nil
		}
		return DedupResult{}, err
	}

	res, err := s.repo.GetResult(ctx, source.OwnerID)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			return DedupResult{Outcome: DedupStale, Source: source}, nil
		}
		return DedupResult{}, err
	}

	if res.JobID != source.ID {
		return DedupResult{Outcome: DedupStale, Source: source}, nil
	}

	return DedupResult{Outcome: DedupHit, Source: source, Data: res.Data}, nil
}
