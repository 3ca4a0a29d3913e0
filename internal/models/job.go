package models

import (
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"gorm.io/datatypes"
)

// ResumeJob is one upload attempt lineage moving through the parse pipeline.
type ResumeJob struct {
	ID               string           `gorm:"type:varchar(36);primaryKey"`
	OwnerID          string           `gorm:"type:varchar(255);not null;index:idx_resume_jobs_owner_hash,priority:1"`
	StorageKey       string           `gorm:"type:text;not null"`
	ContentHash      string           `gorm:"type:varchar(64);index:idx_resume_jobs_owner_hash,priority:2"`
	Status           config.JobStatus `gorm:"type:varchar(32);not null;default:'pending_claim';index"`
	ErrorMessage     string           `gorm:"type:text"`
	LastErrorType    config.ErrorType `gorm:"type:varchar(64)"`
	LastErrorMessage string           `gorm:"type:text"`
	RetryCount       int              `gorm:"not null;default:0"`
	TotalAttempts    int              `gorm:"not null;default:0"`
	QueuedAt         *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (ResumeJob) TableName() string { return "resume_jobs" }

// ResumeResult holds the structured parse output, one row per owner.
type ResumeResult struct {
	OwnerID   string         `gorm:"type:varchar(255);primaryKey"`
	JobID     string         `gorm:"type:varchar(36);not null;index"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (ResumeResult) TableName() string { return "resume_results" }
