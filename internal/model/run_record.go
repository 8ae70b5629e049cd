package model

import (
	"time"
)

// RunOutcome classifies how a detection run ended
type RunOutcome string

const (
	RunOutcomeSuccess        RunOutcome = "success"
	RunOutcomePartialSuccess RunOutcome = "partial_success"
	RunOutcomeFailure        RunOutcome = "failure"
)

// RunRecord is the persisted summary of one detection run
type RunRecord struct {
	ID         uint       `gorm:"primaryKey"`
	RunID      string     `gorm:"uniqueIndex;size:36;not null"`
	Outcome    RunOutcome `gorm:"size:20;not null"`
	Regions    string     `gorm:"size:255"`
	Processed  int        `gorm:"not null;default:0"`
	Dropped    int        `gorm:"not null;default:0"`
	Skipped    int        `gorm:"not null;default:0"`
	Viral      int        `gorm:"not null;default:0"`
	FailReason string     `gorm:"size:500"`
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}

// TableName returns the table name for RunRecord
func (RunRecord) TableName() string {
	return "runs"
}
