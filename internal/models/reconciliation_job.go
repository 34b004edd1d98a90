package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses. Completed, failed and cancelled are terminal; a job never
// transitions out of them.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalJobStatuses lists the states a job can never leave.
var TerminalJobStatuses = []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

func IsTerminalJobStatus(status string) bool {
	for _, s := range TerminalJobStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type ReconciliationJob struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID           uuid.UUID `gorm:"type:uuid;index"`
	Name                string
	Description         string
	Status              string `gorm:"index"`
	ConfidenceThreshold float64
	MatchingRules       datatypes.JSON `gorm:"type:jsonb"`
	Progress            int
	TotalRecords        *int
	ProcessedRecords    int
	MatchedRecords      int
	UnmatchedRecords    int
	ErrorMessage        string
	CreatedBy           uuid.UUID `gorm:"type:uuid;index"`
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Rules decodes the stored matching rule set.
func (j *ReconciliationJob) Rules() ([]MatchingRule, error) {
	if len(j.MatchingRules) == 0 {
		return nil, nil
	}
	var rules []MatchingRule
	if err := json.Unmarshal(j.MatchingRules, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRules encodes rules into the JSONB column.
func (j *ReconciliationJob) SetRules(rules []MatchingRule) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	j.MatchingRules = datatypes.JSON(raw)
	return nil
}
