package models

import (
	"time"

	"github.com/google/uuid"
)

// Result review statuses.
const (
	ResultStatusPending  = "pending"
	ResultStatusApproved = "approved"
	ResultStatusRejected = "rejected"
)

// Match types. Exact and fuzzy are produced by the engine; manual and auto
// are reserved for results created by human action or external rule promotion.
const (
	MatchTypeExact  = "exact"
	MatchTypeFuzzy  = "fuzzy"
	MatchTypeManual = "manual"
	MatchTypeAuto   = "auto"
)

type ReconciliationResult struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID           uuid.UUID `gorm:"type:uuid;index"`
	RecordAID       *string   `gorm:"index"`
	RecordBID       *string   `gorm:"index"`
	MatchType       string    `gorm:"index"`
	ConfidenceScore *float64
	Status          string `gorm:"index"`
	Notes           string
	ReviewedBy      *uuid.UUID `gorm:"type:uuid"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
