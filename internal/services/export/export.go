package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/models"
	"record-reconciliation-backend/internal/repository"
)

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"id", "job_id", "record_a_id", "record_b_id", "match_type",
	"confidence_score", "status", "notes", "created_at", "updated_at",
}

// Exporter snapshots a job's results as CSV or JSON.
type Exporter struct {
	store repository.JobStore
}

func NewExporter(store repository.JobStore) *Exporter {
	return &Exporter{store: store}
}

// Export renders every result row for the job in the requested format.
// Unsupported format strings fail with Validation. Rows are paged out of the
// store at the maximum page size.
func (e *Exporter) Export(ctx context.Context, jobID uuid.UUID, format string) ([]byte, string, error) {
	switch format {
	case FormatCSV, FormatJSON:
	default:
		return nil, "", apperr.Validationf("unsupported export format %q", format)
	}

	// The job must exist even when it has no results yet.
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return nil, "", err
	}

	var all []models.ReconciliationResult
	for page := 1; ; page++ {
		results, err := e.store.ListResults(ctx, jobID, page, repository.MaxResultsPerPage)
		if err != nil {
			return nil, "", err
		}
		all = append(all, results...)
		if len(results) < repository.MaxResultsPerPage {
			break
		}
	}

	if format == FormatJSON {
		payload, err := json.Marshal(jsonRows(all))
		if err != nil {
			return nil, "", apperr.Internalf("encode results: %v", err)
		}
		return payload, "application/json", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, "", apperr.Internalf("write csv header: %v", err)
	}
	for _, r := range all {
		if err := w.Write(csvRow(r)); err != nil {
			return nil, "", apperr.Internalf("write csv row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", apperr.Internalf("flush csv: %v", err)
	}
	return buf.Bytes(), "text/csv", nil
}

func csvRow(r models.ReconciliationResult) []string {
	return []string{
		r.ID.String(),
		r.JobID.String(),
		strOrEmpty(r.RecordAID),
		strOrEmpty(r.RecordBID),
		r.MatchType,
		scoreOrEmpty(r.ConfidenceScore),
		r.Status,
		r.Notes,
		r.CreatedAt.Format(time.RFC3339),
		r.UpdatedAt.Format(time.RFC3339),
	}
}

type jsonRow struct {
	ID              uuid.UUID `json:"id"`
	JobID           uuid.UUID `json:"job_id"`
	RecordAID       *string   `json:"record_a_id"`
	RecordBID       *string   `json:"record_b_id"`
	MatchType       string    `json:"match_type"`
	ConfidenceScore *float64  `json:"confidence_score"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func jsonRows(results []models.ReconciliationResult) []jsonRow {
	rows := make([]jsonRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, jsonRow{
			ID:              r.ID,
			JobID:           r.JobID,
			RecordAID:       r.RecordAID,
			RecordBID:       r.RecordBID,
			MatchType:       r.MatchType,
			ConfidenceScore: r.ConfidenceScore,
			Status:          r.Status,
			Notes:           r.Notes,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		})
	}
	return rows
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scoreOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
