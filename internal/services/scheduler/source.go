package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"record-reconciliation-backend/internal/apperr"
	"record-reconciliation-backend/internal/models"
)

// RecordSource hands the scheduler the two normalized record sets for a job.
// Ingestion is an external collaborator; this is the seam it plugs into.
type RecordSource interface {
	Load(ctx context.Context, jobID uuid.UUID) (recordsA, recordsB []models.Record, err error)
}

type recordSets struct {
	a []models.Record
	b []models.Record
}

// MemorySource holds record sets registered alongside job creation. It backs
// the default wiring and the tests; a durable ingestion pipeline would
// replace it.
type MemorySource struct {
	mu   sync.RWMutex
	sets map[uuid.UUID]recordSets
}

func NewMemorySource() *MemorySource {
	return &MemorySource{sets: make(map[uuid.UUID]recordSets)}
}

func (s *MemorySource) Register(jobID uuid.UUID, recordsA, recordsB []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[jobID] = recordSets{a: recordsA, b: recordsB}
}

func (s *MemorySource) Load(_ context.Context, jobID uuid.UUID) ([]models.Record, []models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.sets[jobID]
	if !ok {
		return nil, nil, apperr.NotFoundf("record sets for job %s not found", jobID)
	}
	return rs.a, rs.b, nil
}

// Drop releases the record sets once a job is finished or deleted.
func (s *MemorySource) Drop(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, jobID)
}
