package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/relay/internal/models"
)

// jobRecord is the persisted shape of a job: JSON payload plus the indexed
// fields queries filter on.
type jobRecord struct {
	ID        string `badgerhold:"key"`
	WorkerID  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      []byte
}

func newJobRecord(job *models.Job) (*jobRecord, error) {
	data, err := job.ToJSON()
	if err != nil {
		return nil, err
	}
	return &jobRecord{
		ID:        job.ID,
		WorkerID:  job.WorkerID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Data:      data,
	}, nil
}

// JobStore implements the job store over badgerhold. Badger has no native
// document TTL for this layout, so expired records are swept by the
// maintenance scheduler via DeleteExpiredJobs.
type JobStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStore creates a badger-backed job store
func NewJobStore(db *BadgerDB, logger arbor.ILogger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) load(jobID string) (*models.Job, error) {
	var record jobRecord
	if err := s.db.Store().Get(jobID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundError("job %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return models.JobFromJSON(record.Data)
}

func (s *JobStore) save(job *models.Job) error {
	record, err := newJobRecord(job)
	if err != nil {
		return err
	}
	if err := s.db.Store().Upsert(job.ID, record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStore) SetJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.load(jobID)
	if err != nil {
		if !models.IsNotFound(err) {
			return err
		}
		job = models.NewJob(jobID, patch.WorkerID, patch.Input, nil)
	}
	patch.Apply(job)
	return s.save(job)
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.load(jobID)
}

func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.load(jobID)
	if err != nil {
		return err
	}
	patch.Apply(job)
	return s.save(job)
}

func (s *JobStore) AppendInternalJob(ctx context.Context, parentJobID string, ref models.JobRef) error {
	job, err := s.load(parentJobID)
	if err != nil {
		return err
	}
	job.InternalJobs = append(job.InternalJobs, ref)
	job.UpdatedAt = time.Now()
	return s.save(job)
}

func (s *JobStore) ListJobsByWorker(ctx context.Context, workerID string) ([]*models.Job, error) {
	var records []jobRecord
	query := badgerhold.Where("WorkerID").Eq(workerID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(records))
	for _, record := range records {
		job, err := models.JobFromJSON(record.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Skipping undecodable job record")
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *JobStore) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int, error) {
	var records []jobRecord
	query := badgerhold.Where("UpdatedAt").Lt(olderThan)
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to query expired jobs: %w", err)
	}

	deleted := 0
	for _, record := range records {
		status := models.JobStatus(record.Status)
		if !status.Terminal() {
			continue
		}
		if err := s.db.Store().Delete(record.ID, &jobRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", record.ID).Msg("Failed to delete expired job")
			continue
		}
		deleted++
	}
	return deleted, nil
}
