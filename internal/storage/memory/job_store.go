package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// JobStore stores job records in a map with a per-worker index
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	byWorker map[string][]string
}

// NewJobStore creates an empty in-memory job store
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:     make(map[string]*models.Job),
		byWorker: make(map[string][]string),
	}
}

func (s *JobStore) SetJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		job = models.NewJob(jobID, patch.WorkerID, patch.Input, nil)
		s.jobs[jobID] = job
		if patch.WorkerID != "" {
			s.byWorker[patch.WorkerID] = append(s.byWorker[patch.WorkerID], jobID)
		}
	}
	patch.Apply(job)
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NotFoundError("job %s", jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.NotFoundError("job %s", jobID)
	}
	patch.Apply(job)
	return nil
}

func (s *JobStore) AppendInternalJob(ctx context.Context, parentJobID string, ref models.JobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[parentJobID]
	if !ok {
		return models.NotFoundError("job %s", parentJobID)
	}
	job.InternalJobs = append(job.InternalJobs, ref)
	job.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) ListJobsByWorker(ctx context.Context, workerID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWorker[workerID]
	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *JobStore) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			deleted++
		}
	}
	if deleted > 0 {
		for workerID, ids := range s.byWorker {
			kept := ids[:0]
			for _, id := range ids {
				if _, ok := s.jobs[id]; ok {
					kept = append(kept, id)
				}
			}
			s.byWorker[workerID] = kept
		}
	}
	return deleted, nil
}
