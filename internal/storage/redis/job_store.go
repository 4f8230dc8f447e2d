package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

// JobStore implements the job store over redis hashes. Scalar job fields
// live in one hash per job; internalJobs live in a companion list so
// appends need no read-modify-write; a per-worker zset keyed by creation
// time provides most-recent-first listing.
type JobStore struct {
	conn   *Conn
	ttl    time.Duration
	logger arbor.ILogger
}

// NewJobStore creates a redis-backed job store with the given retention
func NewJobStore(conn *Conn, ttl time.Duration, logger arbor.ILogger) *JobStore {
	return &JobStore{conn: conn, ttl: ttl, logger: logger}
}

func jobKey(jobID string) string      { return jobKeyPrefix + jobID }
func internalKey(jobID string) string { return jobKeyPrefix + jobID + jobInternalSuffix }
func byWorkerKey(workerID string) string {
	return jobsByWorkerPrefix + workerID
}

func (s *JobStore) writeHash(ctx context.Context, job *models.Job) error {
	fields := map[string]any{
		"workerId":  job.WorkerID,
		"status":    string(job.Status),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	for name, value := range map[string]any{
		"input":    job.Input,
		"output":   job.Output,
		"error":    job.Error,
		"metadata": job.Metadata,
	} {
		if value == nil {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode job %s field %s: %w", job.ID, name, err)
		}
		fields[name] = string(encoded)
	}
	if job.CompletedAt != nil {
		fields["completedAt"] = job.CompletedAt.Format(time.RFC3339Nano)
	}

	key := jobKey(job.ID)
	pipe := s.conn.Client().TxPipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, internalKey(job.ID), s.ttl)
	}
	if job.WorkerID != "" {
		pipe.ZAdd(ctx, byWorkerKey(job.WorkerID), redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.ID,
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, byWorkerKey(job.WorkerID), s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) read(ctx context.Context, jobID string) (*models.Job, error) {
	fields, err := s.conn.Client().HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, models.NotFoundError("job %s", jobID)
	}

	job := &models.Job{
		ID:       jobID,
		WorkerID: fields["workerId"],
		Status:   models.JobStatus(fields["status"]),
	}
	if raw := fields["createdAt"]; raw != "" {
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw := fields["updatedAt"]; raw != "" {
		job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}
	if raw := fields["completedAt"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CompletedAt = &parsed
		}
	}
	if raw := fields["input"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Input)
	}
	if raw := fields["output"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Output)
	}
	if raw := fields["error"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Error)
	}
	if raw := fields["metadata"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Metadata)
	}

	members, err := s.conn.Client().LRange(ctx, internalKey(jobID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read internal jobs for %s: %w", jobID, err)
	}
	for _, member := range members {
		var ref models.JobRef
		if err := json.Unmarshal([]byte(member), &ref); err == nil {
			job.InternalJobs = append(job.InternalJobs, ref)
		}
	}
	return job, nil
}

func (s *JobStore) SetJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.read(ctx, jobID)
	if err != nil {
		if !models.IsNotFound(err) {
			return err
		}
		job = models.NewJob(jobID, patch.WorkerID, patch.Input, nil)
	}
	patch.Apply(job)
	return s.writeHash(ctx, job)
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.read(ctx, jobID)
}

func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.read(ctx, jobID)
	if err != nil {
		return err
	}
	patch.Apply(job)
	return s.writeHash(ctx, job)
}

func (s *JobStore) AppendInternalJob(ctx context.Context, parentJobID string, ref models.JobRef) error {
	exists, err := s.conn.Client().Exists(ctx, jobKey(parentJobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", parentJobID, err)
	}
	if exists == 0 {
		return models.NotFoundError("job %s", parentJobID)
	}

	encoded, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to encode job ref: %w", err)
	}
	pipe := s.conn.Client().TxPipeline()
	pipe.RPush(ctx, internalKey(parentJobID), string(encoded))
	pipe.HSet(ctx, jobKey(parentJobID), "updatedAt", time.Now().Format(time.RFC3339Nano))
	if s.ttl > 0 {
		pipe.Expire(ctx, internalKey(parentJobID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append internal job: %w", err)
	}
	return nil
}

func (s *JobStore) ListJobsByWorker(ctx context.Context, workerID string) ([]*models.Job, error) {
	ids, err := s.conn.Client().ZRevRange(ctx, byWorkerKey(workerID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list jobs for worker %s: %w", workerID, err)
	}

	out := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.read(ctx, id)
		if err != nil {
			if models.IsNotFound(err) {
				// Expired record still in the index; drop it lazily
				s.conn.Client().ZRem(ctx, byWorkerKey(workerID), id)
				continue
			}
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// DeleteExpiredJobs is a no-op: redis retention rides on key EXPIRE
func (s *JobStore) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}
