package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a worker job
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobRef links a parent job to a child it dispatched
type JobRef struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
}

// JobError captures a handler failure on the job record
type JobError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (e *JobError) Error() string {
	return e.Message
}

// Job is the durable record of one worker invocation, from dispatch through
// its terminal state. Records are retained with a TTL (default 7 days).
type Job struct {
	ID           string         `json:"jobId" badgerhold:"key"`
	WorkerID     string         `json:"workerId"`
	Status       JobStatus      `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       any            `json:"output,omitempty"`
	Error        *JobError      `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	InternalJobs []JobRef       `json:"internalJobs,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// JobPatch is a partial update applied by SetJob/UpdateJob. Zero-valued
// fields are left untouched; Metadata is merged key-by-key.
type JobPatch struct {
	WorkerID string
	Status   JobStatus
	Input    map[string]any
	Output   any
	Error    *JobError
	Metadata map[string]any
}

// Apply merges the patch into the job, enforcing the terminal-transition
// rules: a job already terminal ignores further status changes, and a move
// into a terminal state stamps CompletedAt exactly once.
func (p *JobPatch) Apply(job *Job) {
	now := time.Now()

	if p.WorkerID != "" {
		job.WorkerID = p.WorkerID
	}
	if p.Input != nil {
		job.Input = p.Input
	}
	if p.Metadata != nil {
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}
		for k, v := range p.Metadata {
			job.Metadata[k] = v
		}
	}

	if p.Status != "" && !job.Status.Terminal() {
		job.Status = p.Status
		if p.Output != nil {
			job.Output = p.Output
		}
		if p.Error != nil {
			job.Error = p.Error
		}
		if p.Status.Terminal() && job.CompletedAt == nil {
			job.CompletedAt = &now
		}
	}

	job.UpdatedAt = now
}

// NewJob creates a queued job record
func NewJob(jobID, workerID string, input, metadata map[string]any) *Job {
	now := time.Now()
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Job{
		ID:        jobID,
		WorkerID:  workerID,
		Status:    JobStatusQueued,
		Input:     input,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ParentJobID returns the parent recorded in metadata, if any
func (j *Job) ParentJobID() string {
	if j.Metadata == nil {
		return ""
	}
	if parent, ok := j.Metadata["parentJobId"].(string); ok {
		return parent
	}
	return ""
}

// ToJSON serialises the job record
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserialises a stored job record
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
