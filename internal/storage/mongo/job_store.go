package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ternarybob/relay/internal/models"
)

// jobDocument is the persisted shape of a job. ExpiresAt is set once the job
// reaches a terminal status; the TTL index reaps the document after that.
type jobDocument struct {
	ID        string     `bson:"_id"`
	WorkerID  string     `bson:"workerId"`
	Status    string     `bson:"status"`
	CreatedAt time.Time  `bson:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
	Data      []byte     `bson:"data"`
}

func newJobDocument(job *models.Job, ttl time.Duration) (*jobDocument, error) {
	data, err := job.ToJSON()
	if err != nil {
		return nil, err
	}
	doc := &jobDocument{
		ID:        job.ID,
		WorkerID:  job.WorkerID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Data:      data,
	}
	if job.Status.Terminal() && ttl > 0 {
		expires := job.UpdatedAt.Add(ttl)
		doc.ExpiresAt = &expires
	}
	return doc, nil
}

// JobStore implements the job store over MongoDB. Retention is enforced by
// the TTL index, so DeleteExpiredJobs is a no-op here.
type JobStore struct {
	conn   *Conn
	ttl    time.Duration
	logger arbor.ILogger
}

// NewJobStore creates a mongo-backed job store and ensures its indexes
func NewJobStore(conn *Conn, ttl time.Duration, logger arbor.ILogger) (*JobStore, error) {
	store := &JobStore{conn: conn, ttl: ttl, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := conn.Jobs().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "workerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job indexes: %w", err)
	}
	return store, nil
}

func (s *JobStore) load(ctx context.Context, jobID string) (*models.Job, error) {
	var doc jobDocument
	if err := s.conn.Jobs().FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFoundError("job %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return models.JobFromJSON(doc.Data)
}

func (s *JobStore) save(ctx context.Context, job *models.Job) error {
	doc, err := newJobDocument(job, s.ttl)
	if err != nil {
		return err
	}
	_, err = s.conn.Jobs().ReplaceOne(ctx, bson.M{"_id": job.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStore) SetJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		if !models.IsNotFound(err) {
			return err
		}
		job = models.NewJob(jobID, patch.WorkerID, patch.Input, nil)
	}
	patch.Apply(job)
	return s.save(ctx, job)
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.load(ctx, jobID)
}

func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch *models.JobPatch) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}
	patch.Apply(job)
	return s.save(ctx, job)
}

func (s *JobStore) AppendInternalJob(ctx context.Context, parentJobID string, ref models.JobRef) error {
	job, err := s.load(ctx, parentJobID)
	if err != nil {
		return err
	}
	job.InternalJobs = append(job.InternalJobs, ref)
	job.UpdatedAt = time.Now()
	return s.save(ctx, job)
}

func (s *JobStore) ListJobsByWorker(ctx context.Context, workerID string) ([]*models.Job, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.conn.Jobs().Find(ctx, bson.M{"workerId": workerID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(docs))
	for _, doc := range docs {
		job, err := models.JobFromJSON(doc.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", doc.ID).Msg("Skipping undecodable job record")
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *JobStore) DeleteExpiredJobs(ctx context.Context, olderThan time.Time) (int, error) {
	// Retention is handled by the TTL index on expiresAt
	return 0, nil
}
