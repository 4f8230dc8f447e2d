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

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// runDocument is the persisted shape of a run: the full record as JSON plus
// the fields queries filter on.
type runDocument struct {
	ID               string     `bson:"_id"`
	Status           string     `bson:"status"`
	WaitingHookToken string     `bson:"waitingHookToken,omitempty"`
	ConsumedTokens   []string   `bson:"consumedTokens,omitempty"`
	WakeAt           *time.Time `bson:"wakeAt,omitempty"`
	HookDeadline     *time.Time `bson:"hookDeadline,omitempty"`
	Deadline         *time.Time `bson:"deadline,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt"`
	Data             []byte     `bson:"data"`
}

func newRunDocument(run *models.Run) (*runDocument, error) {
	data, err := run.ToJSON()
	if err != nil {
		return nil, err
	}
	return &runDocument{
		ID:               run.ID,
		Status:           string(run.Status),
		WaitingHookToken: run.WaitingHookToken,
		ConsumedTokens:   run.ConsumedHookTokens,
		WakeAt:           run.WakeAt,
		HookDeadline:     run.HookDeadline,
		Deadline:         run.Deadline,
		CreatedAt:        run.CreatedAt,
		UpdatedAt:        run.UpdatedAt,
		Data:             data,
	}, nil
}

// RunRegistry implements the run registry over MongoDB
type RunRegistry struct {
	conn   *Conn
	logger arbor.ILogger
}

// NewRunRegistry creates a mongo-backed run registry and ensures its indexes
func NewRunRegistry(conn *Conn, logger arbor.ILogger) (*RunRegistry, error) {
	registry := &RunRegistry{conn: conn, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := conn.Runs().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "waitingHookToken", Value: 1}}},
		{Keys: bson.D{{Key: "consumedTokens", Value: 1}}},
		{Keys: bson.D{{Key: "wakeAt", Value: 1}}},
		{Keys: bson.D{{Key: "hookDeadline", Value: 1}}},
		{Keys: bson.D{{Key: "deadline", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run indexes: %w", err)
	}
	return registry, nil
}

func (r *RunRegistry) CreateRun(ctx context.Context, run *models.Run) error {
	doc, err := newRunDocument(run)
	if err != nil {
		return err
	}
	if _, err := r.conn.Runs().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ConflictError("run %s already exists", run.ID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (r *RunRegistry) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var doc runDocument
	if err := r.conn.Runs().FindOne(ctx, bson.M{"_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFoundError("run %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return models.RunFromJSON(doc.Data)
}

func (r *RunRegistry) UpdateRun(ctx context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now()
	doc, err := newRunDocument(run)
	if err != nil {
		return err
	}
	result, err := r.conn.Runs().ReplaceOne(ctx, bson.M{"_id": run.ID}, doc)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.NotFoundError("run %s", run.ID)
	}
	return nil
}

func (r *RunRegistry) ListRuns(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.Run, error) {
	filter := bson.M{}
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if opts != nil {
		if opts.Status != "" {
			filter["status"] = string(opts.Status)
		}
		if opts.WakeBefore != nil {
			filter["wakeAt"] = bson.M{"$lte": *opts.WakeBefore}
		}
		if opts.HookDeadlineBefore != nil {
			filter["hookDeadline"] = bson.M{"$lte": *opts.HookDeadlineBefore}
		}
		if opts.DeadlineBefore != nil {
			filter["deadline"] = bson.M{"$lte": *opts.DeadlineBefore}
		}
		if opts.Limit > 0 {
			findOpts = findOpts.SetLimit(int64(opts.Limit))
		}
		if opts.Offset > 0 {
			findOpts = findOpts.SetSkip(int64(opts.Offset))
		}
	}

	cursor, err := r.conn.Runs().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	out := make([]*models.Run, 0, len(docs))
	for _, doc := range docs {
		run, err := models.RunFromJSON(doc.Data)
		if err != nil {
			r.logger.Warn().Err(err).Str("run_id", doc.ID).Msg("Skipping undecodable run record")
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (r *RunRegistry) FindRunByHookToken(ctx context.Context, token string) (*models.Run, error) {
	var doc runDocument
	err := r.conn.Runs().FindOne(ctx, bson.M{"waitingHookToken": token}).Decode(&doc)
	if err == nil {
		return models.RunFromJSON(doc.Data)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to query hook token: %w", err)
	}

	// Fall back to consumed tokens so repeat signals stay idempotent
	err = r.conn.Runs().FindOne(ctx, bson.M{"consumedTokens": token}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFoundError("no run waiting on token")
		}
		return nil, fmt.Errorf("failed to query consumed tokens: %w", err)
	}
	return models.RunFromJSON(doc.Data)
}
