package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// runRecord is the persisted shape of a run: the full record as JSON plus
// the fields queries filter on. Closure-valued plan fields do not survive
// serialisation; durable backends require serialisable plans.
type runRecord struct {
	ID               string `badgerhold:"key"`
	Status           string
	WaitingHookToken string
	ConsumedTokens   []string
	WakeAt           *time.Time
	HookDeadline     *time.Time
	Deadline         *time.Time
	CreatedAt        time.Time
	Data             []byte
}

func newRunRecord(run *models.Run) (*runRecord, error) {
	data, err := run.ToJSON()
	if err != nil {
		return nil, err
	}
	return &runRecord{
		ID:               run.ID,
		Status:           string(run.Status),
		WaitingHookToken: run.WaitingHookToken,
		ConsumedTokens:   run.ConsumedHookTokens,
		WakeAt:           run.WakeAt,
		HookDeadline:     run.HookDeadline,
		Deadline:         run.Deadline,
		CreatedAt:        run.CreatedAt,
		Data:             data,
	}, nil
}

// RunRegistry implements the run registry over badgerhold
type RunRegistry struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunRegistry creates a badger-backed run registry
func NewRunRegistry(db *BadgerDB, logger arbor.ILogger) *RunRegistry {
	return &RunRegistry{db: db, logger: logger}
}

func (r *RunRegistry) CreateRun(ctx context.Context, run *models.Run) error {
	record, err := newRunRecord(run)
	if err != nil {
		return err
	}
	if err := r.db.Store().Insert(run.ID, record); err != nil {
		if err == badgerhold.ErrKeyExists {
			return models.ConflictError("run %s already exists", run.ID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (r *RunRegistry) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var record runRecord
	if err := r.db.Store().Get(runID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NotFoundError("run %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return models.RunFromJSON(record.Data)
}

func (r *RunRegistry) UpdateRun(ctx context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now()
	record, err := newRunRecord(run)
	if err != nil {
		return err
	}
	if err := r.db.Store().Update(run.ID, record); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NotFoundError("run %s", run.ID)
		}
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (r *RunRegistry) ListRuns(ctx context.Context, opts *interfaces.RunListOptions) ([]*models.Run, error) {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(string(opts.Status))
		}
		if opts.WakeBefore != nil {
			query = query.And("WakeAt").Ne(nil)
		}
		if opts.HookDeadlineBefore != nil {
			query = query.And("HookDeadline").Ne(nil)
		}
		if opts.DeadlineBefore != nil {
			query = query.And("Deadline").Ne(nil)
		}
		query = query.SortBy("CreatedAt").Reverse()
		if opts.Limit > 0 {
			// Time filters are applied after decode, so limit only when no
			// post-filter is in play.
			if opts.WakeBefore == nil && opts.HookDeadlineBefore == nil && opts.DeadlineBefore == nil {
				query = query.Limit(opts.Limit)
				if opts.Offset > 0 {
					query = query.Skip(opts.Offset)
				}
			}
		}
	}

	var records []runRecord
	if err := r.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*models.Run, 0, len(records))
	for _, record := range records {
		if opts != nil {
			if opts.WakeBefore != nil && (record.WakeAt == nil || record.WakeAt.After(*opts.WakeBefore)) {
				continue
			}
			if opts.HookDeadlineBefore != nil && (record.HookDeadline == nil || record.HookDeadline.After(*opts.HookDeadlineBefore)) {
				continue
			}
			if opts.DeadlineBefore != nil && (record.Deadline == nil || record.Deadline.After(*opts.DeadlineBefore)) {
				continue
			}
		}
		run, err := models.RunFromJSON(record.Data)
		if err != nil {
			r.logger.Warn().Err(err).Str("run_id", record.ID).Msg("Skipping undecodable run record")
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (r *RunRegistry) FindRunByHookToken(ctx context.Context, token string) (*models.Run, error) {
	var records []runRecord
	if err := r.db.Store().Find(&records, badgerhold.Where("WaitingHookToken").Eq(token)); err != nil {
		return nil, fmt.Errorf("failed to query hook token: %w", err)
	}
	if len(records) > 0 {
		return models.RunFromJSON(records[0].Data)
	}

	// Fall back to consumed tokens so repeat signals stay idempotent
	if err := r.db.Store().Find(&records, badgerhold.Where("ConsumedTokens").Contains(token)); err != nil {
		return nil, fmt.Errorf("failed to query consumed tokens: %w", err)
	}
	if len(records) > 0 {
		return models.RunFromJSON(records[0].Data)
	}
	return nil, models.NotFoundError("no run waiting on token")
}
