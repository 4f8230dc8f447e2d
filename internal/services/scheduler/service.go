package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/orchestrator"
)

// Service runs the maintenance sweeps: waking slept runs, expiring hook and
// plan deadlines, and reaping expired job records for backends without
// native TTL.
type Service struct {
	engine *orchestrator.Engine
	jobs   interfaces.JobStore
	config *common.Config
	cron   *cron.Cron
	logger arbor.ILogger
	mu     sync.Mutex
	busy   bool
}

// NewService creates the maintenance scheduler
func NewService(logger arbor.ILogger, config *common.Config, engine *orchestrator.Engine, jobs interfaces.JobStore) *Service {
	return &Service{
		engine: engine,
		jobs:   jobs,
		config: config,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start registers the sweeps and launches the cron loop. Timer wakes run
// every few seconds so short sleeps resume promptly; retention sweeps run
// hourly.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc("*/5 * * * * *", s.sweepRuns); err != nil {
		return fmt.Errorf("failed to schedule run sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("0 0 * * * *", s.sweepJobs); err != nil {
		return fmt.Errorf("failed to schedule job retention sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for in-flight sweeps
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// sweepRuns wakes due timers and fails expired runs. Overlapping sweeps
// are skipped.
func (s *Service) sweepRuns() {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	woken := s.engine.WakeDueRuns(ctx)
	hooks := s.engine.ExpireHooks(ctx)
	deadlines := s.engine.ExpireDeadlines(ctx)

	if woken > 0 || hooks > 0 || deadlines > 0 {
		s.logger.Info().
			Int("woken", woken).
			Int("expired_hooks", hooks).
			Int("expired_deadlines", deadlines).
			Msg("Run sweep finished")
	}
}

// sweepJobs deletes terminal jobs past the retention window. Backends with
// native expiry make this a no-op.
func (s *Service) sweepJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ttl := s.config.Storage.JobTTL.Std()
	if ttl <= 0 {
		return
	}
	olderThan := time.Now().Add(-ttl)
	deleted, err := s.jobs.DeleteExpiredJobs(ctx, olderThan)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Job retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Expired job records deleted")
	}
}
