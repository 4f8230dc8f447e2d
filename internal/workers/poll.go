package workers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// Runtime poll defaults, used when neither step nor plan config sets a value
const (
	DefaultPollInterval   = 3 * time.Second
	DefaultPollTimeout    = 10 * time.Minute
	DefaultPollMaxRetries = 200
)

// PollSettings is the resolved polling configuration for one awaited job
type PollSettings struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// ResolvePoll merges poll config by precedence: step over plan over the
// runtime defaults.
func ResolvePoll(step, plan *models.PollConfig, defaults *common.WorkersConfig) PollSettings {
	settings := PollSettings{
		Interval:   DefaultPollInterval,
		Timeout:    DefaultPollTimeout,
		MaxRetries: DefaultPollMaxRetries,
	}
	if defaults != nil {
		if defaults.PollInterval > 0 {
			settings.Interval = defaults.PollInterval.Std()
		}
		if defaults.PollTimeout > 0 {
			settings.Timeout = defaults.PollTimeout.Std()
		}
		if defaults.PollMaxRetries > 0 {
			settings.MaxRetries = defaults.PollMaxRetries
		}
	}
	for _, cfg := range []*models.PollConfig{plan, step} {
		if cfg == nil {
			continue
		}
		if cfg.IntervalMs > 0 {
			settings.Interval = time.Duration(cfg.IntervalMs) * time.Millisecond
		}
		if cfg.TimeoutMs > 0 {
			settings.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		if cfg.MaxRetries > 0 {
			settings.MaxRetries = cfg.MaxRetries
		}
	}
	return settings
}

// AwaitJob polls the job store until the job reaches a terminal status, the
// settings are exhausted, or ctx is cancelled. Poll pacing uses a rate
// limiter so storage sees at most one read per interval.
func AwaitJob(ctx context.Context, store interfaces.JobStore, jobID string, settings PollSettings) (*models.Job, error) {
	deadline := time.Now().Add(settings.Timeout)
	limiter := rate.NewLimiter(rate.Every(settings.Interval), 1)

	for attempt := 0; attempt < settings.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, models.ErrCancelled
		}
		if time.Now().After(deadline) {
			break
		}

		job, err := store.GetJob(ctx, jobID)
		if err != nil {
			if models.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}
	return nil, models.TimeoutError("job %s did not complete within %s", jobID, settings.Timeout)
}
