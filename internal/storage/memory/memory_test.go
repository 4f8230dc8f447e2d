package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

func testRun(id string, status models.RunStatus) *models.Run {
	plan := &models.Plan{ID: "p", Steps: []models.Step{{Type: models.StepAgent, Agent: "util/echo"}}}
	run := models.NewRun(id, plan, nil, nil)
	run.Status = status
	return run
}

func TestRunRegistry_CreateConflict(t *testing.T) {
	r := NewRunRegistry()
	ctx := context.Background()

	require.NoError(t, r.CreateRun(ctx, testRun("run_1", models.RunStatusPending)))
	err := r.CreateRun(ctx, testRun("run_1", models.RunStatusPending))
	require.Error(t, err)
	assert.True(t, models.IsConflict(err))
}

func TestRunRegistry_GetMissing(t *testing.T) {
	r := NewRunRegistry()
	_, err := r.GetRun(context.Background(), "run_ghost")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestRunRegistry_ListFiltersByStatus(t *testing.T) {
	r := NewRunRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateRun(ctx, testRun("run_1", models.RunStatusPaused)))
	require.NoError(t, r.CreateRun(ctx, testRun("run_2", models.RunStatusCompleted)))
	require.NoError(t, r.CreateRun(ctx, testRun("run_3", models.RunStatusPaused)))

	paused, err := r.ListRuns(ctx, &interfaces.RunListOptions{Status: models.RunStatusPaused})
	require.NoError(t, err)
	assert.Len(t, paused, 2)

	all, err := r.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunRegistry_ListWakeBefore(t *testing.T) {
	r := NewRunRegistry()
	ctx := context.Background()

	due := testRun("run_due", models.RunStatusPaused)
	past := time.Now().Add(-time.Minute)
	due.WakeAt = &past
	require.NoError(t, r.CreateRun(ctx, due))

	later := testRun("run_later", models.RunStatusPaused)
	future := time.Now().Add(time.Hour)
	later.WakeAt = &future
	require.NoError(t, r.CreateRun(ctx, later))

	now := time.Now()
	runs, err := r.ListRuns(ctx, &interfaces.RunListOptions{
		Status:     models.RunStatusPaused,
		WakeBefore: &now,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_due", runs[0].ID)
}

func TestRunRegistry_ListLimitOffset(t *testing.T) {
	r := NewRunRegistry()
	ctx := context.Background()
	for _, id := range []string{"run_1", "run_2", "run_3"} {
		require.NoError(t, r.CreateRun(ctx, testRun(id, models.RunStatusCompleted)))
	}

	page, err := r.ListRuns(ctx, &interfaces.RunListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := r.ListRuns(ctx, &interfaces.RunListOptions{Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := r.ListRuns(ctx, &interfaces.RunListOptions{Offset: 9})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunRegistry_FindRunByHookToken(t *testing.T) {
	r := NewRunRegistry()
	ctx := context.Background()

	waiting := testRun("run_waiting", models.RunStatusPaused)
	waiting.WaitingHookToken = "tok-live"
	require.NoError(t, r.CreateRun(ctx, waiting))

	consumed := testRun("run_done", models.RunStatusCompleted)
	consumed.ConsumedHookTokens = []string{"tok-used"}
	require.NoError(t, r.CreateRun(ctx, consumed))

	found, err := r.FindRunByHookToken(ctx, "tok-live")
	require.NoError(t, err)
	assert.Equal(t, "run_waiting", found.ID)

	// Consumed tokens still resolve, so repeat signals can be answered
	found, err = r.FindRunByHookToken(ctx, "tok-used")
	require.NoError(t, err)
	assert.Equal(t, "run_done", found.ID)

	_, err = r.FindRunByHookToken(ctx, "tok-unknown")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestJobStore_SetAndUpdate(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	require.NoError(t, s.SetJob(ctx, "job_1", &models.JobPatch{
		WorkerID: "upper",
		Status:   models.JobStatusQueued,
		Input:    map[string]any{"text": "hi"},
	}))

	require.NoError(t, s.UpdateJob(ctx, "job_1", &models.JobPatch{Status: models.JobStatusRunning}))
	job, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, "upper", job.WorkerID)

	err = s.UpdateJob(ctx, "job_ghost", &models.JobPatch{Status: models.JobStatusRunning})
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestJobStore_GetReturnsCopy(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.SetJob(ctx, "job_1", &models.JobPatch{WorkerID: "upper", Status: models.JobStatusQueued}))

	job, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	job.Status = models.JobStatusFailed

	stored, err := s.GetJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestJobStore_ListJobsByWorker(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.SetJob(ctx, "job_1", &models.JobPatch{WorkerID: "upper", Status: models.JobStatusQueued}))
	require.NoError(t, s.SetJob(ctx, "job_2", &models.JobPatch{WorkerID: "upper", Status: models.JobStatusQueued}))
	require.NoError(t, s.SetJob(ctx, "job_3", &models.JobPatch{WorkerID: "mailer", Status: models.JobStatusQueued}))

	jobs, err := s.ListJobsByWorker(ctx, "upper")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestJobStore_DeleteExpiredJobs(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	require.NoError(t, s.SetJob(ctx, "job_old", &models.JobPatch{WorkerID: "upper", Status: models.JobStatusCompleted}))
	require.NoError(t, s.SetJob(ctx, "job_live", &models.JobPatch{WorkerID: "upper", Status: models.JobStatusRunning}))

	// Only terminal jobs past the cutoff are reaped
	deleted, err := s.DeleteExpiredJobs(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetJob(ctx, "job_old")
	assert.True(t, models.IsNotFound(err))
	_, err = s.GetJob(ctx, "job_live")
	assert.NoError(t, err)

	jobs, err := s.ListJobsByWorker(ctx, "upper")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
