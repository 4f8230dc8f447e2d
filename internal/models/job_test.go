package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/relay/internal/common"
)

func TestJobPatchApply_StatusProgression(t *testing.T) {
	job := NewJob("job_1", "mailer", nil, nil)
	assert.Equal(t, JobStatusQueued, job.Status)

	(&JobPatch{Status: JobStatusRunning}).Apply(job)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Nil(t, job.CompletedAt)

	(&JobPatch{Status: JobStatusCompleted, Output: map[string]any{"sent": true}}).Apply(job)
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, map[string]any{"sent": true}, job.Output)
}

func TestJobPatchApply_TerminalIsFinal(t *testing.T) {
	job := NewJob("job_1", "mailer", nil, nil)
	(&JobPatch{Status: JobStatusCompleted, Output: "done"}).Apply(job)
	completedAt := job.CompletedAt

	(&JobPatch{Status: JobStatusFailed, Error: &JobError{Message: "late"}}).Apply(job)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Nil(t, job.Error)
	assert.Equal(t, completedAt, job.CompletedAt)
}

func TestJobPatchApply_MetadataMerges(t *testing.T) {
	job := NewJob("job_1", "mailer", nil, map[string]any{"a": 1, "b": 1})

	(&JobPatch{Metadata: map[string]any{"b": 2, "c": 3}}).Apply(job)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, job.Metadata)
}

func TestJobPatchApply_ZeroFieldsUntouched(t *testing.T) {
	job := NewJob("job_1", "mailer", map[string]any{"to": "x"}, nil)
	job.Status = JobStatusRunning

	(&JobPatch{}).Apply(job)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, "mailer", job.WorkerID)
	assert.Equal(t, map[string]any{"to": "x"}, job.Input)
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobParentJobID(t *testing.T) {
	job := NewJob("job_2", "mailer", nil, map[string]any{"parentJobId": "job_1"})
	assert.Equal(t, "job_1", job.ParentJobID())

	orphan := NewJob("job_3", "mailer", nil, nil)
	assert.Equal(t, "", orphan.ParentJobID())
}

func TestNewWebhookPayload_Success(t *testing.T) {
	job := NewJob("job_1", "mailer", nil, map[string]any{"runId": "run_1"})
	(&JobPatch{Status: JobStatusCompleted, Output: map[string]any{"sent": true}}).Apply(job)

	payload := NewWebhookPayload(job)
	assert.Equal(t, WebhookStatusSuccess, payload.Status)
	assert.Equal(t, job.Output, payload.Output)
	assert.Nil(t, payload.Error)
	assert.Equal(t, "run_1", payload.Metadata["runId"])
}

func TestNewWebhookPayload_Error(t *testing.T) {
	job := NewJob("job_1", "mailer", nil, nil)
	(&JobPatch{Status: JobStatusFailed, Error: &JobError{Message: "smtp refused"}}).Apply(job)

	payload := NewWebhookPayload(job)
	assert.Equal(t, WebhookStatusError, payload.Status)
	require.NotNil(t, payload.Error)
	assert.Equal(t, "smtp refused", payload.Error.Message)
}

func TestRunMarkCompleted(t *testing.T) {
	plan := &Plan{ID: "p", Steps: []Step{{Type: StepAgent, Agent: "echo"}}}
	run := NewRun("run_1", plan, nil, nil)
	run.WaitingHookToken = "tok"
	wake := time.Now()
	run.WakeAt = &wake

	run.MarkCompleted()
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Empty(t, run.WaitingHookToken)
	assert.Nil(t, run.WakeAt)
	assert.NotNil(t, run.CompletedAt)
}

func TestRunMarkFailed(t *testing.T) {
	plan := &Plan{ID: "p", Steps: []Step{{Type: StepAgent, Agent: "echo"}}}
	run := NewRun("run_1", plan, nil, nil)

	run.MarkFailed("bad-step", 2, ValidationError("boom"))
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, "bad-step", run.Error.Step)
	assert.Equal(t, 2, run.Error.Index)
	assert.Contains(t, run.Error.Message, "boom")
}

func TestNewRun_PlanTimeoutSetsDeadline(t *testing.T) {
	plan := &Plan{
		ID:      "p",
		Steps:   []Step{{Type: StepAgent, Agent: "echo"}},
		Timeout: common.Duration(5 * time.Minute),
	}
	run := NewRun("run_1", plan, nil, nil)
	require.NotNil(t, run.Deadline)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *run.Deadline, time.Second)
}

func TestRunResult_TracksPrevious(t *testing.T) {
	plan := &Plan{ID: "p", Steps: []Step{{Type: StepAgent, Agent: "echo"}}}
	run := NewRun("run_1", plan, nil, nil)
	assert.Nil(t, run.Result())

	run.Context.RecordStep("a", map[string]any{"n": 1})
	run.Context.RecordStep("b", map[string]any{"n": 2})
	assert.Equal(t, map[string]any{"n": 2}, run.Result())
}

func TestCursor_Clone(t *testing.T) {
	cursor := Cursor{{Index: 1}, {Index: 0, Branch: BranchThen}}
	clone := cursor.Clone()
	clone[0].Index = 9
	assert.Equal(t, 1, cursor[0].Index)
	assert.Equal(t, 1, cursor.Top())
}
