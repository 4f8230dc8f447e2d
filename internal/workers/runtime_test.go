package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/storage/memory"
)

// runtimeFixture bundles a runtime with its registry, job store and local
// queue dispatcher.
type runtimeFixture struct {
	runtime    *Runtime
	registry   *Registry
	dispatcher *Dispatcher
	jobs       *memory.JobStore
	queues     *queue.Manager
	config     *common.Config
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()

	jobs := memory.NewJobStore()
	queues := queue.NewManager(logger, config)
	t.Cleanup(queues.Close)
	registry := NewRegistry(logger)
	dispatcher := NewDispatcher(logger, config, queues, jobs)
	runtime := NewRuntime(logger, config, registry, jobs, dispatcher, nil)

	return &runtimeFixture{
		runtime:    runtime,
		registry:   registry,
		dispatcher: dispatcher,
		jobs:       jobs,
		queues:     queues,
		config:     config,
	}
}

func queueMessage(workerID, jobID string, input map[string]any) *models.QueueMessage {
	return &models.QueueMessage{
		WorkerID:  workerID,
		JobID:     jobID,
		Input:     input,
		Timestamp: time.Now(),
	}
}

func TestRuntimeProcess_Success(t *testing.T) {
	f := newRuntimeFixture(t)
	f.registry.Register(&Worker{
		ID: "doubler",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			n, _ := hc.Input["n"].(float64)
			return map[string]any{"n": n * 2}, nil
		},
	})

	msg := queueMessage("doubler", "job_1", map[string]any{"n": float64(21)})
	require.NoError(t, f.runtime.Process(context.Background(), msg))

	job, err := f.jobs.GetJob(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, map[string]any{"n": float64(42)}, job.Output)
	assert.NotNil(t, job.CompletedAt)
}

func TestRuntimeProcess_HandlerError(t *testing.T) {
	f := newRuntimeFixture(t)
	f.registry.Register(&Worker{
		ID: "broken",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			return nil, models.HandlerError("boom")
		},
	})

	msg := queueMessage("broken", "job_1", nil)
	err := f.runtime.Process(context.Background(), msg)
	require.Error(t, err)

	job, getErr := f.jobs.GetJob(context.Background(), "job_1")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, job.Error.Message, "boom")
	assert.Equal(t, "HandlerError", job.Error.Name)
}

func TestRuntimeProcess_PanicBecomesFailure(t *testing.T) {
	f := newRuntimeFixture(t)
	f.registry.Register(&Worker{
		ID: "panicky",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			panic("unexpected state")
		},
	})

	msg := queueMessage("panicky", "job_1", nil)
	err := f.runtime.Process(context.Background(), msg)
	require.Error(t, err)

	job, getErr := f.jobs.GetJob(context.Background(), "job_1")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error.Message, "panicked")
}

func TestRuntimeProcess_UnregisteredWorker(t *testing.T) {
	f := newRuntimeFixture(t)

	msg := queueMessage("ghost", "job_1", nil)
	err := f.runtime.Process(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))

	job, getErr := f.jobs.GetJob(context.Background(), "job_1")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "NotFoundError", job.Error.Name)
}

func TestRuntimeProcess_TerminalJobIsIdempotent(t *testing.T) {
	f := newRuntimeFixture(t)
	calls := 0
	f.registry.Register(&Worker{
		ID: "counter",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			calls++
			return map[string]any{}, nil
		},
	})

	require.NoError(t, f.jobs.SetJob(context.Background(), "job_1", &models.JobPatch{
		WorkerID: "counter",
		Status:   models.JobStatusCompleted,
	}))

	msg := queueMessage("counter", "job_1", nil)
	require.NoError(t, f.runtime.Process(context.Background(), msg))
	assert.Equal(t, 0, calls, "redelivered terminal job must not re-run the handler")
}

func TestRuntimeProcess_OutputValidation(t *testing.T) {
	f := newRuntimeFixture(t)
	f.registry.Register(&Worker{
		ID:             "strict",
		RequiredOutput: []string{"result"},
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			return map[string]any{"other": 1}, nil
		},
	})

	msg := queueMessage("strict", "job_1", nil)
	err := f.runtime.Process(context.Background(), msg)
	require.Error(t, err)

	job, getErr := f.jobs.GetJob(context.Background(), "job_1")
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "ValidationError", job.Error.Name)
	assert.Contains(t, job.Error.Message, "result")
}

func TestRuntimeProcess_DeliversWebhook(t *testing.T) {
	f := newRuntimeFixture(t)
	f.registry.Register(&Worker{
		ID: "notified",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			return map[string]any{"done": true}, nil
		},
	})

	received := make(chan models.WebhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	msg := queueMessage("notified", "job_1", nil)
	msg.WebhookURL = server.URL
	require.NoError(t, f.runtime.Process(context.Background(), msg))

	select {
	case payload := <-received:
		assert.Equal(t, "job_1", payload.JobID)
		assert.Equal(t, models.WebhookStatusSuccess, payload.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestHandlerContext_DispatchWorkerLinksChild(t *testing.T) {
	f := newRuntimeFixture(t)
	var childJobID string
	f.registry.Register(&Worker{
		ID: "parent",
		Handler: func(hc *HandlerContext) (map[string]any, error) {
			child, err := hc.DispatchWorker("child", map[string]any{"from": "parent"}, nil)
			if err != nil {
				return nil, err
			}
			childJobID = child.ID
			return map[string]any{"childJobId": child.ID}, nil
		},
	})

	msg := queueMessage("parent", "job_parent", nil)
	require.NoError(t, f.runtime.Process(context.Background(), msg))

	parent, err := f.jobs.GetJob(context.Background(), "job_parent")
	require.NoError(t, err)
	require.Len(t, parent.InternalJobs, 1)
	assert.Equal(t, childJobID, parent.InternalJobs[0].JobID)
	assert.Equal(t, "child", parent.InternalJobs[0].WorkerID)

	child, err := f.jobs.GetJob(context.Background(), childJobID)
	require.NoError(t, err)
	assert.Equal(t, "job_parent", child.ParentJobID())
}

func TestDispatcher_CreatesJobAndEnqueues(t *testing.T) {
	f := newRuntimeFixture(t)

	job, err := f.dispatcher.Dispatch(context.Background(), "upper", &DispatchOptions{
		Input:     map[string]any{"text": "hi"},
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "upper", job.WorkerID)

	q, err := f.queues.QueueFor("upper")
	require.NoError(t, err)
	msg, ack, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, ack(context.Background()))
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, "req-1", msg.Context.RequestID)
}

func TestDispatcher_ExplicitJobID(t *testing.T) {
	f := newRuntimeFixture(t)

	job, err := f.dispatcher.Dispatch(context.Background(), "upper", &DispatchOptions{JobID: "job_fixed"})
	require.NoError(t, err)
	assert.Equal(t, "job_fixed", job.ID)
}

func TestDispatcher_RejectsBadInput(t *testing.T) {
	f := newRuntimeFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	_, err = f.dispatcher.Dispatch(context.Background(), "upper", &DispatchOptions{Delay: -time.Second})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	_, err = f.dispatcher.Dispatch(context.Background(), "upper", &DispatchOptions{Delay: MaxDispatchDelay + time.Second})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestDispatcher_WebhookURLFromBase(t *testing.T) {
	f := newRuntimeFixture(t)
	f.config.Workers.WebhookBaseURL = "https://relay.example.com/"

	assert.Equal(t,
		"https://relay.example.com/workers/mailer/webhook",
		f.dispatcher.webhookURL("mailer", ""))
	assert.Equal(t, "https://explicit.example.com/cb", f.dispatcher.webhookURL("mailer", "https://explicit.example.com/cb"))

	f.config.Workers.WebhookBaseURL = ""
	assert.Equal(t, "", f.dispatcher.webhookURL("mailer", ""))
}
