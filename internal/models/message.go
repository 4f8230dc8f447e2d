package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageContext carries request-scoped values across the queue boundary
type MessageContext struct {
	RequestID string `json:"requestId,omitempty"`
}

// QueueMessage is the payload sent to a worker queue. Keep it small: just
// enough to run the handler and report back.
type QueueMessage struct {
	WorkerID   string         `json:"workerId"`
	JobID      string         `json:"jobId"`
	Input      map[string]any `json:"input,omitempty"`
	Context    MessageContext `json:"context,omitempty"`
	WebhookURL string         `json:"webhookUrl,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	// Receive count, maintained by the queue for poison-message bounds
	Receives int `json:"receives,omitempty"`
}

// ToJSON serialises the message for the queue
func (m *QueueMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return data, nil
}

// QueueMessageFromJSON deserialises a queue message
func QueueMessageFromJSON(data []byte) (*QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	return &msg, nil
}

// Webhook status values
const (
	WebhookStatusSuccess = "success"
	WebhookStatusError   = "error"
)

// WebhookPayload is posted to a job's webhook URL on terminal transition
type WebhookPayload struct {
	JobID    string         `json:"jobId"`
	WorkerID string         `json:"workerId"`
	Status   string         `json:"status"` // success | error
	Output   any            `json:"output,omitempty"`
	Error    *JobError      `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewWebhookPayload builds the terminal-transition payload for a job
func NewWebhookPayload(job *Job) *WebhookPayload {
	payload := &WebhookPayload{
		JobID:    job.ID,
		WorkerID: job.WorkerID,
		Metadata: job.Metadata,
	}
	if job.Status == JobStatusCompleted {
		payload.Status = WebhookStatusSuccess
		payload.Output = job.Output
	} else {
		payload.Status = WebhookStatusError
		payload.Error = job.Error
	}
	return payload
}

// Signal is an externally-supplied token with a payload, used to resume a
// paused run. Tokens are minted by callers, never by the runtime.
type Signal struct {
	Token     string         `json:"token"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
