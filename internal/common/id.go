package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a unique run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewJobID generates a time-prefixed job ID so job keys sort by creation
// time in lexical scans.
// Format: job_<unix-millis>_<short-uuid>
func NewJobID() string {
	short := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), short)
}

// NewRequestID generates a unique request ID with the "req_" prefix
func NewRequestID() string {
	return "req_" + uuid.New().String()
}
