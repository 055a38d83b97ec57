package host

import (
	"time"
)

// ExecutionStats is a snapshot of one module's dispatch history.
// Reading stats never mutates them; callers wanting a fresh window use
// the host's explicit ResetStats.
type ExecutionStats struct {
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	Timeouts     int64         `json:"timeouts"`
	Skips        int64         `json:"skips"` // breaker-suppressed dispatches
	LastRuntime  time.Duration `json:"last_runtime_ns"`
	TotalRuntime time.Duration `json:"total_runtime_ns"`
	LastError    string        `json:"last_error,omitempty"`
}
