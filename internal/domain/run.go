package domain

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a settled state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunState tracks one run's progress. LastStep is monotonically
// non-decreasing within a run; Status never transitions backward.
type RunState struct {
	RunID    string    `json:"run_id,omitempty"`
	Status   RunStatus `json:"status"`
	LastStep int       `json:"last_step"`
	Error    string    `json:"error,omitempty"`
}

// ObserveStep advances the step cursor to step if it is larger. Returns true
// when the cursor moved, false for an already-seen (replayed) step. Steps
// are 1-based: the zero-value cursor means nothing observed yet, so a step
// numbered 0 is indistinguishable from a replay and is dropped.
func (s *RunState) ObserveStep(step int) bool {
	if step <= s.LastStep {
		return false
	}
	s.LastStep = step
	return true
}

// Thread is a stored conversation with identifying metadata.
type Thread struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Messages  []Message         `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Usage represents token usage for a run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
