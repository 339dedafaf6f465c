package workflow

import (
	"maps"
	"time"

	"github.com/muthuks2020/reasona/agent"
)

// StageStatus is the state of a stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageRetrying  StageStatus = "retrying"
	StageSucceeded StageStatus = "succeeded"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
	StageTimedOut  StageStatus = "timed_out"
)

// Terminal reports whether s ends a stage
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageSkipped, StageFailed, StageTimedOut:
		return true
	}
	return false
}

// Condition decides whether a stage runs. It receives a copy of the run
// context.
type Condition func(Context) bool

// Transform post-processes a stage's raw output before it is stored.
type Transform func(string) (string, error)

// Stage is one step of a workflow, bound to one agent and one prompt
// template.
type Stage struct {
	Name           string
	Agent          agent.Agent
	PromptTemplate string
	Condition      Condition
	Transform      Transform
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Timeout bounds each attempt separately. Zero means no limit.
	Timeout  time.Duration
	Metadata map[string]any
}

func (s *Stage) clone() *Stage {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// StageOption configures a stage added with AddStage.
type StageOption func(*Stage)

// WithCondition runs the stage only when cond holds
func WithCondition(cond Condition) StageOption {
	return func(s *Stage) { s.Condition = cond }
}

// WithTransform sets the output transform
func WithTransform(t Transform) StageOption {
	return func(s *Stage) { s.Transform = t }
}

// WithRetries sets the number of retries after a failed attempt
func WithRetries(n int) StageOption {
	return func(s *Stage) { s.Retries = n }
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) StageOption {
	return func(s *Stage) { s.Timeout = d }
}

// WithStageMetadata attaches a metadata entry to the stage
func WithStageMetadata(key string, value any) StageOption {
	return func(s *Stage) {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any)
		}
		s.Metadata[key] = value
	}
}

// StageResult is the outcome of one stage in a run.
type StageResult struct {
	Stage      string      `json:"name"`
	Status     StageStatus `json:"status"`
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
	DurationMS float64     `json:"duration_ms"`
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is the persisted summary of a run.
type RunRecord struct {
	RunID           string         `json:"run_id"`
	Workflow        string         `json:"workflow"`
	Status          RunStatus      `json:"status"`
	Input           map[string]any `json:"input,omitempty"`
	Output          string         `json:"output,omitempty"`
	Stages          []StageResult  `json:"stages"`
	TotalDurationMS float64        `json:"total_duration_ms"`
	Timestamp       time.Time      `json:"timestamp"`
}

// RunResult is returned by Run. Context holds the inputs plus the output
// of every stage that succeeded.
type RunResult struct {
	RunRecord
	Context Context `json:"context"`
}
