package synapse

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an orchestrated task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Artifact is one recorded step of an orchestration.
type Artifact struct {
	Type    string `json:"type"` // plan, contribution or synthesis
	Agent   string `json:"agent"`
	Round   int    `json:"round,omitempty"`
	Content string `json:"content"`
}

// Task tracks one Orchestrate call.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Artifacts   []Artifact     `json:"artifacts,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (t *Task) clone() Task {
	out := *t
	out.Artifacts = slices.Clone(t.Artifacts)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func (s *Synapse) newTask(description string) *Task {
	t := &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.tasksMu.Lock()
	s.tasks[t.ID] = t
	s.taskOrder = append(s.taskOrder, t.ID)
	s.tasksMu.Unlock()
	return t
}

// updateTask applies fn to the task under the registry lock.
func (s *Synapse) updateTask(t *Task, fn func(*Task)) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	fn(t)
}

// Tasks returns copies of all tasks in creation order
func (s *Synapse) Tasks() []Task {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	out := make([]Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id].clone())
	}
	return out
}

// Task returns a copy of the task with the given ID
func (s *Synapse) Task(id string) (Task, bool) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}
