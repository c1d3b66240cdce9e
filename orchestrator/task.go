package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a task record's lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a bookkeeping record created by CreateTask. Records are tracked
// for status reporting; the Run methods dispatch descriptions directly and
// do not consume the task list.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskSpec names an agent and the task description to hand it. RunParallel
// and RunSequence take these in batches.
type TaskSpec struct {
	Agent       string `json:"agent"`
	Description string `json:"description"`
}

// TaskResult pairs an agent name with its output, preserving submission
// order in RunSequence results.
type TaskResult struct {
	Agent  string `json:"agent"`
	Output string `json:"output"`
}

func newTaskID() string {
	return uuid.New().String()[:8]
}
