package dispatch

import "encoding/json"

// TaskState is a task's position in its lifecycle. Invariant: at most one
// worker has a given task in Assigned state at any moment.
type TaskState int

const (
	TaskPending TaskState = iota + 1
	TaskAssigned
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskAssigned:
		return "ASSIGNED"
	case TaskCompleted:
		return "COMPLETED"
	case TaskFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Task is one (function, argument) unit, uniquely identified within its
// job. Index is its position in the job's input vector, preserved so the
// result can be written back to the right slot regardless of completion
// order.
type Task struct {
	TaskID   string
	JobID    string
	Index    int
	Function string
	Arg      json.RawMessage

	State    TaskState
	WorkerID string // empty unless State == TaskAssigned
	Attempts int    // incremented on every TASK_ASSIGNMENT send
}
