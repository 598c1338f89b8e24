package dispatch

import "fmt"

// JobFailedError is raised from Map when a task reports TASK_ERROR (or
// exhausts its attempt cap): the map contract is all-or-nothing, so no
// partial result vector is ever returned alongside it.
type JobFailedError struct {
	Index   int
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("dispatch: job failed at index %d: %s", e.Index, e.Message)
}

// JobTimeoutError is raised from Map when the deadline elapses before every
// task completes.
type JobTimeoutError struct {
	Completed int
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("dispatch: job timed out with %d task(s) completed", e.Completed)
}
