package dispatch

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewJobInitializesResultSlots(t *testing.T) {
	inputs := []json.RawMessage{json.RawMessage("1"), json.RawMessage("2"), json.RawMessage("3")}
	job := newJob("job-1", "square", inputs, time.Now().Add(time.Second))

	if job.Remaining != len(inputs) {
		t.Errorf("expected Remaining to start at %d, got %d", len(inputs), job.Remaining)
	}
	if len(job.Results) != len(inputs) {
		t.Errorf("expected %d result slots, got %d", len(inputs), len(job.Results))
	}
	if job.isTerminal() {
		t.Error("a freshly created job should not be terminal")
	}
}

func TestJobTerminalStates(t *testing.T) {
	job := newJob("job-1", "square", nil, time.Now().Add(time.Second))
	for _, outcome := range []JobOutcome{JobSucceeded, JobFailedOutcome, JobTimedOut} {
		job.Outcome = outcome
		if !job.isTerminal() {
			t.Errorf("outcome %v should be terminal", outcome)
		}
	}
}

func TestTaskStateString(t *testing.T) {
	cases := map[TaskState]string{
		TaskPending:   "PENDING",
		TaskAssigned:  "ASSIGNED",
		TaskCompleted: "COMPLETED",
		TaskFailed:    "FAILED",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: want %q, got %q", state, want, got)
		}
	}
}

func TestWorkerLifecycleStateString(t *testing.T) {
	cases := map[WorkerLifecycleState]string{
		WorkerAwaitingRegister: "AWAITING_REGISTER",
		WorkerRegistered:       "REGISTERED",
		WorkerDead:             "DEAD",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: want %q, got %q", state, want, got)
		}
	}
}
