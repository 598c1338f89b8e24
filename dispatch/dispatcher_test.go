package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeWorker is an in-memory Sender that hands every assignment to a
// caller-supplied callback instead of touching a socket.
type fakeWorker struct {
	mu      sync.Mutex
	d       *Dispatcher
	id      string
	fail    bool
	onAssign func(taskID, function string, arg []byte)
}

func (f *fakeWorker) SendTaskAssignment(taskID, function string, arg []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("connection lost")
	}
	if f.onAssign != nil {
		f.onAssign(taskID, function, arg)
	}
	return nil
}

func registerFake(d *Dispatcher, id string, slots int) *fakeWorker {
	fw := &fakeWorker{d: d, id: id}
	d.RegisterWorker(id, id, "127.0.0.1:0", slots, fw)
	return fw
}

// fakeMetrics records every MetricsRecorder call it receives so tests can
// assert on the job-outcome accounting without a Prometheus registry.
type fakeMetrics struct {
	noopMetrics

	mu       sync.Mutex
	started  int
	finished int
	outcomes []string
}

func (f *fakeMetrics) JobStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeMetrics) JobFinished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
}

func (f *fakeMetrics) RecordJobOutcome(outcome string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func waitForDone(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for condition")
	}
}

func TestMapSucceedsAcrossWorkers(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	var mu sync.Mutex
	seen := map[string]string{}

	echo := func(id string) *fakeWorker {
		return registerFake(d, id, 2)
	}
	w1 := echo("w1")
	w2 := echo("w2")
	assign := func(fw *fakeWorker) {
		fw.onAssign = func(taskID, function string, arg []byte) {
			mu.Lock()
			seen[taskID] = fw.id
			mu.Unlock()
			go d.HandleTaskResult(fw.id, taskID, arg)
		}
	}
	assign(w1)
	assign(w2)

	inputs := make([]json.RawMessage, 6)
	for i := range inputs {
		inputs[i] = json.RawMessage(fmt.Sprintf("%d", i))
	}

	results, err := d.Map("double", inputs, 2*time.Second)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if string(r) != string(inputs[i]) {
			t.Errorf("result %d: want %s, got %s", i, inputs[i], r)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(inputs) {
		t.Errorf("expected every task to be observed exactly once, saw %d", len(seen))
	}
}

func TestMapWithNoInputsReturnsImmediately(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	done := make(chan struct{})
	var results []json.RawMessage
	var err error
	go func() {
		results, err = d.Map("double", []json.RawMessage{}, 0)
		close(done)
	}()

	waitForDone(t, done, time.Second)
	if err != nil {
		t.Fatalf("expected no error for a zero-input job, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected an empty result vector, got %v", results)
	}
}

func TestMapRecordsJobOutcomeMetrics(t *testing.T) {
	fm := &fakeMetrics{}
	d := New(0, fm, nil)
	defer d.Stop()

	w := registerFake(d, "w1", 4)
	w.onAssign = func(taskID, function string, arg []byte) {
		go d.HandleTaskResult("w1", taskID, arg)
	}

	if _, err := d.Map("double", []json.RawMessage{json.RawMessage("1")}, 2*time.Second); err != nil {
		t.Fatalf("Map returned error: %v", err)
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.started != 1 || fm.finished != 1 {
		t.Errorf("expected one JobStarted and one JobFinished, got %d/%d", fm.started, fm.finished)
	}
	if len(fm.outcomes) != 1 || fm.outcomes[0] != "succeeded" {
		t.Errorf("expected a single \"succeeded\" outcome, got %v", fm.outcomes)
	}
}

func TestMapFailsFastOnTaskError(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	w := registerFake(d, "w1", 4)
	w.onAssign = func(taskID, function string, arg []byte) {
		var n int
		json.Unmarshal(arg, &n)
		if n == 2 {
			go d.HandleTaskError("w1", taskID, "boom")
			return
		}
		go d.HandleTaskResult("w1", taskID, arg)
	}

	inputs := []json.RawMessage{
		json.RawMessage("0"), json.RawMessage("1"), json.RawMessage("2"),
		json.RawMessage("3"), json.RawMessage("4"),
	}

	_, err := d.Map("maybe_fail", inputs, 2*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected *JobFailedError, got %T: %v", err, err)
	}
	if jfe.Index != 2 {
		t.Errorf("expected failure at index 2, got %d", jfe.Index)
	}
}

func TestMapTimesOutWithPartialProgress(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	w := registerFake(d, "w1", 1)
	w.onAssign = func(taskID, function string, arg []byte) {
		var n int
		json.Unmarshal(arg, &n)
		if n == 0 {
			go d.HandleTaskResult("w1", taskID, arg)
		}
		// the second task is simply never answered
	}

	inputs := []json.RawMessage{json.RawMessage("0"), json.RawMessage("1")}
	_, err := d.Map("slow", inputs, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var jte *JobTimeoutError
	if !errors.As(err, &jte) {
		t.Fatalf("expected *JobTimeoutError, got %T: %v", err, err)
	}
	if jte.Completed != 1 {
		t.Errorf("expected 1 completed task at timeout, got %d", jte.Completed)
	}
}

func TestDeadWorkerRequeuesToFront(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	assigned := make(chan string, 10)
	w1 := registerFake(d, "w1", 1)
	w1.onAssign = func(taskID, function string, arg []byte) {
		assigned <- taskID
		// never completes; simulates a worker that vanishes mid-task
	}

	done := make(chan struct{})
	var results []json.RawMessage
	var mapErr error
	go func() {
		// With one slot on w1, the second task is still pending when w1 dies.
		inputs := []json.RawMessage{json.RawMessage("0"), json.RawMessage("1")}
		results, mapErr = d.Map("noop", inputs, 2*time.Second)
		close(done)
	}()

	var firstTask string
	select {
	case firstTask = <-assigned:
	case <-time.After(time.Second):
		t.Fatal("first assignment never happened")
	}

	d.MarkWorkerDead("w1")

	w2 := registerFake(d, "w2", 1)
	var w2Assigned int // only touched by the dispatcher's assignment goroutine
	w2.onAssign = func(taskID, function string, arg []byte) {
		w2Assigned++
		if w2Assigned == 1 && taskID != firstTask {
			t.Errorf("expected the requeued task %s to be reassigned ahead of the pending one, got %s", firstTask, taskID)
		}
		go d.HandleTaskResult("w2", taskID, arg)
	}

	waitForDone(t, done, 2*time.Second)
	if mapErr != nil {
		t.Fatalf("expected the requeued task to eventually succeed, got %v", mapErr)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestMaxTaskAttemptsExceeded(t *testing.T) {
	d := New(1, nil, nil)
	defer d.Stop()

	w := registerFake(d, "w1", 1)
	w.onAssign = func(taskID, function string, arg []byte) {
		go d.MarkWorkerDead("w1")
		// Re-register so there's always a slot, but the task's single
		// permitted attempt has already been spent.
		registerFake(d, "w2", 1)
	}

	inputs := []json.RawMessage{json.RawMessage("0")}
	_, err := d.Map("flaky", inputs, 2*time.Second)
	if err == nil {
		t.Fatal("expected an error once the attempt cap was exceeded")
	}
	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected *JobFailedError, got %T: %v", err, err)
	}
}

func TestStatsExactPerWorkerBreakdown(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	w := registerFake(d, "w1", 2)
	w.onAssign = func(taskID, function string, arg []byte) {
		d.HandleTaskResult("w1", taskID, arg)
	}

	inputs := []json.RawMessage{json.RawMessage("1"), json.RawMessage("2")}
	if _, err := d.Map("noop", inputs, time.Second); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	stats := d.Stats()
	if stats.TasksCompleted != 2 {
		t.Errorf("expected 2 completed tasks, got %d", stats.TasksCompleted)
	}
	if stats.RegisteredWorkers != 1 {
		t.Errorf("expected 1 registered worker, got %d", stats.RegisteredWorkers)
	}
	if len(stats.Workers) != 1 || stats.Workers[0].Completed != 2 {
		t.Errorf("expected worker w1 to show 2 completed tasks, got %+v", stats.Workers)
	}
}

func TestLateResultAfterJobFailureIsDropped(t *testing.T) {
	d := New(0, nil, nil)
	defer d.Stop()

	var lateTaskID string
	w := registerFake(d, "w1", 2)
	var i int
	w.onAssign = func(taskID, function string, arg []byte) {
		if i == 0 {
			lateTaskID = taskID
			i++
			return // leave the first task in flight, unanswered for now
		}
		go d.HandleTaskError("w1", taskID, "fatal")
	}

	inputs := []json.RawMessage{json.RawMessage("0"), json.RawMessage("1")}
	_, err := d.Map("fails", inputs, time.Second)
	if err == nil {
		t.Fatal("expected job failure")
	}

	// The late result for the first task arrives after the job is already
	// gone; it must not panic and must not resurrect the job.
	d.HandleTaskResult("w1", lateTaskID, json.RawMessage("0"))

	stats := d.Stats()
	if len(stats.Workers) != 1 || stats.Workers[0].InFlight != 0 {
		t.Errorf("expected the late result to still free the worker's slot, got %+v", stats.Workers)
	}
}
