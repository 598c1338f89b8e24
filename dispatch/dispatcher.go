// Package dispatch implements the coordinator's job-decomposition,
// task-assignment, and result-collection engine: the ordered
// map(function, inputs) operation described in SPEC_FULL.md §4.3.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dispatcher owns the worker table, the task/job indexes, and the FIFO
// pending queue. Every field below is guarded by mu; the only code that
// runs outside the lock is the actual Sender.SendTaskAssignment call, so
// the lock is never held across socket I/O.
type Dispatcher struct {
	mu sync.Mutex

	workers map[string]*WorkerRecord
	tasks   map[string]*Task
	jobs    map[string]*Job
	pending []*Task

	wake   chan struct{}
	stopCh chan struct{}

	tasksCompletedTotal uint64
	maxTaskAttempts     int

	metrics MetricsRecorder
	events  EventPublisher
}

// New constructs a Dispatcher and starts its assignment loop. maxTaskAttempts
// of 0 means a task may be retried indefinitely, matching SPEC_FULL.md's
// resolution of the original's unbounded-retry Open Question. A nil metrics
// recorder or events publisher is replaced with a no-op implementation.
func New(maxTaskAttempts int, metrics MetricsRecorder, events EventPublisher) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if events == nil {
		events = noopEvents{}
	}
	d := &Dispatcher{
		workers:         make(map[string]*WorkerRecord),
		tasks:           make(map[string]*Task),
		jobs:            make(map[string]*Job),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		maxTaskAttempts: maxTaskAttempts,
		metrics:         metrics,
		events:          events,
	}
	go d.assignLoop()
	return d
}

// Stop halts the assignment loop. It does not touch existing worker or job
// state; in-flight Map calls run to their own completion or timeout.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

// RegisterWorker inserts a newly-registered worker into the table and
// returns its record. Called by the session layer once REGISTER_WORKER has
// been accepted.
func (d *Dispatcher) RegisterWorker(workerID, name, endpoint string, maxConcurrentTasks int, send Sender) *WorkerRecord {
	now := time.Now()
	w := &WorkerRecord{
		WorkerID:           workerID,
		Name:               name,
		Endpoint:           endpoint,
		MaxConcurrentTasks: maxConcurrentTasks,
		AssignedTasks:      make(map[string]struct{}),
		State:              WorkerRegistered,
		RegisteredAt:       now,
		LastHeartbeatAt:    now,
		send:               send,
	}

	d.mu.Lock()
	d.workers[workerID] = w
	d.mu.Unlock()

	d.metrics.WorkerRegistered()
	d.events.PublishWorkerRegistered(workerID, name)
	d.signalWake()
	return w
}

// Heartbeat records a worker's self-reported liveness and counters. It
// returns false if the worker is unknown or already marked dead, in which
// case the caller should treat the heartbeat as stale and ignore it.
func (d *Dispatcher) Heartbeat(workerID string, reportedInFlight int, reportedCompletedCount uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[workerID]
	if !ok || w.State != WorkerRegistered {
		return false
	}
	w.LastHeartbeatAt = time.Now()
	w.ReportedInFlight = reportedInFlight
	w.ReportedCompletedCount = reportedCompletedCount
	return true
}

// SweepDeadWorkers marks every registered worker whose last heartbeat is
// older than livenessWindow as dead, re-queueing their in-flight tasks. It
// is meant to be called on a ticker by the coordinator's supervisory
// goroutine.
func (d *Dispatcher) SweepDeadWorkers(livenessWindow time.Duration) {
	now := time.Now()

	d.mu.Lock()
	var dead []string
	for id, w := range d.workers {
		if w.State == WorkerRegistered && now.Sub(w.LastHeartbeatAt) > livenessWindow {
			dead = append(dead, id)
		}
	}
	d.mu.Unlock()

	for _, id := range dead {
		d.MarkWorkerDead(id)
	}
}

// MarkWorkerDead transitions a worker to DEAD and re-queues every task it
// held in-flight onto the front of the pending queue, in their original
// index order, so a dead worker never loses a caller's place in line.
func (d *Dispatcher) MarkWorkerDead(workerID string) {
	d.mu.Lock()

	w, ok := d.workers[workerID]
	if !ok || w.State == WorkerDead {
		d.mu.Unlock()
		return
	}
	w.State = WorkerDead

	var requeue []*Task
	for taskID := range w.AssignedTasks {
		t, ok := d.tasks[taskID]
		if !ok || t.State != TaskAssigned {
			continue
		}
		t.State = TaskPending
		t.WorkerID = ""
		requeue = append(requeue, t)
	}
	sort.Slice(requeue, func(i, j int) bool { return requeue[i].Index < requeue[j].Index })

	w.InFlight = 0
	w.AssignedTasks = make(map[string]struct{})
	d.pending = append(requeue, d.pending...)
	depth := len(d.pending)

	d.mu.Unlock()

	d.metrics.WorkerDead()
	for range requeue {
		d.metrics.TaskRequeued()
	}
	d.metrics.PendingQueueDepth(depth)
	d.events.PublishWorkerDead(workerID, len(requeue))
	d.signalWake()
}

// acceptTerminal validates that (workerID, taskID) names a task currently
// assigned to that worker, frees the worker's slot, and returns the task
// and its job (nil if the job has already been destroyed). Must be called
// with mu held. A false return means the report is stale — a duplicate, a
// report for a task reassigned elsewhere, or one that arrived after the
// job was already abandoned — and must be dropped without side effects.
func (d *Dispatcher) acceptTerminal(workerID, taskID string) (*Task, *Job, *WorkerRecord, bool) {
	w, ok := d.workers[workerID]
	if !ok {
		return nil, nil, nil, false
	}
	t, ok := d.tasks[taskID]
	if !ok || t.WorkerID != workerID || t.State != TaskAssigned {
		return nil, nil, nil, false
	}

	w.InFlight--
	delete(w.AssignedTasks, taskID)
	return t, d.jobs[t.JobID], w, true
}

// HandleTaskResult folds a worker's TASK_RESULT into its job. A result for
// a task whose job has already reached a terminal state (or been
// destroyed) only frees the reporting worker's slot; it has no further
// effect, matching the abandoned-in-flight-task behavior SPEC_FULL.md
// requires after a sibling task fails or the job times out.
func (d *Dispatcher) HandleTaskResult(workerID, taskID string, value json.RawMessage) {
	d.mu.Lock()
	t, job, w, ok := d.acceptTerminal(workerID, taskID)
	if !ok {
		d.mu.Unlock()
		return
	}
	t.State = TaskCompleted

	if job != nil && !job.isTerminal() {
		job.Results[t.Index] = value
		job.Remaining--
		w.CompletedCount++
		d.tasksCompletedTotal++
		if job.Remaining == 0 {
			job.Outcome = JobSucceeded
			close(job.done)
		}
	}
	d.mu.Unlock()

	d.metrics.TaskCompleted()
	d.signalWake()
}

// HandleTaskError folds a worker's TASK_ERROR into its job. The map
// contract is all-or-nothing: a single TASK_ERROR fails the entire job,
// discarding every other still-pending task for it.
func (d *Dispatcher) HandleTaskError(workerID, taskID, message string) {
	d.mu.Lock()
	t, job, _, ok := d.acceptTerminal(workerID, taskID)
	if !ok {
		d.mu.Unlock()
		return
	}
	t.State = TaskFailed

	if job != nil && !job.isTerminal() {
		job.Outcome = JobFailedOutcome
		job.FailureIndex = t.Index
		job.FailureMessage = message
		d.discardPendingForJob(job.JobID)
		close(job.done)
	}
	d.mu.Unlock()

	d.metrics.TaskFailed()
	d.signalWake()
}

// discardPendingForJob removes every still-pending task belonging to jobID
// from the queue. Must be called with mu held.
func (d *Dispatcher) discardPendingForJob(jobID string) {
	kept := d.pending[:0]
	for _, t := range d.pending {
		if t.JobID == jobID {
			t.State = TaskFailed
			continue
		}
		kept = append(kept, t)
	}
	d.pending = kept
}

// Map decomposes inputs into one task per element, assigns them across the
// worker pool as slots free up, and blocks until every task completes, one
// reports TASK_ERROR, or timeout elapses. Results preserve input order
// regardless of completion order.
func (d *Dispatcher) Map(function string, inputs []json.RawMessage, timeout time.Duration) ([]json.RawMessage, error) {
	if len(inputs) == 0 {
		return []json.RawMessage{}, nil
	}

	jobID := uuid.New().String()
	startedAt := time.Now()
	job := newJob(jobID, function, inputs, startedAt.Add(timeout))

	d.mu.Lock()
	d.jobs[jobID] = job
	for i, arg := range inputs {
		taskID := uuid.New().String()
		t := &Task{TaskID: taskID, JobID: jobID, Index: i, Function: function, Arg: arg, State: TaskPending}
		d.tasks[taskID] = t
		job.TaskIDs[i] = taskID
		d.pending = append(d.pending, t)
	}
	depth := len(d.pending)
	d.mu.Unlock()

	d.metrics.PendingQueueDepth(depth)
	d.metrics.JobStarted()
	d.events.PublishJobSubmitted(jobID, function, len(inputs))
	d.signalWake()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-job.done:
	case <-timerC:
		d.mu.Lock()
		if !job.isTerminal() {
			job.Outcome = JobTimedOut
			job.CompletedAtFail = len(inputs) - job.Remaining
			d.discardPendingForJob(jobID)
			close(job.done)
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	outcome := job.Outcome
	results := job.Results
	failIndex := job.FailureIndex
	failMessage := job.FailureMessage
	completedAtFail := job.CompletedAtFail
	delete(d.jobs, jobID)
	d.mu.Unlock()

	duration := time.Since(startedAt)
	d.metrics.JobFinished()

	switch outcome {
	case JobSucceeded:
		d.metrics.RecordJobOutcome("succeeded", duration.Seconds())
		d.events.PublishJobCompleted(jobID, duration)
		return results, nil
	case JobFailedOutcome:
		d.metrics.RecordJobOutcome("failed", duration.Seconds())
		d.events.PublishJobFailed(jobID, failIndex, failMessage)
		return nil, &JobFailedError{Index: failIndex, Message: failMessage}
	case JobTimedOut:
		d.metrics.RecordJobOutcome("timeout", duration.Seconds())
		d.events.PublishJobTimedOut(jobID, completedAtFail, len(inputs))
		return nil, &JobTimeoutError{Completed: completedAtFail}
	default:
		return nil, fmt.Errorf("dispatch: job %s ended in non-terminal state", jobID)
	}
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// assignLoop is the dispatcher's single assignment actor: it wakes on any
// change that might make a new assignment possible (a worker registers, a
// task frees up, a job submits new tasks) and drains every assignable
// (worker, task) pair before going back to sleep.
func (d *Dispatcher) assignLoop() {
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
		}
		for d.tryAssignOne() {
		}
	}
}

// pickWorker selects the least-loaded worker with a free slot, breaking
// ties by earliest registration. Must be called with mu held.
func (d *Dispatcher) pickWorker() *WorkerRecord {
	var best *WorkerRecord
	for _, w := range d.workers {
		if !w.hasFreeSlot() {
			continue
		}
		if best == nil ||
			w.InFlight < best.InFlight ||
			(w.InFlight == best.InFlight && w.RegisteredAt.Before(best.RegisteredAt)) {
			best = w
		}
	}
	return best
}

// tryAssignOne performs at most one assignment (or one attempt-cap
// failure) and reports whether it did anything, so assignLoop knows
// whether to keep draining. The only work done outside the lock is the
// actual send.
func (d *Dispatcher) tryAssignOne() bool {
	d.mu.Lock()

	if len(d.pending) == 0 {
		d.mu.Unlock()
		return false
	}
	w := d.pickWorker()
	if w == nil {
		d.mu.Unlock()
		return false
	}

	t := d.pending[0]

	if d.maxTaskAttempts > 0 && t.Attempts+1 > d.maxTaskAttempts {
		d.pending = d.pending[1:]
		t.State = TaskFailed
		if job := d.jobs[t.JobID]; job != nil && !job.isTerminal() {
			job.Outcome = JobFailedOutcome
			job.FailureIndex = t.Index
			job.FailureMessage = "max task attempts exceeded"
			d.discardPendingForJob(job.JobID)
			close(job.done)
		}
		d.mu.Unlock()
		d.metrics.TaskFailed()
		return true
	}

	d.pending = d.pending[1:]
	t.State = TaskAssigned
	t.WorkerID = w.WorkerID
	t.Attempts++
	w.InFlight++
	w.AssignedTasks[t.TaskID] = struct{}{}
	send := w.send
	taskID, function, arg := t.TaskID, t.Function, []byte(t.Arg)
	depth := len(d.pending)

	d.mu.Unlock()

	d.metrics.PendingQueueDepth(depth)

	if err := send.SendTaskAssignment(taskID, function, arg); err != nil {
		// The session's own read loop will independently notice the broken
		// connection, but marking the worker dead here avoids leaving this
		// task stuck ASSIGNED until the next heartbeat sweep.
		d.MarkWorkerDead(w.WorkerID)
		return true
	}
	d.metrics.TaskAssigned()
	return true
}
