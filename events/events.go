// Package events implements the coordinator's publish/subscribe hub for
// job and task lifecycle events, consumed by the admin API's SSE endpoint.
package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an Event.
type Kind int

const (
	KindJobSubmitted Kind = iota + 1
	KindJobProgress
	KindJobCompleted
	KindJobFailed
	KindJobTimedOut
	KindTaskAssigned
	KindTaskCompleted
	KindWorkerRegistered
	KindWorkerDead
)

func (k Kind) String() string {
	switch k {
	case KindJobSubmitted:
		return "JOB_SUBMITTED"
	case KindJobProgress:
		return "JOB_PROGRESS"
	case KindJobCompleted:
		return "JOB_COMPLETED"
	case KindJobFailed:
		return "JOB_FAILED"
	case KindJobTimedOut:
		return "JOB_TIMED_OUT"
	case KindTaskAssigned:
		return "TASK_ASSIGNED"
	case KindTaskCompleted:
		return "TASK_COMPLETED"
	case KindWorkerRegistered:
		return "WORKER_REGISTERED"
	case KindWorkerDead:
		return "WORKER_DEAD"
	default:
		return "UNKNOWN"
	}
}

// Event is one lifecycle notification. JobID and WorkerID are populated
// depending on Kind; a worker event leaves JobID empty and vice versa.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	JobID     string
	WorkerID  string
	Message   string
	Metadata  map[string]string
}

// Subscription is an active event stream, filtered by job id if JobIDFilter
// is non-empty.
type Subscription struct {
	ID           string
	JobIDFilter  string
	Channel      chan *Event
}

// Hub fans published events out to every subscriber whose filter matches.
// Slow consumers lose events rather than blocking publishers, the same
// trade-off DESIGN.md describes for the admin API's SSE stream.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	bufferSize    int
}

// NewHub creates a Hub whose per-subscriber channels hold bufferSize
// events before the hub starts dropping.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event stream, optionally filtered to one job id.
func (h *Hub) Subscribe(jobIDFilter string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		ID:          uuid.New().String(),
		JobIDFilter: jobIDFilter,
		Channel:     make(chan *Event, h.bufferSize),
	}
	h.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe closes and removes a subscription.
func (h *Hub) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscriptions[subscriptionID]; ok {
		close(sub.Channel)
		delete(h.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to every matching subscriber.
func (h *Hub) Publish(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if sub.JobIDFilter != "" && sub.JobIDFilter != event.JobID {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// PublishJobSubmitted publishes a job entering the dispatch engine.
func (h *Hub) PublishJobSubmitted(jobID, function string, numTasks int) {
	h.Publish(&Event{
		Kind:      KindJobSubmitted,
		Timestamp: time.Now(),
		JobID:     jobID,
		Message:   "job submitted",
		Metadata: map[string]string{
			"function":  function,
			"num_tasks": strconv.Itoa(numTasks),
		},
	})
}

// PublishJobProgress publishes a completed-task-count update for a job
// still in flight.
func (h *Hub) PublishJobProgress(jobID string, completed, total int) {
	h.Publish(&Event{
		Kind:      KindJobProgress,
		Timestamp: time.Now(),
		JobID:     jobID,
		Message:   "job progress",
		Metadata: map[string]string{
			"completed": strconv.Itoa(completed),
			"total":     strconv.Itoa(total),
		},
	})
}

// PublishJobCompleted publishes a job reaching JobSucceeded.
func (h *Hub) PublishJobCompleted(jobID string, duration time.Duration) {
	h.Publish(&Event{
		Kind:      KindJobCompleted,
		Timestamp: time.Now(),
		JobID:     jobID,
		Message:   "job completed",
		Metadata: map[string]string{
			"duration_seconds": strconv.FormatFloat(duration.Seconds(), 'f', 2, 64),
		},
	})
}

// PublishJobFailed publishes a job reaching JobFailedOutcome.
func (h *Hub) PublishJobFailed(jobID string, failedIndex int, reason string) {
	h.Publish(&Event{
		Kind:      KindJobFailed,
		Timestamp: time.Now(),
		JobID:     jobID,
		Message:   reason,
		Metadata: map[string]string{
			"failed_index": strconv.Itoa(failedIndex),
		},
	})
}

// PublishJobTimedOut publishes a job reaching JobTimedOut.
func (h *Hub) PublishJobTimedOut(jobID string, completed, total int) {
	h.Publish(&Event{
		Kind:      KindJobTimedOut,
		Timestamp: time.Now(),
		JobID:     jobID,
		Message:   "job timed out",
		Metadata: map[string]string{
			"completed": strconv.Itoa(completed),
			"total":     strconv.Itoa(total),
		},
	})
}

// PublishWorkerRegistered publishes a worker joining the pool.
func (h *Hub) PublishWorkerRegistered(workerID, name string) {
	h.Publish(&Event{
		Kind:      KindWorkerRegistered,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Message:   "worker registered",
		Metadata:  map[string]string{"name": name},
	})
}

// PublishWorkerDead publishes a worker leaving the pool.
func (h *Hub) PublishWorkerDead(workerID string, requeuedTasks int) {
	h.Publish(&Event{
		Kind:      KindWorkerDead,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Message:   "worker marked dead",
		Metadata: map[string]string{
			"requeued_tasks": strconv.Itoa(requeuedTasks),
		},
	})
}

// SubscriptionCount returns the number of active subscriptions.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}
