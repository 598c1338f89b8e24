package dispatch

import "time"

// WorkerLifecycleState tracks a worker record through registration,
// liveness, and death. AwaitingRegister records never actually reach the
// table (a session only inserts a record once registration succeeds), but
// the type is kept for symmetry with the wire-level state machine in
// SPEC_FULL.md §4.2.
type WorkerLifecycleState int

const (
	WorkerAwaitingRegister WorkerLifecycleState = iota + 1
	WorkerRegistered
	WorkerDead
)

func (s WorkerLifecycleState) String() string {
	switch s {
	case WorkerAwaitingRegister:
		return "AWAITING_REGISTER"
	case WorkerRegistered:
		return "REGISTERED"
	case WorkerDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Sender is the session-layer hook a WorkerRecord uses to push frames to
// its worker without the dispatcher ever touching a socket directly.
type Sender interface {
	SendTaskAssignment(taskID, function string, arg []byte) error
}

// WorkerRecord is the dispatcher's view of one connected worker. It is
// owned exclusively by the dispatcher and mutated only under its lock.
type WorkerRecord struct {
	WorkerID           string
	Name               string
	Endpoint           string
	MaxConcurrentTasks int

	InFlight       int
	AssignedTasks  map[string]struct{}
	CompletedCount uint64

	State           WorkerLifecycleState
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time

	// ReportedInFlight/ReportedCompletedCount are the worker's own
	// self-reported heartbeat numbers, kept for diagnostics only. The
	// dispatcher's InFlight/CompletedCount above remain authoritative.
	ReportedInFlight       int
	ReportedCompletedCount uint64

	send Sender
}

func (w *WorkerRecord) hasFreeSlot() bool {
	return w.State == WorkerRegistered && w.InFlight < w.MaxConcurrentTasks
}
