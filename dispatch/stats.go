package dispatch

// WorkerStat is one row of the per-worker breakdown in a Stats snapshot.
type WorkerStat struct {
	Name     string `json:"name"`
	InFlight int    `json:"in_flight"`
	Completed uint64 `json:"completed"`
}

// Stats is a point-in-time snapshot of coordinator-wide counters.
type Stats struct {
	RegisteredWorkers int          `json:"registered_workers"`
	TasksCompleted    uint64       `json:"tasks_completed"`
	Workers           []WorkerStat `json:"worker_details"`
}

// Stats returns a snapshot of the dispatcher's lifetime and current
// counters: number of registered (live) workers, total tasks completed
// across the coordinator's lifetime, and an exact per-worker breakdown —
// never the "distribute evenly for display" approximation the original
// implementation fell back to.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := Stats{TasksCompleted: d.tasksCompletedTotal}
	for _, w := range d.workers {
		if w.State == WorkerRegistered {
			out.RegisteredWorkers++
		}
		out.Workers = append(out.Workers, WorkerStat{
			Name:      w.Name,
			InFlight:  w.InFlight,
			Completed: w.CompletedCount,
		})
	}
	return out
}
