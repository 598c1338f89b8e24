// Package session implements the coordinator-side half of the
// worker-lifecycle state machine: one WorkerSession per accepted
// connection, driving it through registration, heartbeats, and task
// result/error routing until it disconnects or is shut down.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskmesh/cluster/dispatch"
	"github.com/taskmesh/cluster/wire"
)

// State is a worker session's position in the lifecycle described in
// SPEC_FULL.md §4.2.
type State int

const (
	StateAwaitingRegister State = iota + 1
	StateRegistered
	StateAuthFailed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAwaitingRegister:
		return "AWAITING_REGISTER"
	case StateRegistered:
		return "REGISTERED"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAuthenticationFailed   = errors.New("worker authentication failed")
)

var validTransitions = map[State][]State{
	StateAwaitingRegister: {StateRegistered, StateAuthFailed},
	StateRegistered:       {StateDead},
	StateAuthFailed:       {},
	StateDead:             {},
}

// WorkerSession owns one accepted connection end to end. Its Run loop is
// the only goroutine that reads from conn; writes are serialized through
// send so a TASK_ASSIGNMENT pushed by the dispatcher's assignment loop can
// never interleave with, say, a WORKER_REGISTERED reply mid-write.
type WorkerSession struct {
	conn       net.Conn
	dispatcher *dispatch.Dispatcher
	token      string
	logger     zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	workerID string
}

// New constructs a session for a freshly accepted connection. An empty
// token disables the REGISTER_WORKER authentication check.
func New(conn net.Conn, d *dispatch.Dispatcher, token string, logger zerolog.Logger) *WorkerSession {
	return &WorkerSession{
		conn:       conn,
		dispatcher: d,
		token:      token,
		logger:     logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger(),
		state:      StateAwaitingRegister,
	}
}

func (s *WorkerSession) transitionTo(newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := validTransitions[s.state]
	ok := false
	for _, a := range allowed {
		if a == newState {
			ok = true
			break
		}
	}
	if !ok {
		return ErrInvalidStateTransition
	}
	s.state = newState
	return nil
}

// State returns the session's current lifecycle state.
func (s *WorkerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *WorkerSession) send(kind wire.Kind, payload interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.Send(s.conn, kind, payload, nil)
}

// SendTaskAssignment implements dispatch.Sender. It is called by the
// dispatcher's own assignment goroutine, never by Run.
func (s *WorkerSession) SendTaskAssignment(taskID, function string, arg []byte) error {
	return s.send(wire.KindTaskAssignment, wire.TaskAssignmentPayload{
		TaskID:   taskID,
		Function: function,
		Arg:      arg,
	})
}

// Run drives the session until the connection closes, SHUTDOWN arrives, a
// protocol violation occurs, or ctx is canceled. Cancellation is delivered
// by forcing the blocking read to unblock via a read deadline rather than
// by closing the connection out from under a possibly-in-progress write.
func (s *WorkerSession) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		registered := s.state == StateRegistered
		workerID := s.workerID
		s.state = StateDead
		s.mu.Unlock()
		if registered {
			s.dispatcher.MarkWorkerDead(workerID)
		}
		s.conn.Close()
	}()

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.SetReadDeadline(time.Now())
		case <-stopWatcher:
		}
	}()

	for {
		kind, raw, err := wire.Receive(s.conn)
		if err != nil {
			if errors.Is(err, wire.ErrConnectionLost) {
				return nil
			}
			return err
		}

		switch kind {
		case wire.KindRegisterWorker:
			if err := s.handleRegister(raw); err != nil {
				return err
			}
		case wire.KindHeartbeat:
			s.handleHeartbeat(raw)
		case wire.KindTaskResult:
			s.handleTaskResult(raw)
		case wire.KindTaskError:
			s.handleTaskError(raw)
		case wire.KindWorkerStatus:
			s.handleWorkerStatus(raw)
		case wire.KindShutdown:
			return nil
		default:
			s.logger.Warn().Str("kind", string(kind)).Msg("unexpected message kind for this connection's state")
		}
	}
}

func (s *WorkerSession) handleRegister(raw json.RawMessage) error {
	if s.State() != StateAwaitingRegister {
		return fmt.Errorf("session: REGISTER_WORKER received outside AWAITING_REGISTER")
	}

	var reg wire.RegisterWorkerPayload
	if err := json.Unmarshal(raw, &reg); err != nil {
		return err
	}

	if reg.Name == "" || reg.MaxConcurrentTasks <= 0 {
		s.transitionTo(StateAuthFailed)
		return s.send(wire.KindAuthFailed, wire.AuthFailedPayload{Reason: "invalid registration payload"})
	}
	if s.token != "" && reg.Token != s.token {
		s.transitionTo(StateAuthFailed)
		s.logger.Warn().Str("worker_name", reg.Name).Msg("rejected worker with invalid token")
		if sendErr := s.send(wire.KindAuthFailed, wire.AuthFailedPayload{Reason: "invalid token"}); sendErr != nil {
			return sendErr
		}
		return ErrAuthenticationFailed
	}

	workerID := uuid.New().String()
	s.dispatcher.RegisterWorker(workerID, reg.Name, s.conn.RemoteAddr().String(), reg.MaxConcurrentTasks, s)

	if err := s.transitionTo(StateRegistered); err != nil {
		return err
	}
	s.mu.Lock()
	s.workerID = workerID
	s.mu.Unlock()

	s.logger.Info().Str("worker_id", workerID).Str("worker_name", reg.Name).Int("slots", reg.MaxConcurrentTasks).Msg("worker registered")
	return s.send(wire.KindWorkerRegistered, wire.WorkerRegisteredPayload{WorkerID: workerID})
}

func (s *WorkerSession) handleHeartbeat(raw json.RawMessage) {
	if s.State() != StateRegistered {
		return
	}
	var hb wire.HeartbeatPayload
	if err := json.Unmarshal(raw, &hb); err != nil {
		s.logger.Warn().Err(err).Msg("malformed heartbeat")
		return
	}
	s.dispatcher.Heartbeat(s.workerID, hb.InFlight, hb.CompletedCount)
}

func (s *WorkerSession) handleTaskResult(raw json.RawMessage) {
	if s.State() != StateRegistered {
		return
	}
	var tr wire.TaskResultPayload
	if err := json.Unmarshal(raw, &tr); err != nil {
		s.logger.Warn().Err(err).Msg("malformed task result")
		return
	}
	s.dispatcher.HandleTaskResult(s.workerID, tr.TaskID, tr.Value)
}

func (s *WorkerSession) handleTaskError(raw json.RawMessage) {
	if s.State() != StateRegistered {
		return
	}
	var te wire.TaskErrorPayload
	if err := json.Unmarshal(raw, &te); err != nil {
		s.logger.Warn().Err(err).Msg("malformed task error")
		return
	}
	s.dispatcher.HandleTaskError(s.workerID, te.TaskID, te.ErrorMessage)
}

// handleWorkerStatus logs self-reported diagnostic counters. It never
// touches dispatch state; WORKER_STATUS is informational only.
func (s *WorkerSession) handleWorkerStatus(raw json.RawMessage) {
	var ws wire.WorkerStatusPayload
	if err := json.Unmarshal(raw, &ws); err != nil {
		return
	}
	s.logger.Debug().Interface("counters", ws.Counters).Msg("worker status report")
}
