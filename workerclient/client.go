// Package workerclient implements the worker side of the wire protocol:
// dialing a coordinator, registering, sending periodic heartbeats, and executing
// TASK_ASSIGNMENT messages against a local function registry.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/taskmesh/cluster/registry"
	"github.com/taskmesh/cluster/wire"
)

// Client is one worker's connection to its coordinator.
type Client struct {
	conn     net.Conn
	registry *registry.Registry
	logger   zerolog.Logger

	writeMu sync.Mutex
	sem     *semaphore.Weighted

	mu             sync.Mutex
	inFlight       int
	completedCount uint64
	workerID       string
}

// Dial connects to addr and performs REGISTER_WORKER, blocking until the
// coordinator replies with WORKER_REGISTERED or AUTH_FAILED.
func Dial(addr, name string, maxConcurrentTasks int, token string, reg *registry.Registry, logger zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("workerclient: dial %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		registry: reg,
		logger:   logger.With().Str("coordinator_addr", addr).Logger(),
		sem:      semaphore.NewWeighted(int64(maxConcurrentTasks)),
	}

	if err := c.send(wire.KindRegisterWorker, wire.RegisterWorkerPayload{
		Name:               name,
		MaxConcurrentTasks: maxConcurrentTasks,
		Token:              token,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	kind, raw, err := wire.Receive(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch kind {
	case wire.KindWorkerRegistered:
		var reply wire.WorkerRegisteredPayload
		if err := json.Unmarshal(raw, &reply); err != nil {
			conn.Close()
			return nil, err
		}
		c.workerID = reply.WorkerID
		c.logger = c.logger.With().Str("worker_id", reply.WorkerID).Logger()
	case wire.KindAuthFailed:
		var reply wire.AuthFailedPayload
		json.Unmarshal(raw, &reply)
		conn.Close()
		return nil, fmt.Errorf("workerclient: registration rejected: %s", reply.Reason)
	default:
		conn.Close()
		return nil, fmt.Errorf("workerclient: unexpected reply kind %s to REGISTER_WORKER", kind)
	}

	return c, nil
}

// WorkerID returns the id assigned by the coordinator at registration.
func (c *Client) WorkerID() string { return c.workerID }

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(kind wire.Kind, payload interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.Send(c.conn, kind, payload, nil)
}

// Run reads TASK_ASSIGNMENT messages and executes them against the local
// registry until the connection closes, SHUTDOWN arrives, or ctx is
// canceled. It also drives the periodic HEARTBEAT loop.
func (c *Client) Run(ctx context.Context, heartbeatInterval time.Duration) error {
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go c.heartbeatLoop(hbCtx, heartbeatInterval)

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-stopWatcher:
		}
	}()

	for {
		kind, raw, err := wire.Receive(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch kind {
		case wire.KindTaskAssignment:
			var ta wire.TaskAssignmentPayload
			if err := json.Unmarshal(raw, &ta); err != nil {
				c.logger.Warn().Err(err).Msg("malformed task assignment")
				continue
			}
			go c.runTask(ta)
		case wire.KindShutdown:
			c.logger.Info().Msg("received shutdown")
			return nil
		default:
			c.logger.Warn().Str("kind", string(kind)).Msg("unexpected message kind")
		}
	}
}

func (c *Client) runTask(ta wire.TaskAssignmentPayload) {
	// The coordinator never sends more TASK_ASSIGNMENTs than the slot count
	// this worker advertised at registration, so this acquire never
	// actually blocks; it exists as a hard local backstop regardless.
	if err := c.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	defer func() {
		c.sem.Release(1)
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	result, err := c.registry.Call(ta.Function, ta.Arg)
	if err != nil {
		if sendErr := c.send(wire.KindTaskError, wire.TaskErrorPayload{
			TaskID:       ta.TaskID,
			ErrorMessage: err.Error(),
		}); sendErr != nil {
			c.logger.Warn().Err(sendErr).Str("task_id", ta.TaskID).Msg("failed to report task error")
		}
		return
	}

	c.mu.Lock()
	c.completedCount++
	c.mu.Unlock()

	if sendErr := c.send(wire.KindTaskResult, wire.TaskResultPayload{
		TaskID: ta.TaskID,
		Value:  result,
	}); sendErr != nil {
		c.logger.Warn().Err(sendErr).Str("task_id", ta.TaskID).Msg("failed to report task result")
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			inFlight, completed := c.inFlight, c.completedCount
			c.mu.Unlock()
			if err := c.send(wire.KindHeartbeat, wire.HeartbeatPayload{
				WorkerID:       c.workerID,
				InFlight:       inFlight,
				CompletedCount: completed,
			}); err != nil {
				c.logger.Warn().Err(err).Msg("failed to send heartbeat")
				return
			}
		}
	}
}
