// Command worker dials a coordinator, registers the set of functions this
// process can execute, and runs TASK_ASSIGNMENT messages against them
// until the coordinator disconnects or the process is signaled to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskmesh/cluster/internal/observability"
	"github.com/taskmesh/cluster/registry"
	"github.com/taskmesh/cluster/workerclient"
)

func main() {
	coordinatorAddr := flag.String("coordinator-addr", "127.0.0.1:5555", "Coordinator worker-listener address")
	name := flag.String("name", "", "This worker's display name (defaults to hostname-pid)")
	slots := flag.Int("slots", 4, "Maximum concurrent tasks this worker will accept")
	token := flag.String("token", "", "Shared registration token, if the coordinator requires one")
	heartbeatInterval := flag.Duration("heartbeat-interval", 5*time.Second, "Interval between HEARTBEAT messages")
	flag.Parse()

	logger := observability.NewLogger("taskmesh-worker", "1.0.0", os.Stdout)

	workerName := *name
	if workerName == "" {
		host, _ := os.Hostname()
		workerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	reg := registry.New()
	registerBuiltinFunctions(reg)

	client, err := workerclient.Dial(*coordinatorAddr, workerName, *slots, *token, reg, logger.Raw())
	if err != nil {
		logger.Fatal(err, "failed to register with coordinator")
	}
	defer client.Close()
	logger.Info("registered with coordinator as worker " + client.WorkerID())

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down gracefully...")
		cancel()
	}()

	if err := client.Run(ctx, *heartbeatInterval); err != nil {
		logger.Error(err, "worker connection ended with error")
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// registerBuiltinFunctions binds the handful of general-purpose functions
// this worker binary ships with. A deployment that needs other functions
// registers them the same way before calling workerclient.Dial; nothing
// about the wire protocol or the dispatcher constrains what a worker can
// register.
func registerBuiltinFunctions(reg *registry.Registry) {
	reg.Register("identity", func(arg json.RawMessage) (json.RawMessage, error) {
		return arg, nil
	})

	reg.Register("double", func(arg json.RawMessage) (json.RawMessage, error) {
		var n float64
		if err := json.Unmarshal(arg, &n); err != nil {
			return nil, fmt.Errorf("double: expected a number, got %s", arg)
		}
		return json.Marshal(n * 2)
	})

	reg.Register("sqrt", func(arg json.RawMessage) (json.RawMessage, error) {
		var n float64
		if err := json.Unmarshal(arg, &n); err != nil {
			return nil, fmt.Errorf("sqrt: expected a number, got %s", arg)
		}
		if n < 0 {
			return nil, fmt.Errorf("sqrt: cannot take the square root of a negative number")
		}
		return json.Marshal(math.Sqrt(n))
	})
}
