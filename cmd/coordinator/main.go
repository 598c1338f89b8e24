// Command coordinator runs the cluster's job-dispatch server: it accepts
// worker connections, exposes the admin API, and serves map(function,
// inputs) requests against whatever workers are currently registered.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/cluster/api"
	"github.com/taskmesh/cluster/dispatch"
	"github.com/taskmesh/cluster/events"
	"github.com/taskmesh/cluster/internal/config"
	"github.com/taskmesh/cluster/internal/observability"
	"github.com/taskmesh/cluster/internal/ratelimit"
	"github.com/taskmesh/cluster/session"
)

func main() {
	configPath := flag.String("config", "", "Path to a coordinator TOML configuration file")
	listenAddr := flag.String("listen-addr", "", "Worker-facing TCP address (overrides config)")
	adminAddr := flag.String("admin-addr", "", "Admin HTTP address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "127.0.0.1:9090", "gRPC placeholder listener address")
	flag.Parse()

	logger := observability.NewLogger("taskmesh-coordinator", "1.0.0", os.Stdout)

	cfg, err := config.LoadConfig(*configPath)
	configLoaded := err == nil
	if err != nil {
		logger.Error(err, "failed to load configuration; continuing on defaults")
		cfg = config.DefaultConfig()
	}
	if *listenAddr != "" {
		cfg.ListenAddress = *listenAddr
	}
	if *adminAddr != "" {
		cfg.AdminAddress = *adminAddr
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")
	healthChecker.RegisterCheck("config", observability.ConfigCheck(configLoaded))

	if shutdown, err := observability.InitTracing(context.Background(), cfg.JaegerServiceName); err == nil {
		defer shutdown(context.Background())
	}

	hub := events.NewHub(64)
	d := dispatch.New(cfg.MaxTaskAttempts, metrics, hub)
	defer d.Stop()

	healthChecker.RegisterCheck("dispatcher", observability.DispatcherCheck(d))
	healthChecker.RegisterCheck("listener", observability.ListenerCheck(cfg.ListenAddress))

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatal(err, "failed to bind worker listener")
	}
	logger.Info("worker listener bound on " + cfg.ListenAddress)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	var sessions sync.WaitGroup

	regLimiter := ratelimit.NewPerIPLimiter(cfg.RegistrationRateLimitPerSecond, cfg.RegistrationRateLimitBurst)
	g.Go(func() error {
		acceptLoop(gctx, listener, d, cfg.AuthToken, regLimiter, logger, &sessions)
		return nil
	})
	g.Go(func() error {
		sweepDeadWorkersLoop(gctx, d, cfg.HeartbeatTimeout())
		return nil
	})

	adminServer := api.NewAdminAPIServer(d, hub, healthChecker, metrics, 20, 40, logger.Raw())
	grpcStop, adminStop, err := api.StartAdminServer(ctx, *grpcAddr, cfg.AdminAddress, adminServer)
	if err != nil {
		logger.Fatal(err, "failed to start admin API server")
	}
	logger.Info("admin API listening on " + cfg.AdminAddress)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	cancel()
	listener.Close()
	grpcStop()
	adminStop()
	g.Wait()
	sessions.Wait()
	logger.Info("coordinator stopped")
}

// acceptLoop accepts worker connections, throttling REGISTER_WORKER
// attempts per remote IP before a session is even constructed so a
// reconnect storm from one address can't starve the listener for others.
// It returns once ctx is canceled or the listener is closed out from under
// it, whichever happens first; every session goroutine it spawns is
// tracked in sessions so the caller can wait for them to unwind.
func acceptLoop(ctx context.Context, listener net.Listener, d *dispatch.Dispatcher, authToken string, regLimiter *ratelimit.PerIPLimiter, logger *observability.Logger, sessions *sync.WaitGroup) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(err, "failed to accept worker connection")
			return
		}

		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			host = conn.RemoteAddr().String()
		}
		if !regLimiter.Allow(host) {
			conn.Close()
			continue
		}

		sess := session.New(conn, d, authToken, logger.Raw())
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			if err := sess.Run(ctx); err != nil {
				logger.Raw().Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("worker session ended with error")
			}
		}()
	}
}

// sweepDeadWorkersLoop periodically reclaims tasks from workers that have
// stopped heartbeating, independent of whatever their TCP connection state
// looks like, until ctx is canceled.
func sweepDeadWorkersLoop(ctx context.Context, d *dispatch.Dispatcher, livenessWindow time.Duration) {
	ticker := time.NewTicker(livenessWindow / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepDeadWorkers(livenessWindow)
		}
	}
}
