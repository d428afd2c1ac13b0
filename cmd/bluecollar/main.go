// Command bluecollar runs one of BlueCollar's four processes: the worker
// loop, or one of the three front-end gateways (HTTP, REST, WebSocket).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bluecollar/bluecollar/internal/broker"
	"github.com/bluecollar/bluecollar/internal/config"
	"github.com/bluecollar/bluecollar/internal/gateway"
	httpgw "github.com/bluecollar/bluecollar/internal/gateway/http"
	restgw "github.com/bluecollar/bluecollar/internal/gateway/rest"
	wsgw "github.com/bluecollar/bluecollar/internal/gateway/ws"
	"github.com/bluecollar/bluecollar/internal/registry"
	"github.com/bluecollar/bluecollar/internal/worker"
	"github.com/bluecollar/bluecollar/public/examples"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bluecollar",
		Short: "BlueCollar — exposes registered code as a network service over a shared broker queue.",
	}
	root.AddCommand(newWorkerCmd(), newHTTPGatewayCmd(), newRESTGatewayCmd(), newWSGatewayCmd())
	return root
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker <root-package>",
		Short: "Run the worker loop against a registered root package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), args[0])
		},
	}
}

func newHTTPGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "httpgw",
		Short: "Run the HTTP gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTPGateway(cmd.Context())
		},
	}
}

func newRESTGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restgw",
		Short: "Run the REST gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRESTGateway(cmd.Context())
		},
	}
}

func newWSGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wsgw",
		Short: "Run the WebSocket gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWSGateway(cmd.Context())
		},
	}
}

func buildLogger() (*zap.Logger, error) {
	if config.Debug() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func dialBroker(ctx context.Context, b config.Broker) (broker.Broker, error) {
	return broker.NewRedisBroker(ctx, broker.RedisOptions{Host: b.RedisHost, Port: b.RedisPort, DB: b.RedisDB})
}

// runWorker wires the statically-linked public/examples registry into a
// worker loop. root-package is recorded for operator visibility only —
// unlike the original's dynamic import, this binary's registry contents
// are fixed at compile time (spec §9, "reflective resolution" redesign).
func runWorker(ctx context.Context, rootPackage string) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("bluecollar: failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	brokerCfg, err := config.LoadBroker()
	if err != nil {
		return fmt.Errorf("bluecollar: failed to load broker config: %w", err)
	}

	ctx, cancel := notifyContext(ctx)
	defer cancel()

	b, err := dialBroker(ctx, brokerCfg)
	if err != nil {
		return fmt.Errorf("bluecollar: failed to connect to broker: %w", err)
	}
	defer func() { _ = b.Close() }()

	reg := registry.New()
	if err := examples.Register(reg); err != nil {
		return fmt.Errorf("bluecollar: failed to register %s: %w", rootPackage, err)
	}

	cfg := worker.DefaultConfig()
	cfg.QueueKey = brokerCfg.Queue
	cfg.WorkerSetKey = brokerCfg.WorkerList

	w := worker.New(cfg, b, reg, log)
	log.Infow("starting worker", "worker_id", w.ID(), "root_package", rootPackage)

	if err := w.Run(ctx); err != nil {
		log.Errorw("worker exited with error", "error", err)
		return err
	}
	log.Infow("worker stopped")
	return nil
}

func runHTTPGateway(ctx context.Context) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("bluecollar: failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	brokerCfg, err := config.LoadBroker()
	if err != nil {
		return err
	}
	gwCfg, err := config.LoadHTTPGateway()
	if err != nil {
		return err
	}

	ctx, cancel := notifyContext(ctx)
	defer cancel()

	b, err := dialBroker(ctx, brokerCfg)
	if err != nil {
		return fmt.Errorf("bluecollar: failed to connect to broker: %w", err)
	}
	defer func() { _ = b.Close() }()

	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: brokerCfg.Queue, ReplyPrefix: gwCfg.ReplyPrefix}
	g := httpgw.New(rendezvous, httpgw.Config{
		Prefix:  gwCfg.Prefix,
		Timeout: time.Duration(gwCfg.TimeoutSecs) * time.Second,
	}, log)

	addr := fmt.Sprintf("%s:%d", gwCfg.Host, gwCfg.Port)
	return serveUntilCancelled(ctx, log, "http gateway", addr, g.Router())
}

func runRESTGateway(ctx context.Context) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("bluecollar: failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	brokerCfg, err := config.LoadBroker()
	if err != nil {
		return err
	}
	gwCfg, err := config.LoadRESTGateway()
	if err != nil {
		return err
	}

	ctx, cancel := notifyContext(ctx)
	defer cancel()

	b, err := dialBroker(ctx, brokerCfg)
	if err != nil {
		return fmt.Errorf("bluecollar: failed to connect to broker: %w", err)
	}
	defer func() { _ = b.Close() }()

	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: brokerCfg.Queue, ReplyPrefix: gwCfg.ReplyPrefix}
	g := restgw.New(rendezvous, restgw.Config{
		Prefix:      gwCfg.Prefix,
		Timeout:     time.Duration(gwCfg.TimeoutSecs) * time.Second,
		ErrorDocURL: gwCfg.ErrorDocURL,
	}, log)

	addr := fmt.Sprintf("%s:%d", gwCfg.Host, gwCfg.Port)
	return serveUntilCancelled(ctx, log, "rest gateway", addr, g.Router())
}

func runWSGateway(ctx context.Context) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("bluecollar: failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	brokerCfg, err := config.LoadBroker()
	if err != nil {
		return err
	}
	gwCfg, err := config.LoadWSGateway()
	if err != nil {
		return err
	}
	wsBrokerCfg, err := config.LoadWSBroker(brokerCfg)
	if err != nil {
		return err
	}

	ctx, cancel := notifyContext(ctx)
	defer cancel()

	b, err := dialBroker(ctx, wsBrokerCfg)
	if err != nil {
		return fmt.Errorf("bluecollar: failed to connect to broker: %w", err)
	}
	defer func() { _ = b.Close() }()

	rendezvous := &gateway.Rendezvous{Broker: b, QueueKey: brokerCfg.Queue, ReplyPrefix: gwCfg.ReplyPrefix}

	reg := prometheus.NewRegistry()
	g := wsgw.New(rendezvous, b, wsgw.Config{
		Timeout:  time.Duration(gwCfg.TimeoutSecs) * time.Second,
		Fallback: gwCfg.Fallback,
	}, log, reg, nil, nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", g.Router())

	addr := fmt.Sprintf("%s:%d", gwCfg.Host, gwCfg.Port)
	return serveUntilCancelled(ctx, log, "websocket gateway", addr, mux)
}

func serveUntilCancelled(ctx context.Context, log *zap.SugaredLogger, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow(fmt.Sprintf("%s listening", name), "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Infow(fmt.Sprintf("shutting down %s", name))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("bluecollar: %s failed: %w", name, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw(fmt.Sprintf("%s graceful shutdown error", name), "error", err)
	}
	return nil
}
