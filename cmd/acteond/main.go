package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acteon-dev/acteon/internal/background"
	"github.com/acteon-dev/acteon/internal/config"
	"github.com/acteon-dev/acteon/internal/events"
	"github.com/acteon-dev/acteon/internal/executor"
	"github.com/acteon-dev/acteon/internal/gateway"
	"github.com/acteon-dev/acteon/internal/metrics"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/store"
	"github.com/acteon-dev/acteon/internal/store/memory"
	"github.com/acteon-dev/acteon/internal/store/redisstore"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file overlaying defaults and ACTEOND_ env vars")
	flag.Parse()

	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "acteond: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	if err := run(log, configPath); err != nil {
		log.Error(err, "acteond exited with error")
		os.Exit(1)
	}
}

func run(log logr.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	gwMetrics := metrics.New(reg)

	state, lock, err := buildStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	bus := events.NewBus(256)

	builder := gateway.NewBuilder().
		WithState(state).
		WithLock(lock).
		WithLogger(log).
		WithMetrics(gwMetrics).
		WithEvents(bus).
		WithLockTiming(cfg.LockTTL, cfg.LockWait).
		WithExecutorConfig(executor.Config{
			Policy:         executor.RetryPolicy{MaxAttempts: cfg.Executor.MaxAttempts, Kind: executor.BackoffExponential, InitialBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: 30 * time.Second, Jitter: true},
			MaxConcurrency: cfg.Executor.MaxConcurrency,
			CallTimeout:    cfg.Executor.CallTimeout,
		}).
		WithRules(defaultRules())

	if cfg.ApprovalSigningKey != "" {
		builder = builder.WithApprovalSigningKey([]byte(cfg.ApprovalSigningKey))
	}

	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched := background.New(log, cfg.NodeID, background.GatewayWorkers(gw, nil)...)
	go sched.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		log.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server stopped unexpectedly")
		}
	}()

	log.Info("acteond started", "node_id", cfg.NodeID, "store_backend", cfg.Store.Backend)
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildStore(cfg config.StoreConfig) (store.StateStore, store.DistributedLock, error) {
	switch cfg.Backend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return redisstore.New(client, cfg.KeyPrefix), redisstore.NewLock(client, cfg.KeyPrefix), nil
	case config.StoreBackendMemory, "":
		return memory.New(), memory.NewLock(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// defaultRules is a minimal starter rule set an operator is expected to
// replace; it demonstrates a dedup rule (repeat sends of the same
// action within an hour collapse to one) and a suppress rule for actions
// whose type is "spam", mirroring the original gateway's basic example
// scenarios. The spam rule has the lower priority number, so it is
// evaluated before the catch-all dedup rule.
func defaultRules() []ir.Rule {
	return []ir.Rule{
		{
			Name:      "dedup-repeat-sends",
			Priority:  100,
			Condition: ir.BoolLit(true),
			Action:    ir.RuleAction{Kind: ir.ActionDeduplicate, DedupTTL: time.Hour},
		},
		{
			Name:     "suppress-flagged-spam",
			Priority: 50,
			Condition: ir.Binary(ir.OpEq,
				ir.Field(ir.Ident("action"), "action_type"),
				ir.StringLit("spam"),
			),
			Action: ir.RuleAction{Kind: ir.ActionSuppress, SuppressReason: "flagged as spam"},
		},
	}
}
