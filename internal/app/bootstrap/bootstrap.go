package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cascadedistribution "splitflow/contexts/finance-core/cascade-distribution"
	"splitflow/contexts/finance-core/cascade-distribution/adapters/memory"
	postgresadapter "splitflow/contexts/finance-core/cascade-distribution/adapters/postgres"
	"splitflow/contexts/finance-core/cascade-distribution/adapters/settlement"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	"splitflow/internal/platform/config"
	"splitflow/internal/platform/db"
	"splitflow/internal/platform/httpserver"
	"splitflow/internal/platform/logger"
	"splitflow/internal/platform/messaging"
	"splitflow/internal/platform/metrics"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// store is what every storage backend offers the cascade module.
type store interface {
	ports.JobQueue
	ports.LedgerRepository
	ports.SplitRuleReader
	ports.IdentifierDirectory
	ports.IdempotencyStore
	ports.OutboxRepository
}

// Runtime holds the wired module and the infrastructure it owns.
type Runtime struct {
	Config    config.Config
	Logger    *slog.Logger
	Module    cascadedistribution.Module
	Bus       *messaging.Bus
	Metrics   *metrics.Distribution
	Simulator *settlement.Simulator
	Fixture   *settlement.Fixture

	database *db.Database
}

type APIApp struct {
	server  *httpserver.Server
	runtime *Runtime
	logger  *slog.Logger
}

type WorkerApp struct {
	runtime      *Runtime
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI(envFile string) (*APIApp, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	log := newProcessLogger(cfg, "api")
	runtime, err := BuildRuntime(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(runtime.Module, httpserver.Options{
		TriggerSecret: cfg.TriggerSecret,
		Metrics:       runtime.Metrics.Handler(),
		StaleAfter:    cfg.StaleProcessingAfter,
	}, log, normalizeAddr(cfg.HTTPPort))
	if strings.TrimSpace(cfg.TriggerSecret) == "" {
		log.Warn("trigger secret not configured; distribution routes will reject every request",
			"event", "bootstrap_trigger_secret_missing",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return &APIApp{
		server:  server,
		runtime: runtime,
		logger:  log,
	}, nil
}

func BuildWorker(envFile string) (*WorkerApp, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	log := newProcessLogger(cfg, "worker")
	runtime, err := BuildRuntime(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	return &WorkerApp{
		runtime:      runtime,
		pollInterval: cfg.WorkerPollInterval,
		logger:       log,
	}, nil
}

// BuildRuntime wires storage, settlement, messaging and metrics into the
// cascade module according to cfg.
func BuildRuntime(ctx context.Context, cfg config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	runtime := &Runtime{
		Config:  cfg,
		Logger:  log,
		Bus:     messaging.NewBus(cfg.KafkaBrokers, log),
		Metrics: metrics.NewDistribution(),
	}

	storage, clock, ids, err := runtime.openStorage(cfg, log)
	if err != nil {
		return nil, err
	}

	credential, err := resolveCredential(cfg)
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}

	var (
		gateway ports.SettlementGateway
		rules   ports.SplitRuleReader = storage
	)
	switch cfg.SettlementMode {
	case config.SettlementRPC:
		gateway = settlement.NewRPCClient(cfg.SettlementRPCURL, cfg.SettlementRPCTimeout)
	default:
		simulator, err := runtime.buildSimulator(ctx, cfg, storage)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		gateway = simulator
		rules = simulator
	}

	adapter := settlement.NewAdapter(gateway, credential, settlement.Policy{
		PollInterval:    cfg.FinalityPollInterval,
		MaxPollInterval: cfg.FinalityMaxPollInterval,
		FinalityTimeout: cfg.FinalityTimeout,
	}, log)

	runtime.Module = cascadedistribution.NewModule(cascadedistribution.Dependencies{
		Jobs:            storage,
		Ledger:          storage,
		Rules:           rules,
		Directory:       storage,
		Idempotency:     storage,
		Outbox:          storage,
		Settlement:      adapter,
		Balances:        adapter,
		Observer:        runtime.Metrics,
		Publisher:       runtime.Bus,
		Subscriber:      runtime.Bus,
		Clock:           clock,
		IDGenerator:     ids,
		BatchSize:       cfg.BatchSize,
		MaxAttempts:     cfg.MaxAttempts,
		MinDistribution: cfg.MinDistribution,
		AssetDecimals:   cfg.AssetDecimals,
		IdempotencyTTL:  7 * 24 * time.Hour,
		StaleAfter:      cfg.StaleProcessingAfter,
		Logger:          log,
	})
	log.Info("cascade runtime ready",
		"event", "bootstrap_runtime_ready",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"database_driver", cfg.DatabaseDriver,
		"settlement_mode", cfg.SettlementMode,
		"distributor", credential.Account(),
		"brokers", strings.Join(runtime.Bus.Brokers(), ","),
	)
	return runtime, nil
}

func (r *Runtime) openStorage(cfg config.Config, log *slog.Logger) (store, ports.Clock, ports.IDGenerator, error) {
	switch cfg.DatabaseDriver {
	case config.DatabaseMemory:
		s := memory.NewStore(nil)
		return s, s, s, nil
	case config.DatabaseSQLite, config.DatabasePostgres:
		dsn := cfg.PostgresDSN
		if cfg.DatabaseDriver == config.DatabaseSQLite {
			dsn = cfg.SQLitePath
		}
		database, err := db.Connect(cfg.DatabaseDriver, dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgresadapter.AutoMigrate(database.DB); err != nil {
			_ = database.Close()
			return nil, nil, nil, fmt.Errorf("migrate %s: %w", cfg.DatabaseDriver, err)
		}
		r.database = database
		return postgresadapter.NewRepository(database.DB, log), postgresadapter.SystemClock{}, postgresadapter.UUIDGenerator{}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// buildSimulator seeds the in-process contract from the configured fixture and
// mirrors the fixture's accounts and rules into storage.
func (r *Runtime) buildSimulator(ctx context.Context, cfg config.Config, storage store) (*settlement.Simulator, error) {
	var fixture *settlement.Fixture
	if path := strings.TrimSpace(cfg.SimulatorFixture); path != "" {
		loaded, err := settlement.LoadFixture(path)
		if err != nil {
			return nil, err
		}
		fixture = loaded
	}

	feeBps := cfg.SimulatorFeeBps
	if feeBps == 0 && fixture != nil {
		feeBps = fixture.FeeBps
	}
	simulator := settlement.NewSimulator(settlement.SimulatorOptions{FeeBps: feeBps})
	if fixture != nil {
		if err := fixture.Apply(ctx, simulator); err != nil {
			return nil, err
		}
		if err := mirrorFixture(ctx, storage, fixture); err != nil {
			return nil, err
		}
	}
	r.Simulator = simulator
	r.Fixture = fixture
	return simulator, nil
}

func mirrorFixture(ctx context.Context, storage store, fixture *settlement.Fixture) error {
	switch target := storage.(type) {
	case *memory.Store:
		for identifier, account := range fixture.Accounts {
			target.PutAccount(identifier, account)
		}
		for _, rule := range fixture.SplitRules() {
			target.PutSplitRule(rule)
		}
	case *postgresadapter.Repository:
		for identifier, account := range fixture.Accounts {
			if err := target.PutAccount(ctx, identifier, account); err != nil {
				return err
			}
		}
		for _, rule := range fixture.SplitRules() {
			if err := target.PutSplitRule(ctx, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runtime) Close() error {
	if r.database != nil {
		return r.database.Close()
	}
	return nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

func (a *APIApp) Close() error {
	return a.runtime.Close()
}

func (w *WorkerApp) Run(ctx context.Context) error {
	cfg := w.runtime.Config
	module := w.runtime.Module
	if cfg.EnablePaymentConsumer {
		if err := module.PaymentConsumer.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if cfg.EnableStaleReset {
			w.logTickError("stale_reset", module.StaleReset.RunOnce(ctx))
		}
		if cfg.EnableWorkerBatches {
			w.logTickError("distribution_batch", module.Worker.RunOnce(ctx))
		}
		if cfg.EnableOutboxRelay {
			w.logTickError("outbox_relay", module.OutboxRelay.RunOnce(ctx))
		}
		select {
		case <-ctx.Done():
			w.runtime.Bus.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	return w.runtime.Close()
}

func (w *WorkerApp) logTickError(task string, err error) {
	if err == nil {
		return
	}
	w.logger.Error("worker tick failed",
		"event", "bootstrap_worker_tick_failed",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"task", task,
		"error", err.Error(),
	)
}

func newProcessLogger(cfg config.Config, process string) *slog.Logger {
	return logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}).With("service", cfg.ServiceName, "process", process)
}

func resolveCredential(cfg config.Config) (settlement.Credential, error) {
	if seed := strings.TrimSpace(cfg.DistributorSeed); seed != "" {
		return settlement.NewCredential(seed)
	}
	if cfg.SettlementMode == config.SettlementRPC {
		return settlement.Credential{}, errors.New("DISTRIBUTOR_SEED is required in rpc mode")
	}
	return settlement.GenerateCredential()
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
