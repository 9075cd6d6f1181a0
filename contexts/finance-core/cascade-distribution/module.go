package cascadedistribution

import (
	"log/slog"
	"time"

	httpadapter "splitflow/contexts/finance-core/cascade-distribution/adapters/http"
	"splitflow/contexts/finance-core/cascade-distribution/adapters/memory"
	"splitflow/contexts/finance-core/cascade-distribution/adapters/settlement"
	"splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/application/queries"
	"splitflow/contexts/finance-core/cascade-distribution/application/workers"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

type Module struct {
	Handler         httpadapter.Handler
	Commands        commands.UseCase
	Queries         queries.UseCase
	Worker          *workers.DistributionWorker
	OutboxRelay     workers.OutboxRelay
	PaymentConsumer workers.PaymentSettledConsumer
	StaleReset      workers.StaleResetJob

	Store     *memory.Store
	Simulator *settlement.Simulator
}

type Dependencies struct {
	Jobs        ports.JobQueue
	Ledger      ports.LedgerRepository
	Rules       ports.SplitRuleReader
	Directory   ports.IdentifierDirectory
	Idempotency ports.IdempotencyStore
	Outbox      ports.OutboxRepository
	Settlement  ports.Settlement
	Balances    ports.BalanceReader
	Observer    ports.BatchObserver
	Publisher   ports.EventPublisher
	Subscriber  ports.EventSubscriber
	Clock       ports.Clock
	IDGenerator ports.IDGenerator

	BatchSize       int
	MaxAttempts     int
	MinDistribution int64
	AssetDecimals   int32
	IdempotencyTTL  time.Duration
	StaleAfter      time.Duration
	DisableOutbox   bool
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	var outbox ports.OutboxWriter
	if deps.Outbox != nil && !deps.DisableOutbox {
		outbox = deps.Outbox
	}
	events := application.EventAppender{
		Outbox: outbox,
		IDGen:  deps.IDGenerator,
		Logger: deps.Logger,
	}
	commandUseCase := commands.UseCase{
		Jobs:           deps.Jobs,
		Ledger:         deps.Ledger,
		Idempotency:    deps.Idempotency,
		Events:         events,
		Clock:          deps.Clock,
		IDGen:          deps.IDGenerator,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	queryUseCase := queries.UseCase{
		Jobs:     deps.Jobs,
		Ledger:   deps.Ledger,
		Balances: deps.Balances,
		Logger:   deps.Logger,
	}
	worker := &workers.DistributionWorker{
		Jobs:       deps.Jobs,
		Rules:      deps.Rules,
		Settlement: deps.Settlement,
		Recorder: workers.LedgerRecorder{
			Ledger:          deps.Ledger,
			Directory:       deps.Directory,
			IDGen:           deps.IDGenerator,
			MinDistribution: deps.MinDistribution,
			Logger:          deps.Logger,
		},
		Planner: workers.FanOutPlanner{
			Jobs:   deps.Jobs,
			Rules:  deps.Rules,
			IDGen:  deps.IDGenerator,
			Logger: deps.Logger,
		},
		Events:          events,
		Observer:        deps.Observer,
		Clock:           deps.Clock,
		BatchSize:       deps.BatchSize,
		MaxAttempts:     deps.MaxAttempts,
		MinDistribution: deps.MinDistribution,
		Logger:          deps.Logger,
	}

	return Module{
		Handler: httpadapter.Handler{
			Commands:      commandUseCase,
			Queries:       queryUseCase,
			Worker:        worker,
			AssetDecimals: deps.AssetDecimals,
			Logger:        deps.Logger,
		},
		Commands: commandUseCase,
		Queries:  queryUseCase,
		Worker:   worker,
		OutboxRelay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		},
		PaymentConsumer: workers.PaymentSettledConsumer{
			Subscriber: deps.Subscriber,
			Commands:   commandUseCase,
			Logger:     deps.Logger,
		},
		StaleReset: workers.StaleResetJob{
			Commands:  commandUseCase,
			OlderThan: deps.StaleAfter,
			Logger:    deps.Logger,
		},
	}
}

// NewInMemoryModule wires the memory store to the settlement simulator with a
// freshly generated distributor credential. Split rules are read from the
// simulator, which owns them.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore(nil)
	simulator := settlement.NewSimulator(settlement.SimulatorOptions{})
	credential, err := settlement.GenerateCredential()
	if err != nil {
		panic(err)
	}
	adapter := settlement.NewAdapter(simulator, credential, settlement.DefaultPolicy(), logger)

	module := NewModule(Dependencies{
		Jobs:           store,
		Ledger:         store,
		Rules:          simulator,
		Directory:      store,
		Idempotency:    store,
		Outbox:         store,
		Settlement:     adapter,
		Balances:       adapter,
		Clock:          store,
		IDGenerator:    store,
		IdempotencyTTL: 7 * 24 * time.Hour,
		StaleAfter:     15 * time.Minute,
		Logger:         logger,
	})
	module.Store = store
	module.Simulator = simulator
	return module
}
