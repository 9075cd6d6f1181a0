package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
	DatabaseMemory   = "memory"

	SettlementSimulator = "simulator"
	SettlementRPC       = "rpc"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName    string
	HTTPPort       string
	DatabaseDriver string
	PostgresDSN    string
	SQLitePath     string
	KafkaBrokers   []string
	TriggerSecret  string

	SettlementMode       string
	SettlementRPCURL     string
	SettlementRPCTimeout time.Duration
	DistributorSeed      string
	SimulatorFixture     string
	SimulatorFeeBps      int

	BatchSize       int
	MaxAttempts     int
	MinDistribution int64
	AssetDecimals   int32

	FinalityPollInterval    time.Duration
	FinalityMaxPollInterval time.Duration
	FinalityTimeout         time.Duration

	WorkerPollInterval   time.Duration
	StaleProcessingAfter time.Duration

	LogLevel  string
	LogFormat string

	EnableWorkerBatches   bool
	EnableOutboxRelay     bool
	EnablePaymentConsumer bool
	EnableStaleReset      bool
}

// Load reads and validates configuration.
func Load(envFile string) (Config, error) {
	cfg, err := Read(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read loads an optional dotenv file and then the process environment without
// validating. Variables already set in the environment win over the file.
func Read(envFile string) (Config, error) {
	if path := strings.TrimSpace(envFile); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}

	cfg := Config{
		ServiceName:    envString("SERVICE_NAME", "splitflow"),
		HTTPPort:       envString("HTTP_PORT", "8080"),
		DatabaseDriver: strings.ToLower(envString("DATABASE_DRIVER", DatabasePostgres)),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		SQLitePath:     envString("SQLITE_PATH", "splitflow.db"),
		KafkaBrokers:   brokers,
		TriggerSecret:  os.Getenv("TRIGGER_SECRET"),

		SettlementMode:       strings.ToLower(envString("SETTLEMENT_MODE", SettlementSimulator)),
		SettlementRPCURL:     os.Getenv("SETTLEMENT_RPC_URL"),
		SettlementRPCTimeout: envDuration("SETTLEMENT_RPC_TIMEOUT", 15*time.Second),
		DistributorSeed:      os.Getenv("DISTRIBUTOR_SEED"),
		SimulatorFixture:     os.Getenv("SIMULATOR_FIXTURE"),
		SimulatorFeeBps:      envInt("SIMULATOR_FEE_BPS", 0),

		BatchSize:       envInt("BATCH_SIZE", 10),
		MaxAttempts:     envInt("MAX_ATTEMPTS", 3),
		MinDistribution: envInt64("MIN_DISTRIBUTION", 0),
		AssetDecimals:   int32(envInt("ASSET_DECIMALS", 7)),

		FinalityPollInterval:    envDuration("FINALITY_POLL_INTERVAL", 2*time.Second),
		FinalityMaxPollInterval: envDuration("FINALITY_MAX_POLL_INTERVAL", 10*time.Second),
		FinalityTimeout:         envDuration("FINALITY_TIMEOUT", 60*time.Second),

		WorkerPollInterval:   envDuration("WORKER_POLL_INTERVAL", 30*time.Second),
		StaleProcessingAfter: envDuration("STALE_PROCESSING_AFTER", 15*time.Minute),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),

		EnableWorkerBatches:   envBool("ENABLE_WORKER_BATCHES", true),
		EnableOutboxRelay:     envBool("ENABLE_OUTBOX_RELAY", true),
		EnablePaymentConsumer: envBool("ENABLE_PAYMENT_CONSUMER", true),
		EnableStaleReset:      envBool("ENABLE_STALE_RESET", true),
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DatabasePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres driver"))
		}
	case DatabaseSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DatabaseMemory:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	switch c.SettlementMode {
	case SettlementSimulator:
	case SettlementRPC:
		if strings.TrimSpace(c.SettlementRPCURL) == "" {
			errs = append(errs, errors.New("SETTLEMENT_RPC_URL is required in rpc mode"))
		}
		if strings.TrimSpace(c.DistributorSeed) == "" {
			errs = append(errs, errors.New("DISTRIBUTOR_SEED is required in rpc mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("SETTLEMENT_MODE %q is not supported", c.SettlementMode))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be positive"))
	}
	if c.MinDistribution < 0 {
		errs = append(errs, errors.New("MIN_DISTRIBUTION must not be negative"))
	}
	if c.AssetDecimals < 0 || c.AssetDecimals > 18 {
		errs = append(errs, errors.New("ASSET_DECIMALS must be between 0 and 18"))
	}
	if c.SimulatorFeeBps < 0 || c.SimulatorFeeBps > 10000 {
		errs = append(errs, errors.New("SIMULATOR_FEE_BPS must be between 0 and 10000"))
	}
	if c.FinalityTimeout <= 0 || c.FinalityPollInterval <= 0 {
		errs = append(errs, errors.New("finality polling durations must be positive"))
	}
	return errors.Join(errs...)
}

func envString(name string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envInt64(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
