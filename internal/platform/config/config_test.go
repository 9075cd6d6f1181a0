package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"SERVICE_NAME", "HTTP_PORT", "DATABASE_DRIVER", "POSTGRES_DSN", "SQLITE_PATH",
	"KAFKA_BROKERS", "TRIGGER_SECRET", "SETTLEMENT_MODE", "SETTLEMENT_RPC_URL",
	"SETTLEMENT_RPC_TIMEOUT", "DISTRIBUTOR_SEED", "SIMULATOR_FIXTURE", "SIMULATOR_FEE_BPS",
	"BATCH_SIZE", "MAX_ATTEMPTS", "MIN_DISTRIBUTION", "ASSET_DECIMALS",
	"FINALITY_POLL_INTERVAL", "FINALITY_MAX_POLL_INTERVAL", "FINALITY_TIMEOUT",
	"WORKER_POLL_INTERVAL", "STALE_PROCESSING_AFTER", "LOG_LEVEL", "LOG_FORMAT",
	"ENABLE_WORKER_BATCHES", "ENABLE_OUTBOX_RELAY", "ENABLE_PAYMENT_CONSUMER", "ENABLE_STALE_RESET",
}

// clearEnv blanks every key so Load falls back to defaults. t.Setenv restores
// the previous values when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "splitflow", cfg.ServiceName)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, SettlementSimulator, cfg.SettlementMode)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, int32(7), cfg.AssetDecimals)
	assert.Equal(t, 2*time.Second, cfg.FinalityPollInterval)
	assert.Equal(t, 60*time.Second, cfg.FinalityTimeout)
	assert.Equal(t, 15*time.Minute, cfg.StaleProcessingAfter)
	assert.True(t, cfg.EnableWorkerBatches)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DATABASE_DRIVER=sqlite\nSQLITE_PATH=/tmp/cascade.db\nBATCH_SIZE=25\nKAFKA_BROKERS=a:9092, b:9092\nENABLE_OUTBOX_RELAY=off\n",
	), 0o600))
	t.Setenv("BATCH_SIZE", "5")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, DatabaseSQLite, cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/cascade.db", cfg.SQLitePath)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.EnableOutboxRelay)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "memory")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidateRejectsIncompleteSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("SETTLEMENT_MODE", "rpc")
	t.Setenv("BATCH_SIZE", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "SETTLEMENT_RPC_URL")
	assert.Contains(t, err.Error(), "DISTRIBUTOR_SEED")
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "ten")
	t.Setenv("CFG_TEST_DURATION", "soon")
	t.Setenv("CFG_TEST_BOOL", "maybe")

	assert.Equal(t, 7, envInt("CFG_TEST_INT", 7))
	assert.Equal(t, time.Minute, envDuration("CFG_TEST_DURATION", time.Minute))
	assert.True(t, envBool("CFG_TEST_BOOL", true))
}
