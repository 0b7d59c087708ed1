package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("FEE_RATE", "0.05")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("SEED_FIXTURES", "false")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.Business.FeeRate))
	assert.Equal(t, time.Minute, cfg.Business.IdempotencyTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Business.SessionTTL)
	assert.False(t, cfg.Business.SeedFixtures)
	assert.False(t, cfg.Server.TrustActorHeader)
}

func TestLoadKeepsZeroFeeRate(t *testing.T) {
	t.Setenv("FEE_RATE", "0")
	t.Setenv("TRUST_ACTOR_HEADER", "true")

	cfg := Load()

	assert.True(t, cfg.Business.FeeRate.IsZero())
	assert.True(t, cfg.Server.TrustActorHeader)
}

func TestLoadRejectsNegativeFeeRate(t *testing.T) {
	t.Setenv("FEE_RATE", "-1")

	cfg := Load()

	assert.True(t, decimal.RequireFromString("0.025").Equal(cfg.Business.FeeRate))
}

func TestEmptyBrokersDisableKafka(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.False(t, cfg.Kafka.Enabled())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1, ,b:2 "))
	assert.Nil(t, splitList(""))
}
