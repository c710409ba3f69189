package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.7, cfg.Matching.ConfidenceThreshold)
	assert.Equal(t, 0.10, cfg.Matching.ARTolerance)
	assert.Equal(t, int64(100000), cfg.Amounts.SmallMax)
	assert.Equal(t, int64(500000), cfg.Amounts.MediumMax)
	assert.Equal(t, 2020, cfg.Billing.YearMin)
	assert.Equal(t, 2030, cfg.Billing.YearMax)
	assert.Equal(t, 20, cfg.Billing.MonthlyLimit)
	assert.False(t, cfg.Repair.RejectNonPositive)
	assert.Equal(t, "output", cfg.Output.Dir)
}

func TestDefaultsIgnoreEnvironment(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.99")
	t.Setenv("AMOUNT_SMALL_MAX", "5")

	cfg := Default()
	assert.Equal(t, 0.7, cfg.Matching.ConfidenceThreshold)
	assert.Equal(t, int64(100000), cfg.Amounts.SmallMax)
}

func TestDecimalAccessors(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.AmountTolerance().Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.PlaceholderAmount().Equal(decimal.NewFromInt(1000)))
}

func TestLoadRejectsThresholdOutOfRange(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIDENCE_THRESHOLD")
}

func TestLoadRejectsInvertedAmountBounds(t *testing.T) {
	t.Setenv("AMOUNT_SMALL_MAX", "600000")
	t.Setenv("AMOUNT_MEDIUM_MAX", "500000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMOUNT_SMALL_MAX")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("BQ_PROJECT_ID", "acct-prod")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Matching.ConfidenceThreshold)
	assert.Equal(t, "acct-prod", cfg.Warehouse.ProjectID)
}
