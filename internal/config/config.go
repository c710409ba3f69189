package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config carries every tunable of the monthly billing pipeline. Thresholds
// and boundaries are configuration inputs, not extension points; components
// receive the values they need through their constructors.
type Config struct {
	Matching struct {
		// ConfidenceThreshold splits suggestions into auto-journaled vs
		// manual review.
		ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.7"`
		// WarnConfidence flags matched bank rows below this score as
		// low-confidence warnings during validation.
		WarnConfidence float64 `envconfig:"WARN_CONFIDENCE" default:"0.8"`
		// ARTolerance is the relative amount difference accepted when
		// matching a payment against a receivable.
		ARTolerance float64 `envconfig:"AR_TOLERANCE" default:"0.10"`
	}

	Amounts struct {
		SmallMax  int64 `envconfig:"AMOUNT_SMALL_MAX" default:"100000"`
		MediumMax int64 `envconfig:"AMOUNT_MEDIUM_MAX" default:"500000"`
		// Tolerance is the single accounting tolerance, in yen, applied to
		// every cross-total and per-transaction balance comparison.
		Tolerance int64 `envconfig:"AMOUNT_TOLERANCE" default:"1"`
		// OutlierStddev is the sigma multiplier for outlier warnings.
		OutlierStddev float64 `envconfig:"OUTLIER_STDDEV" default:"3"`
	}

	Billing struct {
		YearMin      int `envconfig:"YEAR_MIN" default:"2020"`
		YearMax      int `envconfig:"YEAR_MAX" default:"2030"`
		MonthlyLimit int `envconfig:"INVOICE_MONTHLY_LIMIT" default:"20"`
	}

	Repair struct {
		// RejectNonPositive rejects proposals with non-positive amounts
		// instead of substituting PlaceholderAmount. The substitution
		// fabricates a value and is off by default only because the
		// upstream bookkeeping flow expects it; flip this once a real
		// policy decision lands.
		RejectNonPositive bool `envconfig:"REPAIR_REJECT_NON_POSITIVE" default:"false"`
		// PlaceholderAmount replaces non-positive amounts when repair is
		// enabled, applied to amount and matched_amount alike.
		PlaceholderAmount int64 `envconfig:"REPAIR_PLACEHOLDER_AMOUNT" default:"1000"`
	}

	Output struct {
		Dir string `envconfig:"OUTPUT_DIR" default:"output"`
		// GCSBucket, when set, mirrors every artifact to this bucket.
		GCSBucket string `envconfig:"ARTIFACT_GCS_BUCKET"`
		// GCSPrefix is the object-name prefix inside the bucket.
		GCSPrefix string `envconfig:"ARTIFACT_GCS_PREFIX" default:"billing-recon"`
	}

	Warehouse struct {
		// ProjectID enables the BigQuery journal sink when non-empty.
		ProjectID string `envconfig:"BQ_PROJECT_ID"`
		Dataset   string `envconfig:"BQ_DATASET" default:"accounting"`
		Table     string `envconfig:"BQ_JOURNAL_TABLE" default:"journal_entries"`
	}

	AI struct {
		Model string `envconfig:"GENAI_MODEL" default:"gemini-2.5-flash"`
	}
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	if cfg.Matching.ConfidenceThreshold < 0 || cfg.Matching.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("config: CONFIDENCE_THRESHOLD %v out of [0,1]", cfg.Matching.ConfidenceThreshold)
	}
	if cfg.Amounts.SmallMax >= cfg.Amounts.MediumMax {
		return nil, fmt.Errorf("config: AMOUNT_SMALL_MAX %d must be below AMOUNT_MEDIUM_MAX %d",
			cfg.Amounts.SmallMax, cfg.Amounts.MediumMax)
	}
	return &cfg, nil
}

// Default returns the configuration with the documented defaults, built from
// literals so ambient environment variables never leak in. Used by tests.
func Default() *Config {
	var cfg Config
	cfg.Matching.ConfidenceThreshold = 0.7
	cfg.Matching.WarnConfidence = 0.8
	cfg.Matching.ARTolerance = 0.10
	cfg.Amounts.SmallMax = 100000
	cfg.Amounts.MediumMax = 500000
	cfg.Amounts.Tolerance = 1
	cfg.Amounts.OutlierStddev = 3
	cfg.Billing.YearMin = 2020
	cfg.Billing.YearMax = 2030
	cfg.Billing.MonthlyLimit = 20
	cfg.Repair.PlaceholderAmount = 1000
	cfg.Output.Dir = "output"
	cfg.Output.GCSPrefix = "billing-recon"
	cfg.Warehouse.Dataset = "accounting"
	cfg.Warehouse.Table = "journal_entries"
	cfg.AI.Model = "gemini-2.5-flash"
	return &cfg
}

// AmountTolerance returns the accounting tolerance as a decimal.
func (c *Config) AmountTolerance() decimal.Decimal {
	return decimal.NewFromInt(c.Amounts.Tolerance)
}

// PlaceholderAmount returns the repair substitution value as a decimal.
func (c *Config) PlaceholderAmount() decimal.Decimal {
	return decimal.NewFromInt(c.Repair.PlaceholderAmount)
}
