package main

import (
	"context"
	"flag"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/bankprep"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
)

func main() {
	var (
		input = flag.String("input", "data/bank_data.csv", "raw bank export CSV")
		ar    = flag.String("ar", "data/ar_data.csv", "receivables ledger CSV (empty to skip AR matching)")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var mirror artifact.Mirror
	if cfg.Output.GCSBucket != "" {
		mirror = artifact.NewGCSMirror(cfg.Output.GCSBucket, cfg.Output.GCSPrefix)
	}
	store := artifact.NewStore(cfg.Output.Dir, mirror)

	proc := bankprep.NewProcessor(bankprep.Config{
		SmallMax:    cfg.Amounts.SmallMax,
		MediumMax:   cfg.Amounts.MediumMax,
		ARTolerance: cfg.Matching.ARTolerance,
	}, store, *ar)

	records, path, err := proc.Process(ctx, *input)
	if err != nil {
		log.Fatal().Err(err).Msg("bank preprocessing failed")
	}

	stats := proc.Stats()
	log.Info().
		Str("path", path).
		Int("valid", len(records)).
		Int("invalid", stats.InvalidTransactions).
		Str("total_amount", stats.TotalAmount.String()).
		Msg("bank preprocessing completed")
}
