package main

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/bankprep"
	"github.com/dvloznov/billing-recon/internal/cashmatch"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
	"github.com/dvloznov/billing-recon/internal/matcher"
	"github.com/dvloznov/billing-recon/internal/pipeline"
	"github.com/dvloznov/billing-recon/internal/validate"
	"github.com/dvloznov/billing-recon/internal/warehouse"
)

func main() {
	var (
		seedFile = flag.String("seed", "", "invoice seed CSV (default: latest in output/seed)")
		bankFile = flag.String("bank", "data/bank_data.csv", "raw bank export CSV")
		arFile   = flag.String("ar", "data/ar_data.csv", "receivables ledger CSV (empty to skip AR matching)")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	seedPath := *seedFile
	if seedPath == "" {
		seedPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "seed"), "invoice_seed_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no invoice seed file found")
		}
	}

	var mirror artifact.Mirror
	if cfg.Output.GCSBucket != "" {
		mirror = artifact.NewGCSMirror(cfg.Output.GCSBucket, cfg.Output.GCSPrefix)
	}
	store := artifact.NewStore(cfg.Output.Dir, mirror)

	bank := bankprep.NewProcessor(bankprep.Config{
		SmallMax:    cfg.Amounts.SmallMax,
		MediumMax:   cfg.Amounts.MediumMax,
		ARTolerance: cfg.Matching.ARTolerance,
	}, store, *arFile)

	var sink cashmatch.Sink
	if cfg.Warehouse.ProjectID != "" {
		sink = warehouse.NewJournalSink(warehouse.Config{
			ProjectID: cfg.Warehouse.ProjectID,
			Dataset:   cfg.Warehouse.Dataset,
			Table:     cfg.Warehouse.Table,
		})
	}
	cash := cashmatch.NewProcessor(cfg.Matching.ConfidenceThreshold, store, sink)

	p := pipeline.NewMatchingPipeline(pipeline.Config{
		Repair: matchconv.Config{
			RejectNonPositive: cfg.Repair.RejectNonPositive,
			PlaceholderAmount: cfg.PlaceholderAmount(),
		},
		Matching: validate.MatchingConfig{
			AmountTolerance: cfg.AmountTolerance(),
			ScoreTolerance:  0.001,
			OutlierStddev:   cfg.Amounts.OutlierStddev,
		},
	}, bank, matcher.NewGeminiProposer(cfg.AI.Model), cash, store)

	state := &pipeline.State{
		SeedFile:      seedPath,
		BankInputFile: *bankFile,
	}
	if err := p.Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("matching run failed")
	}

	log.Info().
		Str("suggestions", state.SuggestionFile).
		Str("journal", state.JournalFile).
		Int("entries", len(state.JournalEntries)).
		Msg("matching run completed")
}
