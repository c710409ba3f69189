package main

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/cashmatch"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/warehouse"
)

func main() {
	var (
		matchFile = flag.String("match", "", "match suggestion CSV (default: latest in output/ai_output)")
		bankFile  = flag.String("bank", "", "processed bank CSV (default: latest in output/bank_processing)")
		seedFile  = flag.String("seed", "", "invoice seed CSV (default: latest in output/seed)")
		threshold = flag.Float64("threshold", 0, "confidence threshold override (default from config)")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	matchPath := *matchFile
	if matchPath == "" {
		matchPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "ai_output"), "match_suggestion_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no match suggestion file found")
		}
	}
	bankPath := *bankFile
	if bankPath == "" {
		bankPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "bank_processing"), "processed_bank_txn_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no processed bank file found")
		}
	}
	seedPath := *seedFile
	if seedPath == "" {
		seedPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "seed"), "invoice_seed_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no invoice seed file found")
		}
	}

	cutoff := cfg.Matching.ConfidenceThreshold
	if *threshold > 0 {
		cutoff = *threshold
	}

	var mirror artifact.Mirror
	if cfg.Output.GCSBucket != "" {
		mirror = artifact.NewGCSMirror(cfg.Output.GCSBucket, cfg.Output.GCSPrefix)
	}
	store := artifact.NewStore(cfg.Output.Dir, mirror)

	var sink cashmatch.Sink
	if cfg.Warehouse.ProjectID != "" {
		sink = warehouse.NewJournalSink(warehouse.Config{
			ProjectID: cfg.Warehouse.ProjectID,
			Dataset:   cfg.Warehouse.Dataset,
			Table:     cfg.Warehouse.Table,
		})
	}

	proc := cashmatch.NewProcessor(cutoff, store, sink)
	entries, path, err := proc.Process(ctx, matchPath, bankPath, seedPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cash matching failed")
	}

	stats := proc.Stats()
	log.Info().
		Str("path", path).
		Int("entries", len(entries)).
		Int("applied", stats.AppliedMatches).
		Int("rejected", stats.RejectedMatches).
		Str("matched_amount", stats.MatchedAmount.String()).
		Msg("cash matching completed")
}
