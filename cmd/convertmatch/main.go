package main

import (
	"context"
	"flag"
	"path/filepath"
	"strings"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
	"github.com/dvloznov/billing-recon/internal/seed"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

func main() {
	var (
		proposals = flag.String("proposals", "", "match proposal JSON file (default: latest in output/ai_output)")
		seedFile  = flag.String("seed", "", "invoice seed CSV (default: latest in output/seed)")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	proposalPath := *proposals
	if proposalPath == "" {
		proposalPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "ai_output"), "match_suggestion_", ".json")
		if err != nil {
			log.Fatal().Err(err).Msg("no match proposal file found")
		}
	}
	seedPath := *seedFile
	if seedPath == "" {
		seedPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "seed"), "invoice_seed_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no invoice seed file found")
		}
	}

	raw, err := matchconv.LoadProposals(proposalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load match proposals")
	}

	seedTbl, err := tabular.ReadFile(seedPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load invoice seed")
	}
	seeds, err := seed.FromTable(seedTbl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse invoice seed")
	}

	var mirror artifact.Mirror
	if cfg.Output.GCSBucket != "" {
		mirror = artifact.NewGCSMirror(cfg.Output.GCSBucket, cfg.Output.GCSPrefix)
	}
	store := artifact.NewStore(cfg.Output.Dir, mirror)

	conv := matchconv.NewConverter(matchconv.Config{
		RejectNonPositive: cfg.Repair.RejectNonPositive,
		PlaceholderAmount: cfg.PlaceholderAmount(),
	}, store, seeds)

	conversions, err := conv.Convert(ctx, raw)
	if err != nil {
		log.Fatal().Err(err).Msg("proposal conversion failed")
	}

	base := strings.TrimSuffix(filepath.Base(proposalPath), ".json")
	path, err := conv.WriteCSV(ctx, conversions, base+".csv")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write suggestion table")
	}

	log.Info().
		Str("path", path).
		Int("suggestions", len(matchconv.Suggestions(conversions))).
		Msg("match proposal conversion completed")
}
