package main

import (
	"context"
	"flag"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/seed"
)

func main() {
	var (
		contracts = flag.String("contracts", "data/billing_contracts.txt", "billing contract text file")
		master    = flag.String("master", "data/Project_master.csv", "project master CSV")
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

	gen := seed.NewGenerator(store)

	records, err := gen.ParseContracts(ctx, *contracts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse billing contracts")
	}
	records, err = gen.Enrich(ctx, records, *master)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to enrich seed records")
	}
	path, err := gen.Generate(ctx, records)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write invoice seed")
	}

	log.Info().Str("path", path).Int("projects", len(records)).Msg("invoice seed generation completed")
}
