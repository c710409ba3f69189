package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/config"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/validate"
)

func main() {
	var (
		target = flag.String("target", "", "what to validate: bank, seed or matching")
		file   = flag.String("file", "", "file to validate (default: latest artifact for the target)")
		master = flag.String("master", "data/Project_master.csv", "project master CSV (seed target only)")
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

	var (
		report     string
		reportName string
		valid      bool
	)
	switch *target {
	case "bank":
		path := *file
		if path == "" {
			path, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "bank_processing"), "processed_bank_txn_", ".csv")
			if err != nil {
				log.Fatal().Err(err).Msg("no processed bank file found")
			}
		}
		v := validate.NewBankValidator(validate.BankConfig{
			YearMin:       cfg.Billing.YearMin,
			YearMax:       cfg.Billing.YearMax,
			SmallMax:      cfg.Amounts.SmallMax,
			MediumMax:     cfg.Amounts.MediumMax,
			OutlierStddev: cfg.Amounts.OutlierStddev,
			LowConfidence: cfg.Matching.WarnConfidence,
		}, path)
		r := v.Validate(ctx)
		report, reportName, valid = v.Report(r), "bank_validation_report", v.Valid(r)

	case "seed":
		path := *file
		if path == "" {
			path, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "seed"), "invoice_seed_", ".csv")
			if err != nil {
				log.Fatal().Err(err).Msg("no invoice seed file found")
			}
		}
		v := validate.NewSeedValidator(validate.SeedConfig{
			YearMin:       cfg.Billing.YearMin,
			YearMax:       cfg.Billing.YearMax,
			OutlierStddev: cfg.Amounts.OutlierStddev,
			MonthlyLimit:  cfg.Billing.MonthlyLimit,
		}, path, *master)
		r := v.Validate(ctx)
		report, reportName, valid = v.Report(r), "validation_report", v.Valid(r)

	case "matching":
		journalPath := *file
		if journalPath == "" {
			journalPath, err = artifact.Latest(filepath.Join(cfg.Output.Dir, "journal"), "journal_", ".csv")
			if err != nil {
				log.Fatal().Err(err).Msg("no journal file found")
			}
		}
		matchPath, err := artifact.Latest(filepath.Join(cfg.Output.Dir, "ai_output"), "match_suggestion_", ".csv")
		if err != nil {
			log.Fatal().Err(err).Msg("no match suggestion file found")
		}
		v := validate.NewMatchingValidator(validate.MatchingConfig{
			AmountTolerance: cfg.AmountTolerance(),
			ScoreTolerance:  0.001,
			OutlierStddev:   cfg.Amounts.OutlierStddev,
		}, journalPath, matchPath)
		r := v.Validate(ctx)
		report, reportName, valid = v.Report(r), "matching_validation_report", v.Valid(r)

	default:
		fmt.Fprintln(os.Stderr, "usage: validate -target bank|seed|matching [-file path]")
		os.Exit(2)
	}

	fmt.Print(report)

	if _, err := store.Write(ctx, "reports", reportName, ".txt", []byte(report)); err != nil {
		log.Fatal().Err(err).Msg("failed to write validation report")
	}

	if !valid {
		os.Exit(1)
	}
}
