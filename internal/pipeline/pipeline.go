package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/bankprep"
	"github.com/dvloznov/billing-recon/internal/cashmatch"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
	"github.com/dvloznov/billing-recon/internal/matcher"
	"github.com/dvloznov/billing-recon/internal/seed"
	"github.com/dvloznov/billing-recon/internal/tabular"
	"github.com/dvloznov/billing-recon/internal/validate"
)

// Step is a single stage of the monthly matching run.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State is the shared state handed from step to step. Each step owns its
// slice of the state exclusively while executing.
type State struct {
	SeedFile      string
	BankInputFile string

	Seeds          []domain.ProjectSeedRecord
	BankRecords    []domain.BankTransactionRecord
	ProcessedBank  string
	Proposals      []matchconv.RawProposal
	Conversions    []matchconv.Conversion
	SuggestionFile string
	JournalEntries []domain.JournalEntry
	JournalFile    string
}

// LoadSeedStep loads the invoice seed batch.
type LoadSeedStep struct{}

func (s *LoadSeedStep) Execute(ctx context.Context, state *State) error {
	tbl, err := tabular.ReadFile(state.SeedFile)
	if err != nil {
		return err
	}
	seeds, err := seed.FromTable(tbl)
	if err != nil {
		return err
	}
	state.Seeds = seeds
	return nil
}

// PrepareBankStep cleans and AR-matches the raw bank export.
type PrepareBankStep struct {
	Processor *bankprep.Processor
}

func (s *PrepareBankStep) Execute(ctx context.Context, state *State) error {
	records, outPath, err := s.Processor.Process(ctx, state.BankInputFile)
	if err != nil {
		return err
	}
	state.BankRecords = records
	state.ProcessedBank = outPath
	return nil
}

// ProposeMatchesStep asks the external proposer for raw match proposals.
type ProposeMatchesStep struct {
	Proposer matcher.Proposer
}

func (s *ProposeMatchesStep) Execute(ctx context.Context, state *State) error {
	proposals, err := s.Proposer.Propose(ctx, state.Seeds, state.BankRecords)
	if err != nil {
		return err
	}
	state.Proposals = proposals
	return nil
}

// ConvertProposalsStep normalizes the untrusted proposals into canonical
// match suggestions and persists the suggestion table.
type ConvertProposalsStep struct {
	Config Config
	Store  *artifact.Store
}

func (s *ConvertProposalsStep) Execute(ctx context.Context, state *State) error {
	conv := matchconv.NewConverter(s.Config.Repair, s.Store, state.Seeds)
	conversions, err := conv.Convert(ctx, state.Proposals)
	if err != nil {
		return err
	}
	state.Conversions = conversions

	name := "match_suggestion.csv"
	if len(state.Seeds) > 0 {
		name = fmt.Sprintf("match_suggestion_%04d%02d.csv", state.Seeds[0].BillingYear, state.Seeds[0].BillingMonth)
	}
	path, err := conv.WriteCSV(ctx, conversions, name)
	if err != nil {
		return err
	}
	state.SuggestionFile = path
	return nil
}

// ApplyCashMatchingStep generates the journal from the suggestion table.
type ApplyCashMatchingStep struct {
	Processor *cashmatch.Processor
}

func (s *ApplyCashMatchingStep) Execute(ctx context.Context, state *State) error {
	entries, outPath, err := s.Processor.Process(ctx, state.SuggestionFile, state.ProcessedBank, state.SeedFile)
	if err != nil {
		return err
	}
	state.JournalEntries = entries
	state.JournalFile = outPath
	return nil
}

// ValidateRunStep cross-checks the generated journal against the
// suggestions and fails the run on any fail-closed finding.
type ValidateRunStep struct {
	Config Config
	Store  *artifact.Store
}

func (s *ValidateRunStep) Execute(ctx context.Context, state *State) error {
	v := validate.NewMatchingValidator(s.Config.Matching, state.JournalFile, state.SuggestionFile)
	r := v.Validate(ctx)

	if _, err := s.Store.Write(ctx, "reports", "matching_validation_report", ".txt", []byte(v.Report(r))); err != nil {
		return err
	}
	if !v.Valid(r) {
		return fmt.Errorf("matching validation failed: %d errors", len(r.Errors))
	}
	return nil
}

// Config bundles the settings the composed steps need.
type Config struct {
	Repair   matchconv.Config
	Matching validate.MatchingConfig
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		log.Debug().Int("step", i+1).Int("total", len(p.steps)).Msg("pipeline step completed")
	}
	return nil
}

// NewMatchingPipeline composes the standard monthly run: load seeds,
// prepare bank data, propose, normalize, journal, validate.
func NewMatchingPipeline(cfg Config, bank *bankprep.Processor, proposer matcher.Proposer, cash *cashmatch.Processor, store *artifact.Store) *Pipeline {
	return NewPipeline(
		&LoadSeedStep{},
		&PrepareBankStep{Processor: bank},
		&ProposeMatchesStep{Proposer: proposer},
		&ConvertProposalsStep{Config: cfg, Store: store},
		&ApplyCashMatchingStep{Processor: cash},
		&ValidateRunStep{Config: cfg, Store: store},
	)
}
