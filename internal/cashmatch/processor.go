package cashmatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/bankprep"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
	"github.com/dvloznov/billing-recon/internal/seed"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// JournalColumns is the canonical journal table layout.
var JournalColumns = []string{
	"date", "transaction_id", "project_id", "client_name",
	"debit_account", "credit_account", "amount", "description",
	"match_score", "entry_type", "created_at",
}

const (
	dateFormat     = "2006-01-02"
	datetimeFormat = "2006-01-02 15:04:05"
)

// Stats aggregates what one journal generation run did.
type Stats struct {
	TotalSuggestions int
	AppliedMatches   int
	RejectedMatches  int
	TotalAmount      decimal.Decimal
	MatchedAmount    decimal.Decimal

	TotalEntries        int
	CashReceiptEntries  int
	RevenueEntries      int
	ManualReviewEntries int
	TotalDebitAmount    decimal.Decimal
	TotalCreditAmount   decimal.Decimal
	AverageMatchScore   float64
}

// Sink persists generated journal entries to downstream storage. nil means
// file-only output.
type Sink interface {
	Put(ctx context.Context, entries []domain.JournalEntry) error
}

// Processor turns validated match suggestions into a balanced journal.
type Processor struct {
	threshold float64
	store     *artifact.Store
	sink      Sink

	matchFile string
	bankFile  string
	seedFile  string

	stats Stats
}

// NewProcessor creates a journal generator. threshold is the confidence
// cutoff for auto-journaling; sink may be nil.
func NewProcessor(threshold float64, store *artifact.Store, sink Sink) *Processor {
	return &Processor{threshold: threshold, store: store, sink: sink}
}

// Stats returns the counters of the last Process call.
func (p *Processor) Stats() Stats { return p.stats }

// Process loads the three input tables, validates the suggestions, generates
// the journal and writes the artifact plus the companion report. Any load or
// validation failure aborts before anything is written.
func (p *Processor) Process(ctx context.Context, matchFile, bankFile, seedFile string) ([]domain.JournalEntry, string, error) {
	log := logger.FromContext(ctx)
	p.matchFile, p.bankFile, p.seedFile = matchFile, bankFile, seedFile
	p.stats = Stats{
		TotalAmount:       decimal.Zero,
		MatchedAmount:     decimal.Zero,
		TotalDebitAmount:  decimal.Zero,
		TotalCreditAmount: decimal.Zero,
	}

	suggestions, err := p.loadInputs(ctx)
	if err != nil {
		return nil, "", err
	}

	if err := validateSuggestions(suggestions); err != nil {
		return nil, "", err
	}

	high, low := Partition(suggestions, p.threshold)
	p.stats.TotalSuggestions = len(suggestions)
	p.stats.AppliedMatches = len(high)
	p.stats.RejectedMatches = len(low)
	log.Info().
		Float64("threshold", p.threshold).
		Int("high_confidence", len(high)).
		Int("low_confidence", len(low)).
		Msg("suggestions partitioned")

	now := time.Now()
	entries := make([]domain.JournalEntry, 0, 2*len(high)+len(low))
	for _, s := range high {
		entries = append(entries, journalPair(s, now)...)
		p.stats.TotalAmount = p.stats.TotalAmount.Add(s.Amount)
		p.stats.MatchedAmount = p.stats.MatchedAmount.Add(s.MatchedAmount)
	}
	for _, s := range low {
		entries = append(entries, manualReviewEntry(s, now))
	}

	p.finishStats(entries)

	if p.sink != nil {
		if err := p.sink.Put(ctx, entries); err != nil {
			log.Warn().Err(err).Msg("journal sink failed, file artifact is authoritative")
		}
	}

	data, err := ToTable(entries).Bytes()
	if err != nil {
		return nil, "", fmt.Errorf("cashmatch: render journal: %w", err)
	}
	outPath, err := p.store.Write(ctx, "journal", "journal", ".csv", data)
	if err != nil {
		return nil, "", err
	}

	report := p.renderReport()
	if _, err := p.store.Write(ctx, "reports", "cash_matching_report", ".txt", []byte(report)); err != nil {
		return nil, "", err
	}

	log.Info().
		Int("entries", len(entries)).
		Str("matched_amount", p.stats.MatchedAmount.String()).
		Msg("cash matching completed")
	return entries, outPath, nil
}

// loadInputs reads the suggestion, bank and seed tables. The bank and seed
// tables are structural prerequisites: an unreadable file means the batch
// was assembled wrong and nothing should be journaled.
func (p *Processor) loadInputs(ctx context.Context) ([]domain.MatchSuggestion, error) {
	log := logger.FromContext(ctx)

	matchTbl, err := tabular.ReadFile(p.matchFile)
	if err != nil {
		return nil, fmt.Errorf("cashmatch: load match suggestions: %w", err)
	}
	suggestions, err := matchconv.FromTable(matchTbl)
	if err != nil {
		return nil, fmt.Errorf("cashmatch: parse match suggestions: %w", err)
	}

	bankTbl, err := tabular.ReadFile(p.bankFile)
	if err != nil {
		return nil, fmt.Errorf("cashmatch: load bank data: %w", err)
	}
	if _, err := bankprep.FromTable(bankTbl); err != nil {
		return nil, fmt.Errorf("cashmatch: parse bank data: %w", err)
	}

	seedTbl, err := tabular.ReadFile(p.seedFile)
	if err != nil {
		return nil, fmt.Errorf("cashmatch: load invoice seed: %w", err)
	}
	seeds, err := seed.FromTable(seedTbl)
	if err != nil {
		return nil, fmt.Errorf("cashmatch: parse invoice seed: %w", err)
	}

	suggestionTotal := decimal.Zero
	for _, s := range suggestions {
		suggestionTotal = suggestionTotal.Add(s.Amount)
	}
	seedTotal := decimal.Zero
	for _, s := range seeds {
		seedTotal = seedTotal.Add(s.BillingAmount)
	}
	log.Info().
		Int("suggestions", len(suggestions)).
		Int("bank_rows", bankTbl.Len()).
		Int("seed_rows", len(seeds)).
		Str("suggestion_total", suggestionTotal.String()).
		Str("seed_total", seedTotal.String()).
		Msg("cash matching inputs loaded")
	return suggestions, nil
}

// validateSuggestions fails closed on scores outside [0,1] or non-positive
// amounts. These should have been normalized upstream; finding one here
// means the batch is inconsistent.
func validateSuggestions(suggestions []domain.MatchSuggestion) error {
	for i, s := range suggestions {
		if s.MatchScore < 0 || s.MatchScore > 1 {
			return fmt.Errorf("cashmatch: suggestion %d: match score %v outside [0,1]", i+1, s.MatchScore)
		}
		if !s.Amount.IsPositive() {
			return fmt.Errorf("cashmatch: suggestion %d: non-positive amount %s", i+1, s.Amount.String())
		}
	}
	return nil
}

// Partition splits suggestions at the threshold. Every suggestion lands in
// exactly one of the two halves.
func Partition(suggestions []domain.MatchSuggestion, threshold float64) (high, low []domain.MatchSuggestion) {
	for _, s := range suggestions {
		if s.MatchScore >= threshold {
			high = append(high, s)
		} else {
			low = append(low, s)
		}
	}
	return high, low
}

// journalPair emits the balanced double entry for one applied match: cash
// receipt (debit cash, credit receivable) and revenue recognition (debit
// receivable, credit revenue), both at the matched amount.
func journalPair(s domain.MatchSuggestion, now time.Time) []domain.JournalEntry {
	base := domain.JournalEntry{
		Date:          now,
		TransactionID: s.TransactionID,
		ProjectID:     s.ProjectID,
		ClientName:    s.ClientName,
		Amount:        s.MatchedAmount,
		MatchScore:    s.MatchScore,
		CreatedAt:     now,
	}

	receipt := base
	receipt.DebitAccount = domain.AccountCash
	receipt.CreditAccount = domain.AccountReceivable
	receipt.Description = fmt.Sprintf("入金消込 - %s (%s)", s.ClientName, s.ProjectID)
	receipt.EntryType = domain.EntryCashReceipt

	revenue := base
	revenue.DebitAccount = domain.AccountReceivable
	revenue.CreditAccount = domain.AccountSales
	revenue.Description = fmt.Sprintf("売上計上 - %s (%s)", s.ClientName, s.ProjectID)
	revenue.EntryType = domain.EntryRevenueRecognition

	return []domain.JournalEntry{receipt, revenue}
}

// manualReviewEntry books a low-confidence suggestion on the pending
// settlement account at the original amount, carrying the score for triage.
func manualReviewEntry(s domain.MatchSuggestion, now time.Time) domain.JournalEntry {
	return domain.JournalEntry{
		Date:          now,
		TransactionID: s.TransactionID,
		ProjectID:     s.ProjectID,
		ClientName:    s.ClientName,
		DebitAccount:  domain.AccountPendingSettlement,
		CreditAccount: domain.AccountPendingSettlement,
		Amount:        s.Amount,
		Description:   fmt.Sprintf("手動確認要 - %s (%s) - スコア: %.3f", s.ClientName, s.ProjectID, s.MatchScore),
		MatchScore:    s.MatchScore,
		EntryType:     domain.EntryManualReview,
		CreatedAt:     now,
	}
}

func (p *Processor) finishStats(entries []domain.JournalEntry) {
	p.stats.TotalEntries = len(entries)
	scoreSum := 0.0
	for _, e := range entries {
		scoreSum += e.MatchScore
		switch e.EntryType {
		case domain.EntryCashReceipt:
			p.stats.CashReceiptEntries++
		case domain.EntryRevenueRecognition:
			p.stats.RevenueEntries++
		case domain.EntryManualReview:
			p.stats.ManualReviewEntries++
		}
		if e.DebitAccount == domain.AccountCash {
			p.stats.TotalDebitAmount = p.stats.TotalDebitAmount.Add(e.Amount)
		}
		if e.CreditAccount == domain.AccountSales {
			p.stats.TotalCreditAmount = p.stats.TotalCreditAmount.Add(e.Amount)
		}
	}
	if len(entries) > 0 {
		p.stats.AverageMatchScore = scoreSum / float64(len(entries))
	}
}

func (p *Processor) renderReport() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\nCASH MATCHING PROCESSING REPORT\n%s\n", line, line)
	fmt.Fprintf(&b, "Processing Time: %s\n\n", time.Now().Format(datetimeFormat))

	fmt.Fprintf(&b, "INPUT FILES:\n")
	fmt.Fprintf(&b, "  Match Suggestions: %s\n", p.matchFile)
	fmt.Fprintf(&b, "  Bank Data: %s\n", p.bankFile)
	fmt.Fprintf(&b, "  Invoice Seed: %s\n\n", p.seedFile)

	fmt.Fprintf(&b, "PROCESSING STATISTICS:\n")
	fmt.Fprintf(&b, "  Total Suggestions: %d\n", p.stats.TotalSuggestions)
	fmt.Fprintf(&b, "  Applied Matches: %d\n", p.stats.AppliedMatches)
	fmt.Fprintf(&b, "  Rejected Matches: %d\n", p.stats.RejectedMatches)
	fmt.Fprintf(&b, "  Total Amount: %s yen\n", p.stats.TotalAmount.String())
	fmt.Fprintf(&b, "  Matched Amount: %s yen\n\n", p.stats.MatchedAmount.String())

	fmt.Fprintf(&b, "JOURNAL STATISTICS:\n")
	fmt.Fprintf(&b, "  Total Entries: %d\n", p.stats.TotalEntries)
	fmt.Fprintf(&b, "  Cash Receipt Entries: %d\n", p.stats.CashReceiptEntries)
	fmt.Fprintf(&b, "  Revenue Entries: %d\n", p.stats.RevenueEntries)
	fmt.Fprintf(&b, "  Manual Review Entries: %d\n", p.stats.ManualReviewEntries)
	fmt.Fprintf(&b, "  Total Debit Amount: %s yen\n", p.stats.TotalDebitAmount.String())
	fmt.Fprintf(&b, "  Total Credit Amount: %s yen\n", p.stats.TotalCreditAmount.String())
	fmt.Fprintf(&b, "  Average Match Score: %.3f\n", p.stats.AverageMatchScore)
	b.WriteString(line + "\n")
	return b.String()
}

// ToTable renders journal entries in the canonical column order.
func ToTable(entries []domain.JournalEntry) *tabular.Table {
	tbl := tabular.New(JournalColumns)
	for _, e := range entries {
		tbl.Append(map[string]string{
			"date":           e.Date.Format(dateFormat),
			"transaction_id": e.TransactionID,
			"project_id":     e.ProjectID,
			"client_name":    e.ClientName,
			"debit_account":  e.DebitAccount,
			"credit_account": e.CreditAccount,
			"amount":         e.Amount.String(),
			"description":    e.Description,
			"match_score":    strconv.FormatFloat(e.MatchScore, 'f', -1, 64),
			"entry_type":     string(e.EntryType),
			"created_at":     e.CreatedAt.Format(datetimeFormat),
		})
	}
	return tbl
}

// FromTable parses a journal table back into entries.
func FromTable(tbl *tabular.Table) ([]domain.JournalEntry, error) {
	if missing := tbl.MissingColumns(JournalColumns); len(missing) > 0 {
		return nil, fmt.Errorf("cashmatch: table missing columns %v", missing)
	}
	entries := make([]domain.JournalEntry, 0, tbl.Len())
	for row := 0; row < tbl.Len(); row++ {
		date, err := time.Parse(dateFormat, tbl.Get(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("cashmatch: row %d: date %q: %w", row+1, tbl.Get(row, "date"), err)
		}
		createdAt, err := time.Parse(datetimeFormat, tbl.Get(row, "created_at"))
		if err != nil {
			return nil, fmt.Errorf("cashmatch: row %d: created_at %q: %w", row+1, tbl.Get(row, "created_at"), err)
		}
		amount, err := decimal.NewFromString(tbl.Get(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("cashmatch: row %d: amount %q: %w", row+1, tbl.Get(row, "amount"), err)
		}
		score, err := strconv.ParseFloat(tbl.Get(row, "match_score"), 64)
		if err != nil {
			return nil, fmt.Errorf("cashmatch: row %d: match_score %q: %w", row+1, tbl.Get(row, "match_score"), err)
		}
		entries = append(entries, domain.JournalEntry{
			Date:          date,
			TransactionID: tbl.Get(row, "transaction_id"),
			ProjectID:     tbl.Get(row, "project_id"),
			ClientName:    tbl.Get(row, "client_name"),
			DebitAccount:  tbl.Get(row, "debit_account"),
			CreditAccount: tbl.Get(row, "credit_account"),
			Amount:        amount,
			Description:   tbl.Get(row, "description"),
			MatchScore:    score,
			EntryType:     domain.EntryType(tbl.Get(row, "entry_type")),
			CreatedAt:     createdAt,
		})
	}
	return entries, nil
}
