package validate

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/cashmatch"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// Matching validator check names beyond the shared ones.
const (
	CheckAccountingBalance = "accounting_balance"
	CheckDuplicateEntries  = "duplicate_entries"
)

var matchingFailClosed = []string{
	CheckFileExists, CheckFileReadable, CheckRequiredColumns,
	CheckDataTypes, CheckAccountingBalance, CheckMatchingConsistency,
	CheckDuplicateEntries,
}

// MatchingConfig carries the tolerances of the journal cross validation.
type MatchingConfig struct {
	// AmountTolerance bounds rounding drift between independently computed
	// totals, in currency units.
	AmountTolerance decimal.Decimal
	ScoreTolerance  float64
	OutlierStddev   float64
}

// MatchingValidator cross-checks a journal against the match suggestions it
// was generated from.
type MatchingValidator struct {
	cfg         MatchingConfig
	journalFile string
	matchFile   string

	journal *tabular.Table
	match   *tabular.Table

	TotalEntries int
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
}

// NewMatchingValidator creates a validator for one journal/suggestion pair.
func NewMatchingValidator(cfg MatchingConfig, journalFile, matchFile string) *MatchingValidator {
	return &MatchingValidator{
		cfg:         cfg,
		journalFile: journalFile,
		matchFile:   matchFile,
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
}

// Valid is the fail-closed verdict for a matching result.
func (v *MatchingValidator) Valid(r *Result) bool { return r.Valid(matchingFailClosed...) }

// Validate runs every stage in order.
func (v *MatchingValidator) Validate(ctx context.Context) *Result {
	log := logger.FromContext(ctx)
	log.Info().Str("journal", v.journalFile).Str("suggestions", v.matchFile).Msg("matching validation started")

	r := NewResult(
		CheckFileExists, CheckFileReadable, CheckRequiredColumns,
		CheckDataTypes, CheckAccountingBalance, CheckMatchingConsistency,
		CheckAmountConsistency, CheckDuplicateEntries,
	)

	if _, err := os.Stat(v.journalFile); err != nil {
		r.Errorf("journal file not found: %s", v.journalFile)
		return r
	}
	if _, err := os.Stat(v.matchFile); err != nil {
		r.Warnf("match suggestion file does not exist: %s", v.matchFile)
	}
	r.Pass(CheckFileExists)

	journal, err := tabular.ReadFile(v.journalFile)
	if err != nil {
		r.Errorf("journal not readable: %v", err)
		return r
	}
	match, err := tabular.ReadFile(v.matchFile)
	if err != nil {
		r.Errorf("match suggestions not readable: %v", err)
		return r
	}
	v.journal, v.match = journal, match
	r.Pass(CheckFileReadable)

	if missing := journal.MissingColumns(cashmatch.JournalColumns); len(missing) > 0 {
		r.Errorf("missing required columns in journal: %v", missing)
		return r
	}
	if missing := match.MissingColumns(matchconv.Columns); len(missing) > 0 {
		r.Errorf("missing required columns in match suggestions: %v", missing)
		return r
	}
	r.Pass(CheckRequiredColumns)

	v.checkDataTypes(r)
	v.checkAccountingBalance(r)
	v.checkMatchingConsistency(r)
	v.checkAmountConsistency(r)
	v.checkDuplicateEntries(r)
	v.summarize(r)

	if v.Valid(r) {
		log.Info().Msg("matching validation passed")
	} else {
		log.Error().Strs("errors", r.Errors).Msg("matching validation failed")
	}
	return r
}

func (v *MatchingValidator) checkDataTypes(r *Result) {
	before := len(r.Errors)

	badDates, badJournalAmounts, badJournalScores := 0, 0, 0
	invalidTypes := map[string]bool{}
	for row := 0; row < v.journal.Len(); row++ {
		if _, err := time.Parse("2006-01-02", v.journal.Get(row, "date")); err != nil {
			badDates++
		}
		if _, err := time.Parse("2006-01-02 15:04:05", v.journal.Get(row, "created_at")); err != nil {
			badDates++
		}
		amount, err := decimal.NewFromString(v.journal.Get(row, "amount"))
		if err != nil || !amount.IsPositive() {
			badJournalAmounts++
		}
		score, err := strconv.ParseFloat(v.journal.Get(row, "match_score"), 64)
		if err != nil || score < 0 || score > 1 {
			badJournalScores++
		}
		entryType := domain.EntryType(v.journal.Get(row, "entry_type"))
		if !domain.ValidEntryType(entryType) {
			invalidTypes[string(entryType)] = true
		}
	}

	badMatchAmounts, badMatchScores := 0, 0
	for row := 0; row < v.match.Len(); row++ {
		amount, err := decimal.NewFromString(v.match.Get(row, "amount"))
		if err != nil || !amount.IsPositive() {
			badMatchAmounts++
		}
		score, err := strconv.ParseFloat(v.match.Get(row, "match_score"), 64)
		if err != nil || score < 0 || score > 1 {
			badMatchScores++
		}
	}

	if badDates > 0 {
		r.Errorf("date format invalid: %d fields", badDates)
	}
	if badJournalAmounts > 0 {
		r.Errorf("journal amount must be positive numeric: %d rows", badJournalAmounts)
	}
	if badMatchAmounts > 0 {
		r.Errorf("match suggestion amount must be positive numeric: %d rows", badMatchAmounts)
	}
	if badJournalScores > 0 {
		r.Errorf("match score out of valid range (0-1): %d journal rows", badJournalScores)
	}
	if badMatchScores > 0 {
		r.Errorf("match suggestion score out of valid range (0-1): %d rows", badMatchScores)
	}
	if len(invalidTypes) > 0 {
		var list []string
		for t := range invalidTypes {
			list = append(list, t)
		}
		sort.Strings(list)
		r.Errorf("invalid entry types: %v", list)
	}

	if len(r.Errors) == before {
		r.Pass(CheckDataTypes)
	}
}

// checkAccountingBalance verifies the cash and revenue legs agree within
// the tolerance, globally and per transaction.
func (v *MatchingValidator) checkAccountingBalance(r *Result) {
	debitTotal, creditTotal := decimal.Zero, decimal.Zero
	cashByTxn := map[string]decimal.Decimal{}
	revenueByTxn := map[string]decimal.Decimal{}
	cashCount := map[string]int{}
	revenueCount := map[string]int{}
	var order []string
	seen := map[string]bool{}

	for row := 0; row < v.journal.Len(); row++ {
		id := v.journal.Get(row, "transaction_id")
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
		amount, err := decimal.NewFromString(v.journal.Get(row, "amount"))
		if err != nil {
			continue
		}
		if v.journal.Get(row, "debit_account") == domain.AccountCash {
			debitTotal = debitTotal.Add(amount)
		}
		if v.journal.Get(row, "credit_account") == domain.AccountSales {
			creditTotal = creditTotal.Add(amount)
		}
		switch domain.EntryType(v.journal.Get(row, "entry_type")) {
		case domain.EntryCashReceipt:
			cashByTxn[id] = cashByTxn[id].Add(amount)
			cashCount[id]++
		case domain.EntryRevenueRecognition:
			revenueByTxn[id] = revenueByTxn[id].Add(amount)
			revenueCount[id]++
		}
	}

	v.TotalDebit, v.TotalCredit = debitTotal, creditTotal

	if debitTotal.Sub(creditTotal).Abs().GreaterThan(v.cfg.AmountTolerance) {
		r.Errorf("accounting balance mismatch: debit=%s, credit=%s", debitTotal.String(), creditTotal.String())
		return
	}

	for _, id := range order {
		if cashCount[id] != revenueCount[id] {
			r.Warnf("unbalanced entries for %s: %d cash vs %d revenue", id, cashCount[id], revenueCount[id])
		}
		if cashByTxn[id].Sub(revenueByTxn[id]).Abs().GreaterThan(v.cfg.AmountTolerance) {
			r.Warnf("inconsistent amounts for %s: cash=%s, revenue=%s", id, cashByTxn[id].String(), revenueByTxn[id].String())
		}
	}
	r.Pass(CheckAccountingBalance)
}

func (v *MatchingValidator) checkMatchingConsistency(r *Result) {
	before := len(r.Errors)

	journalIDs := map[string]bool{}
	var journalOrder []string
	for row := 0; row < v.journal.Len(); row++ {
		id := v.journal.Get(row, "transaction_id")
		if !journalIDs[id] {
			journalIDs[id] = true
			journalOrder = append(journalOrder, id)
		}
	}
	matchIDs := map[string]bool{}
	matchRow := map[string]int{}
	for row := 0; row < v.match.Len(); row++ {
		id := v.match.Get(row, "transaction_id")
		if !matchIDs[id] {
			matchIDs[id] = true
			matchRow[id] = row
		}
	}

	var onlyJournal, onlyMatch []string
	for _, id := range journalOrder {
		if !matchIDs[id] {
			onlyJournal = append(onlyJournal, id)
		}
	}
	for id := range matchIDs {
		if !journalIDs[id] {
			onlyMatch = append(onlyMatch, id)
		}
	}
	sort.Strings(onlyMatch)
	if len(onlyJournal) > 0 {
		r.Warnf("transactions in journal but not in match suggestions: %v", onlyJournal)
	}
	if len(onlyMatch) > 0 {
		r.Warnf("transactions in match suggestions but not in journal: %v", onlyMatch)
	}

	for _, id := range journalOrder {
		row, ok := matchRow[id]
		if !ok {
			continue
		}

		journalAmount := decimal.Zero
		journalScore := math.NaN()
		hasCashEntry := false
		for jr := 0; jr < v.journal.Len(); jr++ {
			if v.journal.Get(jr, "transaction_id") != id {
				continue
			}
			if math.IsNaN(journalScore) {
				journalScore, _ = strconv.ParseFloat(v.journal.Get(jr, "match_score"), 64)
			}
			if domain.EntryType(v.journal.Get(jr, "entry_type")) == domain.EntryCashReceipt {
				hasCashEntry = true
				if amount, err := decimal.NewFromString(v.journal.Get(jr, "amount")); err == nil {
					journalAmount = journalAmount.Add(amount)
				}
			}
		}
		// Manual review entries carry no matched amount to reconcile.
		if !hasCashEntry {
			continue
		}

		matchedAmount, err := decimal.NewFromString(v.match.Get(row, "matched_amount"))
		if err == nil && journalAmount.Sub(matchedAmount).Abs().GreaterThan(v.cfg.AmountTolerance) {
			r.Errorf("amount mismatch for %s: journal=%s, suggestion=%s", id, journalAmount.String(), matchedAmount.String())
		}

		matchScore, err := strconv.ParseFloat(v.match.Get(row, "match_score"), 64)
		if err == nil && math.Abs(journalScore-matchScore) > v.cfg.ScoreTolerance {
			r.Warnf("score mismatch for %s: journal=%.3f, suggestion=%.3f", id, journalScore, matchScore)
		}
	}

	if len(r.Errors) == before {
		r.Pass(CheckMatchingConsistency)
	}
}

func (v *MatchingValidator) checkAmountConsistency(r *Result) {
	before := len(r.Warnings)

	amounts := make([]float64, 0, v.journal.Len())
	for row := 0; row < v.journal.Len(); row++ {
		a, err := strconv.ParseFloat(v.journal.Get(row, "amount"), 64)
		if err != nil {
			a = 0
		}
		amounts = append(amounts, a)
	}
	for _, row := range tabular.Outliers(amounts, v.cfg.OutlierStddev) {
		r.Warnf("outlier amount: %s = %s yen", v.journal.Get(row, "transaction_id"), v.journal.Get(row, "amount"))
	}

	if len(r.Warnings) == before {
		r.Pass(CheckAmountConsistency)
	}
}

func (v *MatchingValidator) checkDuplicateEntries(r *Result) {
	if dups := v.journal.DuplicateKeys([]string{"transaction_id", "entry_type"}); len(dups) > 0 {
		r.Errorf("duplicate entries found: %d groups", len(dups))
		return
	}
	if dups := v.journal.DuplicateKeys([]string{"date", "transaction_id", "amount"}); len(dups) > 0 {
		r.Warnf("potential duplicate entries found: %d groups", len(dups))
	}
	r.Pass(CheckDuplicateEntries)
}

func (v *MatchingValidator) summarize(r *Result) {
	v.TotalEntries = v.journal.Len()
}

// Report renders the matching validation report.
func (v *MatchingValidator) Report(r *Result) string {
	return Render("MATCHING VALIDATION REPORT",
		[]string{
			fmt.Sprintf("Journal File: %s", v.journalFile),
			fmt.Sprintf("Match Suggestion File: %s", v.matchFile),
		},
		[]string{
			fmt.Sprintf("Total Journal Entries: %d", v.TotalEntries),
			fmt.Sprintf("Total Debit Amount: %s yen", v.TotalDebit.String()),
			fmt.Sprintf("Total Credit Amount: %s yen", v.TotalCredit.String()),
		}, r)
}
