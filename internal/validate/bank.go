package validate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/bankprep"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// Bank validator check names.
const (
	CheckFileExists          = "file_exists"
	CheckFileReadable        = "file_readable"
	CheckRequiredColumns     = "required_columns"
	CheckDataTypes           = "data_types"
	CheckDataRanges          = "data_ranges"
	CheckDuplicates          = "duplicates"
	CheckMatchingConsistency = "matching_consistency"
	CheckAmountConsistency   = "amount_consistency"
	CheckDateConsistency     = "date_consistency"
)

// bankFailClosed are the checks whose failure invalidates a bank batch.
var bankFailClosed = []string{
	CheckFileExists, CheckFileReadable, CheckRequiredColumns,
	CheckDataTypes, CheckDuplicates, CheckMatchingConsistency,
}

// BankConfig carries the bounds the bank validator checks against.
type BankConfig struct {
	YearMin       int
	YearMax       int
	SmallMax      int64
	MediumMax     int64
	OutlierStddev float64
	LowConfidence float64
}

// BankValidator checks a processed bank transaction table.
type BankValidator struct {
	cfg      BankConfig
	filePath string
	tbl      *tabular.Table

	TotalTransactions int
	TotalAmount       decimal.Decimal
	MatchedAmount     decimal.Decimal
}

// NewBankValidator creates a validator for one processed bank file.
func NewBankValidator(cfg BankConfig, filePath string) *BankValidator {
	return &BankValidator{cfg: cfg, filePath: filePath, TotalAmount: decimal.Zero, MatchedAmount: decimal.Zero}
}

// Valid is the fail-closed verdict for a bank result.
func (v *BankValidator) Valid(r *Result) bool { return r.Valid(bankFailClosed...) }

// Validate runs every stage in order. A missing file, unreadable file or
// missing required column skips the remaining stages.
func (v *BankValidator) Validate(ctx context.Context) *Result {
	log := logger.FromContext(ctx)
	log.Info().Str("file", v.filePath).Msg("bank data validation started")

	r := NewResult(
		CheckFileExists, CheckFileReadable, CheckRequiredColumns,
		CheckDataTypes, CheckDataRanges, CheckDuplicates,
		CheckMatchingConsistency, CheckAmountConsistency, CheckDateConsistency,
	)

	if _, err := os.Stat(v.filePath); err != nil {
		r.Errorf("file not found: %s", v.filePath)
		return r
	}
	r.Pass(CheckFileExists)

	tbl, err := tabular.ReadFile(v.filePath)
	if err != nil {
		r.Errorf("file not readable: %v", err)
		return r
	}
	v.tbl = tbl
	r.Pass(CheckFileReadable)

	if missing := tbl.MissingColumns(bankprep.OutputColumns); len(missing) > 0 {
		r.Errorf("missing required columns: %v", missing)
		return r
	}
	r.Pass(CheckRequiredColumns)

	v.checkDataTypes(r)
	v.checkDataRanges(r)
	v.checkDuplicates(r)
	v.checkMatchingConsistency(r)
	v.checkAmountConsistency(r)
	v.checkDateConsistency(r)
	v.summarize(r)

	if v.Valid(r) {
		log.Info().Msg("bank data validation passed")
	} else {
		log.Error().Strs("errors", r.Errors).Msg("bank data validation failed")
	}
	return r
}

func (v *BankValidator) checkDataTypes(r *Result) {
	before := len(r.Errors)

	badDates, badAmounts, badTypes, badIDs, badYears, badMonths, badConf := 0, 0, 0, 0, 0, 0, 0
	for row := 0; row < v.tbl.Len(); row++ {
		if _, err := time.Parse("2006-01-02", v.tbl.Get(row, "Transaction_Date")); err != nil {
			badDates++
		}
		amount, err := decimal.NewFromString(v.tbl.Get(row, "Amount"))
		if err != nil || !amount.IsPositive() {
			badAmounts++
		}
		if v.tbl.Get(row, "Transaction_Type") != domain.DepositType {
			badTypes++
		}
		if !strings.HasPrefix(v.tbl.Get(row, "transaction_id"), "TXN_") {
			badIDs++
		}
		year, err := strconv.Atoi(v.tbl.Get(row, "year"))
		if err != nil || year < v.cfg.YearMin || year > v.cfg.YearMax {
			badYears++
		}
		month, err := strconv.Atoi(v.tbl.Get(row, "month"))
		if err != nil || month < 1 || month > 12 {
			badMonths++
		}
		conf, err := strconv.ParseFloat(v.tbl.Get(row, "matching_confidence"), 64)
		if err != nil || conf < 0 || conf > 1 {
			badConf++
		}
	}

	if badDates > 0 {
		r.Errorf("Transaction_Date format invalid: %d rows", badDates)
	}
	if badAmounts > 0 {
		r.Errorf("Amount must be positive numeric: %d rows", badAmounts)
	}
	if badTypes > 0 {
		r.Errorf("all transactions must be %s type: %d rows", domain.DepositType, badTypes)
	}
	if badIDs > 0 {
		r.Errorf("transaction_id format invalid, TXN_ prefix expected: %d rows", badIDs)
	}
	if badYears > 0 {
		r.Errorf("year out of valid range (%d-%d): %d rows", v.cfg.YearMin, v.cfg.YearMax, badYears)
	}
	if badMonths > 0 {
		r.Errorf("month out of valid range (1-12): %d rows", badMonths)
	}
	if badConf > 0 {
		r.Errorf("matching_confidence out of valid range (0-1): %d rows", badConf)
	}

	if len(r.Errors) == before {
		r.Pass(CheckDataTypes)
	}
}

func (v *BankValidator) checkDataRanges(r *Result) {
	before := len(r.Warnings)

	amounts := make([]float64, 0, v.tbl.Len())
	for row := 0; row < v.tbl.Len(); row++ {
		a, err := strconv.ParseFloat(v.tbl.Get(row, "Amount"), 64)
		if err != nil {
			a = 0
		}
		amounts = append(amounts, a)
	}
	for _, row := range tabular.Outliers(amounts, v.cfg.OutlierStddev) {
		r.Warnf("outlier amount: %s = %s yen", v.tbl.Get(row, "transaction_id"), v.tbl.Get(row, "Amount"))
	}

	for row := 0; row < v.tbl.Len(); row++ {
		conf, err := strconv.ParseFloat(v.tbl.Get(row, "matching_confidence"), 64)
		if err == nil && v.tbl.Get(row, "matching_status") == string(domain.StatusMatched) && conf < v.cfg.LowConfidence {
			r.Warnf("low confidence match: %s = %.3f", v.tbl.Get(row, "transaction_id"), conf)
		}
	}

	future := 0
	now := time.Now()
	for row := 0; row < v.tbl.Len(); row++ {
		if d, err := time.Parse("2006-01-02", v.tbl.Get(row, "Transaction_Date")); err == nil && d.After(now) {
			future++
		}
	}
	if future > 0 {
		r.Warnf("future transaction dates found: %d transactions", future)
	}

	if len(r.Warnings) == before {
		r.Pass(CheckDataRanges)
	}
}

func (v *BankValidator) checkDuplicates(r *Result) {
	if dups := v.tbl.DuplicateKeys([]string{"transaction_id"}); len(dups) > 0 {
		r.Errorf("duplicate transaction_ids found: %v", dups)
		return
	}
	if dups := v.tbl.DuplicateKeys([]string{"Transaction_Date", "Client_Name", "Amount"}); len(dups) > 0 {
		r.Warnf("potential duplicate transactions found: %d groups", len(dups))
	}
	r.Pass(CheckDuplicates)
}

func (v *BankValidator) checkMatchingConsistency(r *Result) {
	invalid := map[string]bool{}
	for row := 0; row < v.tbl.Len(); row++ {
		status := domain.MatchingStatus(v.tbl.Get(row, "matching_status"))
		if !domain.ValidMatchingStatus(status) {
			invalid[string(status)] = true
		}
	}
	if len(invalid) > 0 {
		var list []string
		for s := range invalid {
			list = append(list, s)
		}
		r.Errorf("invalid matching_status values: %v", list)
		return
	}

	zeroConfMatched, highConfUnmatched := 0, 0
	for row := 0; row < v.tbl.Len(); row++ {
		conf, err := strconv.ParseFloat(v.tbl.Get(row, "matching_confidence"), 64)
		if err != nil {
			continue
		}
		status := v.tbl.Get(row, "matching_status")
		if status == string(domain.StatusMatched) && conf == 0 {
			zeroConfMatched++
		}
		if status == string(domain.StatusUnmatched) && conf > 0.5 {
			highConfUnmatched++
		}
	}
	if zeroConfMatched > 0 {
		r.Warnf("matched transactions with zero confidence: %d", zeroConfMatched)
	}
	if highConfUnmatched > 0 {
		r.Warnf("unmatched transactions with high confidence: %d", highConfUnmatched)
	}
	r.Pass(CheckMatchingConsistency)
}

func (v *BankValidator) checkAmountConsistency(r *Result) {
	before := len(r.Warnings)

	amountsByID := map[string]map[string]bool{}
	for row := 0; row < v.tbl.Len(); row++ {
		id := v.tbl.Get(row, "transaction_id")
		if amountsByID[id] == nil {
			amountsByID[id] = map[string]bool{}
		}
		amountsByID[id][v.tbl.Get(row, "Amount")] = true
	}
	var varied []string
	for id, amounts := range amountsByID {
		if len(amounts) > 1 {
			varied = append(varied, id)
		}
	}
	if len(varied) > 0 {
		r.Warnf("amount variations for same transaction_id: %v", varied)
	}

	smallMax := decimal.NewFromInt(v.cfg.SmallMax)
	mediumMax := decimal.NewFromInt(v.cfg.MediumMax)
	for row := 0; row < v.tbl.Len(); row++ {
		amount, err := decimal.NewFromString(v.tbl.Get(row, "Amount"))
		if err != nil {
			continue
		}
		want := domain.CategorizeAmount(amount, v.cfg.SmallMax, v.cfg.MediumMax)
		got := domain.AmountCategory(v.tbl.Get(row, "amount_category"))
		if got != want {
			switch got {
			case domain.AmountSmall:
				r.Warnf("small category contains amounts >= %s yen", smallMax.String())
			case domain.AmountMedium:
				r.Warnf("medium category contains amounts outside %s-%s range", smallMax.String(), mediumMax.String())
			case domain.AmountLarge:
				r.Warnf("large category contains amounts < %s yen", mediumMax.String())
			default:
				r.Warnf("unknown amount category %q", got)
			}
		}
	}

	if len(r.Warnings) == before {
		r.Pass(CheckAmountConsistency)
	}
}

func (v *BankValidator) checkDateConsistency(r *Result) {
	before := len(r.Warnings)
	now := time.Now()

	mismatched, futureProcessing, invalidOrder := 0, 0, 0
	for row := 0; row < v.tbl.Len(); row++ {
		date, dErr := time.Parse("2006-01-02", v.tbl.Get(row, "Transaction_Date"))
		processed, pErr := time.Parse("2006-01-02 15:04:05", v.tbl.Get(row, "processed_at"))

		if dErr == nil {
			year, _ := strconv.Atoi(v.tbl.Get(row, "year"))
			month, _ := strconv.Atoi(v.tbl.Get(row, "month"))
			if year != date.Year() || month != int(date.Month()) {
				mismatched++
			}
		}
		if pErr == nil && processed.After(now) {
			futureProcessing++
		}
		if dErr == nil && pErr == nil && date.After(processed) {
			invalidOrder++
		}
	}
	if mismatched > 0 {
		r.Warnf("date inconsistency found: %d rows", mismatched)
	}
	if futureProcessing > 0 {
		r.Warnf("future processing timestamps found: %d rows", futureProcessing)
	}
	if invalidOrder > 0 {
		r.Warnf("transaction date after processing date: %d rows", invalidOrder)
	}

	if len(r.Warnings) == before {
		r.Pass(CheckDateConsistency)
	}
}

func (v *BankValidator) summarize(r *Result) {
	v.TotalTransactions = v.tbl.Len()
	for row := 0; row < v.tbl.Len(); row++ {
		amount, err := decimal.NewFromString(v.tbl.Get(row, "Amount"))
		if err != nil {
			continue
		}
		v.TotalAmount = v.TotalAmount.Add(amount)
		if v.tbl.Get(row, "matching_status") == string(domain.StatusMatched) {
			v.MatchedAmount = v.MatchedAmount.Add(amount)
		}
	}
}

// Report renders the bank validation report.
func (v *BankValidator) Report(r *Result) string {
	return Render("BANK DATA VALIDATION REPORT",
		[]string{fmt.Sprintf("File: %s", v.filePath)},
		[]string{
			fmt.Sprintf("Total Transactions: %d", v.TotalTransactions),
			fmt.Sprintf("Total Amount: %s yen", v.TotalAmount.String()),
			fmt.Sprintf("Matched Amount: %s yen", v.MatchedAmount.String()),
		}, r)
}
