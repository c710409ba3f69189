package validate

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/seed"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// CheckProjectMasterConsistency is the warn-only cross check of the seed
// table against the project directory.
const CheckProjectMasterConsistency = "project_master_consistency"

var seedFailClosed = []string{
	CheckFileExists, CheckFileReadable, CheckRequiredColumns,
	CheckDataTypes, CheckDuplicates,
}

var (
	projectIDPattern = regexp.MustCompile(`^PRJ_\d{4}$`)
	clientIDPattern  = regexp.MustCompile(`^Client_\d+$`)
)

// SeedConfig carries the bounds the seed validator checks against.
type SeedConfig struct {
	YearMin       int
	YearMax       int
	OutlierStddev float64
	MonthlyLimit  int
}

// SeedValidator checks an invoice seed table against format rules and the
// project directory.
type SeedValidator struct {
	cfg        SeedConfig
	filePath   string
	masterPath string
	tbl        *tabular.Table

	TotalProjects int
	TotalAmount   decimal.Decimal
}

// NewSeedValidator creates a validator for one seed file. masterPath may be
// empty; the project master check then degrades to a warning.
func NewSeedValidator(cfg SeedConfig, filePath, masterPath string) *SeedValidator {
	return &SeedValidator{cfg: cfg, filePath: filePath, masterPath: masterPath, TotalAmount: decimal.Zero}
}

// Valid is the fail-closed verdict for a seed result.
func (v *SeedValidator) Valid(r *Result) bool { return r.Valid(seedFailClosed...) }

// Validate runs every stage in order.
func (v *SeedValidator) Validate(ctx context.Context) *Result {
	log := logger.FromContext(ctx)
	log.Info().Str("file", v.filePath).Msg("invoice seed validation started")

	r := NewResult(
		CheckFileExists, CheckFileReadable, CheckRequiredColumns,
		CheckDataTypes, CheckDataRanges, CheckDuplicates,
		CheckProjectMasterConsistency,
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

	if missing := tbl.MissingColumns(seed.Columns); len(missing) > 0 {
		r.Errorf("missing required columns: %v", missing)
		return r
	}
	r.Pass(CheckRequiredColumns)

	v.checkDataTypes(r)
	v.checkDataRanges(r)
	v.checkDuplicates(r)
	v.checkProjectMaster(r)
	v.summarize(r)

	if v.Valid(r) {
		log.Info().Msg("invoice seed validation passed")
	} else {
		log.Error().Strs("errors", r.Errors).Msg("invoice seed validation failed")
	}
	return r
}

func (v *SeedValidator) checkDataTypes(r *Result) {
	before := len(r.Errors)

	badProjects, badClients, badYears, badMonths, badAmounts := 0, 0, 0, 0, 0
	for row := 0; row < v.tbl.Len(); row++ {
		if !projectIDPattern.MatchString(v.tbl.Get(row, "project_id")) {
			badProjects++
		}
		if !clientIDPattern.MatchString(v.tbl.Get(row, "client_id")) {
			badClients++
		}
		year, err := strconv.Atoi(v.tbl.Get(row, "billing_year"))
		if err != nil || year < v.cfg.YearMin || year > v.cfg.YearMax {
			badYears++
		}
		month, err := strconv.Atoi(v.tbl.Get(row, "billing_month"))
		if err != nil || month < 1 || month > 12 {
			badMonths++
		}
		amount, err := decimal.NewFromString(v.tbl.Get(row, "billing_amount"))
		if err != nil || !amount.IsPositive() {
			badAmounts++
		}
	}

	if badProjects > 0 {
		r.Errorf("project_id format invalid (should be PRJ_XXXX): %d rows", badProjects)
	}
	if badClients > 0 {
		r.Errorf("client_id format invalid (should be Client_XXX): %d rows", badClients)
	}
	if badYears > 0 {
		r.Errorf("billing_year out of valid range (%d-%d): %d rows", v.cfg.YearMin, v.cfg.YearMax, badYears)
	}
	if badMonths > 0 {
		r.Errorf("billing_month out of valid range (1-12): %d rows", badMonths)
	}
	if badAmounts > 0 {
		r.Errorf("billing_amount must be positive: %d rows", badAmounts)
	}

	if len(r.Errors) == before {
		r.Pass(CheckDataTypes)
	}
}

func (v *SeedValidator) checkDataRanges(r *Result) {
	before := len(r.Warnings)

	amounts := make([]float64, 0, v.tbl.Len())
	for row := 0; row < v.tbl.Len(); row++ {
		a, err := strconv.ParseFloat(v.tbl.Get(row, "billing_amount"), 64)
		if err != nil {
			a = 0
		}
		amounts = append(amounts, a)
	}
	for _, row := range tabular.Outliers(amounts, v.cfg.OutlierStddev) {
		r.Warnf("outlier billing amount: %s yen", v.tbl.Get(row, "billing_amount"))
	}

	monthly := map[string]int{}
	for row := 0; row < v.tbl.Len(); row++ {
		key := v.tbl.Get(row, "billing_year") + "-" + v.tbl.Get(row, "billing_month")
		monthly[key]++
	}
	for _, count := range monthly {
		if count > v.cfg.MonthlyLimit {
			r.Warnf("high number of invoices in a single month detected")
			break
		}
	}

	if len(r.Warnings) == before {
		r.Pass(CheckDataRanges)
	}
}

func (v *SeedValidator) checkDuplicates(r *Result) {
	if dups := v.tbl.DuplicateKeys([]string{"project_id"}); len(dups) > 0 {
		r.Errorf("duplicate project_ids found: %v", dups)
		return
	}
	if dups := v.tbl.DuplicateKeys([]string{"project_id", "billing_year", "billing_month"}); len(dups) > 0 {
		r.Errorf("duplicate monthly billing found for projects: %v", dups)
		return
	}
	r.Pass(CheckDuplicates)
}

// checkProjectMaster is warn-only: an absent or unreadable directory never
// blocks the seed batch.
func (v *SeedValidator) checkProjectMaster(r *Result) {
	if v.masterPath == "" {
		r.Warnf("project master file not configured, skipping consistency check")
		r.Pass(CheckProjectMasterConsistency)
		return
	}

	master, err := tabular.ReadFile(v.masterPath)
	if err != nil {
		r.Warnf("project master not readable, skipping consistency check: %v", err)
		r.Pass(CheckProjectMasterConsistency)
		return
	}

	known := map[string]bool{}
	for row := 0; row < master.Len(); row++ {
		known[master.Get(row, "プロジェクトID")] = true
	}

	var missing []string
	seen := map[string]bool{}
	for row := 0; row < v.tbl.Len(); row++ {
		id := v.tbl.Get(row, "project_id")
		if !known[id] && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	if len(missing) > 0 {
		r.Warnf("projects not found in master: %v", missing)
	}
	r.Pass(CheckProjectMasterConsistency)
}

func (v *SeedValidator) summarize(r *Result) {
	v.TotalProjects = v.tbl.Len()
	for row := 0; row < v.tbl.Len(); row++ {
		if amount, err := decimal.NewFromString(v.tbl.Get(row, "billing_amount")); err == nil {
			v.TotalAmount = v.TotalAmount.Add(amount)
		}
	}
}

// Report renders the seed validation report.
func (v *SeedValidator) Report(r *Result) string {
	return Render("INVOICE SEED VALIDATION REPORT",
		[]string{fmt.Sprintf("File: %s", v.filePath)},
		[]string{
			fmt.Sprintf("Total Projects: %d", v.TotalProjects),
			fmt.Sprintf("Total Amount: %s yen", v.TotalAmount.String()),
		}, r)
}
