package bankprep

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// RequiredColumns must all be present in the raw bank export; their absence
// fails the whole batch before any row is processed.
var RequiredColumns = []string{"Transaction_Date", "Client_Name", "Amount", "Transaction_Type"}

// OutputColumns is the processed bank table layout: the input columns plus
// the processing metadata.
var OutputColumns = []string{
	"Transaction_Date", "Client_Name", "Amount", "Transaction_Type",
	"processed_at", "transaction_id", "year", "month", "amount_category",
	"matching_status", "matching_confidence",
}

// Receivables ledger column names.
const (
	arProjectID  = "Project_ID"
	arClientName = "Client"
	arAmount     = "AR_Amount"
)

const (
	dateFormat     = "2006-01-02"
	datetimeFormat = "2006-01-02 15:04:05"
)

// Stats counts what happened to a batch.
type Stats struct {
	TotalTransactions   int
	ValidTransactions   int
	InvalidTransactions int
	TotalAmount         decimal.Decimal
	MatchedAmount       decimal.Decimal
}

// Aggregate is a per-day or per-client rollup used in reports.
type Aggregate struct {
	Key     string
	Sum     decimal.Decimal
	Count   int
	Matched int
}

// Config is the slice of pipeline configuration the preprocessor needs.
type Config struct {
	SmallMax    int64
	MediumMax   int64
	ARTolerance float64
}

// Processor cleans a raw bank export, synthesizes transaction metadata and
// provisionally matches each payment against the receivables ledger.
type Processor struct {
	cfg   Config
	store *artifact.Store

	// arPath is the receivables ledger location; empty disables AR matching
	// and every row comes out as no_ar_data.
	arPath string

	stats Stats
}

// NewProcessor creates a bank preprocessor.
func NewProcessor(cfg Config, store *artifact.Store, arPath string) *Processor {
	return &Processor{cfg: cfg, store: store, arPath: arPath}
}

// Stats returns the counters of the last Process call.
func (p *Processor) Stats() Stats { return p.stats }

// Process runs the full preprocessing: load, structural check, clean,
// metadata, AR matching, statistics, artifact + report. It returns the
// cleaned records and the processed CSV path. Any structural failure aborts
// with no output written.
func (p *Processor) Process(ctx context.Context, inputPath string) ([]domain.BankTransactionRecord, string, error) {
	log := logger.FromContext(ctx)
	p.stats = Stats{TotalAmount: decimal.Zero, MatchedAmount: decimal.Zero}

	raw, err := tabular.ReadFile(inputPath)
	if err != nil {
		return nil, "", fmt.Errorf("bankprep: load bank data: %w", err)
	}
	p.stats.TotalTransactions = raw.Len()
	log.Info().Int("rows", raw.Len()).Str("file", inputPath).Msg("bank data loaded")

	if missing := raw.MissingColumns(RequiredColumns); len(missing) > 0 {
		return nil, "", fmt.Errorf("bankprep: missing required columns: %v", missing)
	}

	records := p.clean(ctx, raw)
	p.stats.ValidTransactions = len(records)
	p.stats.InvalidTransactions = raw.Len() - len(records)
	log.Info().
		Int("before", raw.Len()).
		Int("after", len(records)).
		Msg("bank data cleaned")

	records = p.matchReceivables(ctx, records)

	daily, clients := p.aggregate(records)
	for _, r := range records {
		p.stats.TotalAmount = p.stats.TotalAmount.Add(r.Amount)
		if r.MatchingStatus == domain.StatusMatched {
			p.stats.MatchedAmount = p.stats.MatchedAmount.Add(r.Amount)
		}
	}

	data, err := ToTable(records).Bytes()
	if err != nil {
		return nil, "", fmt.Errorf("bankprep: render output: %w", err)
	}
	outPath, err := p.store.Write(ctx, "bank_processing", "processed_bank_txn", ".csv", data)
	if err != nil {
		return nil, "", err
	}

	report := p.renderReport(inputPath, daily, clients)
	if _, err := p.store.Write(ctx, "reports", "bank_processing_report", ".txt", []byte(report)); err != nil {
		return nil, "", err
	}

	return records, outPath, nil
}

// clean normalizes types and keeps only positive-amount deposit rows.
// Everything dropped here counts as invalid.
func (p *Processor) clean(ctx context.Context, raw *tabular.Table) []domain.BankTransactionRecord {
	log := logger.FromContext(ctx)
	now := time.Now()
	seen := make(map[string]bool)

	var records []domain.BankTransactionRecord
	for row := 0; row < raw.Len(); row++ {
		date, err := parseDate(raw.Get(row, "Transaction_Date"))
		if err != nil {
			continue
		}
		client := raw.Get(row, "Client_Name")
		if client == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw.Get(row, "Amount"))
		if err != nil || !amount.IsPositive() {
			continue
		}
		txnType := raw.Get(row, "Transaction_Type")
		if txnType != domain.DepositType {
			continue
		}

		id := synthesizeID(raw, row, client)
		if seen[id] {
			// Batch-level uniqueness guarantee: disambiguate with the
			// source row ordinal.
			id = fmt.Sprintf("%s_%d", id, row+1)
		}
		seen[id] = true

		records = append(records, domain.BankTransactionRecord{
			TransactionDate: date,
			ClientName:      client,
			Amount:          amount,
			TransactionType: txnType,
			ProcessedAt:     now,
			TransactionID:   id,
			Year:            date.Year(),
			Month:           int(date.Month()),
			AmountCategory:  domain.CategorizeAmount(amount, p.cfg.SmallMax, p.cfg.MediumMax),
			MatchingStatus:  domain.StatusNoARData,
		})
	}

	if len(records) == 0 {
		log.Warn().Msg("no valid deposit rows after cleaning")
	}
	return records
}

// synthesizeID builds TXN_<raw-or-row>_<project-or-client> from whatever
// identifying columns the export carries.
func synthesizeID(raw *tabular.Table, row int, client string) string {
	txnPart := raw.Get(row, "transaction_id")
	if txnPart == "" {
		txnPart = strconv.Itoa(row + 1)
	}
	projPart := raw.Get(row, "project_id")
	if projPart == "" {
		projPart = client
	}
	return fmt.Sprintf("TXN_%s_%s", txnPart, projPart)
}

// matchReceivables assigns a provisional matching status and confidence to
// every record. A missing ledger downgrades the whole batch to no_ar_data; a
// ledger row that cannot be parsed marks the affected client matching_error.
func (p *Processor) matchReceivables(ctx context.Context, records []domain.BankTransactionRecord) []domain.BankTransactionRecord {
	log := logger.FromContext(ctx)

	if p.arPath == "" {
		log.Warn().Msg("receivables ledger not configured, skipping AR matching")
		return records
	}
	ledger, err := tabular.ReadFile(p.arPath)
	if err != nil {
		log.Warn().Err(err).Msg("receivables ledger not readable, skipping AR matching")
		return records
	}
	if missing := ledger.MissingColumns([]string{arProjectID, arClientName, arAmount}); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("receivables ledger malformed")
		for i := range records {
			records[i].MatchingStatus = domain.StatusMatchingError
			records[i].MatchingConfidence = 0
		}
		return records
	}

	type receivable struct {
		amount decimal.Decimal
		bad    bool
	}
	byClient := make(map[string][]receivable)
	for row := 0; row < ledger.Len(); row++ {
		client := ledger.Get(row, arClientName)
		amount, err := decimal.NewFromString(ledger.Get(row, arAmount))
		if err != nil || !amount.IsPositive() {
			byClient[client] = append(byClient[client], receivable{bad: true})
			continue
		}
		byClient[client] = append(byClient[client], receivable{amount: amount})
	}

	matched := 0
	for i, rec := range records {
		candidates, ok := byClient[rec.ClientName]
		if !ok {
			records[i].MatchingStatus = domain.StatusNoARData
			records[i].MatchingConfidence = 0
			continue
		}

		// Closest receivable by relative amount difference wins.
		best := math.Inf(1)
		sawBad := false
		for _, ar := range candidates {
			if ar.bad {
				sawBad = true
				continue
			}
			diff := relativeDiff(rec.Amount, ar.amount)
			if diff < best {
				best = diff
			}
		}
		switch {
		case math.IsInf(best, 1) && sawBad:
			records[i].MatchingStatus = domain.StatusMatchingError
			records[i].MatchingConfidence = 0
		case best <= p.cfg.ARTolerance:
			records[i].MatchingStatus = domain.StatusMatched
			records[i].MatchingConfidence = 1 - best
			matched++
		default:
			records[i].MatchingStatus = domain.StatusUnmatched
			records[i].MatchingConfidence = 0
		}
	}

	log.Info().Int("matched", matched).Int("total", len(records)).Msg("AR matching done")
	return records
}

func relativeDiff(amount, receivable decimal.Decimal) float64 {
	diff, _ := amount.Sub(receivable).Abs().Div(receivable).Float64()
	return diff
}

// aggregate builds per-day and per-client rollups, sorted by key for stable
// reports.
func (p *Processor) aggregate(records []domain.BankTransactionRecord) (daily, clients []Aggregate) {
	collect := func(key func(domain.BankTransactionRecord) string) []Aggregate {
		m := make(map[string]*Aggregate)
		for _, r := range records {
			k := key(r)
			agg, ok := m[k]
			if !ok {
				agg = &Aggregate{Key: k, Sum: decimal.Zero}
				m[k] = agg
			}
			agg.Sum = agg.Sum.Add(r.Amount)
			agg.Count++
			if r.MatchingStatus == domain.StatusMatched {
				agg.Matched++
			}
		}
		out := make([]Aggregate, 0, len(m))
		for _, agg := range m {
			out = append(out, *agg)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		return out
	}

	daily = collect(func(r domain.BankTransactionRecord) string { return r.TransactionDate.Format(dateFormat) })
	clients = collect(func(r domain.BankTransactionRecord) string { return r.ClientName })
	return daily, clients
}

func (p *Processor) renderReport(inputPath string, daily, clients []Aggregate) string {
	var b strings.Builder
	line := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\nBANK TRANSACTION PROCESSING REPORT\n%s\n", line, line)
	fmt.Fprintf(&b, "Input File: %s\n", inputPath)
	fmt.Fprintf(&b, "Processing Time: %s\n\n", time.Now().Format(datetimeFormat))

	fmt.Fprintf(&b, "PROCESSING STATISTICS:\n")
	fmt.Fprintf(&b, "  Total Transactions: %d\n", p.stats.TotalTransactions)
	fmt.Fprintf(&b, "  Valid Transactions: %d\n", p.stats.ValidTransactions)
	fmt.Fprintf(&b, "  Invalid Transactions: %d\n", p.stats.InvalidTransactions)
	fmt.Fprintf(&b, "  Total Amount: %s yen\n", p.stats.TotalAmount.String())
	fmt.Fprintf(&b, "  Matched Amount: %s yen\n\n", p.stats.MatchedAmount.String())

	fmt.Fprintf(&b, "DAILY STATISTICS:\n")
	for _, agg := range daily {
		fmt.Fprintf(&b, "  %s: %s yen (%d txn, %d matched)\n", agg.Key, agg.Sum.String(), agg.Count, agg.Matched)
	}
	fmt.Fprintf(&b, "\nCLIENT STATISTICS:\n")
	for _, agg := range clients {
		fmt.Fprintf(&b, "  %s: %s yen (%d txn, %d matched)\n", agg.Key, agg.Sum.String(), agg.Count, agg.Matched)
	}
	b.WriteString(line + "\n")
	return b.String()
}

// parseDate accepts the date formats seen in real bank exports.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{dateFormat, "2006/01/02", datetimeFormat, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", s)
}

// ToTable renders processed records in the canonical output layout.
func ToTable(records []domain.BankTransactionRecord) *tabular.Table {
	tbl := tabular.New(OutputColumns)
	for _, r := range records {
		tbl.Append(map[string]string{
			"Transaction_Date":    r.TransactionDate.Format(dateFormat),
			"Client_Name":         r.ClientName,
			"Amount":              r.Amount.String(),
			"Transaction_Type":    r.TransactionType,
			"processed_at":        r.ProcessedAt.Format(datetimeFormat),
			"transaction_id":      r.TransactionID,
			"year":                strconv.Itoa(r.Year),
			"month":               strconv.Itoa(r.Month),
			"amount_category":     string(r.AmountCategory),
			"matching_status":     string(r.MatchingStatus),
			"matching_confidence": strconv.FormatFloat(r.MatchingConfidence, 'f', -1, 64),
		})
	}
	return tbl
}

// FromTable parses a processed bank table back into records.
func FromTable(tbl *tabular.Table) ([]domain.BankTransactionRecord, error) {
	if missing := tbl.MissingColumns(OutputColumns); len(missing) > 0 {
		return nil, fmt.Errorf("bankprep: table missing columns %v", missing)
	}
	records := make([]domain.BankTransactionRecord, 0, tbl.Len())
	for row := 0; row < tbl.Len(); row++ {
		date, err := parseDate(tbl.Get(row, "Transaction_Date"))
		if err != nil {
			return nil, fmt.Errorf("bankprep: row %d: %w", row+1, err)
		}
		processedAt, err := time.Parse(datetimeFormat, tbl.Get(row, "processed_at"))
		if err != nil {
			return nil, fmt.Errorf("bankprep: row %d: processed_at %q: %w", row+1, tbl.Get(row, "processed_at"), err)
		}
		amount, err := decimal.NewFromString(tbl.Get(row, "Amount"))
		if err != nil {
			return nil, fmt.Errorf("bankprep: row %d: Amount %q: %w", row+1, tbl.Get(row, "Amount"), err)
		}
		year, _ := strconv.Atoi(tbl.Get(row, "year"))
		month, _ := strconv.Atoi(tbl.Get(row, "month"))
		confidence, err := strconv.ParseFloat(tbl.Get(row, "matching_confidence"), 64)
		if err != nil {
			return nil, fmt.Errorf("bankprep: row %d: matching_confidence %q: %w", row+1, tbl.Get(row, "matching_confidence"), err)
		}
		records = append(records, domain.BankTransactionRecord{
			TransactionDate:    date,
			ClientName:         tbl.Get(row, "Client_Name"),
			Amount:             amount,
			TransactionType:    tbl.Get(row, "Transaction_Type"),
			ProcessedAt:        processedAt,
			TransactionID:      tbl.Get(row, "transaction_id"),
			Year:               year,
			Month:              month,
			AmountCategory:     domain.AmountCategory(tbl.Get(row, "amount_category")),
			MatchingStatus:     domain.MatchingStatus(tbl.Get(row, "matching_status")),
			MatchingConfidence: confidence,
		})
	}
	return records, nil
}
