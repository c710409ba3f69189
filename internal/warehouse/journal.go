package warehouse

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
)

// Config locates the journal table in BigQuery.
type Config struct {
	ProjectID string
	Dataset   string
	Table     string
}

// JournalSink streams generated journal entries into BigQuery. The CSV
// artifact stays authoritative; the warehouse copy serves reporting.
type JournalSink struct {
	cfg  Config
	opts []option.ClientOption
}

// NewJournalSink creates a sink. Credentials come from Application Default
// Credentials unless overridden through opts.
func NewJournalSink(cfg Config, opts ...option.ClientOption) *JournalSink {
	return &JournalSink{cfg: cfg, opts: opts}
}

// journalRow is the BigQuery row shape. Amounts are carried as strings so
// the NUMERIC column ingests them without float drift.
type journalRow struct {
	Date          time.Time `bigquery:"date"`
	TransactionID string    `bigquery:"transaction_id"`
	ProjectID     string    `bigquery:"project_id"`
	ClientName    string    `bigquery:"client_name"`
	DebitAccount  string    `bigquery:"debit_account"`
	CreditAccount string    `bigquery:"credit_account"`
	Amount        string    `bigquery:"amount"`
	Description   string    `bigquery:"description"`
	MatchScore    float64   `bigquery:"match_score"`
	EntryType     string    `bigquery:"entry_type"`
	CreatedAt     time.Time `bigquery:"created_at"`
}

// Put streams the entries into the configured table in one batch.
func (s *JournalSink) Put(ctx context.Context, entries []domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	client, err := bigquery.NewClient(ctx, s.cfg.ProjectID, s.opts...)
	if err != nil {
		return fmt.Errorf("warehouse: create bigquery client: %w", err)
	}
	defer client.Close()

	rows := make([]*journalRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &journalRow{
			Date:          e.Date,
			TransactionID: e.TransactionID,
			ProjectID:     e.ProjectID,
			ClientName:    e.ClientName,
			DebitAccount:  e.DebitAccount,
			CreditAccount: e.CreditAccount,
			Amount:        e.Amount.String(),
			Description:   e.Description,
			MatchScore:    e.MatchScore,
			EntryType:     string(e.EntryType),
			CreatedAt:     e.CreatedAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	inserter := client.Dataset(s.cfg.Dataset).Table(s.cfg.Table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("warehouse: insert journal rows: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("rows", len(rows)).
		Str("table", fmt.Sprintf("%s.%s.%s", s.cfg.ProjectID, s.cfg.Dataset, s.cfg.Table)).
		Msg("journal streamed to warehouse")
	return nil
}
