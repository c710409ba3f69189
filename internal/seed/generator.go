package seed

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// Columns is the canonical invoice seed column order.
var Columns = []string{
	"project_id", "client_id", "client_name", "project_name",
	"pm_id", "billing_year", "billing_month", "billing_amount",
}

// Project master column names (the directory file is maintained in Japanese).
const (
	masterProjectID = "プロジェクトID"
	masterClientID  = "Client ID"
	masterName      = "プロジェクト名称"
	masterManagerID = "プロジェクトマネージャID"
)

// contractLine matches one billing line in the contract text:
//
//	PRJ_12、Acme株式会社
//	2024年1月度： 100000 円
var contractLine = regexp.MustCompile(`PRJ_(\d+)、(.+?)\n(\d{4})年(\d{1,2})月度：\s*(\d+)\s*円`)

// Generator parses billing contract text into seed records and enriches
// them from the project directory.
type Generator struct {
	store *artifact.Store
}

// NewGenerator creates a seed generator writing through the given store.
func NewGenerator(store *artifact.Store) *Generator {
	return &Generator{store: store}
}

// ParseContracts extracts one ProjectSeedRecord per billing line. Lines that
// do not match the contract format are ignored; an empty result is an error
// because an empty seed would silently skip the whole billing month.
func (g *Generator) ParseContracts(ctx context.Context, path string) ([]domain.ProjectSeedRecord, error) {
	log := logger.FromContext(ctx)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read contracts %s: %w", path, err)
	}

	var records []domain.ProjectSeedRecord
	for _, m := range contractLine.FindAllStringSubmatch(string(content), -1) {
		num := m[1]
		for len(num) < 4 {
			num = "0" + num
		}
		year, _ := strconv.Atoi(m[3])
		month, _ := strconv.Atoi(m[4])
		amount, err := decimal.NewFromString(m[5])
		if err != nil {
			log.Warn().Str("raw", m[5]).Msg("unparseable contract amount, line skipped")
			continue
		}
		records = append(records, domain.ProjectSeedRecord{
			ProjectID:     "PRJ_" + num,
			ClientName:    m[2],
			BillingYear:   year,
			BillingMonth:  month,
			BillingAmount: amount,
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("seed: no billing lines parsed from %s", path)
	}
	log.Info().Int("projects", len(records)).Str("file", path).Msg("billing contracts parsed")
	return records, nil
}

// Enrich fills client id, project name and manager id from the project
// directory. Unknown projects get explicit Unknown placeholders rather than
// empty cells; enrichment never drops a record.
func (g *Generator) Enrich(ctx context.Context, records []domain.ProjectSeedRecord, masterPath string) ([]domain.ProjectSeedRecord, error) {
	log := logger.FromContext(ctx)

	master, err := tabular.ReadFile(masterPath)
	if err != nil {
		return nil, fmt.Errorf("seed: load project master: %w", err)
	}
	if missing := master.MissingColumns([]string{masterProjectID, masterClientID, masterName, masterManagerID}); len(missing) > 0 {
		return nil, fmt.Errorf("seed: project master missing columns %v", missing)
	}

	type masterRow struct{ clientID, name, managerID string }
	byProject := make(map[string]masterRow, master.Len())
	for row := 0; row < master.Len(); row++ {
		byProject[master.Get(row, masterProjectID)] = masterRow{
			clientID:  master.Get(row, masterClientID),
			name:      master.Get(row, masterName),
			managerID: master.Get(row, masterManagerID),
		}
	}

	enriched := make([]domain.ProjectSeedRecord, len(records))
	unknown := 0
	for i, rec := range records {
		out := rec
		if info, ok := byProject[rec.ProjectID]; ok {
			out.ClientID = info.clientID
			out.ProjectName = info.name
			out.ManagerID = info.managerID
		} else {
			out.ClientID = "Unknown"
			out.ProjectName = "Unknown Project"
			out.ManagerID = "Unknown"
			unknown++
		}
		enriched[i] = out
	}

	if unknown > 0 {
		log.Warn().Int("count", unknown).Msg("projects missing from project master")
	}
	log.Info().Int("projects", len(enriched)).Msg("seed records enriched")
	return enriched, nil
}

// Generate writes the invoice seed CSV named after the billing month of the
// first record (invoice_seed_<yyyymm>.csv) and returns the artifact path.
func (g *Generator) Generate(ctx context.Context, records []domain.ProjectSeedRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("seed: no records to write")
	}

	yearmonth := fmt.Sprintf("%04d%02d", records[0].BillingYear, records[0].BillingMonth)
	tbl := ToTable(records)

	data, err := tbl.Bytes()
	if err != nil {
		return "", fmt.Errorf("seed: render csv: %w", err)
	}
	path, err := g.store.WriteNamed(ctx, "seed", fmt.Sprintf("invoice_seed_%s.csv", yearmonth), data)
	if err != nil {
		return "", err
	}

	log := logger.FromContext(ctx)
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.BillingAmount)
	}
	log.Info().
		Int("projects", len(records)).
		Str("total_billing", total.String()).
		Msg("invoice seed generated")
	return path, nil
}

// ToTable renders seed records in the canonical column order.
func ToTable(records []domain.ProjectSeedRecord) *tabular.Table {
	tbl := tabular.New(Columns)
	for _, r := range records {
		tbl.Append(map[string]string{
			"project_id":     r.ProjectID,
			"client_id":      r.ClientID,
			"client_name":    r.ClientName,
			"project_name":   r.ProjectName,
			"pm_id":          r.ManagerID,
			"billing_year":   strconv.Itoa(r.BillingYear),
			"billing_month":  strconv.Itoa(r.BillingMonth),
			"billing_amount": r.BillingAmount.String(),
		})
	}
	return tbl
}

// FromTable parses a seed table back into records. Rows with malformed
// numerics are rejected with row context.
func FromTable(tbl *tabular.Table) ([]domain.ProjectSeedRecord, error) {
	if missing := tbl.MissingColumns(Columns); len(missing) > 0 {
		return nil, fmt.Errorf("seed: table missing columns %v", missing)
	}
	records := make([]domain.ProjectSeedRecord, 0, tbl.Len())
	for row := 0; row < tbl.Len(); row++ {
		year, err := strconv.Atoi(tbl.Get(row, "billing_year"))
		if err != nil {
			return nil, fmt.Errorf("seed: row %d: billing_year %q: %w", row+1, tbl.Get(row, "billing_year"), err)
		}
		month, err := strconv.Atoi(tbl.Get(row, "billing_month"))
		if err != nil {
			return nil, fmt.Errorf("seed: row %d: billing_month %q: %w", row+1, tbl.Get(row, "billing_month"), err)
		}
		amount, err := decimal.NewFromString(tbl.Get(row, "billing_amount"))
		if err != nil {
			return nil, fmt.Errorf("seed: row %d: billing_amount %q: %w", row+1, tbl.Get(row, "billing_amount"), err)
		}
		records = append(records, domain.ProjectSeedRecord{
			ProjectID:     tbl.Get(row, "project_id"),
			ClientID:      tbl.Get(row, "client_id"),
			ClientName:    tbl.Get(row, "client_name"),
			ProjectName:   tbl.Get(row, "project_name"),
			ManagerID:     tbl.Get(row, "pm_id"),
			BillingYear:   year,
			BillingMonth:  month,
			BillingAmount: amount,
		})
	}
	return records, nil
}
