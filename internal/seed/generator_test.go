package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

const contractText = `【請求契約一覧】

PRJ_12、Acme株式会社
2024年1月度： 150000 円

PRJ_3、Beta商事
2024年1月度： 98000 円

この行は契約フォーマットではない
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseContractsPadsProjectIDs(t *testing.T) {
	gen := NewGenerator(artifact.NewStore(t.TempDir(), nil))

	records, err := gen.ParseContracts(context.Background(), writeTemp(t, "contracts.txt", contractText))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "PRJ_0012", records[0].ProjectID)
	assert.Equal(t, "Acme株式会社", records[0].ClientName)
	assert.Equal(t, 2024, records[0].BillingYear)
	assert.Equal(t, 1, records[0].BillingMonth)
	assert.True(t, records[0].BillingAmount.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, "PRJ_0003", records[1].ProjectID)
}

func TestParseContractsEmptyFails(t *testing.T) {
	gen := NewGenerator(artifact.NewStore(t.TempDir(), nil))

	_, err := gen.ParseContracts(context.Background(), writeTemp(t, "contracts.txt", "契約なし\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no billing lines")
}

func TestEnrichFillsFromMasterAndFlagsUnknown(t *testing.T) {
	master := writeTemp(t, "master.csv",
		"プロジェクトID,Client ID,プロジェクト名称,プロジェクトマネージャID\n"+
			"PRJ_0012,Client_001,基幹システム更改,PM_01\n")
	gen := NewGenerator(artifact.NewStore(t.TempDir(), nil))

	records := []domain.ProjectSeedRecord{
		{ProjectID: "PRJ_0012", ClientName: "Acme株式会社"},
		{ProjectID: "PRJ_9999", ClientName: "Beta商事"},
	}
	enriched, err := gen.Enrich(context.Background(), records, master)
	require.NoError(t, err)
	require.Len(t, enriched, 2)

	assert.Equal(t, "Client_001", enriched[0].ClientID)
	assert.Equal(t, "基幹システム更改", enriched[0].ProjectName)
	assert.Equal(t, "PM_01", enriched[0].ManagerID)

	assert.Equal(t, "Unknown", enriched[1].ClientID)
	assert.Equal(t, "Unknown Project", enriched[1].ProjectName)
	assert.Equal(t, "Unknown", enriched[1].ManagerID)
}

func TestEnrichMissingMasterColumnsFails(t *testing.T) {
	master := writeTemp(t, "master.csv", "プロジェクトID,Client ID\nPRJ_0012,Client_001\n")
	gen := NewGenerator(artifact.NewStore(t.TempDir(), nil))

	_, err := gen.Enrich(context.Background(), []domain.ProjectSeedRecord{{ProjectID: "PRJ_0012"}}, master)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
}

func TestGenerateNamesFileByBillingMonth(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(artifact.NewStore(dir, nil))

	records := []domain.ProjectSeedRecord{{
		ProjectID:     "PRJ_0012",
		ClientID:      "Client_001",
		ClientName:    "Acme株式会社",
		ProjectName:   "基幹システム更改",
		ManagerID:     "PM_01",
		BillingYear:   2024,
		BillingMonth:  1,
		BillingAmount: decimal.NewFromInt(150000),
	}}
	path, err := gen.Generate(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "seed", "invoice_seed_202401.csv"), path)

	tbl, err := tabular.ReadFile(path)
	require.NoError(t, err)
	parsed, err := FromTable(tbl)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, records[0].ProjectID, parsed[0].ProjectID)
	assert.True(t, parsed[0].BillingAmount.Equal(records[0].BillingAmount))
}

func TestFromTableRejectsMalformedRow(t *testing.T) {
	tbl := ToTable([]domain.ProjectSeedRecord{{
		ProjectID:     "PRJ_0001",
		BillingYear:   2024,
		BillingMonth:  1,
		BillingAmount: decimal.NewFromInt(1000),
	}})
	tbl.Append(map[string]string{
		"project_id":     "PRJ_0002",
		"billing_year":   "twenty24",
		"billing_month":  "1",
		"billing_amount": "1000",
	})

	_, err := FromTable(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "billing_year")
}
