package bankprep

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

func testConfig() Config {
	return Config{SmallMax: 100000, MediumMax: 500000, ARTolerance: 0.10}
}

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessFiltersToValidDeposits(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,150000,入金\n"+
			"2024-01-16,Beta,-500,入金\n"+
			"2024-01-17,Gamma,30000,出金\n"+
			"2024-01-18,,40000,入金\n"+
			"not-a-date,Delta,40000,入金\n"+
			"2024-01-19,Echo,abc,入金\n")

	store := artifact.NewStore(t.TempDir(), nil)
	p := NewProcessor(testConfig(), store, "")

	records, outPath, err := p.Process(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0].ClientName)
	assert.Equal(t, domain.AmountMedium, records[0].AmountCategory)
	assert.Equal(t, 2024, records[0].Year)
	assert.Equal(t, 1, records[0].Month)
	assert.FileExists(t, outPath)

	stats := p.Stats()
	assert.Equal(t, 6, stats.TotalTransactions)
	assert.Equal(t, 1, stats.ValidTransactions)
	assert.Equal(t, 5, stats.InvalidTransactions)
}

func TestProcessMissingColumnsFails(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name\n2024-01-15,Acme\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), "")
	_, _, err := p.Process(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Amount")
	assert.Contains(t, err.Error(), "Transaction_Type")
}

func TestTransactionIDsUniqueWithinBatch(t *testing.T) {
	// Two rows with the same raw transaction_id and project_id must not
	// collide in the output.
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type,transaction_id,project_id\n"+
			"2024-01-15,Acme,100000,入金,7,PRJ_0001\n"+
			"2024-01-16,Acme,200000,入金,7,PRJ_0001\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), "")
	records, _, err := p.Process(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "TXN_7_PRJ_0001", records[0].TransactionID)
	assert.Equal(t, "TXN_7_PRJ_0001_2", records[1].TransactionID)
}

func TestReceivableMatchingWithinTolerance(t *testing.T) {
	// 109000 against AR 100000 is a 9% difference, inside the 10% tolerance;
	// 115000 is 15% out and stays unmatched.
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,109000,入金\n"+
			"2024-01-16,Beta,115000,入金\n"+
			"2024-01-17,NoLedger,50000,入金\n")
	ar := writeTempCSV(t, "ar.csv",
		"Project_ID,Client,AR_Amount\n"+
			"PRJ_0001,Acme,100000\n"+
			"PRJ_0002,Beta,100000\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar)
	records, _, err := p.Process(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, domain.StatusMatched, records[0].MatchingStatus)
	assert.InDelta(t, 0.91, records[0].MatchingConfidence, 0.001)

	assert.Equal(t, domain.StatusUnmatched, records[1].MatchingStatus)
	assert.Zero(t, records[1].MatchingConfidence)

	assert.Equal(t, domain.StatusNoARData, records[2].MatchingStatus)
}

func TestReceivableMatchingPicksClosestCandidate(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,100000,入金\n")
	ar := writeTempCSV(t, "ar.csv",
		"Project_ID,Client,AR_Amount\n"+
			"PRJ_0001,Acme,200000\n"+
			"PRJ_0002,Acme,101000\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar)
	records, _, err := p.Process(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusMatched, records[0].MatchingStatus)
	assert.Greater(t, records[0].MatchingConfidence, 0.98)
}

func TestReceivableMatchingBadLedgerRow(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,100000,入金\n")
	ar := writeTempCSV(t, "ar.csv",
		"Project_ID,Client,AR_Amount\nPRJ_0001,Acme,not-a-number\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar)
	records, _, err := p.Process(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.StatusMatchingError, records[0].MatchingStatus)
}

func TestRoundTripThroughTable(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,150000,入金\n"+
			"2024-02-01,Beta,650000,入金\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), "")
	records, outPath, err := p.Process(context.Background(), input)
	require.NoError(t, err)

	tbl, err := tabular.ReadFile(outPath)
	require.NoError(t, err)
	parsed, err := FromTable(tbl)
	require.NoError(t, err)
	require.Len(t, parsed, len(records))
	for i := range records {
		assert.True(t, records[i].Amount.Equal(parsed[i].Amount))
		assert.Equal(t, records[i].TransactionID, parsed[i].TransactionID)
		assert.Equal(t, records[i].AmountCategory, parsed[i].AmountCategory)
		assert.Equal(t, records[i].MatchingStatus, parsed[i].MatchingStatus)
	}
	assert.Equal(t, domain.AmountLarge, parsed[1].AmountCategory)
}

func TestProcessIdempotentModuloProcessedAt(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,109000,入金\n"+
			"2024-01-16,Beta,115000,入金\n"+
			"2024-01-17,Gamma,30000,出金\n")
	ar := writeTempCSV(t, "ar.csv",
		"Project_ID,Client,AR_Amount\nPRJ_0001,Acme,100000\n")

	first, _, err := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar).
		Process(context.Background(), input)
	require.NoError(t, err)
	second, _, err := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar).
		Process(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].TransactionDate.Equal(second[i].TransactionDate))
		assert.Equal(t, first[i].ClientName, second[i].ClientName)
		assert.True(t, first[i].Amount.Equal(second[i].Amount))
		assert.Equal(t, first[i].TransactionType, second[i].TransactionType)
		assert.Equal(t, first[i].TransactionID, second[i].TransactionID)
		assert.Equal(t, first[i].Year, second[i].Year)
		assert.Equal(t, first[i].Month, second[i].Month)
		assert.Equal(t, first[i].AmountCategory, second[i].AmountCategory)
		assert.Equal(t, first[i].MatchingStatus, second[i].MatchingStatus)
		assert.Equal(t, first[i].MatchingConfidence, second[i].MatchingConfidence)
	}
}

func TestStatsTotals(t *testing.T) {
	input := writeTempCSV(t, "bank.csv",
		"Transaction_Date,Client_Name,Amount,Transaction_Type\n"+
			"2024-01-15,Acme,100000,入金\n"+
			"2024-01-15,Beta,200000,入金\n")
	ar := writeTempCSV(t, "ar.csv",
		"Project_ID,Client,AR_Amount\nPRJ_0001,Acme,100000\n")

	p := NewProcessor(testConfig(), artifact.NewStore(t.TempDir(), nil), ar)
	_, _, err := p.Process(context.Background(), input)
	require.NoError(t, err)

	stats := p.Stats()
	assert.True(t, stats.TotalAmount.Equal(decimal.NewFromInt(300000)))
	assert.True(t, stats.MatchedAmount.Equal(decimal.NewFromInt(100000)))
}
