package matchconv

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

func strp(s string) *string     { return &s }
func floatp(f float64) *float64 { return &f }

func decp(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func seedSet() []domain.ProjectSeedRecord {
	return []domain.ProjectSeedRecord{
		{ProjectID: "PRJ_0001", ClientName: "Acme株式会社", BillingAmount: decimal.NewFromInt(100000)},
		{ProjectID: "PRJ_0002", ClientName: "Beta商事", BillingAmount: decimal.NewFromInt(200000)},
		{ProjectID: "PRJ_0003", ClientName: "Beta商事", BillingAmount: decimal.NewFromInt(300000)},
	}
}

func defaultCfg() Config {
	return Config{PlaceholderAmount: decimal.NewFromInt(1000)}
}

func proposal(invoiceID, paymentID string, amount int64, score float64, status string) RawProposal {
	return RawProposal{
		InvoiceID:       strp(invoiceID),
		PaymentID:       strp(paymentID),
		MatchType:       strp("exact"),
		ConfidenceScore: floatp(score),
		MatchAmount:     decp(amount),
		Status:          strp(status),
	}
}

func TestConvertKnownProject(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	conversions, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_0001", "PAY_001", 100000, 0.92, "matched"),
	})
	require.NoError(t, err)
	require.Len(t, conversions, 1)

	s := conversions[0].Suggestion
	assert.Equal(t, OutcomeValid, conversions[0].Outcome)
	assert.Equal(t, "TXN_PAY_001_PRJ_0001", s.TransactionID)
	assert.Equal(t, "Acme株式会社", s.ClientName)
	assert.True(t, s.Amount.Equal(s.MatchedAmount))
	assert.Contains(t, s.Comment, "信頼度: 0.92")
	assert.Contains(t, s.Comment, "ステータス: matched")
}

func TestConvertMissingFieldFailsBatch(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	p := proposal("PRJ_0001", "PAY_001", 100000, 0.9, "matched")
	p.MatchAmount = nil
	_, err := c.Convert(context.Background(), []RawProposal{p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match_amount")
}

func TestConvertScoreOutOfRangeFailsBatch(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	_, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_0001", "PAY_001", 100000, 1.7, "matched"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0,1]")
}

func TestConvertResolvesClientNameToUniqueProject(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	p := proposal("INV_BOGUS", "PAY_002", 100000, 0.8, "matched")
	p.ClientName = "Acme株式会社"
	conversions, err := c.Convert(context.Background(), []RawProposal{p})
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, "PRJ_0001", conversions[0].Suggestion.ProjectID)
	assert.Equal(t, "TXN_PAY_002_PRJ_0001", conversions[0].Suggestion.TransactionID)
	assert.Equal(t, OutcomeValid, conversions[0].Outcome)
}

func TestConvertFansOutAmbiguousClientName(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	p := proposal("INV_BOGUS", "PAY_003", 200000, 0.75, "unmatched")
	p.ClientName = "Beta商事"
	conversions, err := c.Convert(context.Background(), []RawProposal{p})
	require.NoError(t, err)
	require.Len(t, conversions, 2)

	ids := []string{conversions[0].Suggestion.ProjectID, conversions[1].Suggestion.ProjectID}
	assert.ElementsMatch(t, []string{"PRJ_0002", "PRJ_0003"}, ids)
	for _, conv := range conversions {
		assert.Contains(t, conv.Suggestion.Comment, "同じ会社名のproject_id候補")
	}
}

func TestConvertRepairsUnknownClient(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	conversions, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_9999", "PAY_004", 50000, 0.6, "matched"),
	})
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, OutcomeRepaired, conversions[0].Outcome)
	assert.Equal(t, "Unknown_PRJ_9999", conversions[0].Suggestion.ClientName)
	assert.Contains(t, conversions[0].Reasons, "unknown client name")
}

func TestConvertRepairsNonPositiveAmount(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	conversions, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_0001", "PAY_005", 0, 0.9, "unmatched"),
	})
	require.NoError(t, err)
	require.Len(t, conversions, 1)

	s := conversions[0].Suggestion
	assert.Equal(t, OutcomeRepaired, conversions[0].Outcome)
	assert.True(t, s.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.MatchedAmount.Equal(decimal.NewFromInt(1000)))
	assert.Contains(t, s.Comment, "金額が0以下")
}

func TestConvertRejectPolicy(t *testing.T) {
	cfg := defaultCfg()
	cfg.RejectNonPositive = true
	c := NewConverter(cfg, artifact.NewStore(t.TempDir(), nil), seedSet())

	conversions, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_0001", "PAY_006", -500, 0.9, "unmatched"),
		proposal("PRJ_0002", "PAY_007", 200000, 0.9, "matched"),
	})
	require.NoError(t, err)
	require.Len(t, conversions, 2)
	assert.Equal(t, OutcomeRejected, conversions[0].Outcome)
	assert.Equal(t, OutcomeValid, conversions[1].Outcome)

	kept := Suggestions(conversions)
	require.Len(t, kept, 1)
	assert.Equal(t, "PRJ_0002", kept[0].ProjectID)
}

func TestRepairFixesMalformedTransactionID(t *testing.T) {
	// Normalization always synthesizes a TXN_ prefix, so the rule only fires
	// on suggestions arriving from outside that path.
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	conv := c.repair(context.Background(), Conversion{
		Suggestion: domain.MatchSuggestion{
			TransactionID: "PAY_001_PRJ_0001",
			ProjectID:     "PRJ_0001",
			ClientName:    "Acme株式会社",
			Amount:        decimal.NewFromInt(100000),
			MatchedAmount: decimal.NewFromInt(100000),
			MatchScore:    0.9,
		},
		Outcome: OutcomeValid,
	})

	assert.Equal(t, "TXN_FIXED_PRJ_0001", conv.Suggestion.TransactionID)
	assert.Equal(t, OutcomeRepaired, conv.Outcome)
	assert.Contains(t, conv.Reasons, "malformed transaction id")
}

func TestWriteCSVRoundTrip(t *testing.T) {
	c := NewConverter(defaultCfg(), artifact.NewStore(t.TempDir(), nil), seedSet())

	conversions, err := c.Convert(context.Background(), []RawProposal{
		proposal("PRJ_0001", "PAY_001", 100000, 0.9, "matched"),
		proposal("PRJ_0002", "PAY_002", 200000, 0.6, "matched"),
	})
	require.NoError(t, err)

	path, err := c.WriteCSV(context.Background(), conversions, "match_suggestion_202401.csv")
	require.NoError(t, err)

	tbl, err := tabular.ReadFile(path)
	require.NoError(t, err)
	parsed, err := FromTable(tbl)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "TXN_PAY_001_PRJ_0001", parsed[0].TransactionID)
	assert.InDelta(t, 0.9, parsed[0].MatchScore, 1e-9)
	assert.True(t, parsed[1].Amount.Equal(decimal.NewFromInt(200000)))
}
