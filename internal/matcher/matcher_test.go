package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProposalsCleanJSON(t *testing.T) {
	raw := `[{"invoice_id":"PRJ_0001","payment_id":"TXN_1","match_type":"完全一致","confidence_score":0.95,"match_amount":100000,"status":"matched","client_name":"Acme"}]`

	proposals, err := ParseProposals(raw)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "PRJ_0001", *proposals[0].InvoiceID)
	assert.Equal(t, "TXN_1", *proposals[0].PaymentID)
	assert.InDelta(t, 0.95, *proposals[0].ConfidenceScore, 1e-9)
	assert.Equal(t, "Acme", proposals[0].ClientName)
}

func TestParseProposalsStripsFences(t *testing.T) {
	raw := "```json\n[{\"invoice_id\":\"PRJ_0001\",\"payment_id\":\"TXN_1\",\"match_type\":\"完全一致\",\"confidence_score\":0.9,\"match_amount\":100,\"status\":\"matched\"}]\n```"

	proposals, err := ParseProposals(raw)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
}

func TestParseProposalsSurroundingJunk(t *testing.T) {
	raw := "Here is the result:\n[{\"invoice_id\":\"PRJ_0001\",\"payment_id\":\"TXN_1\",\"match_type\":\"部分一致\",\"confidence_score\":0.6,\"match_amount\":100,\"status\":\"matched\"}]\nLet me know if you need more."

	proposals, err := ParseProposals(raw)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
}

func TestParseProposalsMissingFieldsStayNil(t *testing.T) {
	raw := `[{"payment_id":"TXN_1"}]`

	proposals, err := ParseProposals(raw)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Nil(t, proposals[0].InvoiceID)
	assert.Nil(t, proposals[0].ConfidenceScore)
	assert.NotNil(t, proposals[0].PaymentID)
}

func TestParseProposalsInvalidJSON(t *testing.T) {
	_, err := ParseProposals("not json at all")
	require.Error(t, err)
}
