package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/matchconv"
)

// Proposer generates raw match proposals pairing incoming payments with
// open invoices. Implementations call an external model once per batch.
type Proposer interface {
	Propose(ctx context.Context, invoices []domain.ProjectSeedRecord, payments []domain.BankTransactionRecord) ([]matchconv.RawProposal, error)
}

// GeminiProposer asks Gemini for match proposals over the whole batch in a
// single request.
type GeminiProposer struct {
	model string
}

// NewGeminiProposer creates a proposer using the given model name.
func NewGeminiProposer(model string) *GeminiProposer {
	return &GeminiProposer{model: model}
}

// Propose sends the invoice and payment batches to the model and parses the
// proposal array from its output. The response is untrusted; the caller
// must normalize it before use.
func (p *GeminiProposer) Propose(ctx context.Context, invoices []domain.ProjectSeedRecord, payments []domain.BankTransactionRecord) ([]matchconv.RawProposal, error) {
	log := logger.FromContext(ctx)

	prompt, err := buildPrompt(invoices, payments)
	if err != nil {
		return nil, fmt.Errorf("Propose: build prompt: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("Propose: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Propose: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Propose: empty response from model")
	}

	proposals, err := ParseProposals(rawText)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("invoices", len(invoices)).
		Int("payments", len(payments)).
		Int("proposals", len(proposals)).
		Msg("match proposals generated")
	return proposals, nil
}

// buildPrompt renders the matching instructions plus both batches as JSON.
func buildPrompt(invoices []domain.ProjectSeedRecord, payments []domain.BankTransactionRecord) (string, error) {
	type invoiceRow struct {
		ProjectID     string `json:"project_id"`
		ClientName    string `json:"client_name"`
		BillingYear   int    `json:"billing_year"`
		BillingMonth  int    `json:"billing_month"`
		BillingAmount string `json:"billing_amount"`
	}
	type paymentRow struct {
		PaymentID  string `json:"payment_id"`
		ClientName string `json:"client_name"`
		Date       string `json:"date"`
		Amount     string `json:"amount"`
	}

	invoiceRows := make([]invoiceRow, 0, len(invoices))
	for _, inv := range invoices {
		invoiceRows = append(invoiceRows, invoiceRow{
			ProjectID:     inv.ProjectID,
			ClientName:    inv.ClientName,
			BillingYear:   inv.BillingYear,
			BillingMonth:  inv.BillingMonth,
			BillingAmount: inv.BillingAmount.String(),
		})
	}
	paymentRows := make([]paymentRow, 0, len(payments))
	for _, pay := range payments {
		paymentRows = append(paymentRows, paymentRow{
			PaymentID:  pay.TransactionID,
			ClientName: pay.ClientName,
			Date:       pay.TransactionDate.Format("2006-01-02"),
			Amount:     pay.Amount.String(),
		})
	}

	invoiceJSON, err := json.Marshal(invoiceRows)
	if err != nil {
		return "", fmt.Errorf("marshal invoices: %w", err)
	}
	paymentJSON, err := json.Marshal(paymentRows)
	if err != nil {
		return "", fmt.Errorf("marshal payments: %w", err)
	}

	prompt :=
		"あなたは日本の経理担当AIです。請求書データと入金データを照合し、マッチング結果を出力してください。\n" +
			"完全一致・部分一致・ファジーマッチの3種類で判定してください。\n\n" +
			"Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
			"Output a JSON array of objects.\n\n" +
			"Each object must have these fields:\n" +
			"- \"invoice_id\": string (the project_id of the matched invoice, or \"\" if none)\n" +
			"- \"payment_id\": string (the payment_id of the payment)\n" +
			"- \"match_type\": string (完全一致, 部分一致 or ファジーマッチ)\n" +
			"- \"confidence_score\": number between 0 and 1\n" +
			"- \"match_amount\": number (the amount being applied)\n" +
			"- \"status\": string (\"matched\" or \"unmatched\")\n" +
			"- \"client_name\": string (the client name on the payment)\n\n" +
			"Return ONLY valid raw JSON.\n" +
			"Do NOT wrap the response in code fences.\n" +
			"Do NOT use ```json or any Markdown.\n" +
			"Output must begin with \"[\" and end with \"]\".\n\n" +
			"請求書データ:\n" + string(invoiceJSON) + "\n\n入金データ:\n" + string(paymentJSON)
	return prompt, nil
}

// ParseProposals extracts the proposal array from raw model output,
// stripping Markdown fences and surrounding junk if the model ignored the
// format instructions.
func ParseProposals(raw string) ([]matchconv.RawProposal, error) {
	clean := cleanModelJSON(raw)

	var proposals []matchconv.RawProposal
	if err := json.Unmarshal([]byte(clean), &proposals); err != nil {
		return nil, fmt.Errorf("ParseProposals: unmarshal JSON: %w\nraw response: %s", err, raw)
	}
	return proposals, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = s[start : end+1]
			s = strings.TrimSpace(s)
		}
	}

	return s
}
