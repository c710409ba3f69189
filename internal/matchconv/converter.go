package matchconv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/billing-recon/internal/artifact"
	"github.com/dvloznov/billing-recon/internal/domain"
	"github.com/dvloznov/billing-recon/internal/logger"
	"github.com/dvloznov/billing-recon/internal/tabular"
)

// Columns is the canonical match suggestion column order.
var Columns = []string{
	"transaction_id", "project_id", "client_name",
	"amount", "matched_amount", "match_score", "comment",
}

// RawProposal is one externally generated match proposal. The shape is
// untrusted: every field may be absent and nothing has been range-checked.
type RawProposal struct {
	InvoiceID       *string          `json:"invoice_id"`
	PaymentID       *string          `json:"payment_id"`
	MatchType       *string          `json:"match_type"`
	ConfidenceScore *float64         `json:"confidence_score"`
	MatchAmount     *decimal.Decimal `json:"match_amount"`
	Status          *string          `json:"status"`

	// ClientName is an optional hint used to recover the project id when
	// the invoice id is unknown.
	ClientName string `json:"client_name,omitempty"`
}

// Outcome tags what normalization did to a suggestion.
type Outcome string

const (
	OutcomeValid    Outcome = "valid"
	OutcomeRepaired Outcome = "repaired"
	OutcomeRejected Outcome = "rejected"
)

// Conversion is one normalized suggestion with its outcome and the reasons
// behind any repair or rejection.
type Conversion struct {
	Suggestion domain.MatchSuggestion
	Outcome    Outcome
	Reasons    []string
}

// Config is the repair policy of the normalizer.
type Config struct {
	// RejectNonPositive rejects rows with non-positive amounts instead of
	// substituting the placeholder.
	RejectNonPositive bool
	PlaceholderAmount decimal.Decimal
}

// Converter normalizes raw proposals against the seed set.
type Converter struct {
	cfg   Config
	store *artifact.Store

	projectToClient  map[string]string
	clientToProjects map[string][]string
}

// NewConverter creates a normalizer resolving names against the given seeds.
func NewConverter(cfg Config, store *artifact.Store, seeds []domain.ProjectSeedRecord) *Converter {
	c := &Converter{
		cfg:              cfg,
		store:            store,
		projectToClient:  make(map[string]string, len(seeds)),
		clientToProjects: make(map[string][]string),
	}
	for _, s := range seeds {
		if s.ProjectID == "" || s.ClientName == "" {
			continue
		}
		c.projectToClient[s.ProjectID] = s.ClientName
		c.clientToProjects[s.ClientName] = append(c.clientToProjects[s.ClientName], s.ProjectID)
	}
	return c
}

// LoadProposals reads a raw proposal JSON file.
func LoadProposals(path string) ([]RawProposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("matchconv: read proposals %s: %w", path, err)
	}
	var proposals []RawProposal
	if err := json.Unmarshal(data, &proposals); err != nil {
		return nil, fmt.Errorf("matchconv: parse proposals %s: %w", path, err)
	}
	return proposals, nil
}

// Convert runs the full normalization: hard validation, name resolution with
// explicit fan-out, warn-only integrity checks and the repair pass. A null
// required field or an out-of-range confidence score anywhere fails the whole
// batch.
func (c *Converter) Convert(ctx context.Context, proposals []RawProposal) ([]Conversion, error) {
	log := logger.FromContext(ctx)

	if err := validateProposals(proposals); err != nil {
		return nil, err
	}

	var conversions []Conversion
	for _, p := range proposals {
		conversions = append(conversions, c.normalize(p)...)
	}

	c.checkIntegrity(ctx, conversions)

	out := make([]Conversion, 0, len(conversions))
	repaired, rejected := 0, 0
	for _, conv := range conversions {
		conv = c.repair(ctx, conv)
		switch conv.Outcome {
		case OutcomeRepaired:
			repaired++
		case OutcomeRejected:
			rejected++
		}
		out = append(out, conv)
	}

	total := decimal.Zero
	scoreSum := 0.0
	for _, conv := range out {
		total = total.Add(conv.Suggestion.Amount)
		scoreSum += conv.Suggestion.MatchScore
	}
	mean := 0.0
	if len(out) > 0 {
		mean = scoreSum / float64(len(out))
	}
	log.Info().
		Int("suggestions", len(out)).
		Int("repaired", repaired).
		Int("rejected", rejected).
		Str("total_amount", total.String()).
		Float64("mean_score", mean).
		Msg("match proposals normalized")
	return out, nil
}

// validateProposals enforces the hard batch contract: all six required
// fields present on every row and confidence scores inside [0,1].
func validateProposals(proposals []RawProposal) error {
	if len(proposals) == 0 {
		return fmt.Errorf("matchconv: proposal batch is empty")
	}
	for i, p := range proposals {
		var missing []string
		if p.InvoiceID == nil {
			missing = append(missing, "invoice_id")
		}
		if p.PaymentID == nil {
			missing = append(missing, "payment_id")
		}
		if p.MatchType == nil {
			missing = append(missing, "match_type")
		}
		if p.ConfidenceScore == nil {
			missing = append(missing, "confidence_score")
		}
		if p.MatchAmount == nil {
			missing = append(missing, "match_amount")
		}
		if p.Status == nil {
			missing = append(missing, "status")
		}
		if len(missing) > 0 {
			return fmt.Errorf("matchconv: proposal %d: missing required fields %v", i+1, missing)
		}
		if *p.ConfidenceScore < 0 || *p.ConfidenceScore > 1 {
			return fmt.Errorf("matchconv: proposal %d: confidence score %v outside [0,1]", i+1, *p.ConfidenceScore)
		}
	}
	return nil
}

// normalize maps one proposal to zero or more candidate suggestions. When
// the client name resolves to several seed projects the row fans out into
// one candidate per project id instead of guessing.
func (c *Converter) normalize(p RawProposal) []Conversion {
	projectID := *p.InvoiceID
	paymentID := *p.PaymentID
	amount := *p.MatchAmount
	score := *p.ConfidenceScore
	status := *p.Status
	matchType := *p.MatchType

	clientName, known := c.projectToClient[projectID]
	if known {
		return []Conversion{c.candidate(paymentID, projectID, clientName, amount, score, matchType, status, nil)}
	}

	clientName = "Unknown"
	if p.ClientName != "" {
		candidates := c.clientToProjects[p.ClientName]
		if len(candidates) == 1 {
			return []Conversion{c.candidate(paymentID, candidates[0], p.ClientName, amount, score, matchType, status, nil)}
		}
		if len(candidates) > 1 {
			ambiguity := fmt.Sprintf("同じ会社名のproject_id候補: %v", candidates)
			out := make([]Conversion, 0, len(candidates))
			for _, candidateID := range candidates {
				out = append(out, c.candidate(paymentID, candidateID, p.ClientName, amount, score, matchType, status, []string{ambiguity}))
			}
			return out
		}
	}
	return []Conversion{c.candidate(paymentID, projectID, clientName, amount, score, matchType, status, nil)}
}

// candidate builds one suggestion with its explanatory comment. Unmatched
// rows get the concrete failing conditions spelled out for the operator.
func (c *Converter) candidate(paymentID, projectID, clientName string, amount decimal.Decimal, score float64, matchType, status string, extraReasons []string) Conversion {
	var reasons []string
	if status == "unmatched" {
		if !amount.IsPositive() {
			reasons = append(reasons, "金額が0以下")
		}
		if clientName == "Unknown" {
			reasons = append(reasons, "クライアント名不明")
		}
		if projectID == "" {
			reasons = append(reasons, "プロジェクトID不明")
		}
		if paymentID == "" {
			reasons = append(reasons, "入金ID不明")
		}
	}
	reasons = append(reasons, extraReasons...)

	comment := fmt.Sprintf("%s - 信頼度: %.2f", matchType, score)
	if status != "" {
		comment += fmt.Sprintf(" - ステータス: %s", status)
	}
	if len(reasons) > 0 {
		comment += " - 理由: " + strings.Join(reasons, ",")
	}

	return Conversion{
		Suggestion: domain.MatchSuggestion{
			TransactionID: fmt.Sprintf("TXN_%s_%s", paymentID, projectID),
			ProjectID:     projectID,
			ClientName:    clientName,
			Amount:        amount,
			MatchedAmount: amount,
			MatchScore:    score,
			Comment:       comment,
		},
		Outcome: OutcomeValid,
		Reasons: reasons,
	}
}

// checkIntegrity logs the warn-only cross checks against the seed set. None
// of these block the batch.
func (c *Converter) checkIntegrity(ctx context.Context, conversions []Conversion) {
	log := logger.FromContext(ctx)

	suggested := make(map[string]bool)
	for _, conv := range conversions {
		suggested[conv.Suggestion.ProjectID] = true
	}

	var orphans []string
	for id := range suggested {
		if _, ok := c.projectToClient[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	if len(orphans) > 0 {
		log.Warn().Strs("project_ids", orphans).Msg("suggestion project ids absent from seed data")
	}

	var unsuggested []string
	for id := range c.projectToClient {
		if !suggested[id] {
			unsuggested = append(unsuggested, id)
		}
	}
	sort.Strings(unsuggested)
	if len(unsuggested) > 0 {
		log.Warn().Strs("project_ids", unsuggested).Msg("seed projects with no match suggestion")
	}

	for i, conv := range conversions {
		s := conv.Suggestion
		if !s.Amount.IsPositive() {
			log.Warn().Int("row", i+1).Str("amount", s.Amount.String()).Msg("non-positive suggestion amount, repaired later")
		}
		if !s.Amount.Equal(s.MatchedAmount) {
			log.Warn().Int("row", i+1).
				Str("amount", s.Amount.String()).
				Str("matched_amount", s.MatchedAmount.String()).
				Msg("amount and matched amount differ")
		}
		if s.ClientName == "Unknown" {
			log.Warn().Int("row", i+1).Str("project_id", s.ProjectID).Msg("client name unresolved")
		}
	}
}

// repairRule is one entry of the repair table: a named defect predicate and
// its deterministic substitution.
type repairRule struct {
	name    string
	applies func(Config, domain.MatchSuggestion) bool
	fix     func(Config, *domain.MatchSuggestion)
}

var repairRules = []repairRule{
	{
		name: "unknown client name",
		applies: func(_ Config, s domain.MatchSuggestion) bool {
			return s.ClientName == "Unknown"
		},
		fix: func(_ Config, s *domain.MatchSuggestion) {
			s.ClientName = "Unknown_" + s.ProjectID
		},
	},
	{
		name: "non-positive amount",
		applies: func(_ Config, s domain.MatchSuggestion) bool {
			return !s.Amount.IsPositive()
		},
		fix: func(cfg Config, s *domain.MatchSuggestion) {
			s.Amount = cfg.PlaceholderAmount
			s.MatchedAmount = cfg.PlaceholderAmount
		},
	},
	{
		name: "non-positive matched amount",
		applies: func(_ Config, s domain.MatchSuggestion) bool {
			return !s.MatchedAmount.IsPositive()
		},
		fix: func(_ Config, s *domain.MatchSuggestion) {
			s.MatchedAmount = s.Amount
		},
	},
	{
		name: "match score outside [0,1]",
		applies: func(_ Config, s domain.MatchSuggestion) bool {
			return s.MatchScore < 0 || s.MatchScore > 1
		},
		fix: func(_ Config, s *domain.MatchSuggestion) {
			s.MatchScore = 0.5
		},
	},
	{
		name: "malformed transaction id",
		applies: func(_ Config, s domain.MatchSuggestion) bool {
			return !strings.HasPrefix(s.TransactionID, "TXN_")
		},
		fix: func(_ Config, s *domain.MatchSuggestion) {
			s.TransactionID = "TXN_FIXED_" + s.ProjectID
		},
	},
}

// repair applies the rule table to one conversion. Every substitution is
// logged with the rule that fired. Under the reject policy a non-positive
// amount rejects the row instead of fabricating a value.
func (c *Converter) repair(ctx context.Context, conv Conversion) Conversion {
	log := logger.FromContext(ctx)

	if c.cfg.RejectNonPositive && !conv.Suggestion.Amount.IsPositive() {
		conv.Outcome = OutcomeRejected
		conv.Reasons = append(conv.Reasons, "non-positive amount rejected by policy")
		log.Warn().
			Str("transaction_id", conv.Suggestion.TransactionID).
			Str("amount", conv.Suggestion.Amount.String()).
			Msg("suggestion rejected: non-positive amount")
		return conv
	}

	for _, rule := range repairRules {
		if !rule.applies(c.cfg, conv.Suggestion) {
			continue
		}
		rule.fix(c.cfg, &conv.Suggestion)
		conv.Outcome = OutcomeRepaired
		conv.Reasons = append(conv.Reasons, rule.name)
		log.Warn().
			Str("transaction_id", conv.Suggestion.TransactionID).
			Str("rule", rule.name).
			Msg("suggestion repaired")
	}
	return conv
}

// Suggestions extracts the non-rejected suggestions from a conversion set.
func Suggestions(conversions []Conversion) []domain.MatchSuggestion {
	out := make([]domain.MatchSuggestion, 0, len(conversions))
	for _, conv := range conversions {
		if conv.Outcome == OutcomeRejected {
			continue
		}
		out = append(out, conv.Suggestion)
	}
	return out
}

// WriteCSV persists the non-rejected suggestions as the canonical suggestion
// table and returns the artifact path.
func (c *Converter) WriteCSV(ctx context.Context, conversions []Conversion, name string) (string, error) {
	data, err := ToTable(Suggestions(conversions)).Bytes()
	if err != nil {
		return "", fmt.Errorf("matchconv: render csv: %w", err)
	}
	return c.store.WriteNamed(ctx, "ai_output", name, data)
}

// ToTable renders suggestions in the canonical column order.
func ToTable(suggestions []domain.MatchSuggestion) *tabular.Table {
	tbl := tabular.New(Columns)
	for _, s := range suggestions {
		tbl.Append(map[string]string{
			"transaction_id": s.TransactionID,
			"project_id":     s.ProjectID,
			"client_name":    s.ClientName,
			"amount":         s.Amount.String(),
			"matched_amount": s.MatchedAmount.String(),
			"match_score":    strconv.FormatFloat(s.MatchScore, 'f', -1, 64),
			"comment":        s.Comment,
		})
	}
	return tbl
}

// FromTable parses a suggestion table back into records with row context on
// malformed numerics.
func FromTable(tbl *tabular.Table) ([]domain.MatchSuggestion, error) {
	if missing := tbl.MissingColumns(Columns); len(missing) > 0 {
		return nil, fmt.Errorf("matchconv: table missing columns %v", missing)
	}
	suggestions := make([]domain.MatchSuggestion, 0, tbl.Len())
	for row := 0; row < tbl.Len(); row++ {
		amount, err := decimal.NewFromString(tbl.Get(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("matchconv: row %d: amount %q: %w", row+1, tbl.Get(row, "amount"), err)
		}
		matched, err := decimal.NewFromString(tbl.Get(row, "matched_amount"))
		if err != nil {
			return nil, fmt.Errorf("matchconv: row %d: matched_amount %q: %w", row+1, tbl.Get(row, "matched_amount"), err)
		}
		score, err := strconv.ParseFloat(tbl.Get(row, "match_score"), 64)
		if err != nil {
			return nil, fmt.Errorf("matchconv: row %d: match_score %q: %w", row+1, tbl.Get(row, "match_score"), err)
		}
		suggestions = append(suggestions, domain.MatchSuggestion{
			TransactionID: tbl.Get(row, "transaction_id"),
			ProjectID:     tbl.Get(row, "project_id"),
			ClientName:    tbl.Get(row, "client_name"),
			Amount:        amount,
			MatchedAmount: matched,
			MatchScore:    score,
			Comment:       tbl.Get(row, "comment"),
		})
	}
	return suggestions, nil
}
