package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account names used on generated journal entries. The books are kept in
// Japanese, matching the chart of accounts of the accounting desk.
const (
	AccountCash              = "現金"
	AccountReceivable        = "売掛金"
	AccountSales             = "売上"
	AccountPendingSettlement = "未決算"
)

// DepositType is the only bank transaction type that enters the pipeline.
const DepositType = "入金"

// AmountCategory buckets a payment by size.
type AmountCategory string

const (
	AmountSmall  AmountCategory = "small"
	AmountMedium AmountCategory = "medium"
	AmountLarge  AmountCategory = "large"
)

// MatchingStatus describes the provisional AR match of a bank row.
type MatchingStatus string

const (
	StatusMatched       MatchingStatus = "matched"
	StatusUnmatched     MatchingStatus = "unmatched"
	StatusNoARData      MatchingStatus = "no_ar_data"
	StatusMatchingError MatchingStatus = "matching_error"
)

// ValidMatchingStatuses enumerates every status a bank row may carry.
var ValidMatchingStatuses = []MatchingStatus{
	StatusMatched, StatusUnmatched, StatusNoARData, StatusMatchingError,
}

// EntryType distinguishes the three kinds of journal lines.
type EntryType string

const (
	EntryCashReceipt        EntryType = "cash_receipt"
	EntryRevenueRecognition EntryType = "revenue_recognition"
	EntryManualReview       EntryType = "manual_review"
)

// ValidEntryTypes enumerates every journal entry type.
var ValidEntryTypes = []EntryType{
	EntryCashReceipt, EntryRevenueRecognition, EntryManualReview,
}

// ProjectSeedRecord is one billable project-month, the unit invoices are
// generated from. Immutable once emitted by the seed generator.
type ProjectSeedRecord struct {
	ProjectID     string          // PRJ_####
	ClientID      string          // Client_###
	ClientName    string
	ProjectName   string
	ManagerID     string
	BillingYear   int
	BillingMonth  int
	BillingAmount decimal.Decimal
}

// BankTransactionRecord is one cleaned incoming-payment row. Created by the
// bank preprocessor and never mutated afterwards.
type BankTransactionRecord struct {
	TransactionDate    time.Time
	ClientName         string
	Amount             decimal.Decimal
	TransactionType    string
	ProcessedAt        time.Time
	TransactionID      string // TXN_<raw-or-row>_<project-or-client>
	Year               int
	Month              int
	AmountCategory     AmountCategory
	MatchingStatus     MatchingStatus
	MatchingConfidence float64
}

// MatchSuggestion is a normalized pairing of a payment to a project.
type MatchSuggestion struct {
	TransactionID string
	ProjectID     string
	ClientName    string
	Amount        decimal.Decimal
	MatchedAmount decimal.Decimal
	MatchScore    float64
	Comment       string
}

// JournalEntry is one double-entry bookkeeping line. Entries are append-only
// and produced exclusively by the journal generator.
type JournalEntry struct {
	Date          time.Time
	TransactionID string
	ProjectID     string
	ClientName    string
	DebitAccount  string
	CreditAccount string
	Amount        decimal.Decimal
	Description   string
	MatchScore    float64
	EntryType     EntryType
	CreatedAt     time.Time
}

// ReceivableRecord is one open receivable from the AR ledger, read-only.
type ReceivableRecord struct {
	ProjectID  string
	ClientName string
	Amount     decimal.Decimal
}

// CategorizeAmount buckets an amount using the configured boundaries:
// small < smallMax <= medium < mediumMax <= large.
func CategorizeAmount(amount decimal.Decimal, smallMax, mediumMax int64) AmountCategory {
	switch {
	case amount.LessThan(decimal.NewFromInt(smallMax)):
		return AmountSmall
	case amount.LessThan(decimal.NewFromInt(mediumMax)):
		return AmountMedium
	default:
		return AmountLarge
	}
}

// ValidEntryType reports whether t is a known journal entry type.
func ValidEntryType(t EntryType) bool {
	for _, v := range ValidEntryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ValidMatchingStatus reports whether s is a known matching status.
func ValidMatchingStatus(s MatchingStatus) bool {
	for _, v := range ValidMatchingStatuses {
		if s == v {
			return true
		}
	}
	return false
}
