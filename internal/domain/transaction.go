package domain

import (
	"time"
)

// LedgerTransaction is a historical card transaction used for enrichment.
type LedgerTransaction struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	MerchantID string `json:"merchantId,omitempty"`

	// Financial details, amount in minor units
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`

	// Status is e.g. "settled", "pending", "reversed"
	Status string `json:"status"`

	// Type is e.g. "purchase", "refund", "chargeback"
	Type string `json:"type"`

	OccurredAt time.Time `json:"occurredAt"`
}

// LedgerTransactionRequest is the API request payload for recording a
// ledger transaction.
type LedgerTransactionRequest struct {
	CustomerID  string     `json:"customerId"`
	MerchantID  string     `json:"merchantId,omitempty"`
	AmountMinor int64      `json:"amountMinor"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status,omitempty"`
	Type        string     `json:"type,omitempty"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
}

// ToLedgerTransaction converts a request to a LedgerTransaction, filling
// defaults for missing optional fields.
func (r *LedgerTransactionRequest) ToLedgerTransaction(now time.Time) *LedgerTransaction {
	tx := &LedgerTransaction{
		CustomerID:  r.CustomerID,
		MerchantID:  r.MerchantID,
		AmountMinor: r.AmountMinor,
		Currency:    r.Currency,
		Status:      r.Status,
		Type:        r.Type,
		OccurredAt:  now.UTC(),
	}
	if tx.Status == "" {
		tx.Status = "settled"
	}
	if tx.Type == "" {
		tx.Type = "purchase"
	}
	if r.OccurredAt != nil {
		tx.OccurredAt = r.OccurredAt.UTC()
	}
	return tx
}

// Validate checks the fields the ledger requires.
func (r *LedgerTransactionRequest) Validate() error {
	v := &ValidationError{}
	if r.CustomerID == "" {
		v.Add("customerId", "is required")
	}
	if r.AmountMinor <= 0 {
		v.Add("amountMinor", "must be greater than zero")
	}
	if !currencyPattern.MatchString(r.Currency) {
		v.Add("currency", "must be a three-letter uppercase ISO code")
	}
	return v.OrNil()
}
