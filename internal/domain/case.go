package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a dispute case.
type Status string

const (
	StatusReceived     Status = "RECEIVED"
	StatusClassifying  Status = "CLASSIFYING"
	StatusEnriching    Status = "ENRICHING"
	StatusRecommending Status = "RECOMMENDING"
	StatusPersisting   Status = "PERSISTING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// transitions lists the only legal successor of each state. FAILED is
// reachable from PERSISTING alone: step failures fall back instead.
var transitions = map[Status][]Status{
	StatusReceived:     {StatusClassifying},
	StatusClassifying:  {StatusEnriching},
	StatusEnriching:    {StatusRecommending},
	StatusRecommending: {StatusPersisting},
	StatusPersisting:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a case may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CaseIDPrefix prefixes every generated case identifier.
const CaseIDPrefix = "dsp_"

const maxIdentifierLength = 64

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CaseInput is what a caller submits for a new dispute.
type CaseInput struct {
	ExternalRef string `json:"externalRef,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`
	MerchantID  string `json:"merchantId,omitempty"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Narrative   string `json:"narrative"`
}

// NarrativeLimits bounds narrative length, measured in characters.
type NarrativeLimits struct {
	// Max is the length narratives are truncated to.
	Max int
	// HardCap rejects narratives longer than this. Zero disables it.
	HardCap int
}

// Validate checks the input against the case invariants. Over-length
// narratives below the hard cap are accepted and truncated later.
func (in *CaseInput) Validate(limits NarrativeLimits) error {
	v := &ValidationError{}
	if in.AmountMinor <= 0 {
		v.Add("amountMinor", "must be greater than zero")
	}
	if !currencyPattern.MatchString(in.Currency) {
		v.Add("currency", "must be a three-letter uppercase ISO code")
	}
	if limits.HardCap > 0 && utf8.RuneCountInString(in.Narrative) > limits.HardCap {
		v.Add("narrative", fmt.Sprintf("exceeds the maximum of %d characters", limits.HardCap))
	}
	ids := []struct{ field, value string }{
		{"externalRef", in.ExternalRef},
		{"customerId", in.CustomerID},
		{"merchantId", in.MerchantID},
	}
	for _, id := range ids {
		if len(id.value) > maxIdentifierLength {
			v.Add(id.field, fmt.Sprintf("must be at most %d characters", maxIdentifierLength))
		}
	}
	return v.OrNil()
}

// TruncateNarrative cuts s to at most max characters. It reports whether
// anything was removed. A non-positive max leaves s untouched.
func TruncateNarrative(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}

// Case is a dispute case as persisted. It is built once the pipeline has
// produced every result and is never modified afterwards.
type Case struct {
	ID          string `json:"id"`
	ExternalRef string `json:"externalRef,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`
	MerchantID  string `json:"merchantId,omitempty"`

	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Narrative   string `json:"narrative"`
	Truncated   bool   `json:"truncated"`

	Status Status `json:"status"`

	Classification ScoringResult    `json:"classification"`
	Enrichment     EnrichmentResult `json:"enrichment"`
	Recommendation ScoringResult    `json:"recommendation"`

	TotalCostUSD float64 `json:"totalCostUsd"`
	TokenUsage   int     `json:"tokenUsage"`
	LatencyMs    int64   `json:"latencyMs"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewCaseID formats a case identifier from a unique suffix.
func NewCaseID(suffix string) string {
	return CaseIDPrefix + strings.ReplaceAll(suffix, "-", "")
}

// CaseResult is what the orchestrator returns for a processed case.
type CaseResult struct {
	CaseID         string           `json:"caseId"`
	ExternalRef    string           `json:"externalRef,omitempty"`
	Status         Status           `json:"status"`
	Classification ScoringResult    `json:"classification"`
	Enrichment     EnrichmentResult `json:"enrichment"`
	Recommendation ScoringResult    `json:"recommendation"`
	Truncated      bool             `json:"truncated"`
	LatencyMs      int64            `json:"latencyMs"`
	AuditEvents    []AuditEvent     `json:"auditEvents"`
}
