package domain

import (
	"context"
	"math"
)

// Dispute classification labels.
const (
	LabelFraudUnauthorized        = "FRAUD_UNAUTHORIZED"
	LabelFraudCardLost            = "FRAUD_CARD_LOST"
	LabelFraudAccountTakeover     = "FRAUD_ACCOUNT_TAKEOVER"
	LabelMerchantError            = "MERCHANT_ERROR"
	LabelServiceNotReceived       = "SERVICE_NOT_RECEIVED"
	LabelFriendlyFraudRisk        = "FRIENDLY_FRAUD_RISK"
	LabelSubscriptionCancellation = "SUBSCRIPTION_CANCELLATION"
	LabelRefundNotProcessed       = "REFUND_NOT_PROCESSED"
	LabelOther                    = "OTHER"
)

// Recommended actions.
const (
	ActionRefund         = "REFUND"
	ActionEscalateReview = "ESCALATE_REVIEW"
	ActionRequestInfo    = "REQUEST_INFO"
)

// Labels is the closed classification taxonomy in precedence order.
var Labels = []string{
	LabelFraudUnauthorized,
	LabelFraudCardLost,
	LabelFraudAccountTakeover,
	LabelMerchantError,
	LabelServiceNotReceived,
	LabelFriendlyFraudRisk,
	LabelSubscriptionCancellation,
	LabelRefundNotProcessed,
	LabelOther,
}

// Actions is the closed set of recommended actions.
var Actions = []string{ActionRefund, ActionEscalateReview, ActionRequestInfo}

// IsLabel reports whether s belongs to the classification taxonomy.
func IsLabel(s string) bool { return contains(Labels, s) }

// IsAction reports whether s is a known recommended action.
func IsAction(s string) bool { return contains(Actions, s) }

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// FallbackConfidence is assigned to every synthesized fallback result.
const FallbackConfidence = 0.5

// ScoringResult is the output of a classification or recommendation step.
// Label holds the classification label or the recommended action.
type ScoringResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	TokenUsage int     `json:"tokenUsage"`
	CostUSD    float64 `json:"costUsd"`
	Model      string  `json:"model,omitempty"`
	LatencyMs  int64   `json:"latencyMs"`
	Fallback   bool    `json:"error"`
}

// NewScoringResult builds a result with confidence clamped to [0, 1].
func NewScoringResult(label string, confidence float64, rationale string) ScoringResult {
	return ScoringResult{
		Label:      label,
		Confidence: ClampConfidence(confidence),
		Rationale:  rationale,
	}
}

// Normalized returns r with confidence clamped and negative usage zeroed.
func (r ScoringResult) Normalized() ScoringResult {
	r.Confidence = ClampConfidence(r.Confidence)
	if r.TokenUsage < 0 {
		r.TokenUsage = 0
	}
	if r.CostUSD < 0 || math.IsNaN(r.CostUSD) {
		r.CostUSD = 0
	}
	return r
}

// ClampConfidence forces c into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// ClassificationFallback is used when classification could not produce a
// result.
func ClassificationFallback(err error) ScoringResult {
	r := NewScoringResult(LabelOther, FallbackConfidence, "Classification failed: "+errText(err))
	r.Fallback = true
	return r
}

// RecommendationFallback is used when recommendation could not produce a
// result. It routes the case to a human.
func RecommendationFallback(err error) ScoringResult {
	r := NewScoringResult(ActionEscalateReview, FallbackConfidence,
		"Recommendation failed, escalating for manual review: "+errText(err))
	r.Fallback = true
	return r
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// EnrichmentResult carries account context counters for a customer.
type EnrichmentResult struct {
	RecentTransactions int   `json:"recentTransactions"`
	PriorDisputes      int   `json:"priorDisputes"`
	LatencyMs          int64 `json:"latencyMs"`
	Fallback           bool  `json:"error"`
}

// EnrichmentFallback returns default counters flagged as a fallback.
func EnrichmentFallback() EnrichmentResult {
	return EnrichmentResult{Fallback: true}
}

// ClassificationRequest is the input to a Classifier.
type ClassificationRequest struct {
	CaseID      string
	Narrative   string
	AmountMinor int64
	Currency    string
}

// RecommendationRequest is the input to a Recommender.
type RecommendationRequest struct {
	CaseID         string
	Classification ScoringResult
	Enrichment     EnrichmentResult
	AmountMinor    int64
	Currency       string
}

// EnrichmentRequest is the input to an Enricher.
type EnrichmentRequest struct {
	CaseID     string
	CustomerID string
	MerchantID string
}

// Classifier maps a dispute narrative onto the label taxonomy.
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (ScoringResult, error)
}

// Recommender picks an action for a classified, enriched case.
type Recommender interface {
	Recommend(ctx context.Context, req RecommendationRequest) (ScoringResult, error)
}

// Enricher looks up account context for a case.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichmentRequest) (EnrichmentResult, error)
}
