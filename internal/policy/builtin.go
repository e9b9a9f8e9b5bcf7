package policy

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultPolicies returns the built-in recommendation policies.
func DefaultPolicies() []domain.Policy {
	return []domain.Policy{
		{
			ID:          "degraded-scoring",
			Description: "A step fell back, so a human decides",
			Expression:  `fallback`,
			Action:      domain.ActionEscalateReview,
			Confidence:  0.6,
			Rationale:   "Scoring was degraded for this case, escalating for manual review",
			Priority:    10,
			Enabled:     true,
		},
		{
			ID:          "repeat-disputer",
			Description: "Customers with many prior disputes are reviewed",
			Expression:  `prior_disputes >= 3`,
			Action:      domain.ActionEscalateReview,
			Confidence:  0.85,
			Rationale:   "Customer has a history of repeated disputes",
			Priority:    20,
			Enabled:     true,
		},
		{
			ID:          "confident-fraud-refund",
			Description: "High-confidence fraud is refunded immediately",
			Expression:  `label.startsWith("FRAUD") && confidence > 0.8`,
			Action:      domain.ActionRefund,
			Confidence:  0.8,
			Rationale:   "High-confidence fraud classification warrants an immediate refund",
			Priority:    30,
			Enabled:     true,
		},
		{
			ID:          "merchant-error-evidence",
			Description: "Merchant errors need the merchant's records",
			Expression:  `label == "MERCHANT_ERROR" && confidence > 0.7`,
			Action:      domain.ActionRequestInfo,
			Confidence:  0.7,
			Rationale:   "Merchant error suspected, requesting transaction records",
			Priority:    40,
			Enabled:     true,
		},
		{
			ID:          "delivery-proof",
			Description: "Non-delivery claims need proof of delivery",
			Expression:  `label == "SERVICE_NOT_RECEIVED" || label == "REFUND_NOT_PROCESSED"`,
			Action:      domain.ActionRequestInfo,
			Confidence:  0.7,
			Rationale:   "Requesting proof of delivery or refund from the merchant",
			Priority:    50,
			Enabled:     true,
		},
		{
			ID:          "small-subscription-refund",
			Description: "Low-value subscription disputes are refunded",
			Expression:  `label == "SUBSCRIPTION_CANCELLATION" && amount_minor <= 5000`,
			Action:      domain.ActionRefund,
			Confidence:  0.65,
			Rationale:   "Low-value subscription charge after cancellation",
			Priority:    60,
			Enabled:     true,
		},
	}
}
