package domain

// Policy maps a classified, enriched case onto a recommended action.
type Policy struct {
	ID          string `json:"id" mapstructure:"id"`
	Description string `json:"description" mapstructure:"description"`

	// CEL expression evaluated against the case. Must return bool.
	// Variables: label, confidence, recent_transactions, prior_disputes,
	// amount_minor, currency.
	Expression string `json:"expression" mapstructure:"expression"`

	// Action recommended when the expression is true.
	Action string `json:"action" mapstructure:"action"`

	// Confidence reported with the recommendation.
	Confidence float64 `json:"confidence" mapstructure:"confidence"`

	// Rationale explains the recommendation to a reviewer.
	Rationale string `json:"rationale" mapstructure:"rationale"`

	// Priority orders evaluation; lower runs first and the first match wins.
	Priority int `json:"priority" mapstructure:"priority"`

	// Whether policy is active
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}
