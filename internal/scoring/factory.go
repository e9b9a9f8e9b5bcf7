// Package scoring provides the classification and recommendation
// collaborators used by the case orchestrator.
package scoring

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/redact"
)

// Set is the pair of scoring collaborators a pipeline runs with.
type Set struct {
	Classifier  domain.Classifier
	Recommender domain.Recommender
}

// New builds the scoring collaborators for cfg. rules is the rule-based
// recommender used on its own for the "rules" provider and as the
// degradation path for "openai".
func New(cfg domain.ScoringConfig, rules domain.Recommender) (*Set, error) {
	keywords := NewKeywordClassifier(nil)

	switch cfg.Provider {
	case "", "rules":
		return &Set{Classifier: keywords, Recommender: rules}, nil

	case "openai":
		client, err := NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		return NewWithClient(cfg, client, rules), nil

	default:
		return nil, fmt.Errorf("unsupported scoring provider: %s", cfg.Provider)
	}
}

// NewWithClient wires provider-backed collaborators around client.
func NewWithClient(cfg domain.ScoringConfig, client ChatClient, rules domain.Recommender) *Set {
	retry := DefaultRetry(cfg.MaxRetries, cfg.RetryDelay)

	var classifier domain.Classifier = &FallbackClassifier{
		Primary: NewProviderClassifier(client, ProviderConfig{
			Model:       cfg.ClassificationModel,
			TokenBudget: cfg.TokenBudgetPerCase,
			Retry:       retry,
		}),
		Secondary: NewKeywordClassifier(nil),
	}
	if cfg.RedactPII {
		classifier = &RedactingClassifier{Next: classifier, Redactor: redact.New()}
	}

	recommender := &FallbackRecommender{
		Primary: NewProviderRecommender(client, ProviderConfig{
			Model:       cfg.RecommendationModel,
			TokenBudget: cfg.TokenBudgetPerCase,
			Retry:       retry,
		}),
		Secondary: rules,
	}

	return &Set{Classifier: classifier, Recommender: recommender}
}
