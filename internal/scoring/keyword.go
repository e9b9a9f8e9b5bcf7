package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// KeywordSignal ties a label to the phrases that suggest it.
type KeywordSignal struct {
	Label          string
	Phrases        []string
	BaseConfidence float64
}

// DefaultSignals is the built-in keyword taxonomy, in precedence order.
func DefaultSignals() []KeywordSignal {
	return []KeywordSignal{
		{
			Label:          domain.LabelFraudAccountTakeover,
			Phrases:        []string{"hacked", "account takeover", "identity theft", "password was changed", "someone logged into", "took over my account"},
			BaseConfidence: 0.86,
		},
		{
			Label:          domain.LabelFraudCardLost,
			Phrases:        []string{"lost my card", "card was lost", "lost card", "misplaced my card", "wallet was stolen"},
			BaseConfidence: 0.86,
		},
		{
			Label:          domain.LabelFraudUnauthorized,
			Phrases:        []string{"unauthorized", "did not authorize", "didn't authorize", "fraud", "stolen", "not me", "never made this"},
			BaseConfidence: 0.88,
		},
		{
			Label:          domain.LabelRefundNotProcessed,
			Phrases:        []string{"refund not", "never refunded", "no refund", "promised a refund", "still waiting for my refund", "refund was not"},
			BaseConfidence: 0.82,
		},
		{
			Label:          domain.LabelSubscriptionCancellation,
			Phrases:        []string{"subscription", "cancelled", "canceled", "recurring", "free trial", "membership"},
			BaseConfidence: 0.8,
		},
		{
			Label:          domain.LabelMerchantError,
			Phrases:        []string{"charged twice", "double charged", "duplicate charge", "wrong amount", "overcharged", "billing error", "merchant error", "charged the wrong"},
			BaseConfidence: 0.85,
		},
		{
			Label:          domain.LabelServiceNotReceived,
			Phrases:        []string{"not received", "never received", "never arrived", "never delivered", "not delivered", "missing package", "did not receive", "didn't receive"},
			BaseConfidence: 0.85,
		},
		{
			Label:          domain.LabelFriendlyFraudRisk,
			Phrases:        []string{"my son", "my daughter", "my child", "my kid", "family member", "by accident", "accidentally"},
			BaseConfidence: 0.75,
		},
	}
}

// KeywordClassifier is a deterministic rule-based Classifier. The label with
// the most matching phrases wins; ties go to the earlier signal.
type KeywordClassifier struct {
	signals []KeywordSignal
}

// NewKeywordClassifier creates a classifier. Nil signals use DefaultSignals.
func NewKeywordClassifier(signals []KeywordSignal) *KeywordClassifier {
	if signals == nil {
		signals = DefaultSignals()
	}
	return &KeywordClassifier{signals: signals}
}

// Classify implements domain.Classifier.
func (k *KeywordClassifier) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ScoringResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoringResult{}, err
	}

	text := strings.ToLower(req.Narrative)

	var best *KeywordSignal
	var bestHits []string
	for i := range k.signals {
		s := &k.signals[i]
		var hits []string
		for _, phrase := range s.Phrases {
			if strings.Contains(text, phrase) {
				hits = append(hits, phrase)
			}
		}
		if len(hits) > len(bestHits) {
			best, bestHits = s, hits
		}
	}

	if best == nil {
		r := domain.NewScoringResult(domain.LabelOther, 0.6, "No rule-based pattern matched the narrative")
		r.Model = "rules"
		return r, nil
	}

	// Each extra corroborating phrase adds a little confidence.
	confidence := best.BaseConfidence + 0.03*float64(len(bestHits)-1)
	if confidence > 0.97 {
		confidence = 0.97
	}
	r := domain.NewScoringResult(best.Label, confidence,
		fmt.Sprintf("Rule-based classification matched: %s", strings.Join(bestHits, ", ")))
	r.Model = "rules"
	return r, nil
}
