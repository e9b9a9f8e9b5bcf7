package scoring

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/redact"
)

// FallbackClassifier degrades to a secondary classifier when the primary
// fails. The secondary's error is returned if both fail.
type FallbackClassifier struct {
	Primary   domain.Classifier
	Secondary domain.Classifier
}

// Classify implements domain.Classifier.
func (f *FallbackClassifier) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ScoringResult, error) {
	result, err := f.Primary.Classify(ctx, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return domain.ScoringResult{}, err
	}

	slog.Warn("primary classifier failed, using rule-based classification",
		"case_id", req.CaseID,
		"error", err)

	result, secErr := f.Secondary.Classify(ctx, req)
	if secErr != nil {
		return domain.ScoringResult{}, secErr
	}
	result.Rationale = "Provider unavailable (" + err.Error() + "); " + result.Rationale
	return result, nil
}

// FallbackRecommender degrades to a secondary recommender when the primary
// fails.
type FallbackRecommender struct {
	Primary   domain.Recommender
	Secondary domain.Recommender
}

// Recommend implements domain.Recommender.
func (f *FallbackRecommender) Recommend(ctx context.Context, req domain.RecommendationRequest) (domain.ScoringResult, error) {
	result, err := f.Primary.Recommend(ctx, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return domain.ScoringResult{}, err
	}

	slog.Warn("primary recommender failed, using policy recommendation",
		"case_id", req.CaseID,
		"error", err)

	result, secErr := f.Secondary.Recommend(ctx, req)
	if secErr != nil {
		return domain.ScoringResult{}, secErr
	}
	result.Rationale = "Provider unavailable (" + err.Error() + "); " + result.Rationale
	return result, nil
}

// RedactingClassifier masks personal data in the narrative before passing
// the request on.
type RedactingClassifier struct {
	Next     domain.Classifier
	Redactor *redact.Redactor
}

// Classify implements domain.Classifier.
func (r *RedactingClassifier) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ScoringResult, error) {
	res := r.Redactor.Redact(req.Narrative)
	if n := res.Total(); n > 0 {
		slog.Debug("redacted narrative before scoring",
			"case_id", req.CaseID,
			"redaction_count", n,
			"pii_summary", res.Detail()["pii_summary"])
	}
	req.Narrative = res.Text
	return r.Next.Classify(ctx, req)
}
