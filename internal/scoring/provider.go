package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const classifySystemPrompt = "You are an expert financial dispute classifier. You MUST respond with ONLY a valid JSON object. Do not include any explanatory text or markdown formatting."

const classifyPrompt = `Analyze the following dispute narrative and classify it into one of these categories:

Categories:
- FRAUD_UNAUTHORIZED: Transactions not authorized by cardholder
- FRAUD_CARD_LOST: Lost or stolen card usage
- FRAUD_ACCOUNT_TAKEOVER: Account compromise or identity theft
- MERCHANT_ERROR: Wrong charges, billing errors, duplicate charges
- SERVICE_NOT_RECEIVED: Goods/services not delivered as promised
- FRIENDLY_FRAUD_RISK: Family member or accidental purchases
- SUBSCRIPTION_CANCELLATION: Subscription billing issues
- REFUND_NOT_PROCESSED: Refund processing problems
- OTHER: Does not fit other categories

Dispute Details:
- Amount: %s
- Currency: %s
- Narrative: %s

Respond with JSON only:
{"label": "CATEGORY_NAME", "confidence": 0.0-1.0, "rationale": "brief explanation"}`

const recommendSystemPrompt = "You are a chargeback operations analyst. You MUST respond with ONLY a valid JSON object. Do not include any explanatory text or markdown formatting."

const recommendPrompt = `Based on the dispute classification and enrichment data, recommend the best action.

Classification: %s (confidence: %.2f)
Rationale: %s

Enrichment Data:
- Recent transactions: %d
- Prior disputes: %d

Available Actions:
- REFUND: Issue immediate refund to customer
- ESCALATE_REVIEW: Send to human analyst for review
- REQUEST_INFO: Request additional documentation

Respond with JSON only:
{"action": "ACTION_NAME", "confidence": 0.0-1.0, "rationale": "detailed reasoning"}`

// ProviderConfig tunes provider-backed scoring.
type ProviderConfig struct {
	Model       string
	MaxTokens   int
	TokenBudget int
	Retry       RetryOptions
}

// ProviderClassifier classifies narratives with a language model.
type ProviderClassifier struct {
	client ChatClient
	cfg    ProviderConfig
}

// NewProviderClassifier creates a classifier backed by client.
func NewProviderClassifier(client ChatClient, cfg ProviderConfig) *ProviderClassifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	return &ProviderClassifier{client: client, cfg: cfg}
}

// Classify implements domain.Classifier.
func (c *ProviderClassifier) Classify(ctx context.Context, req domain.ClassificationRequest) (domain.ScoringResult, error) {
	prompt := fmt.Sprintf(classifyPrompt, formatMinor(req.AmountMinor), req.Currency, req.Narrative)

	resp, err := complete(ctx, c.client, c.cfg, ChatRequest{
		Model:       c.cfg.Model,
		System:      classifySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return domain.ScoringResult{}, fmt.Errorf("classify case %s: %w", req.CaseID, err)
	}

	var parsed struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(resp.Content)), &parsed); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("malformed classification response: %w", err)
	}
	label := strings.ToUpper(strings.TrimSpace(parsed.Label))
	if !domain.IsLabel(label) {
		return domain.ScoringResult{}, fmt.Errorf("malformed classification response: unknown label %q", parsed.Label)
	}

	result := domain.NewScoringResult(label, parsed.Confidence, parsed.Rationale)
	result.Model = resp.Model
	result.TokenUsage = resp.TotalTokens()
	result.CostUSD = resp.CostUSD
	return result, nil
}

// ProviderRecommender recommends actions with a language model.
type ProviderRecommender struct {
	client ChatClient
	cfg    ProviderConfig
}

// NewProviderRecommender creates a recommender backed by client.
func NewProviderRecommender(client ChatClient, cfg ProviderConfig) *ProviderRecommender {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &ProviderRecommender{client: client, cfg: cfg}
}

// Recommend implements domain.Recommender.
func (r *ProviderRecommender) Recommend(ctx context.Context, req domain.RecommendationRequest) (domain.ScoringResult, error) {
	prompt := fmt.Sprintf(recommendPrompt,
		req.Classification.Label,
		req.Classification.Confidence,
		req.Classification.Rationale,
		req.Enrichment.RecentTransactions,
		req.Enrichment.PriorDisputes,
	)

	resp, err := complete(ctx, r.client, r.cfg, ChatRequest{
		Model:       r.cfg.Model,
		System:      recommendSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return domain.ScoringResult{}, fmt.Errorf("recommend case %s: %w", req.CaseID, err)
	}

	var parsed struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(resp.Content)), &parsed); err != nil {
		return domain.ScoringResult{}, fmt.Errorf("malformed recommendation response: %w", err)
	}
	action := strings.ToUpper(strings.TrimSpace(parsed.Action))
	if !domain.IsAction(action) {
		return domain.ScoringResult{}, fmt.Errorf("malformed recommendation response: unknown action %q", parsed.Action)
	}

	result := domain.NewScoringResult(action, parsed.Confidence, parsed.Rationale)
	result.Model = resp.Model
	result.TokenUsage = resp.TotalTokens()
	result.CostUSD = resp.CostUSD
	return result, nil
}

// complete enforces the token budget and retries transient failures.
func complete(ctx context.Context, client ChatClient, cfg ProviderConfig, req ChatRequest) (ChatResponse, error) {
	if cfg.TokenBudget > 0 {
		if estimated := estimateTokens(req.System+req.Prompt) + req.MaxTokens; estimated > cfg.TokenBudget {
			return ChatResponse{}, fmt.Errorf("estimated %d tokens exceeds budget of %d", estimated, cfg.TokenBudget)
		}
	}

	var resp ChatResponse
	err := WithRetry(ctx, func() error {
		var err error
		resp, err = client.Complete(ctx, req)
		return err
	}, cfg.Retry)
	return resp, err
}

// estimateTokens approximates token count at four characters per token.
func estimateTokens(s string) int {
	return len(s)/4 + 1
}

// cleanMarkdownWrapper strips ``` fences some models wrap JSON in.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func formatMinor(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// DefaultRetry mirrors the provider retry policy: attempts with delays
// doubling from base.
func DefaultRetry(attempts int, base time.Duration) RetryOptions {
	return RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: base,
		MaxDelay:     8 * base,
		Multiplier:   2,
	}
}
