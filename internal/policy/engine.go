// Package policy provides the CEL-Go based recommendation policy engine.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates recommendation policies in priority order. The first
// policy whose expression is true decides the action.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*CompiledPolicy
	fallback domain.Policy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  domain.Policy
	Program cel.Program
}

// NewEngine creates a policy engine with no policies loaded.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("label", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("recent_transactions", cel.IntType),
		cel.Variable("prior_disputes", cel.IntType),
		cel.Variable("amount_minor", cel.IntType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("fallback", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env: env,
		fallback: domain.Policy{
			ID:         "default-escalate",
			Action:     domain.ActionEscalateReview,
			Confidence: 0.6,
			Rationale:  "No policy matched, routing to an analyst",
		},
	}, nil
}

// NewDefaultEngine creates an engine loaded with DefaultPolicies.
func NewDefaultEngine() (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.LoadPolicies(DefaultPolicies()); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidatePolicy compiles a policy without loading it.
func (e *Engine) ValidatePolicy(p domain.Policy) error {
	_, err := e.compile(p)
	return err
}

// LoadPolicies replaces the loaded policies. Disabled policies are skipped.
// Nothing changes if any policy fails to compile.
func (e *Engine) LoadPolicies(policies []domain.Policy) error {
	compiled := make([]*CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		c, err := e.compile(p)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Config.Priority < compiled[j].Config.Priority
	})

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// Policies returns the loaded policies in evaluation order.
func (e *Engine) Policies() []domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Policy, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.Config)
	}
	return out
}

// Recommend implements domain.Recommender.
func (e *Engine) Recommend(ctx context.Context, req domain.RecommendationRequest) (domain.ScoringResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoringResult{}, err
	}

	e.mu.RLock()
	policies := e.compiled
	e.mu.RUnlock()

	activation := map[string]any{
		"label":               req.Classification.Label,
		"confidence":          req.Classification.Confidence,
		"recent_transactions": int64(req.Enrichment.RecentTransactions),
		"prior_disputes":      int64(req.Enrichment.PriorDisputes),
		"amount_minor":        req.AmountMinor,
		"currency":            req.Currency,
		"fallback":            req.Classification.Fallback || req.Enrichment.Fallback,
	}

	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			return domain.ScoringResult{}, fmt.Errorf("evaluate policy %s: %w", p.Config.ID, err)
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return result(p.Config), nil
		}
	}
	return result(e.fallback), nil
}

func result(p domain.Policy) domain.ScoringResult {
	r := domain.NewScoringResult(p.Action, p.Confidence, p.Rationale)
	r.Model = "policy:" + p.ID
	return r
}

func (e *Engine) compile(p domain.Policy) (*CompiledPolicy, error) {
	if !domain.IsAction(p.Action) {
		return nil, fmt.Errorf("policy %s: unknown action %q", p.ID, p.Action)
	}

	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}

	return &CompiledPolicy{Config: p, Program: program}, nil
}
