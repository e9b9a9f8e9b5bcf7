package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrStepTimeout is wrapped by the error of a step that outlived its budget.
var ErrStepTimeout = errors.New("step timed out")

// stepRunner executes pipeline steps under a time budget and records one
// audit event per attempt.
type stepRunner struct {
	recorder *audit.Recorder
	timeout  time.Duration
}

type stepOutcome[T any] struct {
	value T
	err   error
}

// runStep calls fn for the given case and step. fn runs with a deadline of
// the runner's timeout; a panic inside fn is turned into an error. describe
// produces the audit detail for a successful value. The returned error is
// nil only when fn produced a usable value.
func runStep[T any](ctx context.Context, r stepRunner, caseID string, step domain.StepName,
	fn func(context.Context) (T, error), describe func(T) map[string]any) (T, time.Duration, error) {

	ctx, span := tracer.Start(ctx, "step."+string(step), trace.WithAttributes(
		attribute.String("case.id", caseID),
		attribute.String("step", string(step)),
	))
	defer span.End()

	var value T
	latency, err := r.recorder.Observe(caseID, step, func() (map[string]any, error) {
		v, err := callWithTimeout(ctx, r.timeout, fn)
		if err != nil {
			return nil, err
		}
		value = v
		if describe == nil {
			return nil, nil
		}
		return describe(v), nil
	})

	span.SetAttributes(attribute.Int64("duration_ms", latency.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("pipeline step failed, using fallback",
			"case_id", caseID,
			"step", step,
			"duration_ms", latency.Milliseconds(),
			"error", err)
	}
	return value, latency, err
}

// callWithTimeout runs fn on its own goroutine so that a collaborator which
// ignores its context still cannot hold the case past the deadline. An
// abandoned call finishes in the background and its result is dropped.
func callWithTimeout[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	done := make(chan stepOutcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stepOutcome[T]{err: fmt.Errorf("step panicked: %v", p)}
			}
		}()
		v, err := fn(ctx)
		done <- stepOutcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		if parent.Err() != nil {
			return zero, parent.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
	}
}

func scoringDetail(key string) func(domain.ScoringResult) map[string]any {
	return func(r domain.ScoringResult) map[string]any {
		d := map[string]any{
			key:           r.Label,
			"confidence":  r.Confidence,
			"token_usage": r.TokenUsage,
			"cost_usd":    r.CostUSD,
		}
		if r.Model != "" {
			d["model"] = r.Model
		}
		return d
	}
}

func enrichmentDetail(r domain.EnrichmentResult) map[string]any {
	return map[string]any{
		"recent_transactions": r.RecentTransactions,
		"prior_disputes":      r.PriorDisputes,
	}
}
