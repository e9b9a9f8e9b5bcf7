// Package orchestrator drives a dispute case through classification,
// enrichment and recommendation, then stores the case with its audit trail.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var tracer = otel.Tracer("kestrel-orchestrator")

// Deps are the collaborators an Orchestrator runs with. Recorder and
// Metrics are created when nil; Bus is optional.
type Deps struct {
	Classifier  domain.Classifier
	Enricher    domain.Enricher
	Recommender domain.Recommender
	Store       domain.CaseStore
	Recorder    *audit.Recorder
	Metrics     *metrics.Aggregator
	Bus         domain.EventBus
}

// invalidator is implemented by enrichers that cache per-customer counters.
type invalidator interface {
	Invalidate(ctx context.Context, customerID string)
}

// Orchestrator runs the case pipeline. It is safe for concurrent use;
// every case is processed on the caller's goroutine.
type Orchestrator struct {
	classifier  domain.Classifier
	enricher    domain.Enricher
	recommender domain.Recommender
	store       domain.CaseStore
	recorder    *audit.Recorder
	metrics     *metrics.Aggregator
	bus         domain.EventBus

	cfg   domain.PipelineConfig
	steps stepRunner
	now   func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg domain.PipelineConfig) (*Orchestrator, error) {
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case deps.Enricher == nil:
		return nil, errors.New("orchestrator: enricher is required")
	case deps.Recommender == nil:
		return nil, errors.New("orchestrator: recommender is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: case store is required")
	}

	if deps.Recorder == nil {
		deps.Recorder = audit.NewRecorder()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewAggregator()
	}

	return &Orchestrator{
		classifier:  deps.Classifier,
		enricher:    deps.Enricher,
		recommender: deps.Recommender,
		store:       deps.Store,
		recorder:    deps.Recorder,
		metrics:     deps.Metrics,
		bus:         deps.Bus,
		cfg:         cfg,
		steps:       stepRunner{recorder: deps.Recorder, timeout: cfg.StepTimeout},
		now:         time.Now,
	}, nil
}

// NewCaseID returns a fresh case identifier.
func NewCaseID() string {
	return domain.NewCaseID(uuid.New().String())
}

// Submit assigns a new case id and processes the input.
func (o *Orchestrator) Submit(ctx context.Context, in domain.CaseInput) (*domain.CaseResult, error) {
	return o.Process(ctx, NewCaseID(), in)
}

// Process runs the full pipeline for one case.
//
// Invalid input is rejected with a *domain.ValidationError before any step
// runs. Step failures never abort the case; they degrade to fallback
// results. A store failure returns a *domain.PersistenceError holding the
// drained audit events; metrics recorded for the case are kept.
func (o *Orchestrator) Process(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
	if caseID == "" {
		return nil, fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}
	if err := in.Validate(domain.NarrativeLimits{
		Max:     o.cfg.MaxNarrativeLength,
		HardCap: o.cfg.NarrativeHardCap,
	}); err != nil {
		return nil, err
	}

	start := o.now()
	ctx, span := tracer.Start(ctx, "case.process", trace.WithAttributes(
		attribute.String("case.id", caseID),
	))
	defer span.End()

	narrative, truncated := domain.TruncateNarrative(in.Narrative, o.cfg.MaxNarrativeLength)
	if truncated {
		slog.Info("narrative truncated",
			"case_id", caseID,
			"max_length", o.cfg.MaxNarrativeLength)
	}

	run := &caseRun{id: caseID, status: domain.StatusReceived}

	run.advance(domain.StatusClassifying)
	classification, classLatency := o.classify(ctx, caseID, narrative, in)

	run.advance(domain.StatusEnriching)
	enrichment, enrichLatency := o.enrich(ctx, caseID, in)

	run.advance(domain.StatusRecommending)
	recommendation, recLatency := o.recommend(ctx, caseID, in, classification, enrichment)

	run.advance(domain.StatusPersisting)

	// Metrics are telemetry and stay recorded even if the write below fails.
	o.metrics.RecordStepLatency(domain.StepClassification, classLatency.Milliseconds())
	o.metrics.RecordStepLatency(domain.StepEnrichment, enrichLatency.Milliseconds())
	o.metrics.RecordStepLatency(domain.StepRecommendation, recLatency.Milliseconds())
	o.metrics.RecordCase(classification.Label)
	o.metrics.RecordCaseCost(classification.CostUSD + recommendation.CostUSD)

	events := o.recorder.Drain(caseID)

	c := &domain.Case{
		ID:             caseID,
		ExternalRef:    in.ExternalRef,
		CustomerID:     in.CustomerID,
		MerchantID:     in.MerchantID,
		AmountMinor:    in.AmountMinor,
		Currency:       in.Currency,
		Narrative:      narrative,
		Truncated:      truncated,
		Status:         domain.StatusCompleted,
		Classification: classification,
		Enrichment:     enrichment,
		Recommendation: recommendation,
		TotalCostUSD:   classification.CostUSD + recommendation.CostUSD,
		TokenUsage:     classification.TokenUsage + recommendation.TokenUsage,
		LatencyMs:      o.now().Sub(start).Milliseconds(),
		CreatedAt:      start.UTC(),
	}

	if err := o.store.PersistCase(ctx, c, events); err != nil {
		run.advance(domain.StatusFailed)
		latencyMs := o.now().Sub(start).Milliseconds()

		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		slog.Error("failed to persist case",
			"case_id", caseID,
			"audit_events", len(events),
			"duration_ms", latencyMs,
			"error", err)

		o.notify(ctx, domain.TopicCaseFailed, domain.CaseNotification{
			CaseID:      caseID,
			ExternalRef: in.ExternalRef,
			Status:      domain.StatusFailed,
			LatencyMs:   latencyMs,
			Error:       err.Error(),
		})
		return nil, &domain.PersistenceError{CaseID: caseID, Events: events, Err: err}
	}
	run.advance(domain.StatusCompleted)

	if inv, ok := o.enricher.(invalidator); ok {
		inv.Invalidate(ctx, in.CustomerID)
	}

	latencyMs := o.now().Sub(start).Milliseconds()
	span.SetAttributes(
		attribute.String("case.label", classification.Label),
		attribute.String("case.action", recommendation.Label),
		attribute.Int64("duration_ms", latencyMs),
	)
	slog.Info("case completed",
		"case_id", caseID,
		"label", classification.Label,
		"action", recommendation.Label,
		"cost_usd", c.TotalCostUSD,
		"duration_ms", latencyMs)

	o.notify(ctx, domain.TopicCaseCompleted, domain.CaseNotification{
		CaseID:      caseID,
		ExternalRef: in.ExternalRef,
		Status:      domain.StatusCompleted,
		Label:       classification.Label,
		Action:      recommendation.Label,
		LatencyMs:   latencyMs,
	})

	return &domain.CaseResult{
		CaseID:         caseID,
		ExternalRef:    in.ExternalRef,
		Status:         domain.StatusCompleted,
		Classification: classification,
		Enrichment:     enrichment,
		Recommendation: recommendation,
		Truncated:      truncated,
		LatencyMs:      latencyMs,
		AuditEvents:    events,
	}, nil
}

func (o *Orchestrator) classify(ctx context.Context, caseID, narrative string, in domain.CaseInput) (domain.ScoringResult, time.Duration) {
	res, latency, err := runStep(ctx, o.steps, caseID, domain.StepClassification,
		func(ctx context.Context) (domain.ScoringResult, error) {
			r, err := o.classifier.Classify(ctx, domain.ClassificationRequest{
				CaseID:      caseID,
				Narrative:   narrative,
				AmountMinor: in.AmountMinor,
				Currency:    in.Currency,
			})
			if err != nil {
				return r, err
			}
			r = r.Normalized()
			if !domain.IsLabel(r.Label) {
				return r, fmt.Errorf("unknown classification label %q", r.Label)
			}
			return r, nil
		}, scoringDetail("label"))
	if err != nil {
		res = domain.ClassificationFallback(err)
	}
	res.LatencyMs = latency.Milliseconds()
	return res, latency
}

func (o *Orchestrator) enrich(ctx context.Context, caseID string, in domain.CaseInput) (domain.EnrichmentResult, time.Duration) {
	res, latency, err := runStep(ctx, o.steps, caseID, domain.StepEnrichment,
		func(ctx context.Context) (domain.EnrichmentResult, error) {
			r, err := o.enricher.Enrich(ctx, domain.EnrichmentRequest{
				CaseID:     caseID,
				CustomerID: in.CustomerID,
				MerchantID: in.MerchantID,
			})
			if err != nil {
				return r, err
			}
			if r.RecentTransactions < 0 || r.PriorDisputes < 0 {
				return r, fmt.Errorf("negative enrichment counters (%d, %d)", r.RecentTransactions, r.PriorDisputes)
			}
			return r, nil
		}, enrichmentDetail)
	if err != nil {
		res = domain.EnrichmentFallback()
	}
	res.LatencyMs = latency.Milliseconds()
	return res, latency
}

func (o *Orchestrator) recommend(ctx context.Context, caseID string, in domain.CaseInput,
	classification domain.ScoringResult, enrichment domain.EnrichmentResult) (domain.ScoringResult, time.Duration) {

	res, latency, err := runStep(ctx, o.steps, caseID, domain.StepRecommendation,
		func(ctx context.Context) (domain.ScoringResult, error) {
			r, err := o.recommender.Recommend(ctx, domain.RecommendationRequest{
				CaseID:         caseID,
				Classification: classification,
				Enrichment:     enrichment,
				AmountMinor:    in.AmountMinor,
				Currency:       in.Currency,
			})
			if err != nil {
				return r, err
			}
			r = r.Normalized()
			if !domain.IsAction(r.Label) {
				return r, fmt.Errorf("unknown recommended action %q", r.Label)
			}
			return r, nil
		}, scoringDetail("action"))
	if err != nil {
		res = domain.RecommendationFallback(err)
	}
	res.LatencyMs = latency.Milliseconds()
	return res, latency
}

// notify publishes a case notification. Delivery is best effort.
func (o *Orchestrator) notify(ctx context.Context, topic string, n domain.CaseNotification) {
	if o.bus == nil {
		return
	}
	n.OccurredAtUnix = o.now().Unix()
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish case notification",
			"case_id", n.CaseID,
			"topic", topic,
			"error", err)
	}
}

// GetCase returns a stored case.
func (o *Orchestrator) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	return o.store.GetCase(ctx, caseID)
}

// GetAuditLog returns a stored case's audit events in step order. An empty
// slice means the case is unknown or has no events.
func (o *Orchestrator) GetAuditLog(ctx context.Context, caseID string) ([]domain.AuditEvent, error) {
	events, err := o.store.ListAuditEvents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	return events, nil
}

// Snapshot returns current pipeline metrics.
func (o *Orchestrator) Snapshot() domain.MetricsSnapshot {
	return o.metrics.Snapshot()
}

// caseRun tracks the status of one case while it is in the pipeline.
type caseRun struct {
	id     string
	status domain.Status
}

func (r *caseRun) advance(next domain.Status) {
	if !domain.CanTransition(r.status, next) {
		panic(fmt.Sprintf("case %s: illegal transition %s -> %s", r.id, r.status, next))
	}
	slog.Debug("case status changed", "case_id", r.id, "from", r.status, "to", next)
	r.status = next
}
