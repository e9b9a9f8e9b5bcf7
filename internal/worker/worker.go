// Package worker provides async case intake for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CaseProcessor runs one submitted case through the pipeline.
type CaseProcessor interface {
	Process(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error)
}

// Worker consumes case submissions from the EventBus and processes them.
type Worker struct {
	bus       domain.EventBus
	processor CaseProcessor
	sem       *semaphore.Weighted
	limit     int

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewWorker creates a worker that processes up to cfg.Concurrency cases at
// once.
func NewWorker(bus domain.EventBus, processor CaseProcessor, cfg domain.WorkerConfig) *Worker {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		sem:       semaphore.NewWeighted(int64(limit)),
		limit:     limit,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the case submission topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicCaseSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicCaseSubmitted,
		"concurrency", w.limit,
	)
	return nil
}

// handleMessage blocks until a processing slot is free, which pushes back on
// the bus subscription when all slots are busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var sub domain.CaseSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		w.rejected.Add(1)
		slog.Error("failed to parse case submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if sub.CaseID == "" {
		w.rejected.Add(1)
		return fmt.Errorf("%w: submission %s has no case id", domain.ErrInvalidInput, msg.ID)
	}

	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.processCase(w.ctx, msg, sub)
	}()
	return nil
}

func (w *Worker) processCase(ctx context.Context, msg *domain.Message, sub domain.CaseSubmission) {
	start := time.Now()

	slog.Debug("processing case",
		"case_id", sub.CaseID,
		"message_id", msg.ID,
		"trace_id", msg.Metadata["trace_id"],
	)

	result, err := w.processor.Process(ctx, sub.CaseID, sub.Input)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			// The orchestrator never saw this case, so nobody else reports it.
			w.rejected.Add(1)
			w.publishRejection(ctx, sub, verr)
			slog.Warn("case submission rejected",
				"case_id", sub.CaseID,
				"error", err,
			)
			return
		}
		w.failed.Add(1)
		slog.Error("case processing failed",
			"case_id", sub.CaseID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}

	w.processed.Add(1)
	slog.Debug("case processed",
		"case_id", result.CaseID,
		"label", result.Classification.Label,
		"action", result.Recommendation.Label,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) publishRejection(ctx context.Context, sub domain.CaseSubmission, verr *domain.ValidationError) {
	payload, err := json.Marshal(domain.CaseNotification{
		CaseID:         sub.CaseID,
		ExternalRef:    sub.Input.ExternalRef,
		Status:         domain.StatusReceived,
		Error:          verr.Error(),
		OccurredAtUnix: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicCaseFailed, payload); err != nil {
		slog.Error("failed to publish rejection",
			"case_id", sub.CaseID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight cases to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	Rejected          int64    `json:"rejected"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Rejected:          w.rejected.Load(),
	}
}
