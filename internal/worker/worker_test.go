package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type processorFunc func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error)

func (f processorFunc) Process(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
	return f(ctx, caseID, in)
}

func submit(t *testing.T, b domain.EventBus, caseID string) {
	t.Helper()
	payload, _ := json.Marshal(domain.CaseSubmission{
		CaseID: caseID,
		Input: domain.CaseInput{
			CustomerID:  "cust-1",
			AmountMinor: 1299,
			Currency:    "USD",
			Narrative:   "charged twice",
		},
	})
	if err := b.Publish(context.Background(), domain.TopicCaseSubmitted, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
			return &domain.CaseResult{CaseID: caseID}, nil
		}), domain.WorkerConfig{Concurrency: 1})

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicCaseSubmitted {
			t.Errorf("expected topic %s, got %s", domain.TopicCaseSubmitted, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSubmission", func(t *testing.T) {
		var mu sync.Mutex
		var gotID string
		var gotInput domain.CaseInput

		w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
			mu.Lock()
			gotID, gotInput = caseID, in
			mu.Unlock()
			return &domain.CaseResult{CaseID: caseID, Status: domain.StatusCompleted}, nil
		}), domain.WorkerConfig{Concurrency: 2})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		submit(t, eventBus, "dsp_worker_1")
		eventually(t, func() bool { return w.GetStats().Processed == 1 })

		mu.Lock()
		defer mu.Unlock()
		if gotID != "dsp_worker_1" {
			t.Errorf("expected case id dsp_worker_1, got %s", gotID)
		}
		if gotInput.AmountMinor != 1299 || gotInput.Currency != "USD" {
			t.Errorf("unexpected input %+v", gotInput)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		var calls atomic.Int32
		w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
			calls.Add(1)
			return &domain.CaseResult{}, nil
		}), domain.WorkerConfig{Concurrency: 1})
		w.Start()
		defer w.Stop()

		eventBus.Publish(context.Background(), domain.TopicCaseSubmitted, []byte("{not json"))
		eventBus.Publish(context.Background(), domain.TopicCaseSubmitted, []byte(`{"input":{}}`))
		eventually(t, func() bool { return w.GetStats().Rejected == 2 })

		if calls.Load() != 0 {
			t.Errorf("expected processor not called, got %d calls", calls.Load())
		}
	})
}

func TestWorkerPublishesRejection(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	notes := make(chan domain.CaseNotification, 1)
	eventBus.Subscribe(context.Background(), domain.TopicCaseFailed, func(ctx context.Context, msg *domain.Message) error {
		var n domain.CaseNotification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return err
		}
		notes <- n
		return nil
	})

	w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
		v := &domain.ValidationError{}
		v.Add("currency", "must be a three-letter uppercase ISO code")
		return nil, v
	}), domain.WorkerConfig{Concurrency: 1})
	w.Start()
	defer w.Stop()

	submit(t, eventBus, "dsp_bad")

	select {
	case n := <-notes:
		if n.CaseID != "dsp_bad" {
			t.Errorf("expected case id dsp_bad, got %s", n.CaseID)
		}
		if n.Error == "" {
			t.Error("expected rejection reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for rejection")
	}
	if w.GetStats().Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", w.GetStats().Rejected)
	}
}

func TestWorkerCountsFailures(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
		return nil, &domain.PersistenceError{CaseID: caseID, Err: errors.New("database is locked")}
	}), domain.WorkerConfig{Concurrency: 1})
	w.Start()
	defer w.Stop()

	submit(t, eventBus, "dsp_store_down")
	eventually(t, func() bool { return w.GetStats().Failed == 1 })
}

func TestWorkerConcurrencyLimit(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	const limit = 3
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	w := NewWorker(eventBus, processorFunc(func(ctx context.Context, caseID string, in domain.CaseInput) (*domain.CaseResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return &domain.CaseResult{CaseID: caseID}, nil
	}), domain.WorkerConfig{Concurrency: limit})
	w.Start()

	for i := 0; i < 10; i++ {
		submit(t, eventBus, "dsp_load_"+string(rune('a'+i)))
	}

	eventually(t, func() bool { return inFlight.Load() == limit })
	close(release)
	eventually(t, func() bool { return w.GetStats().Processed == 10 })
	w.Stop()

	if peak.Load() > limit {
		t.Errorf("expected at most %d cases in flight, saw %d", limit, peak.Load())
	}
}
