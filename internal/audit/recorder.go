// Package audit buffers per-case step events until the case is persisted.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder holds audit events per case id. Each orchestrator owns one.
// Writes for unrelated cases may happen concurrently.
type Recorder struct {
	mu      sync.Mutex
	buffers map[string][]domain.AuditEvent
	now     func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		buffers: make(map[string][]domain.AuditEvent),
		now:     time.Now,
	}
}

// Record appends an event to the case's buffer, creating it on first use.
func (r *Recorder) Record(caseID string, step domain.StepName, latencyMs int64, success bool, detail map[string]any) {
	if latencyMs < 0 {
		latencyMs = 0
	}
	ev := domain.AuditEvent{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Step:      step,
		Timestamp: r.now().UTC(),
		LatencyMs: latencyMs,
		Success:   success,
		Detail:    detail,
	}

	r.mu.Lock()
	r.buffers[caseID] = append(r.buffers[caseID], ev)
	r.mu.Unlock()
}

// Drain returns the case's events in record order and forgets them.
// Unknown cases yield an empty slice.
func (r *Recorder) Drain(caseID string) []domain.AuditEvent {
	r.mu.Lock()
	events := r.buffers[caseID]
	delete(r.buffers, caseID)
	r.mu.Unlock()

	if events == nil {
		return []domain.AuditEvent{}
	}
	return events
}

// Peek returns a copy of the case's events without removing them.
func (r *Recorder) Peek(caseID string) []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]domain.AuditEvent, len(r.buffers[caseID]))
	copy(events, r.buffers[caseID])
	return events
}

// Pending returns the number of cases with buffered events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Observe runs fn and records one event for it, whatever way fn exits.
// The detail fn returns is stored with the event; a failing fn also gets
// its error message under "error". The error is handed back unchanged and
// a panic is recorded and then re-raised. It returns the measured latency.
func (r *Recorder) Observe(caseID string, step domain.StepName, fn func() (map[string]any, error)) (latency time.Duration, err error) {
	start := time.Now()
	completed := false
	var detail map[string]any

	defer func() {
		latency = time.Since(start)
		if completed {
			if err != nil {
				if detail == nil {
					detail = make(map[string]any, 1)
				}
				detail["error"] = err.Error()
			}
			r.Record(caseID, step, latency.Milliseconds(), err == nil, detail)
			return
		}

		// Either a panic or runtime.Goexit; only the former is re-raised.
		p := recover()
		r.Record(caseID, step, latency.Milliseconds(), false, map[string]any{
			"error": fmt.Sprintf("panic: %v", p),
		})
		if p != nil {
			panic(p)
		}
	}()

	detail, err = fn()
	completed = true
	return latency, err
}
