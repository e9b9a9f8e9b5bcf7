// Package metrics keeps running pipeline statistics in memory.
package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Aggregator accumulates step latencies, case counts and cost.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	latencies  map[domain.StepName][]int64
	totalCases int64
	byLabel    map[string]int64
	totalCost  float64
	costCases  int64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies: make(map[domain.StepName][]int64),
		byLabel:   make(map[string]int64),
	}
}

// RecordStepLatency adds a latency sample. Non-positive samples are ignored.
func (a *Aggregator) RecordStepLatency(step domain.StepName, ms int64) {
	if ms <= 0 {
		return
	}
	a.mu.Lock()
	a.latencies[step] = append(a.latencies[step], ms)
	a.mu.Unlock()
}

// RecordCase counts one processed case under its classification label.
func (a *Aggregator) RecordCase(label string) {
	a.mu.Lock()
	a.totalCases++
	a.byLabel[label]++
	a.mu.Unlock()
}

// RecordCaseCost adds the combined scoring cost of one case.
func (a *Aggregator) RecordCaseCost(usd float64) {
	if usd < 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		usd = 0
	}
	a.mu.Lock()
	a.totalCost += usd
	a.costCases++
	a.mu.Unlock()
}

// Snapshot returns a copy of the current statistics.
func (a *Aggregator) Snapshot() domain.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := domain.MetricsSnapshot{
		TotalCases:   a.totalCases,
		StepP95Ms:    make(map[domain.StepName]int64, len(a.latencies)),
		CasesByLabel: make(map[string]int64, len(a.byLabel)),
	}
	for step, samples := range a.latencies {
		snap.StepP95Ms[step] = Percentile95(samples)
	}
	for label, n := range a.byLabel {
		snap.CasesByLabel[label] = n
	}
	snap.ClassificationP95Ms = snap.StepP95Ms[domain.StepClassification]
	snap.RecommendationP95Ms = snap.StepP95Ms[domain.StepRecommendation]
	if a.costCases > 0 {
		snap.AvgCostPerCaseUSD = a.totalCost / float64(a.costCases)
	}
	return snap
}

// Percentile95 returns the nearest-rank 95th percentile of samples:
// index floor(n*0.95)-1 of the sorted samples, clamped to a valid index.
// It returns 0 for no samples and leaves the input untouched.
func Percentile95(samples []int64) int64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]int64, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(n)*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
