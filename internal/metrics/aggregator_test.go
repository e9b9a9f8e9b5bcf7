package metrics

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestPercentile95(t *testing.T) {
	tests := []struct {
		name    string
		samples []int64
		want    int64
	}{
		{"empty", nil, 0},
		{"single", []int64{42}, 42},
		{"five samples", []int64{10, 20, 30, 40, 50}, 40},
		{"unsorted input", []int64{50, 10, 40, 30, 20}, 40},
		{"two samples", []int64{9, 3}, 3},
		{"twenty samples", seq(1, 20), 19},
		{"hundred samples", seq(1, 100), 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile95(tt.samples))
		})
	}
}

func TestPercentile95_DoesNotMutateInput(t *testing.T) {
	samples := []int64{30, 10, 20}
	Percentile95(samples)
	assert.Equal(t, []int64{30, 10, 20}, samples)
}

func TestAggregator_IgnoresNonPositiveLatency(t *testing.T) {
	a := NewAggregator()
	a.RecordStepLatency(domain.StepClassification, 0)
	a.RecordStepLatency(domain.StepClassification, -5)
	a.RecordStepLatency(domain.StepClassification, 15)

	snap := a.Snapshot()
	assert.Equal(t, int64(15), snap.ClassificationP95Ms)
	assert.Equal(t, int64(0), snap.RecommendationP95Ms)
}

func TestAggregator_Snapshot(t *testing.T) {
	a := NewAggregator()
	for _, ms := range []int64{10, 20, 30, 40, 50} {
		a.RecordStepLatency(domain.StepClassification, ms)
		a.RecordStepLatency(domain.StepRecommendation, ms*2)
	}
	a.RecordStepLatency(domain.StepEnrichment, 3)

	a.RecordCase(domain.LabelFraudUnauthorized)
	a.RecordCase(domain.LabelFraudUnauthorized)
	a.RecordCase(domain.LabelOther)
	a.RecordCaseCost(0.02)
	a.RecordCaseCost(0.04)
	a.RecordCaseCost(0)

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.TotalCases)
	assert.Equal(t, int64(40), snap.ClassificationP95Ms)
	assert.Equal(t, int64(80), snap.RecommendationP95Ms)
	assert.Equal(t, int64(3), snap.StepP95Ms[domain.StepEnrichment])
	assert.Equal(t, int64(2), snap.CasesByLabel[domain.LabelFraudUnauthorized])
	assert.Equal(t, int64(1), snap.CasesByLabel[domain.LabelOther])
	assert.InDelta(t, 0.02, snap.AvgCostPerCaseUSD, 1e-9)

	t.Run("snapshot is detached", func(t *testing.T) {
		snap.CasesByLabel[domain.LabelOther] = 99
		assert.Equal(t, int64(1), a.Snapshot().CasesByLabel[domain.LabelOther])
	})
}

func TestAggregator_InvalidCostCountsAsZero(t *testing.T) {
	a := NewAggregator()
	a.RecordCaseCost(math.NaN())
	a.RecordCaseCost(-1)
	a.RecordCaseCost(0.3)
	assert.InDelta(t, 0.1, a.Snapshot().AvgCostPerCaseUSD, 1e-9)
}

func TestAggregator_EmptySnapshot(t *testing.T) {
	snap := NewAggregator().Snapshot()
	assert.Equal(t, int64(0), snap.TotalCases)
	assert.Equal(t, 0.0, snap.AvgCostPerCaseUSD)
	assert.NotNil(t, snap.CasesByLabel)
}

func TestAggregator_ConcurrentWriters(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.RecordStepLatency(domain.StepClassification, int64(i+1))
			a.RecordCase(domain.LabelMerchantError)
			a.RecordCaseCost(0.01)
			_ = a.Snapshot()
		}(i)
	}
	wg.Wait()

	snap := a.Snapshot()
	assert.Equal(t, int64(100), snap.TotalCases)
	assert.Equal(t, int64(100), snap.CasesByLabel[domain.LabelMerchantError])
	assert.Equal(t, int64(95), snap.ClassificationP95Ms)
	assert.InDelta(t, 0.01, snap.AvgCostPerCaseUSD, 1e-9)
}

func seq(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
