package main

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func TestSyntheticNarrativesMatchTheirLabel(t *testing.T) {
	classifier := scoring.NewKeywordClassifier(nil)
	for label, options := range narratives {
		for _, n := range options {
			res, err := classifier.Classify(context.Background(), domain.ClassificationRequest{Narrative: n})
			require.NoError(t, err)
			assert.Equal(t, label, res.Label, "narrative %q", n)
		}
	}
}

func TestSyntheticCases(t *testing.T) {
	cases := syntheticCases(18, rand.New(rand.NewSource(7)))
	require.Len(t, cases, 18)

	perLabel := map[string]int{}
	for _, c := range cases {
		perLabel[c.Label]++
		require.NoError(t, c.Input.Validate(domain.NarrativeLimits{Max: 5000}))
	}
	for _, l := range domain.Labels {
		assert.Equal(t, 2, perLabel[l], l)
	}
}

func TestReadDataset(t *testing.T) {
	in := `{"narrative":"I never received the parcel","label":"SERVICE_NOT_RECEIVED"}

{"narrative":"charged twice","label":"MERCHANT_ERROR","amountMinor":2599,"currency":"EUR"}
`
	cases, err := readDataset(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, int64(1000), cases[0].Input.AmountMinor)
	assert.Equal(t, "USD", cases[0].Input.Currency)
	assert.Equal(t, "EUR", cases[1].Input.Currency)

	_, err = readDataset(strings.NewReader(`{"narrative":"x","label":"NOPE"}`))
	assert.ErrorContains(t, err, "unknown label")

	_, err = readDataset(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestRunAgainstServer(t *testing.T) {
	classifier := scoring.NewKeywordClassifier(nil)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/disputes" || r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := calls.Add(1)
		if n == 1 {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		var in domain.CaseInput
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &in)
		res, _ := classifier.Classify(r.Context(), domain.ClassificationRequest{Narrative: in.Narrative})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"caseId":         "dsp_test",
			"classification": res,
			"recommendation": domain.ScoringResult{Label: domain.ActionRequestInfo},
		})
	}))
	defer srv.Close()

	g := &loadgen{client: srv.Client(), baseURL: srv.URL, apiKey: "k", out: io.Discard}
	cases := syntheticCases(27, rand.New(rand.NewSource(1)))
	rep := g.run(context.Background(), cases, 4)

	assert.Equal(t, 27, rep.Total)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 26, rep.Correct)
	assert.InDelta(t, 1.0, rep.Accuracy(), 1e-9)
	assert.Len(t, rep.Latencies, 26)
	assert.Equal(t, 26, rep.Actions[domain.ActionRequestInfo])
	assert.GreaterOrEqual(t, rep.P95Ms(), int64(0))

	var out strings.Builder
	printReport(&out, rep)
	assert.Contains(t, out.String(), "Accuracy:     100.00%")
}
