// Load generator for a running Kestrel server.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -count 500 -workers 20
//	go run ./cmd/loadgen -dataset disputes.jsonl
//
// This tool:
//  1. Builds labelled disputes, synthetic or from a JSONL dataset of
//     {"narrative": ..., "label": ...} records
//  2. Submits them concurrently to POST /v1/disputes
//  3. Compares the returned classification with the expected label
//  4. Reports accuracy per label and client-side p95 latency
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// labelledCase is a dispute with the label a reviewer would assign.
type labelledCase struct {
	Input domain.CaseInput
	Label string
}

// datasetRecord is one line of a JSONL dataset.
type datasetRecord struct {
	Narrative   string `json:"narrative"`
	Label       string `json:"label"`
	AmountMinor int64  `json:"amountMinor,omitempty"`
	Currency    string `json:"currency,omitempty"`
	CustomerID  string `json:"customerId,omitempty"`
}

var narratives = map[string][]string{
	domain.LabelFraudUnauthorized: {
		"There is a charge on my statement that I did not authorize.",
		"I never made this purchase, it was not me.",
	},
	domain.LabelFraudCardLost: {
		"I lost my card last week and this charge appeared afterwards.",
		"I misplaced my card at the airport and then saw this purchase.",
	},
	domain.LabelFraudAccountTakeover: {
		"My account was hacked and the password was changed before this order was placed.",
		"Someone logged into my online banking and made this payment.",
	},
	domain.LabelMerchantError: {
		"The merchant charged twice for a single purchase.",
		"I was overcharged, the receipt shows a lower total.",
	},
	domain.LabelServiceNotReceived: {
		"I paid for the package but it never arrived.",
		"The order was never delivered even though tracking says shipped.",
	},
	domain.LabelFriendlyFraudRisk: {
		"My son bought game credits without asking.",
		"My daughter used the card by accident on her tablet.",
	},
	domain.LabelSubscriptionCancellation: {
		"I cancelled my subscription months ago but I am still being billed.",
		"The free trial turned into a recurring charge I never agreed to.",
	},
	domain.LabelRefundNotProcessed: {
		"The store promised a refund two weeks ago and nothing has come through.",
		"I returned the item but was never refunded.",
	},
	domain.LabelOther: {
		"Please explain what this fee on my statement is for.",
		"I do not recognise the descriptor on this line and want more details.",
	},
}

// syntheticCases builds n disputes spread evenly over the taxonomy.
func syntheticCases(n int, rng *rand.Rand) []labelledCase {
	cases := make([]labelledCase, 0, n)
	for i := 0; i < n; i++ {
		label := domain.Labels[i%len(domain.Labels)]
		options := narratives[label]
		cases = append(cases, labelledCase{
			Label: label,
			Input: domain.CaseInput{
				ExternalRef: fmt.Sprintf("loadgen-%06d", i),
				CustomerID:  fmt.Sprintf("cust-%03d", rng.Intn(50)),
				AmountMinor: int64(500 + rng.Intn(50000)),
				Currency:    "USD",
				Narrative:   options[rng.Intn(len(options))],
			},
		})
	}
	return cases
}

// readDataset parses JSONL records. Blank lines are skipped; records with an
// unknown label are rejected.
func readDataset(r io.Reader) ([]labelledCase, error) {
	var cases []labelledCase
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec datasetRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !domain.IsLabel(rec.Label) {
			return nil, fmt.Errorf("line %d: unknown label %q", line, rec.Label)
		}
		if rec.AmountMinor == 0 {
			rec.AmountMinor = 1000
		}
		if rec.Currency == "" {
			rec.Currency = "USD"
		}
		cases = append(cases, labelledCase{
			Label: rec.Label,
			Input: domain.CaseInput{
				ExternalRef: fmt.Sprintf("dataset-%06d", line),
				CustomerID:  rec.CustomerID,
				AmountMinor: rec.AmountMinor,
				Currency:    rec.Currency,
				Narrative:   rec.Narrative,
			},
		})
	}
	return cases, scanner.Err()
}

// labelStats counts outcomes for one expected label.
type labelStats struct {
	Total   int
	Correct int
}

// report aggregates a run.
type report struct {
	mu        sync.Mutex
	Total     int
	Errors    int
	Correct   int
	ByLabel   map[string]*labelStats
	Actions   map[string]int
	Latencies []int64
	Duration  time.Duration
}

func newReport() *report {
	return &report{
		ByLabel: make(map[string]*labelStats),
		Actions: make(map[string]int),
	}
}

func (r *report) record(expected string, res *submitResult, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Total++
	if err != nil {
		r.Errors++
		return
	}
	r.Latencies = append(r.Latencies, latency.Milliseconds())

	s, ok := r.ByLabel[expected]
	if !ok {
		s = &labelStats{}
		r.ByLabel[expected] = s
	}
	s.Total++
	if res.Classification.Label == expected {
		s.Correct++
		r.Correct++
	}
	r.Actions[res.Recommendation.Label]++
}

// Accuracy is the share of successful submissions classified as expected.
func (r *report) Accuracy() float64 {
	ok := r.Total - r.Errors
	if ok == 0 {
		return 0
	}
	return float64(r.Correct) / float64(ok)
}

// P95Ms is the client-side 95th percentile latency.
func (r *report) P95Ms() int64 {
	return metrics.Percentile95(r.Latencies)
}

type submitResult struct {
	CaseID         string               `json:"caseId"`
	Classification domain.ScoringResult `json:"classification"`
	Recommendation domain.ScoringResult `json:"recommendation"`
}

type loadgen struct {
	client  *http.Client
	baseURL string
	apiKey  string
	verbose bool
	out     io.Writer
}

// run submits every case with at most workers requests in flight.
func (g *loadgen) run(ctx context.Context, cases []labelledCase, workers int) *report {
	rep := newReport()
	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, c := range cases {
		c := c // per-iteration copy (go.mod targets go1.21 loop semantics)
		eg.Go(func() error {
			t0 := time.Now()
			res, err := g.submit(ctx, c.Input)
			latency := time.Since(t0)
			rep.record(c.Label, res, latency, err)

			if g.verbose {
				switch {
				case err != nil:
					fmt.Fprintf(g.out, "ERROR %s -> %v\n", c.Input.ExternalRef, err)
				default:
					mark := "✓"
					if res.Classification.Label != c.Label {
						mark = "✗"
					}
					fmt.Fprintf(g.out, "%s %-14s | expected %-26s | got %-26s (%.2f) | %-15s | %4dms\n",
						mark, c.Input.ExternalRef, c.Label,
						res.Classification.Label, res.Classification.Confidence,
						res.Recommendation.Label, latency.Milliseconds())
				}
			}
			// Keep going on per-request failures; only cancellation stops the run.
			return nil
		})
	}
	_ = eg.Wait()

	rep.Duration = time.Since(start)
	return rep
}

func (g *loadgen) submit(ctx context.Context, in domain.CaseInput) (*submitResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/disputes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var res submitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (g *loadgen) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func printReport(out io.Writer, r *report) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "LOADGEN RESULTS")
	fmt.Fprintln(out, "---------------")
	fmt.Fprintf(out, "Submitted:    %d\n", r.Total)
	fmt.Fprintf(out, "Errors:       %d\n", r.Errors)
	fmt.Fprintf(out, "Accuracy:     %.2f%% (%d/%d)\n", 100*r.Accuracy(), r.Correct, r.Total-r.Errors)
	fmt.Fprintf(out, "p95 latency:  %dms\n", r.P95Ms())
	fmt.Fprintf(out, "Duration:     %s\n", r.Duration.Round(time.Millisecond))
	if secs := r.Duration.Seconds(); secs > 0 {
		fmt.Fprintf(out, "Throughput:   %.1f cases/s\n", float64(r.Total)/secs)
	}

	labels := make([]string, 0, len(r.ByLabel))
	for l := range r.ByLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Per label:")
	for _, l := range labels {
		s := r.ByLabel[l]
		fmt.Fprintf(out, "  %-26s %4d/%-4d %6.2f%%\n", l, s.Correct, s.Total, 100*float64(s.Correct)/float64(s.Total))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Recommended actions:")
	for _, a := range domain.Actions {
		fmt.Fprintf(out, "  %-16s %d\n", a, r.Actions[a])
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	apiKey := flag.String("api-key", os.Getenv("KESTREL_SERVER_APIKEY"), "API key sent as X-API-Key")
	count := flag.Int("count", 200, "Number of synthetic disputes")
	workers := flag.Int("workers", 10, "Concurrent requests")
	dataset := flag.String("dataset", "", "JSONL dataset of labelled narratives (overrides -count)")
	seed := flag.Int64("seed", 1, "Random seed for synthetic disputes")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := &loadgen{
		client:  &http.Client{Timeout: *timeout},
		baseURL: *baseURL,
		apiKey:  *apiKey,
		verbose: *verbose,
		out:     os.Stdout,
	}

	if err := g.checkHealth(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Fprintln(os.Stderr, "\nStart it with:\n  go run ./cmd/kestrel serve")
		os.Exit(1)
	}

	var cases []labelledCase
	if *dataset != "" {
		f, err := os.Open(*dataset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		cases, err = readDataset(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to read dataset: %v\n", err)
			os.Exit(1)
		}
	} else {
		cases = syntheticCases(*count, rand.New(rand.NewSource(*seed)))
	}
	if len(cases) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: no disputes to submit")
		os.Exit(1)
	}

	fmt.Printf("Submitting %d disputes to %s with %d workers...\n", len(cases), *baseURL, *workers)
	rep := g.run(ctx, cases, *workers)
	printReport(os.Stdout, rep)

	if errors.Is(ctx.Err(), context.Canceled) {
		os.Exit(130)
	}
}
