// Package enrichment looks up account context for dispute cases.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service counts a customer's recent transactions and prior disputes.
// Counters are cached per customer for the configured TTL.
type Service struct {
	ledger domain.Ledger
	cache  domain.Cache
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a new enrichment service. cache may be nil.
func NewService(ledger domain.Ledger, cache domain.Cache, cfg domain.EnrichmentConfig) *Service {
	window := cfg.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Service{
		ledger: ledger,
		cache:  cache,
		window: window,
		ttl:    cfg.CacheTTL,
		now:    time.Now,
	}
}

type counters struct {
	RecentTransactions int `json:"recent"`
	PriorDisputes      int `json:"disputes"`
}

// Enrich implements domain.Enricher. Cases without a customer have no
// history and get zero counters.
func (s *Service) Enrich(ctx context.Context, req domain.EnrichmentRequest) (domain.EnrichmentResult, error) {
	if req.CustomerID == "" {
		return domain.EnrichmentResult{}, nil
	}
	if s.ledger == nil {
		return domain.EnrichmentResult{}, fmt.Errorf("no data source available")
	}

	key := "enrichment:" + req.CustomerID
	if c, ok := s.cached(ctx, key); ok {
		return domain.EnrichmentResult{
			RecentTransactions: c.RecentTransactions,
			PriorDisputes:      c.PriorDisputes,
		}, nil
	}

	since := s.now().Add(-s.window)
	recent, err := s.ledger.CountTransactions(ctx, req.CustomerID, since)
	if err != nil {
		return domain.EnrichmentResult{}, fmt.Errorf("failed to count transactions: %w", err)
	}
	disputes, err := s.ledger.CountPriorDisputes(ctx, req.CustomerID, req.CaseID)
	if err != nil {
		return domain.EnrichmentResult{}, fmt.Errorf("failed to count prior disputes: %w", err)
	}

	c := counters{RecentTransactions: recent, PriorDisputes: disputes}
	s.store(ctx, key, c)

	return domain.EnrichmentResult{
		RecentTransactions: recent,
		PriorDisputes:      disputes,
	}, nil
}

// Invalidate drops cached counters for a customer, e.g. after a new case
// for them is stored.
func (s *Service) Invalidate(ctx context.Context, customerID string) {
	if s.cache == nil || customerID == "" {
		return
	}
	if err := s.cache.Delete(ctx, "enrichment:"+customerID); err != nil {
		slog.Warn("failed to invalidate enrichment cache", "customer_id", customerID, "error", err)
	}
}

func (s *Service) cached(ctx context.Context, key string) (counters, bool) {
	var c counters
	if s.cache == nil || s.ttl <= 0 {
		return c, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Debug("enrichment cache read failed", "key", key, "error", err)
		return c, false
	}
	if data == nil {
		return c, false
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, false
	}
	return c, true
}

func (s *Service) store(ctx context.Context, key string, c counters) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Debug("enrichment cache write failed", "key", key, "error", err)
	}
}
