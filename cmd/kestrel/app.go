package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/enrichment"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// app holds the long-lived components shared by the commands.
type app struct {
	cfg          *domain.Config
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *orchestrator.Orchestrator

	closers []func() error
}

func newApp(cfg *domain.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = cacheImpl
	a.closers = append(a.closers, cacheImpl.Close)
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	a.bus = busImpl
	a.closers = append(a.closers, busImpl.Close)
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := policy.NewDefaultEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(cfg.Scoring.Policies) > 0 {
		if err := engine.LoadPolicies(cfg.Scoring.Policies); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	slog.Info("policy engine initialized", "policies_count", len(engine.Policies()))

	set, err := scoring.New(cfg.Scoring, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scoring: %w", err)
	}
	slog.Info("scoring initialized",
		"provider", cfg.Scoring.Provider,
		"redact_pii", cfg.Scoring.RedactPII,
	)

	orch, err := orchestrator.New(orchestrator.Deps{
		Classifier:  set.Classifier,
		Enricher:    enrichment.NewService(repo, cacheImpl, cfg.Enrichment),
		Recommender: set.Recommender,
		Store:       repo,
		Recorder:    audit.NewRecorder(),
		Metrics:     metrics.NewAggregator(),
		Bus:         busImpl,
	}, cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	a.orchestrator = orch

	return a, nil
}

func (a *app) limits() domain.NarrativeLimits {
	return domain.NarrativeLimits{
		Max:     a.cfg.Pipeline.MaxNarrativeLength,
		HardCap: a.cfg.Pipeline.NarrativeHardCap,
	}
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close component", "error", err)
		}
	}
	a.closers = nil
}
