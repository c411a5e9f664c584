// Package server provides the public composition root for the
// benchmarking engine: it wires config, store, provider registry, key
// pool, orchestrator, scheduler, and the Read API into one HTTP
// handler ready for ListenAndServe.
//
// This package lives in pkg/ (not internal/) so a caller embedding the
// engine in a larger binary can import it directly.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/modelbench/engine/internal/api"
	"github.com/modelbench/engine/internal/config"
	"github.com/modelbench/engine/internal/keypool"
	"github.com/modelbench/engine/internal/orchestrator"
	"github.com/modelbench/engine/internal/provider"
	"github.com/modelbench/engine/internal/sandbox"
	"github.com/modelbench/engine/internal/scheduler"
	"github.com/modelbench/engine/internal/scoring"
	"github.com/modelbench/engine/internal/store"
	"github.com/modelbench/engine/internal/telemetry"
	"github.com/modelbench/engine/internal/trial"
	"github.com/modelbench/engine/pkg/models"
)

// Engine holds every initialized component of a running benchmarking
// engine. Exported fields let a caller reach in for testing or to swap
// a component (e.g. register a driver against a fake endpoint).
type Engine struct {
	Config       *config.Config
	Store        store.Store
	Registry     *provider.Registry
	Pool         *keypool.Pool
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Handler      http.Handler

	shutdownTelemetry func(context.Context) error
	schedulerCancel   context.CancelFunc
}

// New builds a fully wired Engine from environment configuration.
func New(ctx context.Context) (*Engine, error) {
	cfg := config.Load()
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds an Engine from an already-loaded configuration,
// useful for tests that want deterministic overrides.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Engine, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info().Msg("store initialized")

	keys := make(map[string][]string, len(provider.Vendors))
	for _, v := range provider.Vendors {
		if ks := cfg.Keys.ForVendor(v); len(ks) > 0 {
			keys[v] = ks
		}
	}
	pool := keypool.New(keys)

	registry := provider.BuildRegistry()
	evaluator := sandbox.NewEvaluator()
	runner := trial.NewRunner(registry, pool, evaluator)

	calib := scoring.Calibration{
		Scale: cfg.Scoring.Scale,
		Lift:  cfg.Scoring.Lift,
		Min:   cfg.Scoring.Min,
		Max:   cfg.Scoring.Max,
	}
	orch := orchestrator.New(registry, pool, runner, st, models.SuiteHourly, calib)

	sched := scheduler.New(orch, st, func(ctx context.Context) ([]orchestrator.ModelTarget, error) {
		return listSweepTargets(ctx, st)
	})

	h := api.NewHandlers(st, sched, cfg.AdminToken)
	handler := api.NewRouter(cfg, h)

	schedCtx, cancel := context.WithCancel(ctx)
	go sched.Start(schedCtx)

	return &Engine{
		Config:            cfg,
		Store:             st,
		Registry:          registry,
		Pool:              pool,
		Orchestrator:      orch,
		Scheduler:         sched,
		Handler:           handler,
		shutdownTelemetry: shutdownTelemetry,
		schedulerCancel:   cancel,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory store")
		return store.NewMemoryStore(), nil
	}
	return pg, nil
}

// listSweepTargets builds the sweep target list from every registered
// model, grouped implicitly by vendor (the orchestrator itself groups
// by vendor before fanning out).
func listSweepTargets(ctx context.Context, st store.Store) ([]orchestrator.ModelTarget, error) {
	all, err := st.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]orchestrator.ModelTarget, 0, len(all))
	for _, m := range all {
		targets = append(targets, orchestrator.ModelTarget{
			ModelID: m.ID,
			Vendor:  m.Vendor,
			Name:    m.Name,
		})
	}
	return targets, nil
}

// Shutdown stops the scheduler, waits for its current tick to drain
// (or aborts if ctx is canceled first), closes the store, and flushes
// telemetry, in that order.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.schedulerCancel()
	select {
	case <-e.Scheduler.Done():
	case <-ctx.Done():
	}

	if err := e.Store.Close(); err != nil {
		log.Error().Err(err).Msg("error closing store")
	}
	if e.shutdownTelemetry != nil {
		return e.shutdownTelemetry(ctx)
	}
	return nil
}
