// Package store provides the storage interface and implementations for
// the engine. memstore backs tests and local development; postgres
// backs production via pgxpool.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/modelbench/engine/pkg/models"
)

// ErrNotFound is returned by any Get-style lookup that finds nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the primary storage interface. Orchestrator, scheduler, and
// API handlers all depend on this interface so tests can swap in
// memstore without a database.
type Store interface {
	ModelStore
	TaskStore
	ScoreStore
	RunStore
	ChangePointStore
	DriftSignatureStore

	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// ── Model Store ──────────────────────────────────────────────

type ModelStore interface {
	ListModels(ctx context.Context) ([]models.Model, error)
	GetModel(ctx context.Context, id int64) (*models.Model, error)
	GetModelByName(ctx context.Context, name string) (*models.Model, error)
	UpsertModel(ctx context.Context, m *models.Model) error
}

// ── Task Store ───────────────────────────────────────────────

// TaskStore persists the fixed task metadata row (id, slug, difficulty)
// that runs/metrics foreign-key against; the task *content* (prompt,
// test cases) lives in internal/tasks, not the database.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTaskBySlug(ctx context.Context, slug string) (*models.Task, error)
	EnsureTask(ctx context.Context, t models.Task) error
}

// ── Score Store ──────────────────────────────────────────────

// ScoreFilter narrows ListScores to one model/suite/time window.
type ScoreFilter struct {
	ModelID      int64
	Suite        models.Suite
	Since        time.Time
	Limit        int
	ExcludeSynth bool
}

type ScoreStore interface {
	InsertScore(ctx context.Context, s *models.Score) error
	LatestScore(ctx context.Context, modelID int64, suite models.Suite) (*models.Score, error)
	ListScores(ctx context.Context, filter ScoreFilter) ([]models.Score, error)
}

// ── Run Store ────────────────────────────────────────────────

type RunStore interface {
	InsertRun(ctx context.Context, r *models.Run) error
	ListRuns(ctx context.Context, modelID int64, taskSlug string, limit int) ([]models.Run, error)
}

// ── Change Point Store ───────────────────────────────────────

type ChangePointStore interface {
	InsertChangePoint(ctx context.Context, cp *models.ChangePoint) error
	ListChangePoints(ctx context.Context, modelID int64, limit int) ([]models.ChangePoint, error)
	// ChangePointsNear returns existing change-points for modelID whose
	// DetectedAt falls within window of ts, used for idempotency.
	ChangePointsNear(ctx context.Context, modelID int64, ts time.Time, window time.Duration) ([]models.ChangePoint, error)
}

// ── Drift Signature Store ────────────────────────────────────

// DriftSignatureStore is a read-through cache: Put/Get share a TTL
// enforced by the caller (the scheduler stamps ComputedAt; readers
// decide staleness).
type DriftSignatureStore interface {
	PutDriftSignature(ctx context.Context, sig *models.DriftSignature) error
	GetDriftSignature(ctx context.Context, modelID int64) (*models.DriftSignature, bool, error)
}
