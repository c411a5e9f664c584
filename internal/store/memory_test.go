package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/modelbench/engine/internal/store"
	"github.com/modelbench/engine/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests, with snapshot
// persistence into a per-test temporary directory.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("ENGINE_DATA_DIR", dir)
	defer os.Unsetenv("ENGINE_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &models.Model{Name: "gpt-4o", Vendor: "openai", DisplayName: "GPT-4o"}
	if err := s.UpsertModel(ctx, m); err != nil {
		t.Fatalf("UpsertModel: %v", err)
	}
	if m.ID == 0 {
		t.Fatalf("expected UpsertModel to assign an ID")
	}

	got, err := s.GetModelByName(ctx, "gpt-4o")
	if err != nil {
		t.Fatalf("GetModelByName: %v", err)
	}
	if got.DisplayName != "GPT-4o" {
		t.Errorf("DisplayName = %q, want GPT-4o", got.DisplayName)
	}

	// Re-upsert with the same name should reuse the ID, not duplicate.
	m2 := &models.Model{Name: "gpt-4o", Vendor: "openai", DisplayName: "GPT-4o (renamed)"}
	if err := s.UpsertModel(ctx, m2); err != nil {
		t.Fatalf("UpsertModel (update): %v", err)
	}
	if m2.ID != m.ID {
		t.Errorf("expected re-upsert to reuse ID %d, got %d", m.ID, m2.ID)
	}

	all, err := s.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 model, got %d", len(all))
	}
}

func TestGetModelNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetModel(context.Background(), 999); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestScoreIgnoresSentinelsAndOtherSuites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	scores := []*models.Score{
		{ModelID: 1, Suite: models.SuiteHourly, Ts: base, StupidScore: 70},
		{ModelID: 1, Suite: models.SuiteHourly, Ts: base.Add(10 * time.Minute), StupidScore: models.SentinelAllTasksFailed},
		{ModelID: 1, Suite: models.SuiteDeep, Ts: base.Add(20 * time.Minute), StupidScore: 80},
		{ModelID: 1, Suite: models.SuiteHourly, Ts: base.Add(5 * time.Minute), StupidScore: 75},
	}
	for _, sc := range scores {
		if err := s.InsertScore(ctx, sc); err != nil {
			t.Fatalf("InsertScore: %v", err)
		}
	}

	latest, err := s.LatestScore(ctx, 1, models.SuiteHourly)
	if err != nil {
		t.Fatalf("LatestScore: %v", err)
	}
	if latest.StupidScore != 75 {
		t.Errorf("StupidScore = %v, want 75 (latest non-sentinel hourly score)", latest.StupidScore)
	}
}

func TestListScoresExcludesSynthetic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.InsertScore(ctx, &models.Score{ModelID: 2, Suite: models.SuiteHourly, Ts: time.Now(), StupidScore: 60})
	_ = s.InsertScore(ctx, &models.Score{ModelID: 2, Suite: models.SuiteHourly, Ts: time.Now(), StupidScore: 62, Synthetic: true})

	out, err := s.ListScores(ctx, store.ScoreFilter{ModelID: 2, ExcludeSynth: true})
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 non-synthetic score, got %d", len(out))
	}
}

func TestChangePointsNearIdempotencyWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Now()
	if err := s.InsertChangePoint(ctx, &models.ChangePoint{ModelID: 3, DetectedAt: ts}); err != nil {
		t.Fatalf("InsertChangePoint: %v", err)
	}

	near, err := s.ChangePointsNear(ctx, 3, ts.Add(30*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("ChangePointsNear: %v", err)
	}
	if len(near) != 1 {
		t.Errorf("expected 1 change-point within the ±1h window, got %d", len(near))
	}

	far, err := s.ChangePointsNear(ctx, 3, ts.Add(3*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("ChangePointsNear: %v", err)
	}
	if len(far) != 0 {
		t.Errorf("expected 0 change-points outside the window, got %d", len(far))
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("ENGINE_DATA_DIR", dir)
	defer os.Unsetenv("ENGINE_DATA_DIR")

	s1 := store.NewMemoryStore()
	_ = s1.UpsertModel(context.Background(), &models.Model{Name: "claude-3-5-sonnet", Vendor: "anthropic"})
	s1.Close()

	s2 := store.NewMemoryStore()
	defer s2.Close()
	got, err := s2.GetModelByName(context.Background(), "claude-3-5-sonnet")
	if err != nil {
		t.Fatalf("GetModelByName after restart: %v", err)
	}
	if got.Vendor != "anthropic" {
		t.Errorf("Vendor = %q, want anthropic", got.Vendor)
	}
}
