// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survive restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modelbench/engine/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Models         map[int64]*models.Model          `json:"models"`
	Tasks          map[string]*models.Task          `json:"tasks"`
	Scores         []*models.Score                  `json:"scores"`
	Runs           []*models.Run                    `json:"runs"`
	ChangePoints   []*models.ChangePoint            `json:"change_points"`
	DriftSignatures map[int64]*models.DriftSignature `json:"drift_signatures"`
	NextModelID    int64                            `json:"next_model_id"`
	NextScoreID    int64                            `json:"next_score_id"`
	NextRunID      int64                            `json:"next_run_id"`
	NextCPID       int64                            `json:"next_cp_id"`
}

// MemoryStore implements Store with in-memory maps, optionally persisted
// to a JSON snapshot file on disk with a debounced save, so local dev
// survives a restart without a database.
type MemoryStore struct {
	mu sync.RWMutex

	models          map[int64]*models.Model
	modelsByName    map[string]int64
	tasks           map[string]*models.Task
	scores          []*models.Score
	runs            []*models.Run
	changePoints    []*models.ChangePoint
	driftSignatures map[int64]*models.DriftSignature

	nextModelID int64
	nextScoreID int64
	nextRunID   int64
	nextCPID    int64

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store. If ENGINE_DATA_DIR is
// set, data is persisted to a JSON file in that directory.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		models:          make(map[int64]*models.Model),
		modelsByName:    make(map[string]int64),
		tasks:           make(map[string]*models.Task),
		driftSignatures: make(map[int64]*models.DriftSignature),
		nextModelID:     1,
		nextScoreID:     1,
		nextRunID:       1,
		nextCPID:        1,
		saveCh:          make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
	}

	if dir := os.Getenv("ENGINE_DATA_DIR"); dir != "" {
		s.snapshotPath = filepath.Join(dir, "engine-data.json")
		s.load()
		go s.saveLoop()
	}

	return s
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	if s.snapshotPath != "" {
		close(s.doneCh)
		s.saveNow()
	}
	return nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// ── Models ───────────────────────────────────────────────────

func (s *MemoryStore) ListModels(ctx context.Context) ([]models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetModelByName(ctx context.Context, name string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.modelsByName[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.models[id]
	return &cp, nil
}

func (s *MemoryStore) UpsertModel(ctx context.Context, m *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		if id, ok := s.modelsByName[m.Name]; ok {
			m.ID = id
		} else {
			m.ID = s.nextModelID
			s.nextModelID++
		}
	}
	cp := *m
	s.models[m.ID] = &cp
	s.modelsByName[m.Name] = m.ID
	s.queueSave()
	return nil
}

// ── Tasks ────────────────────────────────────────────────────

func (s *MemoryStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *MemoryStore) GetTaskBySlug(ctx context.Context, slug string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) EnsureTask(ctx context.Context, t models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Slug]; !ok {
		cp := t
		s.tasks[t.Slug] = &cp
		s.queueSave()
	}
	return nil
}

// ── Scores ───────────────────────────────────────────────────

func (s *MemoryStore) InsertScore(ctx context.Context, sc *models.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.ID = s.nextScoreID
	s.nextScoreID++
	cp := *sc
	s.scores = append(s.scores, &cp)
	s.queueSave()
	return nil
}

func (s *MemoryStore) LatestScore(ctx context.Context, modelID int64, suite models.Suite) (*models.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Score
	for _, sc := range s.scores {
		if sc.ModelID != modelID || sc.Suite != suite {
			continue
		}
		if sc.IsSentinel() {
			continue
		}
		if best == nil || sc.Ts.After(best.Ts) || (sc.Ts.Equal(best.Ts) && sc.ID > best.ID) {
			best = sc
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) ListScores(ctx context.Context, filter ScoreFilter) ([]models.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Score
	for _, sc := range s.scores {
		if filter.ModelID != 0 && sc.ModelID != filter.ModelID {
			continue
		}
		if filter.Suite != "" && sc.Suite != filter.Suite {
			continue
		}
		if !filter.Since.IsZero() && sc.Ts.Before(filter.Since) {
			continue
		}
		if filter.ExcludeSynth && sc.Synthetic {
			continue
		}
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Ts.Equal(out[j].Ts) {
			return out[i].Ts.Before(out[j].Ts)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// ── Runs ─────────────────────────────────────────────────────

func (s *MemoryStore) InsertRun(ctx context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextRunID
	s.nextRunID++
	cp := *r
	s.runs = append(s.runs, &cp)
	s.queueSave()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, modelID int64, taskSlug string, limit int) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Run
	for _, r := range s.runs {
		if r.ModelID != modelID {
			continue
		}
		if taskSlug != "" && r.TaskSlug != taskSlug {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ── Change Points ────────────────────────────────────────────

func (s *MemoryStore) InsertChangePoint(ctx context.Context, cp *models.ChangePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.ID = s.nextCPID
	s.nextCPID++
	c := *cp
	s.changePoints = append(s.changePoints, &c)
	s.queueSave()
	return nil
}

func (s *MemoryStore) ListChangePoints(ctx context.Context, modelID int64, limit int) ([]models.ChangePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChangePoint
	for _, cp := range s.changePoints {
		if cp.ModelID == modelID {
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ChangePointsNear(ctx context.Context, modelID int64, ts time.Time, window time.Duration) ([]models.ChangePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChangePoint
	for _, cp := range s.changePoints {
		if cp.ModelID != modelID {
			continue
		}
		delta := cp.DetectedAt.Sub(ts)
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// ── Drift Signatures ─────────────────────────────────────────

func (s *MemoryStore) PutDriftSignature(ctx context.Context, sig *models.DriftSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sig
	s.driftSignatures[sig.ModelID] = &cp
	s.queueSave()
	return nil
}

func (s *MemoryStore) GetDriftSignature(ctx context.Context, modelID int64) (*models.DriftSignature, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.driftSignatures[modelID]
	if !ok {
		return nil, false, nil
	}
	cp := *sig
	return &cp, true, nil
}

// ── Snapshot persistence ─────────────────────────────────────

func (s *MemoryStore) queueSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *MemoryStore) saveLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case <-s.saveCh:
			pending = true
		case <-ticker.C:
			if pending {
				s.saveNow()
				pending = false
			}
		case <-s.doneCh:
			return
		}
	}
}

func (s *MemoryStore) saveNow() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snap := snapshot{
		Models:          s.models,
		Tasks:           s.tasks,
		Scores:          s.scores,
		Runs:            s.runs,
		ChangePoints:    s.changePoints,
		DriftSignatures: s.driftSignatures,
		NextModelID:     s.nextModelID,
		NextScoreID:     s.nextScoreID,
		NextRunID:       s.nextRunID,
		NextCPID:        s.nextCPID,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("memstore: failed to marshal snapshot")
		return
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("memstore: failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		log.Error().Err(err).Msg("memstore: failed to rename snapshot")
	}
}

func (s *MemoryStore) load() {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("memstore: failed to parse snapshot, starting empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Models != nil {
		s.models = snap.Models
	}
	if snap.Tasks != nil {
		s.tasks = snap.Tasks
	}
	s.scores = snap.Scores
	s.runs = snap.Runs
	s.changePoints = snap.ChangePoints
	if snap.DriftSignatures != nil {
		s.driftSignatures = snap.DriftSignatures
	}
	for _, m := range s.models {
		s.modelsByName[m.Name] = m.ID
	}
	if snap.NextModelID > 0 {
		s.nextModelID = snap.NextModelID
	}
	if snap.NextScoreID > 0 {
		s.nextScoreID = snap.NextScoreID
	}
	if snap.NextRunID > 0 {
		s.nextRunID = snap.NextRunID
	}
	if snap.NextCPID > 0 {
		s.nextCPID = snap.NextCPID
	}
}
