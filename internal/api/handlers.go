package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelbench/engine/internal/drift"
	"github.com/modelbench/engine/internal/scheduler"
	"github.com/modelbench/engine/internal/store"
	"github.com/modelbench/engine/pkg/models"
)

const (
	driftCacheTTL     = time.Hour
	maxBatchModelIDs  = 100
	defaultRankLimit  = 100
	defaultHistoryLen = 200
)

// Handlers wires every read API route to the underlying store — each
// endpoint is a thin wrapper over the store.
type Handlers struct {
	Store      store.Store
	Scheduler  *scheduler.Scheduler
	AdminToken string
}

func NewHandlers(st store.Store, sch *scheduler.Scheduler, adminToken string) *Handlers {
	return &Handlers{Store: st, Scheduler: sch, AdminToken: adminToken}
}

// ── /dashboard ───────────────────────────────────────────────

type rankedEntry struct {
	Model     models.Model           `json:"model"`
	Score     models.Score           `json:"score"`
	Combined  float64                `json:"combinedScore"`
	Aggregate *drift.PeriodAggregate `json:"aggregate,omitempty"`
}

// suiteScores fetches the latest non-sentinel score in each of the three
// suites, the shape drift.Combined needs to compute the headline
// cross-suite ranking score.
func (h *Handlers) suiteScores(ctx context.Context, modelID int64) drift.SuiteScores {
	var ss drift.SuiteScores
	if sc, err := h.Store.LatestScore(ctx, modelID, models.SuiteHourly); err == nil && sc != nil && !sc.IsSentinel() {
		ss.Hourly, ss.HourlyOK = sc.StupidScore, true
	}
	if sc, err := h.Store.LatestScore(ctx, modelID, models.SuiteDeep); err == nil && sc != nil && !sc.IsSentinel() {
		ss.Deep, ss.DeepOK = sc.StupidScore, true
	}
	if sc, err := h.Store.LatestScore(ctx, modelID, models.SuiteTooling); err == nil && sc != nil && !sc.IsSentinel() {
		ss.Tooling, ss.ToolingOK = sc.StupidScore, true
	}
	return ss
}

func (h *Handlers) DashboardScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	period := periodOrDefault(r.URL.Query().Get("period"))
	sortBy := r.URL.Query().Get("sortBy")

	modelList, err := h.Store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	since := periodSince(period)
	entries := make([]rankedEntry, 0, len(modelList))
	for _, m := range modelList {
		if !m.ShowInRankings {
			continue
		}
		latest, err := h.Store.LatestScore(ctx, m.ID, models.SuiteHourly)
		if err != nil || latest == nil {
			continue
		}

		combined := drift.Combined(h.suiteScores(ctx, m.ID))
		if combined.Unavailable {
			continue
		}
		entry := rankedEntry{Model: m, Score: *latest, Combined: combined.Score}

		if period == "latest" {
			if latest.Ts.Before(since) {
				continue
			}
		} else {
			history, err := h.Store.ListScores(ctx, store.ScoreFilter{
				ModelID:      m.ID,
				Suite:        models.SuiteHourly,
				Since:        since,
				ExcludeSynth: true,
			})
			if err != nil {
				continue
			}
			vals := make([]float64, 0, len(history))
			for _, sc := range history {
				if sc.IsSentinel() {
					continue
				}
				vals = append(vals, sc.StupidScore)
			}
			if len(vals) == 0 {
				continue
			}
			agg := drift.AggregatePeriod(vals)
			entry.Aggregate = &agg
		}

		entries = append(entries, entry)
	}

	sortEntries(entries, sortBy)
	total := len(entries)
	if len(entries) > defaultRankLimit {
		entries = entries[:defaultRankLimit]
	}

	writeData(w, http.StatusOK, entries, map[string]interface{}{
		"period": period,
		"sortBy": sortBy,
		"count":  total,
	})
}

func (h *Handlers) DashboardHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelID, err := parseModelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.Store.GetModel(ctx, modelID); err != nil {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	period := periodOrDefault(r.URL.Query().Get("period"))
	history, err := h.Store.ListScores(ctx, store.ScoreFilter{
		ModelID:      modelID,
		Suite:        models.SuiteHourly,
		Since:        periodSince(period),
		Limit:        defaultHistoryLen,
		ExcludeSynth: false,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(w, http.StatusOK, history, map[string]interface{}{"period": period})
}

// DashboardHistoryBatch fetches history for up to 100 model ids in
// parallel and returns a map of id -> time series. Cache
// headers make the response suitable for a CDN edge cache.
func (h *Handlers) DashboardHistoryBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("modelIds")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "modelIds is required")
		return
	}
	ids, err := parseCSVIDs(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(ids) > maxBatchModelIDs {
		ids = ids[:maxBatchModelIDs]
	}

	period := periodOrDefault(r.URL.Query().Get("period"))
	since := periodSince(period)

	result := make(map[int64][]models.Score, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			scores, err := h.Store.ListScores(ctx, store.ScoreFilter{
				ModelID: id,
				Suite:   models.SuiteHourly,
				Since:   since,
				Limit:   defaultHistoryLen,
			})
			if err != nil {
				return
			}
			mu.Lock()
			result[id] = scores
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	w.Header().Set("Cache-Control", "public, max-age=30, stale-while-revalidate=60")
	writeData(w, http.StatusOK, result, map[string]interface{}{"period": period, "count": len(result)})
}

func (h *Handlers) DashboardStatus(w http.ResponseWriter, r *http.Request) {
	status := h.Scheduler.Status()
	writeData(w, http.StatusOK, status, nil)
}

func (h *Handlers) DashboardBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelList, err := h.Store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type modelStatus struct {
		ModelID   int64  `json:"modelId"`
		Name      string `json:"name"`
		LastRunTs string `json:"lastRunTs,omitempty"`
		Sentinel  bool   `json:"sentinel"`
	}
	out := make([]modelStatus, 0, len(modelList))
	for _, m := range modelList {
		latest, err := h.Store.LatestScore(ctx, m.ID, models.SuiteHourly)
		ms := modelStatus{ModelID: m.ID, Name: m.Name}
		if err == nil && latest != nil {
			ms.LastRunTs = latest.Ts.Format(time.RFC3339)
			ms.Sentinel = latest.IsSentinel()
		}
		out = append(out, ms)
	}

	writeData(w, http.StatusOK, out, map[string]interface{}{"schedulerStatus": h.Scheduler.Status()})
}

func (h *Handlers) DashboardBestModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelList, err := h.Store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var best *rankedEntry
	for _, m := range modelList {
		if !m.ShowInRankings {
			continue
		}
		latest, err := h.Store.LatestScore(ctx, m.ID, models.SuiteHourly)
		if err != nil || latest == nil || latest.IsSentinel() {
			continue
		}
		if best == nil || latest.StupidScore > best.Score.StupidScore {
			best = &rankedEntry{Model: m, Score: *latest}
		}
	}

	if best == nil {
		writeError(w, http.StatusNotFound, "no ranked model has a current score")
		return
	}
	writeData(w, http.StatusOK, best, nil)
}

func (h *Handlers) DashboardGlobalIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelList, err := h.Store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var sum float64
	var n int
	for _, m := range modelList {
		if !m.ShowInRankings {
			continue
		}
		latest, err := h.Store.LatestScore(ctx, m.ID, models.SuiteHourly)
		if err != nil || latest == nil || latest.IsSentinel() {
			continue
		}
		sum += latest.StupidScore
		n++
	}

	index := 0.0
	if n > 0 {
		index = sum / float64(n)
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"globalIndex": index,
		"modelCount":  n,
	}, nil)
}

// ── /drift ───────────────────────────────────────────────────

func (h *Handlers) DriftSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelID, err := parseModelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, ok, err := h.Store.GetDriftSignature(ctx, modelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ok && time.Since(sig.ComputedAt) < driftCacheTTL {
		w.Header().Set("X-Cache", "HIT")
		writeData(w, http.StatusOK, sig, nil)
		return
	}

	fresh, computeErr := h.computeSignature(ctx, modelID)
	if computeErr != nil {
		if ok {
			w.Header().Set("X-Cache", "PARTIAL")
			writeData(w, http.StatusOK, sig, map[string]interface{}{"stale": true})
			return
		}
		writeError(w, http.StatusNotFound, "insufficient history for a drift signature")
		return
	}

	w.Header().Set("X-Cache", "MISS")
	_ = h.Store.PutDriftSignature(ctx, &fresh)
	writeData(w, http.StatusOK, fresh, nil)
}

func (h *Handlers) computeSignature(ctx context.Context, modelID int64) (models.DriftSignature, error) {
	history, err := h.Store.ListScores(ctx, store.ScoreFilter{
		ModelID:      modelID,
		Suite:        models.SuiteHourly,
		Limit:        28 * 24,
		ExcludeSynth: true,
	})
	if err != nil || len(history) == 0 {
		return models.DriftSignature{}, store.ErrNotFound
	}

	baseline := make([]float64, 0, len(history))
	phSeries := make([]float64, 0, len(history))
	recentAxes := make([]models.AxisMap, 0, len(history))
	var last24h []float64
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, sc := range history {
		if sc.IsSentinel() {
			continue
		}
		baseline = append(baseline, sc.StupidScore)
		phSeries = append(phSeries, sc.StupidScore)
		recentAxes = append(recentAxes, sc.Axes)
		if sc.Ts.After(cutoff) {
			last24h = append(last24h, sc.StupidScore)
		}
	}

	current := history[len(history)-1]
	sig, ok := drift.Compute(drift.SignatureInput{
		ModelID:           modelID,
		Current:           current.Axes,
		CurrentScore:      current.StupidScore,
		Baseline28d:       baseline,
		Last24h:           last24h,
		PageHinkleySeries: phSeries,
		RecentAxes:        recentAxes,
	}, time.Now())
	if !ok {
		return models.DriftSignature{}, store.ErrNotFound
	}

	h.detectChangePoints(ctx, modelID, history)

	return sig, nil
}

// detectChangePoints runs change-point detection over a model's history
// on the read path (dashboard-triggered signature compute), mirroring
// the scheduler's periodic precompute pass so a cold cache still
// surfaces newly crossed change-points instead of waiting for the next
// hourly tick.
func (h *Handlers) detectChangePoints(ctx context.Context, modelID int64, history []models.Score) {
	existing, err := h.Store.ListChangePoints(ctx, modelID, 0)
	if err != nil {
		return
	}
	existingTs := make([]time.Time, len(existing))
	for i, cp := range existing {
		existingTs[i] = cp.DetectedAt
	}

	for _, cp := range drift.BuildChangePoints(modelID, history, existingTs) {
		near, err := h.Store.ChangePointsNear(ctx, modelID, cp.DetectedAt, time.Hour)
		if err != nil || len(near) > 0 {
			continue
		}
		cp := cp
		_ = h.Store.InsertChangePoint(ctx, &cp)
	}
}

func (h *Handlers) DriftChangePoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelID, err := parseModelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	points, err := h.Store.ListChangePoints(ctx, modelID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, points, nil)
}

func (h *Handlers) DriftStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.Scheduler.Status(), nil)
}

func (h *Handlers) DriftBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("modelIds")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "modelIds is required")
		return
	}
	ids, err := parseCSVIDs(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make(map[int64]*models.DriftSignature, len(ids))
	for _, id := range ids {
		sig, ok, err := h.Store.GetDriftSignature(ctx, id)
		if err == nil && ok {
			out[id] = sig
		}
	}
	writeData(w, http.StatusOK, out, nil)
}

func (h *Handlers) DriftHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}

func (h *Handlers) DriftMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modelList, _ := h.Store.ListModels(ctx)
	cached := 0
	for _, m := range modelList {
		if _, ok, _ := h.Store.GetDriftSignature(ctx, m.ID); ok {
			cached++
		}
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"modelCount":      len(modelList),
		"signaturesCached": cached,
	}, nil)
}

// DriftPrecompute is the internal warmer endpoint; it requires a bearer
// token when one is configured (empty AdminToken disables the check).
func (h *Handlers) DriftPrecompute(w http.ResponseWriter, r *http.Request) {
	if h.AdminToken != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+h.AdminToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
			return
		}
	}

	ctx := r.Context()
	modelList, err := h.Store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	warmed := 0
	for _, m := range modelList {
		sig, err := h.computeSignature(ctx, m.ID)
		if err != nil {
			continue
		}
		if err := h.Store.PutDriftSignature(ctx, &sig); err == nil {
			warmed++
		}
	}
	writeData(w, http.StatusOK, map[string]int{"warmed": warmed}, nil)
}

// ── /health ──────────────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeData(w, status, map[string]interface{}{
		"status":   "ok",
		"database": dbStatus,
		"scheduler": h.Scheduler.Status(),
	}, nil)
}

// ── helpers ──────────────────────────────────────────────────

func parseModelID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "modelId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errInvalidModelID
	}
	return id, nil
}

var errInvalidModelID = &httpError{"invalid modelId"}

type httpError struct{ msg string }

func (e *httpError) Error() string { return e.msg }

func parseCSVIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errInvalidModelID
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func periodOrDefault(p string) string {
	switch p {
	case "24h", "7d", "1m", "latest":
		return p
	default:
		return "latest"
	}
}

func periodSince(period string) time.Time {
	switch period {
	case "24h":
		return time.Now().Add(-24 * time.Hour)
	case "7d":
		return time.Now().Add(-7 * 24 * time.Hour)
	case "1m":
		return time.Now().Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// sortEntries orders ranked entries by the requested sort key; unknown
// keys fall back to the three-suite combined score, matching the
// dashboard default. When a period aggregate was computed (any period
// other than "latest"), the aggregate mean stands in for the combined
// score so the default ranking reflects the whole window, not just the
// most recent hourly run.
func sortEntries(entries []rankedEntry, sortBy string) {
	key := func(e rankedEntry) float64 {
		switch sortBy {
		case "reasoning":
			return e.Score.Axes["complexity"]
		case "speed":
			return e.Score.Axes["efficiency"]
		case "stability":
			return e.Score.Axes["stability"]
		case "tooling":
			return e.Score.Axes["debugging"]
		default:
			if e.Aggregate != nil {
				return e.Aggregate.Mean
			}
			return e.Combined
		}
	}
	sort.Slice(entries, func(i, j int) bool { return key(entries[i]) > key(entries[j]) })
}
