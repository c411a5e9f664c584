package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/modelbench/engine/pkg/models"
)

// PostgresStore implements Store on top of a pgxpool connection pool,
// following the same connect/ping/migrate shape as the vector store's
// pgvector driver: one constructor that dials, verifies, and runs
// idempotent DDL before handing back a ready store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Close() error                   { s.pool.Close(); return nil }

func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS models (
	id                     BIGSERIAL PRIMARY KEY,
	name                   TEXT NOT NULL UNIQUE,
	vendor                 TEXT NOT NULL,
	version                TEXT NOT NULL DEFAULT '',
	notes                  TEXT NOT NULL DEFAULT '',
	display_name           TEXT NOT NULL DEFAULT '',
	show_in_rankings       BOOLEAN NOT NULL DEFAULT true,
	supports_tool_calling  BOOLEAN NOT NULL DEFAULT false,
	max_tools_per_call     INT NOT NULL DEFAULT 0,
	tool_call_reliability  DOUBLE PRECISION NOT NULL DEFAULT 0,
	uses_reasoning_effort  BOOLEAN NOT NULL DEFAULT false,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tasks (
	id         BIGSERIAL PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	lang       TEXT NOT NULL DEFAULT 'python',
	type       TEXT NOT NULL DEFAULT 'function',
	difficulty TEXT NOT NULL,
	schema_uri TEXT NOT NULL DEFAULT '',
	hidden     BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS runs (
	id                BIGSERIAL PRIMARY KEY,
	model_id          BIGINT NOT NULL REFERENCES models(id),
	task_id           BIGINT REFERENCES tasks(id),
	ts                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	temp              DOUBLE PRECISION NOT NULL,
	seed              BIGINT NOT NULL DEFAULT 0,
	tokens_in         INT NOT NULL DEFAULT 0,
	tokens_out        INT NOT NULL DEFAULT 0,
	latency_ms        BIGINT NOT NULL DEFAULT 0,
	attempts          INT NOT NULL DEFAULT 1,
	passed            BOOLEAN NOT NULL DEFAULT false,
	artifacts         JSONB NOT NULL DEFAULT '{}',
	api_version       TEXT NOT NULL DEFAULT '',
	response_headers  JSONB NOT NULL DEFAULT '{}',
	model_fingerprint TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_model ON runs (model_id, ts DESC);

CREATE TABLE IF NOT EXISTS metrics (
	run_id      BIGINT PRIMARY KEY REFERENCES runs(id),
	correctness DOUBLE PRECISION NOT NULL DEFAULT 0,
	spec        DOUBLE PRECISION NOT NULL DEFAULT 0,
	code_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
	efficiency  DOUBLE PRECISION NOT NULL DEFAULT 0,
	stability   DOUBLE PRECISION NOT NULL DEFAULT 0,
	refusal     DOUBLE PRECISION NOT NULL DEFAULT 0,
	recovery    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS scores (
	id                BIGSERIAL PRIMARY KEY,
	model_id          BIGINT NOT NULL REFERENCES models(id),
	ts                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	stupid_score      DOUBLE PRECISION NOT NULL,
	axes              JSONB NOT NULL,
	cusum             DOUBLE PRECISION NOT NULL DEFAULT 0,
	note              TEXT NOT NULL DEFAULT '',
	suite             TEXT NOT NULL,
	confidence_lower  DOUBLE PRECISION,
	confidence_upper  DOUBLE PRECISION,
	standard_error    DOUBLE PRECISION,
	sample_size       INT NOT NULL DEFAULT 0,
	model_variance    DOUBLE PRECISION,
	synthetic         BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_scores_model_suite_ts ON scores (model_id, suite, ts DESC);

CREATE TABLE IF NOT EXISTS change_points (
	id              BIGSERIAL PRIMARY KEY,
	model_id        BIGINT NOT NULL REFERENCES models(id),
	detected_at     TIMESTAMPTZ NOT NULL,
	from_score      DOUBLE PRECISION NOT NULL,
	to_score        DOUBLE PRECISION NOT NULL,
	delta           DOUBLE PRECISION NOT NULL,
	significance    DOUBLE PRECISION NOT NULL,
	change_type     TEXT NOT NULL,
	affected_axes   JSONB NOT NULL DEFAULT '[]',
	suspected_cause TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_change_points_model ON change_points (model_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS model_drift_signatures (
	model_id        BIGINT PRIMARY KEY REFERENCES models(id),
	computed_at     TIMESTAMPTZ NOT NULL,
	current_score   DOUBLE PRECISION NOT NULL,
	baseline        DOUBLE PRECISION NOT NULL,
	ci_width        DOUBLE PRECISION NOT NULL,
	regime          TEXT NOT NULL,
	variance        DOUBLE PRECISION NOT NULL,
	cusum           DOUBLE PRECISION NOT NULL,
	axis_trends     JSONB NOT NULL DEFAULT '[]',
	diagnosis       TEXT NOT NULL DEFAULT '',
	recommendation  TEXT NOT NULL DEFAULT '',
	alert_status    TEXT NOT NULL
);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Models ───────────────────────────────────────────────────

func (s *PostgresStore) ListModels(ctx context.Context) ([]models.Model, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, vendor, version, display_name, show_in_rankings, supports_tool_calling, uses_reasoning_effort, created_at FROM models ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Vendor, &m.Version, &m.DisplayName, &m.ShowInRankings, &m.SupportsToolCalling, &m.UsesReasoningEffort, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	return s.scanOneModel(ctx, `SELECT id, name, vendor, version, display_name, show_in_rankings, supports_tool_calling, uses_reasoning_effort, created_at FROM models WHERE id=$1`, id)
}

func (s *PostgresStore) GetModelByName(ctx context.Context, name string) (*models.Model, error) {
	return s.scanOneModel(ctx, `SELECT id, name, vendor, version, display_name, show_in_rankings, supports_tool_calling, uses_reasoning_effort, created_at FROM models WHERE name=$1`, name)
}

func (s *PostgresStore) scanOneModel(ctx context.Context, query string, arg interface{}) (*models.Model, error) {
	var m models.Model
	err := s.pool.QueryRow(ctx, query, arg).Scan(&m.ID, &m.Name, &m.Vendor, &m.Version, &m.DisplayName, &m.ShowInRankings, &m.SupportsToolCalling, &m.UsesReasoningEffort, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) UpsertModel(ctx context.Context, m *models.Model) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO models (name, vendor, version, display_name, show_in_rankings, supports_tool_calling, uses_reasoning_effort)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO UPDATE SET
			vendor=$2, version=$3, display_name=$4, show_in_rankings=$5, supports_tool_calling=$6, uses_reasoning_effort=$7
		RETURNING id`,
		m.Name, m.Vendor, m.Version, m.DisplayName, m.ShowInRankings, m.SupportsToolCalling, m.UsesReasoningEffort,
	).Scan(&m.ID)
}

// ── Tasks ────────────────────────────────────────────────────

func (s *PostgresStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug, difficulty FROM tasks ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.Slug, &t.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTaskBySlug(ctx context.Context, slug string) (*models.Task, error) {
	var t models.Task
	err := s.pool.QueryRow(ctx, `SELECT slug, difficulty FROM tasks WHERE slug=$1`, slug).Scan(&t.Slug, &t.Difficulty)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) EnsureTask(ctx context.Context, t models.Task) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO tasks (slug, difficulty) VALUES ($1,$2) ON CONFLICT (slug) DO NOTHING`, t.Slug, t.Difficulty)
	return err
}

// ── Scores ───────────────────────────────────────────────────

func (s *PostgresStore) InsertScore(ctx context.Context, sc *models.Score) error {
	axesJSON, err := json.Marshal(sc.Axes)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO scores (model_id, ts, stupid_score, axes, cusum, note, suite, confidence_lower, confidence_upper, standard_error, sample_size, model_variance, synthetic)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		sc.ModelID, sc.Ts, sc.StupidScore, axesJSON, sc.Cusum, sc.Note, sc.Suite,
		sc.ConfidenceLower, sc.ConfidenceUpper, sc.StandardError, sc.SampleSize, sc.ModelVariance, sc.Synthetic,
	).Scan(&sc.ID)
}

func (s *PostgresStore) LatestScore(ctx context.Context, modelID int64, suite models.Suite) (*models.Score, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model_id, ts, stupid_score, axes, cusum, note, suite, confidence_lower, confidence_upper, standard_error, sample_size, model_variance, synthetic
		FROM scores
		WHERE model_id=$1 AND suite=$2 AND stupid_score >= 0
		ORDER BY ts DESC, id DESC
		LIMIT 1`, modelID, suite)
	sc, err := scanScore(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *PostgresStore) ListScores(ctx context.Context, filter ScoreFilter) ([]models.Score, error) {
	query := `SELECT id, model_id, ts, stupid_score, axes, cusum, note, suite, confidence_lower, confidence_upper, standard_error, sample_size, model_variance, synthetic FROM scores WHERE 1=1`
	var args []interface{}
	argn := 1

	if filter.ModelID != 0 {
		query += fmt.Sprintf(" AND model_id=$%d", argn)
		args = append(args, filter.ModelID)
		argn++
	}
	if filter.Suite != "" {
		query += fmt.Sprintf(" AND suite=$%d", argn)
		args = append(args, filter.Suite)
		argn++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND ts>=$%d", argn)
		args = append(args, filter.Since)
		argn++
	}
	if filter.ExcludeSynth {
		query += " AND synthetic=false"
	}
	if filter.Limit > 0 {
		// Keep the newest Limit rows, still returned oldest-first.
		query = fmt.Sprintf("SELECT * FROM (%s ORDER BY ts DESC, id DESC LIMIT %d) recent ORDER BY ts ASC, id ASC", query, filter.Limit)
	} else {
		query += " ORDER BY ts ASC, id ASC"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanScore(row scannable) (*models.Score, error) {
	var sc models.Score
	var axesJSON []byte
	err := row.Scan(&sc.ID, &sc.ModelID, &sc.Ts, &sc.StupidScore, &axesJSON, &sc.Cusum, &sc.Note, &sc.Suite,
		&sc.ConfidenceLower, &sc.ConfidenceUpper, &sc.StandardError, &sc.SampleSize, &sc.ModelVariance, &sc.Synthetic)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(axesJSON, &sc.Axes); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ── Runs ─────────────────────────────────────────────────────

func (s *PostgresStore) InsertRun(ctx context.Context, r *models.Run) error {
	artifactsJSON, err := json.Marshal(r.Artifacts)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO runs (model_id, ts, temp, seed, tokens_in, tokens_out, latency_ms, attempts, passed, artifacts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		r.ModelID, r.Ts, r.Temp, r.Seed, r.TokensIn, r.TokensOut, r.LatencyMs, r.Attempts, r.Passed, artifactsJSON,
	).Scan(&r.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, modelID int64, taskSlug string, limit int) ([]models.Run, error) {
	query := `SELECT id, model_id, ts, temp, seed, tokens_in, tokens_out, latency_ms, attempts, passed, artifacts FROM runs WHERE model_id=$1`
	args := []interface{}{modelID}
	if taskSlug != "" {
		query += " AND task_id IN (SELECT id FROM tasks WHERE slug=$2)"
		args = append(args, taskSlug)
	}
	query += " ORDER BY ts ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var r models.Run
		var artifactsJSON []byte
		if err := rows.Scan(&r.ID, &r.ModelID, &r.Ts, &r.Temp, &r.Seed, &r.TokensIn, &r.TokensOut, &r.LatencyMs, &r.Attempts, &r.Passed, &artifactsJSON); err != nil {
			return nil, err
		}
		if len(artifactsJSON) > 0 {
			_ = json.Unmarshal(artifactsJSON, &r.Artifacts)
		}
		r.TaskSlug = taskSlug
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Change Points ────────────────────────────────────────────

func (s *PostgresStore) InsertChangePoint(ctx context.Context, cp *models.ChangePoint) error {
	axesJSON, err := json.Marshal(cp.AffectedAxes)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO change_points (model_id, detected_at, from_score, to_score, delta, significance, change_type, affected_axes, suspected_cause)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		cp.ModelID, cp.DetectedAt, cp.FromScore, cp.ToScore, cp.Delta, cp.Significance, cp.ChangeType, axesJSON, cp.SuspectedCause,
	).Scan(&cp.ID)
}

func (s *PostgresStore) ListChangePoints(ctx context.Context, modelID int64, limit int) ([]models.ChangePoint, error) {
	query := `SELECT id, model_id, detected_at, from_score, to_score, delta, significance, change_type, affected_axes, suspected_cause FROM change_points WHERE model_id=$1 ORDER BY detected_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, query, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChangePoint
	for rows.Next() {
		cp, err := scanChangePoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ChangePointsNear(ctx context.Context, modelID int64, ts time.Time, window time.Duration) ([]models.ChangePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model_id, detected_at, from_score, to_score, delta, significance, change_type, affected_axes, suspected_cause
		FROM change_points WHERE model_id=$1 AND detected_at BETWEEN $2 AND $3`,
		modelID, ts.Add(-window), ts.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChangePoint
	for rows.Next() {
		cp, err := scanChangePoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func scanChangePoint(rows pgx.Rows) (*models.ChangePoint, error) {
	var cp models.ChangePoint
	var axesJSON []byte
	if err := rows.Scan(&cp.ID, &cp.ModelID, &cp.DetectedAt, &cp.FromScore, &cp.ToScore, &cp.Delta, &cp.Significance, &cp.ChangeType, &axesJSON, &cp.SuspectedCause); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(axesJSON, &cp.AffectedAxes)
	return &cp, nil
}

// ── Drift Signatures ─────────────────────────────────────────

func (s *PostgresStore) PutDriftSignature(ctx context.Context, sig *models.DriftSignature) error {
	trendsJSON, err := json.Marshal(sig.AxisTrends)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO model_drift_signatures (model_id, computed_at, current_score, baseline, ci_width, regime, variance, cusum, axis_trends, diagnosis, recommendation, alert_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (model_id) DO UPDATE SET
			computed_at=$2, current_score=$3, baseline=$4, ci_width=$5, regime=$6, variance=$7, cusum=$8, axis_trends=$9, diagnosis=$10, recommendation=$11, alert_status=$12`,
		sig.ModelID, sig.ComputedAt, sig.CurrentScore, sig.Baseline, sig.CIWidth, sig.Regime, sig.Variance, sig.Cusum, trendsJSON, sig.Diagnosis, sig.Recommendation, sig.AlertStatus,
	)
	return err
}

func (s *PostgresStore) GetDriftSignature(ctx context.Context, modelID int64) (*models.DriftSignature, bool, error) {
	var sig models.DriftSignature
	var trendsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT model_id, computed_at, current_score, baseline, ci_width, regime, variance, cusum, axis_trends, diagnosis, recommendation, alert_status
		FROM model_drift_signatures WHERE model_id=$1`, modelID,
	).Scan(&sig.ModelID, &sig.ComputedAt, &sig.CurrentScore, &sig.Baseline, &sig.CIWidth, &sig.Regime, &sig.Variance, &sig.Cusum, &trendsJSON, &sig.Diagnosis, &sig.Recommendation, &sig.AlertStatus)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	_ = json.Unmarshal(trendsJSON, &sig.AxisTrends)
	return &sig, true, nil
}
