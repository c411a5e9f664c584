// Package models holds the domain entities shared across the benchmarking
// and scoring engine: providers talk in ChatRequest/ChatResult, the store
// persists Model/Score/Run/ChangePoint rows, and the drift package derives
// DriftSignature views from the score log.
package models

import "time"

// ── Axes ─────────────────────────────────────────────────────

// CanonicalAxes lists the nine axis keys every non-sentinel Score must carry.
var CanonicalAxes = []string{
	"correctness", "complexity", "codeQuality", "stability",
	"format", "efficiency", "edgeCases", "debugging", "safety",
}

// AxisWeights is the fixed weighting used by the scoring formula. The sum
// must equal 1.0; internal/config asserts this when the configuration loads.
var AxisWeights = map[string]float64{
	"correctness": 0.30,
	"complexity":  0.18,
	"codeQuality": 0.12,
	"stability":   0.12,
	"format":      0.08,
	"efficiency":  0.05,
	"edgeCases":   0.05,
	"debugging":   0.05,
	"safety":      0.05,
}

// AxisMap is a full or partial set of axis values.
type AxisMap map[string]float64

// Clone returns an independent copy.
func (a AxisMap) Clone() AxisMap {
	out := make(AxisMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Sentinel score values carry meaning distinct from the normal [0,100] range.
const (
	SentinelProviderNotConfigured = -999.0
	SentinelAllTasksFailed        = -888.0
	SentinelCanaryFailed          = -777.0
)

// PlaceholderAxisValue fills every axis slot of a sentinel Score.
const PlaceholderAxisValue = -1.0

// Suite identifies a scoring track fed by an independent benchmark subsystem.
type Suite string

const (
	SuiteHourly  Suite = "hourly"
	SuiteDeep    Suite = "deep"
	SuiteTooling Suite = "tooling"
)

// Difficulty tiers a Task belongs to.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ── Model ────────────────────────────────────────────────────

// Model is a benchmarked LLM endpoint.
type Model struct {
	ID                  int64     `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Vendor              string    `json:"vendor" db:"vendor"`
	Version             string    `json:"version,omitempty" db:"version"`
	DisplayName         string    `json:"displayName,omitempty" db:"display_name"`
	ShowInRankings      bool      `json:"showInRankings" db:"show_in_rankings"`
	SupportsToolCalling bool      `json:"supportsToolCalling" db:"supports_tool_calling"`
	UsesReasoningEffort bool      `json:"usesReasoningEffort" db:"uses_reasoning_effort"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
}

// ── Task ─────────────────────────────────────────────────────

// TestCase is an (input, expected) pair expressed as literal source text
// that parses under the sandbox's safe AST-literal evaluator.
type TestCase struct {
	InputLiteral    string `json:"input"`
	ExpectedLiteral string `json:"expected"`
}

// Task is a static, in-code code-generation exercise.
type Task struct {
	Slug           string     `json:"slug"`
	Difficulty     Difficulty `json:"difficulty"`
	Prompt         string     `json:"prompt"`
	ExpectedSymbol string     `json:"expectedSymbol"`
	TestCases      []TestCase `json:"testCases"`
	// FuzzStrategy deterministically generates additional hidden test
	// cases from a seed derived from the batch timestamp.
	FuzzStrategy func(seed int64) []TestCase `json:"-"`
}

// ── Chat ─────────────────────────────────────────────────────

// ChatMessage is one turn of a ChatRequest.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the uniform request shape sent to every provider adapter.
// Adapters must not add parameters beyond this set; the trial runner and
// every adapter's Call run the provider.AssertFair fairness assertion on
// it before dispatch.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens"`
}

// ChatResult is the uniform, normalised response shape every adapter
// produces regardless of vendor wire format.
type ChatResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// ── Score ────────────────────────────────────────────────────

// Score is one append-only row in the score log.
type Score struct {
	ID              int64     `json:"id" db:"id"`
	ModelID         int64     `json:"modelId" db:"model_id"`
	Ts              time.Time `json:"ts" db:"ts"`
	Suite           Suite     `json:"suite" db:"suite"`
	StupidScore     float64   `json:"stupidScore" db:"stupid_score"`
	Axes            AxisMap   `json:"axes" db:"axes"`
	Cusum           float64   `json:"cusum" db:"cusum"`
	Note            string    `json:"note,omitempty" db:"note"`
	ConfidenceLower *float64  `json:"confidenceLower,omitempty" db:"confidence_lower"`
	ConfidenceUpper *float64  `json:"confidenceUpper,omitempty" db:"confidence_upper"`
	StandardError   *float64  `json:"standardError,omitempty" db:"standard_error"`
	SampleSize      int       `json:"sampleSize" db:"sample_size"`
	ModelVariance   *float64  `json:"modelVariance,omitempty" db:"model_variance"`
	// Synthetic marks rows generated by the synthetic-score fallback.
	// Synthetic rows are excluded from every baseline computation.
	Synthetic bool `json:"synthetic" db:"synthetic"`
}

// IsSentinel reports whether the score is one of the three sentinel values.
func (s *Score) IsSentinel() bool {
	switch s.StupidScore {
	case SentinelProviderNotConfigured, SentinelAllTasksFailed, SentinelCanaryFailed:
		return true
	}
	return false
}

// ── Run ──────────────────────────────────────────────────────

// Run is a per-task, per-batch aggregate retained for auditing and trend
// analysis. Not required to compute the current score.
type Run struct {
	ID        int64                  `json:"id" db:"id"`
	ModelID   int64                  `json:"modelId" db:"model_id"`
	TaskSlug  string                 `json:"taskSlug" db:"task_slug"`
	Ts        time.Time              `json:"ts" db:"ts"`
	Temp      float64                `json:"temp" db:"temp"`
	Seed      int64                  `json:"seed" db:"seed"`
	TokensIn  int                    `json:"tokensIn" db:"tokens_in"`
	TokensOut int                    `json:"tokensOut" db:"tokens_out"`
	LatencyMs int64                  `json:"latencyMs" db:"latency_ms"`
	Attempts  int                    `json:"attempts" db:"attempts"`
	Passed    bool                   `json:"passed" db:"passed"`
	Artifacts map[string]interface{} `json:"artifacts,omitempty"`
}

// ── ChangePoint ──────────────────────────────────────────────

type ChangeType string

const (
	ChangeImprovement ChangeType = "improvement"
	ChangeDegradation ChangeType = "degradation"
	ChangeShift       ChangeType = "shift"
)

// ChangePoint is a detected, statistically significant shift in a model's
// score history.
type ChangePoint struct {
	ID             int64      `json:"id" db:"id"`
	ModelID        int64      `json:"modelId" db:"model_id"`
	DetectedAt     time.Time  `json:"detectedAt" db:"detected_at"`
	FromScore      float64    `json:"fromScore" db:"from_score"`
	ToScore        float64    `json:"toScore" db:"to_score"`
	Delta          float64    `json:"delta" db:"delta"`
	Significance   float64    `json:"significance" db:"significance"`
	ChangeType     ChangeType `json:"changeType" db:"change_type"`
	AffectedAxes   []string   `json:"affectedAxes"`
	SuspectedCause string     `json:"suspectedCause" db:"suspected_cause"`
}

// ── DriftSignature ───────────────────────────────────────────

type Regime string

const (
	RegimeDegraded   Regime = "DEGRADED"
	RegimeRecovering Regime = "RECOVERING"
	RegimeVolatile   Regime = "VOLATILE"
	RegimeStable     Regime = "STABLE"
)

type AlertStatus string

const (
	AlertNone    AlertStatus = "NORMAL"
	AlertWarning AlertStatus = "WARNING"
	AlertAlert   AlertStatus = "ALERT"
)

// AxisTrend describes one axis's recent behaviour.
type AxisTrend struct {
	Axis      string  `json:"axis"`
	Current   float64 `json:"current"`
	Trend     string  `json:"trend"` // up / down / stable
	ChangePct float64 `json:"changePct"`
	Status    string  `json:"status"`
}

// DriftSignature is a derived, cached snapshot of a model's recent behaviour.
type DriftSignature struct {
	ModelID        int64       `json:"modelId"`
	ComputedAt     time.Time   `json:"computedAt"`
	CurrentScore   float64     `json:"currentScore"`
	Baseline       float64     `json:"baseline"`
	CIWidth        float64     `json:"ciWidth"`
	Regime         Regime      `json:"regime"`
	Variance       float64     `json:"variance"`
	Cusum          float64     `json:"cusum"`
	AxisTrends     []AxisTrend `json:"axisTrends"`
	Diagnosis      string      `json:"diagnosis"`
	Recommendation string      `json:"recommendation"`
	AlertStatus    AlertStatus `json:"alertStatus"`
}
