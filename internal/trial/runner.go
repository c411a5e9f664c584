// Package trial implements the trial runner: for one
// (model, task) pair it derives the batch-deterministic symbol alias and
// prompt envelope, dispatches N trials through the key pool and provider
// adapter, evaluates each response in the sandbox, and collapses
// successful trials into one per-task aggregate.
package trial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelbench/engine/internal/detseed"
	"github.com/modelbench/engine/internal/keypool"
	"github.com/modelbench/engine/internal/provider"
	"github.com/modelbench/engine/internal/sandbox"
	"github.com/modelbench/engine/internal/statutil"
	"github.com/modelbench/engine/pkg/models"
)

// envelope rule phrasings and layout shapes: two × three, selected
// deterministically by detseed.EnvelopeIndices.
var ruleVariants = [2]string{
	"Respond with only the function or class definition — no explanation, no prose.",
	"Provide a single, complete, idiomatic implementation. Do not include commentary outside the code.",
}

var layoutVariants = [3]func(prompt, rule string) string{
	func(prompt, rule string) string {
		return fmt.Sprintf("%s\n\n%s", prompt, rule)
	},
	func(prompt, rule string) string {
		return fmt.Sprintf("Task:\n%s\n\nRequirements:\n%s", prompt, rule)
	},
	func(prompt, rule string) string {
		return fmt.Sprintf("### Problem\n%s\n\n### Constraints\n%s", prompt, rule)
	},
}

// systemVariants are used across a trial's short-code retries: retry
// the trial up to 2 times with a different system-message variant.
var systemVariants = []string{
	"You are a careful software engineer. Output only valid Python.",
	"You write correct, minimal Python. Never wrap code in explanations.",
	"Output exactly one Python function or class definition and nothing else.",
}

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 1500
	minCodeLength      = 10
	maxTrialAttempts   = 3 // 1 original + up to 2 retries with a different system variant
)

// Runner executes trials for a (model, task) pair.
type Runner struct {
	Registry  *provider.Registry
	Pool      *keypool.Pool
	Evaluator *sandbox.Evaluator
}

func NewRunner(reg *provider.Registry, pool *keypool.Pool, ev *sandbox.Evaluator) *Runner {
	return &Runner{Registry: reg, Pool: pool, Evaluator: ev}
}

// TaskAggregate is the per-task result collapsed from N trials.
type TaskAggregate struct {
	TaskSlug    string
	Axes        models.AxisMap
	Stability   float64
	LatencyMs   int64
	TokensIn    int
	TokensOut   int
	Attempts    int
	Success     bool
}

// Options parameterises one RunTask call; Phase 2 of the orchestrator
// reruns a failed task with a relaxed MaxTokens, a suffixed prompt, and
// fewer trials.
type Options struct {
	Vendor         string
	Model          string
	BatchTimestamp string
	Trials         int
	MaxTokens      int
	PromptSuffix   string
}

// RunTask executes N trials for one task against one model and collapses
// them into one aggregate. It returns ok=false if zero trials succeeded.
func (r *Runner) RunTask(ctx context.Context, task models.Task, opts Options) (TaskAggregate, bool) {
	driver, ok := r.Registry.Get(opts.Vendor)
	if !ok {
		return TaskAggregate{TaskSlug: task.Slug}, false
	}

	alias := detseed.SymbolAlias(opts.BatchTimestamp, task.Slug)
	ruleIdx, layoutIdx := detseed.EnvelopeIndices(opts.BatchTimestamp, task.Slug)

	renderedPrompt := detseed.RenderPrompt(task.Prompt, alias)
	envelopePrompt := layoutVariants[layoutIdx](renderedPrompt, ruleVariants[ruleIdx])
	if opts.PromptSuffix != "" {
		envelopePrompt = envelopePrompt + "\n\n" + opts.PromptSuffix
	}

	aliasedTask := task
	aliasedTask.ExpectedSymbol = alias

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	var (
		correctnessSamples []float64
		axisSamples        = make(map[string][]float64)
		latencies          []int64
		tokensIn           []int
		tokensOut          []int
		successCount       int
		totalAttempts      int
	)

	for i := 0; i < opts.Trials; i++ {
		key, ok := r.Pool.SelectKey(opts.Vendor, i)
		if !ok {
			continue
		}

		result, attempts, ok := r.runOneTrial(ctx, driver, key, opts.Model, envelopePrompt, aliasedTask, maxTokens, opts.BatchTimestamp, i)
		totalAttempts += attempts
		if !ok {
			continue
		}

		successCount++
		for axis, v := range result.axes {
			axisSamples[axis] = append(axisSamples[axis], v)
		}
		correctnessSamples = append(correctnessSamples, result.axes["correctness"])
		latencies = append(latencies, result.latencyMs)
		tokensIn = append(tokensIn, result.tokensIn)
		tokensOut = append(tokensOut, result.tokensOut)
	}

	if successCount == 0 {
		return TaskAggregate{TaskSlug: task.Slug, Attempts: totalAttempts}, false
	}

	medianAxes := models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		medianAxes[axis] = statutil.Median(axisSamples[axis])
	}

	stability := 0.5
	if len(correctnessSamples) >= 2 {
		sd := statutil.StdDev(correctnessSamples, 0)
		stability = statutil.Clamp(1-sd/0.3, 0, 1)
	}
	medianAxes["stability"] = stability

	return TaskAggregate{
		TaskSlug:  task.Slug,
		Axes:      medianAxes,
		Stability: stability,
		LatencyMs: statutil.MedianInt64(latencies),
		TokensIn:  statutil.MedianInt(tokensIn),
		TokensOut: statutil.MedianInt(tokensOut),
		Attempts:  totalAttempts,
		Success:   true,
	}, true
}

type trialOutcome struct {
	axes      models.AxisMap
	latencyMs int64
	tokensIn  int
	tokensOut int
}

// runOneTrial dispatches one trial, making up to maxTrialAttempts
// dispatches in all, each retry with a different system-message variant, whenever the extracted code is
// absent or shorter than minCodeLength. Each dispatch
// itself goes through the key pool's network-level backoff retry.
func (r *Runner) runOneTrial(
	ctx context.Context,
	driver provider.Driver,
	key, model, envelopePrompt string,
	task models.Task,
	maxTokens int,
	batchTimestamp string,
	trialIndex int,
) (trialOutcome, int, bool) {
	var lastResult models.ChatResult
	attempts := 0

	for variant := 0; variant < maxTrialAttempts; variant++ {
		attempts++
		req := models.ChatRequest{
			Model: model,
			Messages: []models.ChatMessage{
				{Role: "system", Content: systemVariants[variant%len(systemVariants)]},
				{Role: "user", Content: envelopePrompt},
			},
			Temperature: defaultTemperature,
			MaxTokens:   maxTokens,
		}
		provider.AssertFair(req)

		var result models.ChatResult
		err := keypool.Retry(ctx, 2, func() error {
			var callErr error
			start := time.Now()
			result, callErr = driver.Call(ctx, key, req)
			result.LatencyMs = time.Since(start).Milliseconds()
			return callErr
		}, nil)
		if err != nil {
			continue
		}

		lastResult = result
		code, _ := sandbox.ExtractCode(result.Text, task.ExpectedSymbol)
		if len(strings.TrimSpace(code)) >= minCodeLength {
			break
		}
	}

	if lastResult.Text == "" {
		return trialOutcome{}, attempts, false
	}

	seed := int64(detseed.Hash(batchTimestamp, task.Slug, "fuzz", fmt.Sprint(trialIndex))) // deterministic per-trial fuzz seed derived from the batch timestamp
	evalResult, err := r.Evaluator.Evaluate(ctx, lastResult.Text, task, seed)
	if err != nil {
		return trialOutcome{}, attempts, false
	}

	return trialOutcome{
		axes:      evalResult.Axes,
		latencyMs: lastResult.LatencyMs,
		tokensIn:  lastResult.TokensIn,
		tokensOut: lastResult.TokensOut,
	}, attempts, true
}
