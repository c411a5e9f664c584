package trial_test

import (
	"context"
	"testing"

	"github.com/modelbench/engine/internal/keypool"
	"github.com/modelbench/engine/internal/provider"
	"github.com/modelbench/engine/internal/sandbox"
	"github.com/modelbench/engine/internal/trial"
	"github.com/modelbench/engine/pkg/models"
)

// refusalDriver always returns prose with no extractable code, exercising
// the retry-then-evaluate path without ever touching the Python sandbox
// (sandbox.Evaluate short-circuits on empty extracted code).
type refusalDriver struct{ calls int }

func (d *refusalDriver) Kind() string { return "fakevendor" }

func (d *refusalDriver) Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error) {
	d.calls++
	return models.ChatResult{Text: "I'm sorry, I can't help with that.", TokensIn: 10, TokensOut: 5}, nil
}

func (d *refusalDriver) Canary(ctx context.Context, apiKey, model string) error { return nil }

func newTestRunner(t *testing.T, driver provider.Driver) *trial.Runner {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(driver)
	pool := keypool.New(map[string][]string{"fakevendor": {"key-1"}})
	return trial.NewRunner(reg, pool, sandbox.NewEvaluator())
}

func TestRunTaskAggregatesRefusalTrialsAsZeroCorrectness(t *testing.T) {
	r := newTestRunner(t, &refusalDriver{})
	task := models.Task{
		Slug:           "reverse-string",
		Difficulty:     models.DifficultyEasy,
		Prompt:         "Write a function {{alias}} that reverses a string.",
		ExpectedSymbol: "solve",
	}

	agg, ok := r.RunTask(context.Background(), task, trial.Options{
		Vendor:         "fakevendor",
		Model:          "fake-model-1",
		BatchTimestamp: "2026-07-30T00:00:00Z",
		Trials:         2,
	})

	if !ok {
		t.Fatal("expected RunTask to succeed: the evaluator returns a zero-correctness result, not an error, for unextractable code")
	}
	if agg.Axes["correctness"] != 0 {
		t.Errorf("correctness = %v, want 0 for a pure-refusal response", agg.Axes["correctness"])
	}
	if agg.Stability != 1 {
		t.Errorf("Stability = %v, want 1 when every trial's correctness sample is identical (stddev 0)", agg.Stability)
	}
	if agg.Attempts == 0 {
		t.Error("expected Attempts to count every dispatch including the within-trial retries")
	}
}

func TestRunTaskFailsWhenVendorNotRegistered(t *testing.T) {
	r := newTestRunner(t, &refusalDriver{})
	task := models.Task{Slug: "t", ExpectedSymbol: "solve", Prompt: "p"}

	_, ok := r.RunTask(context.Background(), task, trial.Options{
		Vendor:         "unregistered",
		Model:          "m",
		BatchTimestamp: "2026-07-30T00:00:00Z",
		Trials:         1,
	})
	if ok {
		t.Error("expected RunTask to fail when no driver is registered for the vendor")
	}
}

func TestRunTaskFailsWhenPoolHasNoCredentials(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&refusalDriver{})
	pool := keypool.New(map[string][]string{}) // no credentials for fakevendor
	r := trial.NewRunner(reg, pool, sandbox.NewEvaluator())

	task := models.Task{Slug: "t", ExpectedSymbol: "solve", Prompt: "p"}
	agg, ok := r.RunTask(context.Background(), task, trial.Options{
		Vendor:         "fakevendor",
		Model:          "m",
		BatchTimestamp: "2026-07-30T00:00:00Z",
		Trials:         1,
	})
	if ok {
		t.Error("expected RunTask to fail when the key pool has no credentials for the vendor")
	}
	if agg.Success {
		t.Error("expected a zero-value TaskAggregate with Success=false")
	}
}
