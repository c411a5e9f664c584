package provider_test

import (
	"context"
	"testing"

	"github.com/modelbench/engine/internal/provider"
	"github.com/modelbench/engine/pkg/models"
)

func TestNewCallErrorRetryabilityTable(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		message   string
		retryable bool
	}{
		{"rate limited", 429, "too many requests", true},
		{"service unavailable", 503, "", true},
		{"server error", 500, "", true},
		{"bad gateway", 502, "", true},
		{"client error not retryable", 400, "bad request", false},
		{"not found", 404, "model not found", false},
		{"timeout message on 200", 200, "request timeout", true},
		{"overloaded message", 400, "model is overloaded", true},
		{"rate limit message", 400, "rate limit exceeded", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := provider.NewCallError(c.status, c.message)
			if err.Retryable != c.retryable {
				t.Errorf("NewCallError(%d, %q).Retryable = %v, want %v", c.status, c.message, err.Retryable, c.retryable)
			}
			if provider.IsRetryable(err) != c.retryable {
				t.Errorf("IsRetryable = %v, want %v", provider.IsRetryable(err), c.retryable)
			}
		})
	}
}

func TestIsOverloadOnlyFlagsOverloadSignals(t *testing.T) {
	if !provider.IsOverload(provider.NewCallError(429, "")) {
		t.Error("expected 429 to count as overload")
	}
	if !provider.IsOverload(provider.NewCallError(400, "model overloaded, try later")) {
		t.Error("expected an overloaded message to count as overload")
	}
	if provider.IsOverload(provider.NewCallError(500, "internal error")) {
		t.Error("expected a generic 500 not to count as overload")
	}
}

func TestAssertFairPanicsOnForbiddenTemperature(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected AssertFair to panic on a non-canonical temperature")
		}
	}()
	provider.AssertFair(models.ChatRequest{Temperature: 0.7, MaxTokens: 1500})
}

func TestAssertFairAllowsCanonicalPhase1AndPhase2Shapes(t *testing.T) {
	provider.AssertFair(models.ChatRequest{Temperature: 0.1, MaxTokens: 1500})
	provider.AssertFair(models.ChatRequest{Temperature: 0.1, MaxTokens: 6000})
}

func TestExtractTextPicksFirstNonEmptyCandidate(t *testing.T) {
	got := provider.ExtractText("", "  ", "hello")
	if got != "hello" {
		t.Errorf("ExtractText = %q, want %q", got, "hello")
	}
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	if got := provider.EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
	if got := provider.EstimateTokens("abcde"); got != 2 {
		t.Errorf("EstimateTokens(5 chars) = %d, want 2", got)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := provider.NewRegistry()
	if _, ok := r.Get("openai"); ok {
		t.Fatal("expected empty registry to have no openai driver")
	}
	r.Register(fakeDriver{kind: "openai"})
	d, ok := r.Get("openai")
	if !ok || d.Kind() != "openai" {
		t.Errorf("Get(\"openai\") = %v, %v, want a driver with Kind()==openai", d, ok)
	}
}

type fakeDriver struct{ kind string }

func (f fakeDriver) Kind() string { return f.kind }
func (f fakeDriver) Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error) {
	return models.ChatResult{}, nil
}
func (f fakeDriver) Canary(ctx context.Context, apiKey, model string) error {
	return nil
}
