// Package provider implements the uniform adapter layer over several
// vendor LLM HTTP APIs, following the ModelRouter/ProviderDriver shape
// from the control-plane's router package: one small struct per vendor
// implementing a shared interface, registered by name in a mutex-protected
// registry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/modelbench/engine/pkg/models"
)

// Driver is implemented once per vendor. Call does not manage credential
// rotation itself — the key pool selects which key to pass on each
// invocation, keeping the adapter layer key-agnostic.
type Driver interface {
	// Kind returns the vendor identifier this driver was registered under.
	Kind() string
	// Call issues one chat completion request using the given API key.
	Call(ctx context.Context, apiKey string, req models.ChatRequest) (models.ChatResult, error)
	// Canary issues a minimal request used to validate that a model name
	// and credential pair are usable before a full sweep begins.
	Canary(ctx context.Context, apiKey, model string) error
}

// ModelLister is optionally implemented by drivers that can enumerate
// models from the vendor's API.
type ModelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}

// ── Errors ───────────────────────────────────────────────────

// CallError classifies a provider failure as retryable or not, per a
// fixed status/message rule set.
type CallError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider call failed (status=%d retryable=%v): %s", e.StatusCode, e.Retryable, e.Message)
}

// NewCallError classifies an HTTP status code and message into a
// CallError, applying a fixed retryability rule: retry on 429, 503, any
// 5xx, or a message containing one of a fixed set of transient-failure
// substrings.
func NewCallError(statusCode int, message string) *CallError {
	return &CallError{
		StatusCode: statusCode,
		Message:    message,
		Retryable:  isRetryableStatus(statusCode) || isRetryableMessage(message),
	}
}

func isRetryableStatus(status int) bool {
	if status == 429 || status == 503 {
		return true
	}
	return status >= 500 && status < 600
}

var retryableSubstrings = []string{
	"timeout", "network", "connection", "overloaded", "rate limit",
}

func isRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// IsOverload reports whether the error should count against the
// persistent-overload skip list: only statuses 429/503, or an
// "overloaded" message, increment the tracker.
func IsOverload(err error) bool {
	var ce *CallError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.StatusCode == 429 || ce.StatusCode == 503 {
		return true
	}
	return strings.Contains(strings.ToLower(ce.Message), "overloaded")
}

// IsRetryable reports whether err should be retried by the key pool's
// backoff policy.
func IsRetryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// ── Forbidden keys / fairness assertion ─────────────────────

// ForbiddenParams lists request parameters adapters must never add on
// their own. No dispatch path reads this list; models.ChatRequest has no
// field for any of these keys, so none of them can travel through it.
var ForbiddenParams = []string{
	"reasoning", "top_p", "seed", "stop", "response_format", "logprobs", "bias",
}

// AssertFair panics if req's temperature or max-tokens deviates from the
// canonical values — a mismatch represents a bug in the caller, not a
// runtime condition, per the design guidance to reserve panics for
// programmer errors. It checks only these two fields.
func AssertFair(req models.ChatRequest) {
	if req.Temperature != 0.1 {
		panic(fmt.Sprintf("provider: fairness violation, temperature=%v want 0.1", req.Temperature))
	}
	if req.MaxTokens != 1500 && req.MaxTokens != 1500*4 {
		// Phase-2 retries raise maxTokens ×4 (capped); both values are fair.
		panic(fmt.Sprintf("provider: fairness violation, maxTokens=%v want 1500 or 6000", req.MaxTokens))
	}
}

// ── Text / token extraction ──────────────────────────────────

// ExtractText returns the first candidate that is not blank after
// trimming whitespace, or "" if every candidate is blank. Callers pass
// the candidate strings already decoded from their wire shape, in their
// own fallback order.
func ExtractText(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// EstimateTokens is the final fallback in the token-count chain:
// ceil(len(text)/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4.0))
}

// ── Registry ─────────────────────────────────────────────────

// Registry is a mutex-protected lookup of Driver by vendor name.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
}

func (r *Registry) Get(vendor string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[vendor]
	return d, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		out = append(out, k)
	}
	return out
}
