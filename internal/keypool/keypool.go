// Package keypool implements per-provider credential rotation and a
// persistent-overload skip list. Retry/backoff itself lives in
// backoff.go, built on github.com/cenkalti/backoff/v4.
package keypool

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// overloadState tracks consecutive overload-class failures for one model.
type overloadState struct {
	consecutiveFailures int
	skipUntil           time.Time
	reason              string
}

// Pool owns the ordered per-vendor credential lists and the
// process-wide overload tracker. Credential lists are immutable after
// construction; the tracker is the only mutable shared state
// and is guarded by a single mutex.
type Pool struct {
	keys map[string][]string // vendor -> ordered credentials

	mu      sync.Mutex
	tracker map[string]*overloadState // model name -> state
}

func New(keys map[string][]string) *Pool {
	return &Pool{
		keys:    keys,
		tracker: make(map[string]*overloadState),
	}
}

// KeyCount returns how many credentials are configured for a vendor.
func (p *Pool) KeyCount(vendor string) int {
	return len(p.keys[vendor])
}

// Configured reports whether at least one credential exists for vendor.
func (p *Pool) Configured(vendor string) bool {
	return p.KeyCount(vendor) > 0
}

// SelectKey returns the credential for trial index i of a task: key
// (i mod keyCount). The second return is false if the vendor has no
// configured credentials.
func (p *Pool) SelectKey(vendor string, trialIndex int) (string, bool) {
	keys := p.keys[vendor]
	if len(keys) == 0 {
		return "", false
	}
	return keys[trialIndex%len(keys)], true
}

// ── Persistent-overload skip list ───────────────────────────

// SkipStatus reports whether modelName is currently inside its skip
// window, and why.
func (p *Pool) SkipStatus(modelName string) (skip bool, reason string, skipUntil time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.tracker[modelName]
	if !ok {
		return false, "", time.Time{}
	}
	if time.Now().Before(st.skipUntil) {
		return true, st.reason, st.skipUntil
	}
	return false, "", time.Time{}
}

// RecordOverloadFailure increments the consecutive-failure counter for a
// model that just failed with an overload-class error (429/503/"overloaded").
// After 3 such failures it activates the skip window for
// min(60min, 5·2^(n−2) min).
func (p *Pool) RecordOverloadFailure(modelName, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.tracker[modelName]
	if !ok {
		st = &overloadState{}
		p.tracker[modelName] = st
	}
	st.consecutiveFailures++
	st.reason = reason

	if st.consecutiveFailures >= 3 {
		n := st.consecutiveFailures
		minutes := math.Min(60, 5*math.Pow(2, float64(n-2)))
		st.skipUntil = time.Now().Add(time.Duration(minutes * float64(time.Minute)))
	}
}

// ClearTracker resets a model's overload state after a successful run.
func (p *Pool) ClearTracker(modelName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracker, modelName)
}

// DescribeSkip renders a human-readable skip reason for logging.
func DescribeSkip(modelName, reason string, until time.Time) string {
	return fmt.Sprintf("model %q skipped until %s: %s", modelName, until.Format(time.RFC3339), reason)
}
