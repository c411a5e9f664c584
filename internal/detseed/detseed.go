// Package detseed centralises every deterministic, seed-derived decision
// the engine makes during a sweep: task selection, symbol aliasing, and
// prompt-envelope rotation. The batch timestamp is the only seed;
// everything here is a pure function of it, so nothing in orchestration
// re-reads the clock mid-sweep.
package detseed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/modelbench/engine/pkg/models"
)

// Hash combines the given parts into a deterministic uint64. It is used
// as the single primitive behind task selection, symbol aliasing, and
// envelope rotation — a cryptographic hash is stdlib-only because no
// example in this codebase imports a non-cryptographic hash library, and
// SHA-256 trivially satisfies the determinism requirement.
func Hash(parts ...string) uint64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator, avoids "ab","c" colliding with "a","bc"
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// SelectTasks deterministically shuffles the full catalogue by
// hash(batchTimestamp) and returns the first n.
func SelectTasks(all []models.Task, batchTimestamp string, n int) []models.Task {
	shuffled := make([]models.Task, len(all))
	copy(shuffled, all)

	seed := Hash(batchTimestamp)
	// Deterministic Fisher-Yates driven by a simple splitmix64-style
	// stream derived from seed, so the same batchTimestamp always
	// yields the same ordering.
	state := seed
	next := func() uint64 {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		return z ^ (z >> 31)
	}
	for i := len(shuffled) - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

// SymbolAlias derives a deterministic top-level symbol name from the
// batch seed and task slug, killing provider-side
// response caching while leaving the task semantically identical.
func SymbolAlias(batchTimestamp, slug string) string {
	h := Hash(batchTimestamp, slug, "alias")
	return fmt.Sprintf("solve_%08x", uint32(h))
}

// EnvelopeIndices picks the rule phrasing (0 or 1) and layout shape
// (0, 1, or 2) for the prompt envelope rotation:
// two rule phrasings × three layout shapes, selected by
// hash(batchTimestamp, slug, "env").
func EnvelopeIndices(batchTimestamp, slug string) (ruleIdx, layoutIdx int) {
	h := Hash(batchTimestamp, slug, "env")
	ruleIdx = int(h % 2)
	layoutIdx = int((h / 2) % 3)
	return
}

// RenderPrompt substitutes the "{{symbol}}" placeholder in a task prompt
// template with the batch's derived alias.
func RenderPrompt(template, alias string) string {
	return strings.ReplaceAll(template, "{{symbol}}", alias)
}
