package sandbox_test

import (
	"strings"
	"testing"

	"github.com/modelbench/engine/internal/sandbox"
)

func TestExtractCodePrefersFencedBlockContainingExpectedSymbol(t *testing.T) {
	raw := "Sure, here's a helper:\n```python\ndef noise():\n    pass\n```\nAnd the real answer:\n```python\ndef solve(x):\n    return x + 1\n```\nHope that helps!"
	code, kind := sandbox.ExtractCode(raw, "solve")
	if !strings.Contains(code, "def solve") {
		t.Errorf("expected extracted code to contain the expected symbol's definition, got %q", code)
	}
	if kind == "" {
		t.Error("expected a non-empty format classification")
	}
}

func TestExtractCodeFallsBackToBareDefWithoutFencing(t *testing.T) {
	raw := "Here is the solution.\n\ndef solve(x):\n    return x * 2\n\nLet me know if you need anything else."
	code, _ := sandbox.ExtractCode(raw, "solve")
	if !strings.Contains(code, "def solve") {
		t.Errorf("expected a bare def to be extracted even without code fencing, got %q", code)
	}
	if strings.Contains(code, "Let me know") {
		t.Errorf("expected trailing prose to be excluded, got %q", code)
	}
}

func TestExtractCodeStripsApologeticPrefixAndBackticks(t *testing.T) {
	raw := "```\nI apologize, here is the corrected code:\ndef solve(x):\n    return x\n```"
	code, _ := sandbox.ExtractCode(raw, "solve")
	if strings.HasPrefix(code, "`") {
		t.Errorf("expected leading backticks to be stripped, got %q", code)
	}
	if !strings.HasPrefix(code, "def solve") {
		t.Errorf("expected the apologetic prefix line to be stripped, got %q", code)
	}
}

func TestExtractCodeReturnsEmptyForPureProse(t *testing.T) {
	code, kind := sandbox.ExtractCode("I'm not able to help with that request.", "solve")
	if strings.TrimSpace(code) != "" {
		t.Errorf("expected no code extracted from pure prose, got %q", code)
	}
	if kind != "neither" {
		t.Errorf("FormatKind = %q, want %q for prose with no code at all", kind, "neither")
	}
}
