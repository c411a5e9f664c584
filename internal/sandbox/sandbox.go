// Package sandbox implements the sandboxed evaluator:
// extraction of code from a raw model response, a static symbol check,
// isolated execution under CPU/address-space/wall-clock limits with an
// import denylist and no `open` builtin, and axis-level scoring of the
// result.
//
// The Go/subprocess boundary is grounded on the control plane's
// internal/process/local.go: an embedded script template is extracted
// once to a temp directory, and each invocation is run with
// exec.CommandContext bounded by a context timeout. Unlike that static
// template, the harness here is parameterised by task-specific content
// (the submission source, the expected symbol, and the test cases) which
// travels as a per-invocation JSON payload file with a unique name,
// satisfying the "generate sandbox source deterministically from the
// task definition" guidance without string-interpolating untrusted code
// directly into the Python source.
package sandbox

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/modelbench/engine/pkg/models"
)

//go:embed templates/harness.py.tmpl
var harnessTemplateFS embed.FS

// Limits are the fixed resource bounds for one evaluation run.
var Limits = struct {
	CPUSeconds        int
	AddressSpaceBytes int64
	AlarmSeconds      int
	WallClockTimeout  time.Duration
}{
	CPUSeconds:        2,
	AddressSpaceBytes: 512 * 1024 * 1024,
	AlarmSeconds:      5,
	WallClockTimeout:  5*time.Second + 2*time.Second, // Go-side backstop beyond the Python alarm
}

// BannedImports are denylisted at the sandbox's guarded __import__.
var BannedImports = []string{
	"subprocess", "socket", "urllib", "requests", "http",
	"ftplib", "smtplib", "shutil", "pathlib",
}

// BannedCallTokens are substrings whose presence in extracted source
// drives the `safety` axis and a small `codeQuality` penalty, independent
// of whether the sandbox actually executes them.
var BannedCallTokens = []string{
	"subprocess", "socket", "urllib", "requests", "os.system",
	"eval(", "exec(", "__import__",
}

// Evaluator runs submissions through the Python subprocess sandbox.
type Evaluator struct {
	pythonBin string

	mu          sync.Mutex
	harnessPath string
	scriptDir   string
}

// NewEvaluator constructs an Evaluator. findPython looks for python3
// then python on PATH.
func NewEvaluator() *Evaluator {
	return &Evaluator{pythonBin: findPython()}
}

func findPython() string {
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Result is the outcome of evaluating one raw model response against one
// task, including the full axis vector.
type Result struct {
	Axes       models.AxisMap
	Passed     int
	Total      int
	ParseOK    bool
	SymbolOK   bool
	TimedOut   bool
	RawCode    string
	FormatKind string // "plain" | "fenced_clean" | "fenced_prose" | "neither"
}

type harnessResult struct {
	ParseOK    bool   `json:"parse_ok"`
	SymbolOK   bool   `json:"symbol_found"`
	Passed     int    `json:"passed"`
	Total      int    `json:"total"`
	Error      string `json:"error"`
}

type payload struct {
	Code           string            `json:"code"`
	ExpectedSymbol string            `json:"expected_symbol"`
	TestCases      []payloadTestCase `json:"test_cases"`
}

type payloadTestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// Evaluate runs the full extraction → static-check → execution → scoring
// pipeline for one (raw model response, task) pair. seed drives the
// task's fuzz generator; task.ExpectedSymbol has already been rewritten
// to the batch's symbol alias by the caller (the Trial Runner).
func (e *Evaluator) Evaluate(ctx context.Context, rawResponse string, task models.Task, seed int64) (Result, error) {
	code, formatKind := ExtractCode(rawResponse, task.ExpectedSymbol)

	cases := append([]models.TestCase{}, task.TestCases...)
	if task.FuzzStrategy != nil {
		cases = append(cases, task.FuzzStrategy(seed)...)
	}

	res := Result{RawCode: code, FormatKind: formatKind, Total: len(cases)}

	if strings.TrimSpace(code) == "" {
		res.Axes = axesForFailure(task, formatKind, code)
		return res, nil
	}

	hr, timedOut, err := e.runHarness(ctx, code, task.ExpectedSymbol, cases)
	if err != nil {
		res.Axes = axesForFailure(task, formatKind, code)
		return res, nil
	}

	res.ParseOK = hr.ParseOK
	res.SymbolOK = hr.SymbolOK
	res.Passed = hr.Passed
	res.Total = hr.Total
	res.TimedOut = timedOut

	res.Axes = computeAxes(task, code, formatKind, hr)
	return res, nil
}

// runHarness extracts the embedded harness once (cached across calls) and
// runs one invocation against a uniquely-named payload file.
func (e *Evaluator) runHarness(ctx context.Context, code, expectedSymbol string, cases []models.TestCase) (harnessResult, bool, error) {
	if e.pythonBin == "" {
		return harnessResult{}, false, fmt.Errorf("sandbox: python3 not found in PATH")
	}

	harnessPath, err := e.ensureHarness()
	if err != nil {
		return harnessResult{}, false, err
	}

	payloadCases := make([]payloadTestCase, len(cases))
	for i, c := range cases {
		payloadCases[i] = payloadTestCase{Input: c.InputLiteral, Expected: c.ExpectedLiteral}
	}
	p := payload{Code: code, ExpectedSymbol: expectedSymbol, TestCases: payloadCases}

	payloadFile, err := os.CreateTemp(e.scriptDir, "payload-*.json")
	if err != nil {
		return harnessResult{}, false, err
	}
	defer os.Remove(payloadFile.Name())

	enc := json.NewEncoder(payloadFile)
	if err := enc.Encode(p); err != nil {
		payloadFile.Close()
		return harnessResult{}, false, err
	}
	payloadFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, Limits.WallClockTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.pythonBin, harnessPath, payloadFile.Name())
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil // the harness never writes diagnostics to stderr

	runErr := cmd.Run()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	if stdout.Len() == 0 {
		if runErr != nil {
			return harnessResult{}, timedOut, fmt.Errorf("sandbox: subprocess failed: %w", runErr)
		}
		return harnessResult{}, timedOut, fmt.Errorf("sandbox: empty output")
	}

	var hr harnessResult
	if err := json.Unmarshal(stdout.Bytes(), &hr); err != nil {
		return harnessResult{}, timedOut, fmt.Errorf("sandbox: decode harness output: %w", err)
	}
	return hr, timedOut, nil
}

func (e *Evaluator) ensureHarness() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.harnessPath != "" {
		if _, err := os.Stat(e.harnessPath); err == nil {
			return e.harnessPath, nil
		}
	}

	dir, err := os.MkdirTemp("", "engine-sandbox-*")
	if err != nil {
		return "", err
	}
	e.scriptDir = dir

	raw, err := harnessTemplateFS.ReadFile("templates/harness.py.tmpl")
	if err != nil {
		return "", fmt.Errorf("sandbox: read embedded harness template: %w", err)
	}

	tmpl, err := template.New("harness").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("sandbox: parse harness template: %w", err)
	}

	var out bytes.Buffer
	err = tmpl.Execute(&out, struct {
		CPUSeconds        int
		AddressSpaceBytes int64
		AlarmSeconds      int
		BannedImportsPy   string
	}{
		CPUSeconds:        Limits.CPUSeconds,
		AddressSpaceBytes: Limits.AddressSpaceBytes,
		AlarmSeconds:      Limits.AlarmSeconds,
		BannedImportsPy:   pyStringSet(BannedImports),
	})
	if err != nil {
		return "", fmt.Errorf("sandbox: render harness template: %w", err)
	}

	path := filepath.Join(dir, "harness.py")
	if err := os.WriteFile(path, out.Bytes(), 0o755); err != nil {
		return "", err
	}
	e.harnessPath = path
	return path, nil
}

func pyStringSet(items []string) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, s := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q", s))
	}
	sb.WriteByte('}')
	return sb.String()
}

// ── Extraction ───────────────────────────────────────────────

var fencedBlockRe = regexp.MustCompile("(?s)```(?:python)?\\s*\\n(.*?)```")
var apologeticPrefixRe = regexp.MustCompile(`(?i)^(sure|here's|here is|certainly|i can help|below is|i apologi[sz]e|sorry|apologies)[^\n]*\n`)
var defOrClassRe = regexp.MustCompile(`(?m)^(def |class )`)
var topLevelCodeRe = regexp.MustCompile(`^(def |class |@|#|import |from |if __name__|[)\]}]|[A-Za-z_][A-Za-z0-9_.]*\s*(=|\())`)

// ExtractCode implements the extraction procedure: prefer a fenced block
// containing the expected symbol, else the longest fenced block, else a
// slice starting at the first def/class line and ending before the first
// later line that is unindented and does not look like top-level Python
// (trailing prose). It also classifies the raw response's shape for the
// `format` axis.
func ExtractCode(raw, expectedSymbol string) (code string, formatKind string) {
	blocks := fencedBlockRe.FindAllStringSubmatch(raw, -1)

	var chosen string
	if len(blocks) > 0 {
		for _, b := range blocks {
			if strings.Contains(b[1], expectedSymbol) {
				chosen = b[1]
				break
			}
		}
		if chosen == "" {
			longest := ""
			for _, b := range blocks {
				if len(b[1]) > len(longest) {
					longest = b[1]
				}
			}
			chosen = longest
		}
	}

	if chosen == "" {
		if loc := defOrClassRe.FindStringIndex(raw); loc != nil {
			lines := strings.Split(raw[loc[0]:], "\n")
			end := len(lines)
			for i := 1; i < len(lines); i++ {
				l := lines[i]
				if strings.TrimSpace(l) == "" || l[0] == ' ' || l[0] == '\t' || topLevelCodeRe.MatchString(l) {
					continue
				}
				end = i
				break
			}
			chosen = strings.Join(lines[:end], "\n")
		}
	}

	chosen = strings.TrimSpace(chosen)
	chosen = apologeticPrefixRe.ReplaceAllString(chosen, "")
	chosen = strings.Trim(chosen, "`")
	chosen = strings.TrimSpace(chosen)

	formatKind = classifyFormat(raw, blocks)
	return chosen, formatKind
}

func classifyFormat(raw string, blocks [][]string) string {
	trimmed := strings.TrimSpace(raw)
	hasDefAtStart := defOrClassRe.MatchString(trimmed[:min(len(trimmed), 40)])

	switch {
	case len(blocks) == 1 && strings.TrimSpace(strings.ReplaceAll(raw, blocks[0][0], "")) == "":
		return "fenced_clean"
	case len(blocks) >= 1:
		return "fenced_prose"
	case hasDefAtStart:
		return "plain"
	default:
		return "neither"
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ── Axis scoring ─────────────────────────────────────────────

func formatAxis(kind string) float64 {
	switch kind {
	case "plain", "fenced_clean":
		return 1.0
	case "fenced_prose":
		return 0.8
	default:
		return 0.3
	}
}

func complexityAxis(task models.Task, parseOK, symbolOK bool) float64 {
	if !parseOK || !symbolOK {
		return 0
	}
	switch task.Difficulty {
	case models.DifficultyEasy:
		return 0.3
	case models.DifficultyMedium:
		return 0.6
	case models.DifficultyHard:
		return 0.9
	default:
		return 0
	}
}

func containsBannedToken(code string) bool {
	for _, tok := range BannedCallTokens {
		if strings.Contains(code, tok) {
			return true
		}
	}
	return false
}

func safetyAxis(code string) float64 {
	if containsBannedToken(code) {
		return 0.2
	}
	return 1.0
}

// codeQualityAxis is a bounded sum of lightweight, easily-checked
// signals: length sanity, absence of banned calls, idiomatic structure,
// type hints, a non-trivial comment, an explicit return — with small
// negative terms for excessive length, `global`, and `lambda`.
func codeQualityAxis(code string) float64 {
	score := 0.0
	lines := strings.Split(code, "\n")

	if len(code) > 20 && len(code) < 4000 {
		score += 0.25
	} else if len(code) >= 4000 {
		score -= 0.1
	}

	if !containsBannedToken(code) {
		score += 0.2
	}

	if strings.Contains(code, "def ") {
		score += 0.15
	}
	if strings.Contains(code, "->") || regexp.MustCompile(`:\s*(int|str|float|bool|list|dict|List|Dict|Optional)`).MatchString(code) {
		score += 0.15
	}
	hasComment := false
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "#") && len(t) > 3 {
			hasComment = true
			break
		}
	}
	if hasComment {
		score += 0.1
	}
	if strings.Contains(code, "return ") || strings.Contains(code, "return(") {
		score += 0.15
	}

	if strings.Contains(code, "global ") {
		score -= 0.1
	}
	if strings.Contains(code, "lambda") {
		score -= 0.05
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func edgeCasesAxis(correctness float64, nearPerfect bool) float64 {
	bonus := 0.0
	if nearPerfect {
		bonus = 1.0
	}
	v := 0.8*correctness + 0.2*bonus
	if v > 1 {
		v = 1
	}
	return v
}

func debuggingAxis(task models.Task, correctness float64) float64 {
	if strings.Contains(strings.ToLower(string(task.Difficulty))+task.Slug, "debug") {
		return correctness
	}
	v := correctness + 0.05
	if v > 1 {
		v = 1
	}
	return v
}

// computeAxes assembles the full nine-axis vector for one task result.
func computeAxes(task models.Task, code, formatKind string, hr harnessResult) models.AxisMap {
	correctness := 0.0
	if hr.Total > 0 {
		correctness = float64(hr.Passed) / float64(hr.Total)
	}

	return models.AxisMap{
		"correctness": correctness,
		"complexity":  complexityAxis(task, hr.ParseOK, hr.SymbolOK),
		"codeQuality": codeQualityAxis(code),
		"format":      formatAxis(formatKind),
		"safety":      safetyAxis(code),
		"edgeCases":   edgeCasesAxis(correctness, correctness >= 0.95),
		"debugging":   debuggingAxis(task, correctness),
		// efficiency and stability are not set by the evaluator: the
		// orchestrator assigns efficiency from throughput and the trial
		// runner computes stability across trials.
		"efficiency": 0,
		"stability":  0,
	}
}

func axesForFailure(task models.Task, formatKind, code string) models.AxisMap {
	return models.AxisMap{
		"correctness": 0,
		"complexity":  0,
		"codeQuality": codeQualityAxis(code),
		"format":      formatAxis(formatKind),
		"safety":      safetyAxis(code),
		"edgeCases":   0,
		"debugging":   debuggingAxis(task, 0),
		"efficiency":  0,
		"stability":   0,
	}
}
