// Package tasks holds the fixed, in-process code-generation task
// catalogue: ten tasks across three difficulty tiers, each
// with a natural-language prompt templated on "{{symbol}}" (replaced by
// the Trial Runner's per-batch symbol alias), fixed test cases, and a
// deterministic fuzz generator producing additional hidden cases.
//
// Test-case literals are Python source text: the sandbox parses them
// with ast.literal_eval, never eval(), so only literal data — not
// expressions — can appear on either side.
package tasks

import (
	"fmt"
	"math/rand"

	"github.com/modelbench/engine/pkg/models"
)

// Catalogue is the fixed, ordered list of all ten tasks. It is never
// mutated at runtime; new task versions are introduced as new slugs.
var Catalogue = []models.Task{
	reverseString,
	isPalindrome,
	fizzbuzzRange,
	mergeIntervals,
	wordFrequency,
	binarySearchRotated,
	lruCache,
	longestIncreasingSubsequence,
	topologicalSort,
	medianOfStream,
}

// BySlug looks up a task by its unique slug.
func BySlug(slug string) (models.Task, bool) {
	for _, t := range Catalogue {
		if t.Slug == slug {
			return t, true
		}
	}
	return models.Task{}, false
}

var reverseString = models.Task{
	Slug:       "reverse_string",
	Difficulty: models.DifficultyEasy,
	Prompt: "Write a Python function `{{symbol}}(s)` that returns the input string `s` " +
		"reversed. Return only the function definition.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "('hello',)", ExpectedLiteral: "'olleh'"},
		{InputLiteral: "('',)", ExpectedLiteral: "''"},
		{InputLiteral: "('a',)", ExpectedLiteral: "'a'"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase {
		r := rand.New(rand.NewSource(seed))
		var out []models.TestCase
		for i := 0; i < 3; i++ {
			s := randomASCII(r, r.Intn(12)+1)
			out = append(out, models.TestCase{
				InputLiteral:    fmt.Sprintf("(%q,)", s),
				ExpectedLiteral: fmt.Sprintf("%q", reverse(s)),
			})
		}
		return out
	},
}

var isPalindrome = models.Task{
	Slug:       "is_palindrome",
	Difficulty: models.DifficultyEasy,
	Prompt: "Write a Python function `{{symbol}}(s)` that returns True if the string `s` " +
		"reads the same forwards and backwards (case-sensitive, no normalisation), else False.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "('racecar',)", ExpectedLiteral: "True"},
		{InputLiteral: "('hello',)", ExpectedLiteral: "False"},
		{InputLiteral: "('',)", ExpectedLiteral: "True"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase {
		r := rand.New(rand.NewSource(seed))
		var out []models.TestCase
		for i := 0; i < 3; i++ {
			s := randomASCII(r, r.Intn(8)+1)
			expected := "False"
			if s == reverse(s) {
				expected = "True"
			}
			out = append(out, models.TestCase{
				InputLiteral:    fmt.Sprintf("(%q,)", s),
				ExpectedLiteral: expected,
			})
		}
		return out
	},
}

var fizzbuzzRange = models.Task{
	Slug:       "fizzbuzz_range",
	Difficulty: models.DifficultyEasy,
	Prompt: "Write a Python function `{{symbol}}(n)` that returns a list of strings for " +
		"integers 1..n inclusive: \"Fizz\" for multiples of 3, \"Buzz\" for multiples of 5, " +
		"\"FizzBuzz\" for multiples of both, else the number as a string.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "(1,)", ExpectedLiteral: "['1']"},
		{InputLiteral: "(15,)", ExpectedLiteral: fizzbuzzLiteral(15)},
		{InputLiteral: "(5,)", ExpectedLiteral: fizzbuzzLiteral(5)},
	},
	FuzzStrategy: func(seed int64) []models.TestCase {
		r := rand.New(rand.NewSource(seed))
		var out []models.TestCase
		for i := 0; i < 2; i++ {
			n := r.Intn(30) + 1
			out = append(out, models.TestCase{
				InputLiteral:    fmt.Sprintf("(%d,)", n),
				ExpectedLiteral: fizzbuzzLiteral(n),
			})
		}
		return out
	},
}

var mergeIntervals = models.Task{
	Slug:       "merge_intervals",
	Difficulty: models.DifficultyMedium,
	Prompt: "Write a Python function `{{symbol}}(intervals)` that takes a list of " +
		"[start, end] pairs and returns a new list with all overlapping intervals merged, " +
		"sorted by start.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "([[1,3],[2,6],[8,10],[15,18]],)", ExpectedLiteral: "[[1, 6], [8, 10], [15, 18]]"},
		{InputLiteral: "([[1,4],[4,5]],)", ExpectedLiteral: "[[1, 5]]"},
		{InputLiteral: "([],)", ExpectedLiteral: "[]"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase {
		return nil
	},
}

var wordFrequency = models.Task{
	Slug:       "word_frequency",
	Difficulty: models.DifficultyMedium,
	Prompt: "Write a Python function `{{symbol}}(text)` that returns a dict mapping each " +
		"lowercase word (split on whitespace, punctuation stripped) to its occurrence count.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "('the cat sat on the mat',)", ExpectedLiteral: "{'the': 2, 'cat': 1, 'sat': 1, 'on': 1, 'mat': 1}"},
		{InputLiteral: "('',)", ExpectedLiteral: "{}"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

var binarySearchRotated = models.Task{
	Slug:       "binary_search_rotated",
	Difficulty: models.DifficultyMedium,
	Prompt: "Write a Python function `{{symbol}}(nums, target)` that performs an O(log n) " +
		"search for `target` in a rotated, ascending, duplicate-free array `nums`, " +
		"returning its index or -1 if absent.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "([4,5,6,7,0,1,2], 0)", ExpectedLiteral: "4"},
		{InputLiteral: "([4,5,6,7,0,1,2], 3)", ExpectedLiteral: "-1"},
		{InputLiteral: "([1], 1)", ExpectedLiteral: "0"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

var lruCache = models.Task{
	Slug:       "lru_cache",
	Difficulty: models.DifficultyMedium,
	Prompt: "Write a Python function `{{symbol}}(capacity, ops)` that simulates an LRU " +
		"cache of the given capacity. `ops` is a list of (\"put\", key, value) or " +
		"(\"get\", key) tuples, applied in order. Return a list with the result of each " +
		"\"get\" (the value, or -1 if absent), in order.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{
			InputLiteral:    `(2, [("put", 1, 1), ("put", 2, 2), ("get", 1), ("put", 3, 3), ("get", 2), ("get", 3)])`,
			ExpectedLiteral: "[1, -1, 3]",
		},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

var longestIncreasingSubsequence = models.Task{
	Slug:       "longest_increasing_subsequence",
	Difficulty: models.DifficultyHard,
	Prompt: "Write a Python function `{{symbol}}(nums)` that returns the length of the " +
		"longest strictly increasing subsequence of `nums`, in O(n log n).",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "([10,9,2,5,3,7,101,18],)", ExpectedLiteral: "4"},
		{InputLiteral: "([0,1,0,3,2,3],)", ExpectedLiteral: "4"},
		{InputLiteral: "([],)", ExpectedLiteral: "0"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

var topologicalSort = models.Task{
	Slug:       "topological_sort",
	Difficulty: models.DifficultyHard,
	Prompt: "Write a Python function `{{symbol}}(n, edges)` that returns any valid " +
		"topological ordering (as a list of ints 0..n-1) of a DAG with `n` nodes and " +
		"`edges` as (from, to) pairs, or an empty list if a cycle makes that impossible.",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "(4, [(1,0),(2,0),(3,1),(3,2)])", ExpectedLiteral: "[3, 1, 2, 0]"},
		{InputLiteral: "(2, [(0,1),(1,0)])", ExpectedLiteral: "[]"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

var medianOfStream = models.Task{
	Slug:       "median_of_stream",
	Difficulty: models.DifficultyHard,
	Prompt: "Write a Python function `{{symbol}}(stream)` that, for a list of numbers " +
		"`stream` arriving one at a time, returns a list with the running median after " +
		"each insertion (as a float).",
	ExpectedSymbol: "{{symbol}}",
	TestCases: []models.TestCase{
		{InputLiteral: "([2, 1, 5, 7, 2, 0, 5],)", ExpectedLiteral: "[2.0, 1.5, 2.0, 3.5, 2.0, 1.5, 2.0]"},
	},
	FuzzStrategy: func(seed int64) []models.TestCase { return nil },
}

// ── small helpers ────────────────────────────────────────────

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func randomASCII(r *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}

func fizzbuzzLiteral(n int) string {
	out := "["
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		switch {
		case i%15 == 0:
			out += "'FizzBuzz'"
		case i%3 == 0:
			out += "'Fizz'"
		case i%5 == 0:
			out += "'Buzz'"
		default:
			out += fmt.Sprintf("'%d'", i)
		}
	}
	out += "]"
	return out
}
