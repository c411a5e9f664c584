// Package pricing holds a small, operator-configurable table of
// per-million-token rates. It is not wired into the scoring formula and
// no other package of the engine imports it; the Read API has no price
// sort key. The table is not validated against any vendor invoice API
// (see DESIGN.md's Open Question decisions).
package pricing

import "sync"

// Rate is the USD cost per million input/output tokens for one model.
type Rate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultTable is a static snapshot of public list pricing at the time
// this engine was built, intended to be overridden by an operator via
// Table.Set rather than kept perpetually accurate.
var defaultTable = map[string]Rate{
	"gpt-4o":             {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":        {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"claude-3-5-sonnet":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku":   {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"gemini-1.5-pro":     {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	"gemini-1.5-flash":   {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"grok-2":             {InputPerMillion: 2.00, OutputPerMillion: 10.00},
	"deepseek-chat":      {InputPerMillion: 0.27, OutputPerMillion: 1.10},
	"kimi-k2":            {InputPerMillion: 0.60, OutputPerMillion: 2.50},
	"glm-4":              {InputPerMillion: 0.50, OutputPerMillion: 1.50},
}

// Table is a mutex-protected, operator-mutable pricing table.
type Table struct {
	mu   sync.RWMutex
	data map[string]Rate
}

func NewTable() *Table {
	t := &Table{data: make(map[string]Rate, len(defaultTable))}
	for k, v := range defaultTable {
		t.data[k] = v
	}
	return t
}

func (t *Table) Get(modelName string) (Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.data[modelName]
	return r, ok
}

func (t *Table) Set(modelName string, r Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[modelName] = r
}

// EstimatedCost returns the dollar cost of one run, or 0 if the model is
// not in the table.
func (t *Table) EstimatedCost(modelName string, tokensIn, tokensOut int) float64 {
	r, ok := t.Get(modelName)
	if !ok {
		return 0
	}
	return float64(tokensIn)/1_000_000*r.InputPerMillion + float64(tokensOut)/1_000_000*r.OutputPerMillion
}
