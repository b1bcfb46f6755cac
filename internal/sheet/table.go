// File: internal/sheet/table.go
package sheet

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

const (
	// keyScanRows bounds how many rows contribute column names.
	keyScanRows = 25
	// statRows bounds how many rows are scored per column.
	statRows = 200

	minOperationRatio = 0.5
	maxPolicyOpRatio  = 0.3
)

// Table is a sheet with a header row. Every row has one cell per column.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a table from a header and raw records. Blank and duplicate
// header names are made unique, short records are padded and blank records dropped.
func NewTable(header []string, records [][]string) Table {
	t := Table{Columns: uniqueColumns(header)}
	for _, rec := range records {
		row := make([]string, len(t.Columns))
		copy(row, rec)
		if blankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func uniqueColumns(header []string) []string {
	used := make(map[string]bool, len(header))
	cols := make([]string, len(header))
	for i, h := range header {
		base := strings.TrimSpace(h)
		if base == "" {
			base = "__EMPTY"
		}
		name := base
		for n := 1; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		cols[i] = name
	}
	return cols
}

func blankRow(row []string) bool {
	for _, c := range row {
		if collapse(c) != "" {
			return false
		}
	}
	return true
}

// collapse trims and collapses whitespace runs without changing case.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeHeader lowercases a column name and drops ':', '(', ')' and '-'.
func normalizeHeader(s string) string {
	s = strings.ToLower(collapse(s))
	return strings.NewReplacer(":", "", "(", "", ")", "", "-", "").Replace(s)
}

var knownOperations = map[string]bool{
	"view only":       true,
	"modify only":     true,
	"view and modify": true,
	"get only":        true,
	"put only":        true,
	"get and put":     true,
}

// IsOperation reports whether a cell reads like an access operation phrase.
func IsOperation(v string) bool {
	s := strings.ToLower(collapse(v))
	if s == "" {
		return false
	}
	if knownOperations[s] {
		return true
	}
	has := func(w string) bool { return strings.Contains(s, w) }
	if has("view") && has("modify") {
		return true
	}
	if has("get") && has("put") {
		return true
	}
	return strings.HasSuffix(s, " only") && (has("view") || has("modify") || has("get") || has("put"))
}

// OperationSections maps an operation phrase to the sections it grants.
func OperationSections(op string) []schemas.FieldKey {
	s := strings.ToLower(collapse(op))
	switch s {
	case "view only":
		return []schemas.FieldKey{schemas.FieldView}
	case "modify only":
		return []schemas.FieldKey{schemas.FieldModify}
	case "view and modify":
		return []schemas.FieldKey{schemas.FieldView, schemas.FieldModify}
	case "get only":
		return []schemas.FieldKey{schemas.FieldGet}
	case "put only":
		return []schemas.FieldKey{schemas.FieldPut}
	case "get and put":
		return []schemas.FieldKey{schemas.FieldGet, schemas.FieldPut}
	}

	var keys []schemas.FieldKey
	for _, c := range []struct {
		word string
		key  schemas.FieldKey
	}{
		{"view", schemas.FieldView},
		{"modify", schemas.FieldModify},
		{"get", schemas.FieldGet},
		{"put", schemas.FieldPut},
	} {
		if strings.Contains(s, c.word) {
			keys = append(keys, c.key)
		}
	}
	return keys
}

// ColumnStats scores how operation-like a column is.
type ColumnStats struct {
	Column    int
	NonEmpty  int
	OpMatches int
	OpRatio   float64
}

func (t Table) stats(col int) ColumnStats {
	st := ColumnStats{Column: col}
	for i, row := range t.Rows {
		if i >= statRows {
			break
		}
		s := collapse(row[col])
		if s == "" {
			continue
		}
		st.NonEmpty++
		if IsOperation(s) {
			st.OpMatches++
		}
	}
	if st.NonEmpty > 0 {
		st.OpRatio = float64(st.OpMatches) / float64(st.NonEmpty)
	}
	return st
}

// keys returns the columns that carry a value in any of the first rows.
func (t Table) keys() []int {
	present := make([]bool, len(t.Columns))
	for i, row := range t.Rows {
		if i >= keyScanRows {
			break
		}
		for c := range row {
			present[c] = true
		}
	}
	var out []int
	for c, ok := range present {
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func (t Table) pickByName(keys []int, exact, includes []string) int {
	for _, e := range exact {
		ne := normalizeHeader(e)
		for _, k := range keys {
			if normalizeHeader(t.Columns[k]) == ne {
				return k
			}
		}
	}
	for _, inc := range includes {
		ni := normalizeHeader(inc)
		for _, k := range keys {
			if strings.Contains(normalizeHeader(t.Columns[k]), ni) {
				return k
			}
		}
	}
	return -1
}

func (t Table) pickOperationByContent(keys []int) int {
	stats := make([]ColumnStats, 0, len(keys))
	for _, k := range keys {
		stats = append(stats, t.stats(k))
	}
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.OpMatches != b.OpMatches {
			return a.OpMatches > b.OpMatches
		}
		if a.OpRatio != b.OpRatio {
			return a.OpRatio > b.OpRatio
		}
		return a.NonEmpty > b.NonEmpty
	})
	if len(stats) == 0 {
		return -1
	}
	return stats[0].Column
}

func (t Table) pickPolicyByContent(keys []int, opCol int) int {
	var stats []ColumnStats
	for _, k := range keys {
		if k != opCol {
			stats = append(stats, t.stats(k))
		}
	}
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.OpRatio != b.OpRatio {
			return a.OpRatio < b.OpRatio
		}
		return a.NonEmpty > b.NonEmpty
	})
	if len(stats) == 0 {
		return -1
	}
	return stats[0].Column
}

// DetectColumns picks the operation and policy columns, by header name first and
// by content when names are missing or their content disagrees. -1 means none.
func (t Table) DetectColumns() (opCol, policyCol int) {
	keys := t.keys()

	opCol = t.pickByName(keys,
		[]string{"Operation"},
		[]string{"operation", "access", "permission"})
	policyCol = t.pickByName(keys,
		[]string{"Domain Security Policy", "Domain Security Policies"},
		[]string{"domain security policy", "domain security policies", "security policy", "domain policy"})

	if opCol < 0 {
		opCol = t.pickOperationByContent(keys)
	}
	if policyCol < 0 {
		policyCol = t.pickPolicyByContent(keys, opCol)
	}

	if opCol >= 0 && t.stats(opCol).OpRatio < minOperationRatio {
		opCol = t.pickOperationByContent(keys)
	}
	if policyCol >= 0 && t.stats(policyCol).OpRatio > maxPolicyOpRatio {
		policyCol = t.pickPolicyByContent(keys, opCol)
	}
	return opCol, policyCol
}

type cell struct {
	col  int
	raw  string
	text string
}

// extract reads one row's operation and policy, recovering from shifted columns.
func extract(row []string, opCol, policyCol int) (operation, policy string) {
	var cells []cell
	for c, raw := range row {
		if s := collapse(raw); s != "" {
			cells = append(cells, cell{col: c, raw: raw, text: s})
		}
	}
	byCol := func(col int) *cell {
		for i := range cells {
			if cells[i].col == col {
				return &cells[i]
			}
		}
		return nil
	}
	longest := func(cs []*cell) *cell {
		var best *cell
		for _, c := range cs {
			if best == nil || len(c.text) > len(best.text) {
				best = c
			}
		}
		return best
	}

	op := byCol(opCol)
	if op == nil {
		for i := range cells {
			if IsOperation(cells[i].text) {
				op = &cells[i]
				break
			}
		}
	}

	var candidates []*cell
	for i := range cells {
		if &cells[i] != op && !IsOperation(cells[i].text) {
			candidates = append(candidates, &cells[i])
		}
	}
	pol := byCol(policyCol)
	if pol == nil {
		pol = longest(candidates)
	}
	if pol != nil && IsOperation(pol.text) && len(candidates) > 0 {
		pol = longest(candidates)
	}
	if op != nil && pol != nil && !IsOperation(op.text) && IsOperation(pol.text) {
		op, pol = pol, op
	}

	if op != nil {
		operation = op.raw
	}
	if pol != nil {
		policy = pol.raw
	}
	return operation, policy
}

// BuildFromRows buckets each row's policy under the sections its operation
// grants. Values are de-duplicated case-insensitively in first-seen order.
func BuildFromRows(t Table) schemas.Sections {
	out := schemas.NewSections()
	opCol, policyCol := t.DetectColumns()

	for _, row := range t.Rows {
		operation, policy := extract(row, opCol, policyCol)
		text := collapse(policy)
		if text == "" || IsOperation(text) {
			continue
		}
		for _, k := range OperationSections(operation) {
			out.Add(k, text)
		}
	}
	return out
}
