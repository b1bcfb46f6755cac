package schemas

import (
	"fmt"
	"strings"
)

// FieldKey identifies one of the four access policy lists on the permissions form.
type FieldKey string

const (
	FieldModify FieldKey = "MODIFY"
	FieldView   FieldKey = "VIEW"
	FieldPut    FieldKey = "PUT"
	FieldGet    FieldKey = "GET"
)

// FieldOrder is the fixed order in which sections are applied and printed.
var FieldOrder = []FieldKey{FieldModify, FieldView, FieldPut, FieldGet}

// ParseFieldKey maps a case-insensitive name (with or without a trailing colon) to a FieldKey.
func ParseFieldKey(s string) (FieldKey, error) {
	k := FieldKey(strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(s), ":")))
	switch k {
	case FieldModify, FieldView, FieldPut, FieldGet:
		return k, nil
	}
	return "", fmt.Errorf("unknown field key %q (expected MODIFY, VIEW, PUT or GET)", s)
}

// Sections maps each field to its ordered list of policy names.
type Sections map[FieldKey][]string

// NewSections returns a Sections value with all four keys present and empty.
func NewSections() Sections {
	s := make(Sections, len(FieldOrder))
	for _, k := range FieldOrder {
		s[k] = []string{}
	}
	return s
}

// Add appends value to key unless an equal value (case-insensitive) is already present.
// Blank values are ignored.
func (s Sections) Add(key FieldKey, value string) {
	v := strings.TrimSpace(value)
	if v == "" {
		return
	}
	for _, existing := range s[key] {
		if strings.EqualFold(existing, v) {
			return
		}
	}
	s[key] = append(s[key], v)
}

// Total returns the number of values across all sections.
func (s Sections) Total() int {
	n := 0
	for _, k := range FieldOrder {
		n += len(s[k])
	}
	return n
}

// Outcome is the result of applying a single value to a field.
type Outcome string

const (
	OutcomeAdded        Outcome = "added"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeAddedChecked Outcome = "added_checked"
	OutcomeAutoSelected Outcome = "auto_selected"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeFailed       Outcome = "failed"
)

// IsAdded reports whether the outcome counts as a newly applied value.
func (o Outcome) IsAdded() bool {
	return o == OutcomeAdded || o == OutcomeAddedChecked || o == OutcomeAutoSelected
}

// SectionSummary aggregates the outcomes for one field.
type SectionSummary struct {
	Added     int  `json:"added"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// RunSummary is produced once per run and reported to the user.
type RunSummary struct {
	RunID    string                      `json:"runId"`
	Token    uint64                      `json:"token"`
	Sections map[FieldKey]SectionSummary `json:"sections"`
}

// NewRunSummary creates a summary with an entry for every field.
func NewRunSummary(runID string, token uint64) *RunSummary {
	rs := &RunSummary{RunID: runID, Token: token, Sections: make(map[FieldKey]SectionSummary, len(FieldOrder))}
	for _, k := range FieldOrder {
		rs.Sections[k] = SectionSummary{}
	}
	return rs
}

// Cancelled reports whether any section stopped early because the run was superseded.
func (rs *RunSummary) Cancelled() bool {
	for _, s := range rs.Sections {
		if s.Cancelled {
			return true
		}
	}
	return false
}
