// File: internal/controller/controller_helpers_test.go
package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/driver"
	"github.com/xkilldash9x/bulkperm/internal/hostpage/fakepage"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
)

const taskHeading = "Maintain Domain Permissions for Security Group"

var testCatalog = []string{
	"Worker Data: Public Worker Reports",
	"Worker Data: Compensation",
	"Person Data: Home Address",
	"Security Administration",
}

// -- Mocks --

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) RunFinished(summary schemas.RunSummary) { m.Called(summary) }
func (m *MockNotifier) RunFailed(token uint64, err error)      { m.Called(token, err) }
func (m *MockNotifier) WrongPage(message string)               { m.Called(message) }

// -- Scripted applier --

type applyCall struct {
	Label string
	Value string
	Opts  driver.Options
}

// scriptedApplier returns canned results keyed by value; unknown values are added.
type scriptedApplier struct {
	mu      sync.Mutex
	results map[string]scripted
	calls   []applyCall
	// before runs ahead of every call with the 1-based call number.
	before func(n int)
}

type scripted struct {
	outcome schemas.Outcome
	err     error
}

func (s *scriptedApplier) ApplyValue(rc *runctx.RunContext, label, value string, opts driver.Options) (schemas.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, applyCall{Label: label, Value: value, Opts: opts})
	n := len(s.calls)
	r, ok := s.results[value]
	hook := s.before
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if !ok {
		return schemas.OutcomeAdded, nil
	}
	if r.err != nil {
		return schemas.OutcomeFailed, r.err
	}
	return r.outcome, nil
}

func (s *scriptedApplier) Calls() []applyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]applyCall(nil), s.calls...)
}

// -- Fixtures --

func testPageConfig() config.PageConfig {
	return config.NewDefaultConfig().Page
}

func fastTiming() config.TimingConfig {
	return config.TimingConfig{
		PollInterval:      time.Millisecond,
		FastPollInterval:  time.Millisecond,
		FieldWait:         50 * time.Millisecond,
		PopupWait:         30 * time.Millisecond,
		SearchModeWait:    50 * time.Millisecond,
		AutoSelectWait:    10 * time.Millisecond,
		AutoVerifyWait:    100 * time.Millisecond,
		ResultsWait:       200 * time.Millisecond,
		CheckedVerifyWait: 100 * time.Millisecond,
		ClickRegisterWait: 100 * time.Millisecond,
		VerifyWait:        100 * time.Millisecond,
		CloseWait:         100 * time.Millisecond,
	}
}

// newTaskPage builds a fake page with all four policy fields.
func newTaskPage(opts fakepage.Options) *fakepage.Page {
	specs := make([]fakepage.FieldSpec, 0, len(schemas.FieldOrder))
	for i, k := range schemas.FieldOrder {
		id := string(rune('a' + i))
		specs = append(specs, fakepage.FieldSpec{
			Label:    config.DefaultLabels[k],
			WidgetID: "widget-" + id,
			InputID:  "prompt-" + id + "-input",
		})
	}
	return fakepage.New(taskHeading, testCatalog, opts, specs...)
}

func begin(t *testing.T, reg *runctx.Registry) *runctx.RunContext {
	rc := reg.Begin(context.Background())
	t.Cleanup(rc.Release)
	return rc
}

func request(delayMs int, sections map[schemas.FieldKey][]string) schemas.RunRequest {
	s := schemas.NewSections()
	for k, vs := range sections {
		for _, v := range vs {
			s.Add(k, v)
		}
	}
	req := schemas.NewRunRequest(s)
	req.DelayMs = delayMs
	return req
}
