// File: internal/controller/section_test.go
package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/driver"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
)

func TestRunSection_CountsOutcomes(t *testing.T) {
	applier := &scriptedApplier{results: map[string]scripted{
		"b": {outcome: schemas.OutcomeSkipped},
		"c": {outcome: schemas.OutcomeAutoSelected},
		"d": {err: driver.ErrNoMatchingOption},
		"e": {outcome: schemas.OutcomeAddedChecked},
	}}
	runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))
	rc := begin(t, runctx.NewRegistry())

	req := request(0, nil)
	summary, err := runner.RunSection(rc, schemas.FieldView, []string{"a", "b", "c", "d", "e"}, req)
	require.NoError(t, err)
	assert.Equal(t, schemas.SectionSummary{Added: 3, Skipped: 1, Failed: 1}, summary)

	calls := applier.Calls()
	require.Len(t, calls, 5)
	for _, c := range calls {
		assert.Equal(t, config.DefaultLabels[schemas.FieldView], c.Label)
		assert.True(t, c.Opts.SkipExisting)
	}
}

func TestRunSection_EmptyValues(t *testing.T) {
	applier := &scriptedApplier{}
	runner := NewSectionRunner(applier, testPageConfig(), nil)
	rc := begin(t, runctx.NewRegistry())

	summary, err := runner.RunSection(rc, schemas.FieldGet, nil, request(0, nil))
	require.NoError(t, err)
	assert.Equal(t, schemas.SectionSummary{}, summary)
	assert.Empty(t, applier.Calls())
}

func TestRunSection_FailureLogging(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	applier := &scriptedApplier{results: map[string]scripted{
		"broken": {err: driver.ErrSelectionNotVerified},
	}}
	runner := NewSectionRunner(applier, testPageConfig(), zap.New(core))
	rc := begin(t, runctx.NewRegistry())

	_, err := runner.RunSection(rc, schemas.FieldPut, []string{"broken"}, request(0, nil))
	require.NoError(t, err)

	entries := logs.FilterMessage("Failed to apply value.").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, config.DefaultLabels[schemas.FieldPut], fields["field"])
	assert.Equal(t, "broken", fields["value"])
	assert.Contains(t, fields["error"], "selection not verified")
}

func TestRunSection_StopOnError(t *testing.T) {
	applier := &scriptedApplier{results: map[string]scripted{
		"b": {err: driver.ErrPopupDidNotOpen},
	}}
	runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))
	rc := begin(t, runctx.NewRegistry())

	req := request(0, nil)
	req.StopOnError = true
	summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b", "c"}, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrPopupDidNotOpen)
	assert.Contains(t, err.Error(), `MODIFY "b"`)
	assert.Equal(t, schemas.SectionSummary{Added: 1, Failed: 1}, summary)
	assert.Len(t, applier.Calls(), 2, "no value after the failure is attempted")
}

func TestRunSection_StopRequested(t *testing.T) {
	reg := runctx.NewRegistry()
	rc := begin(t, reg)
	applier := &scriptedApplier{before: func(n int) {
		if n == 2 {
			reg.Stop()
		}
	}}
	runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))

	summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b", "c"}, request(0, nil))
	assert.ErrorIs(t, err, ErrUserStopped)
	assert.Equal(t, 2, summary.Added)
	assert.Len(t, applier.Calls(), 2)
}

func TestRunSection_Superseded(t *testing.T) {
	t.Run("stale token before the next value", func(t *testing.T) {
		reg := runctx.NewRegistry()
		rc := begin(t, reg)
		applier := &scriptedApplier{before: func(n int) {
			if n == 1 {
				begin(t, reg)
			}
		}}
		runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))

		summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b"}, request(0, nil))
		require.NoError(t, err)
		assert.True(t, summary.Cancelled)
		assert.Equal(t, 1, summary.Added)
		assert.Len(t, applier.Calls(), 1)
	})

	t.Run("driver reports cancellation", func(t *testing.T) {
		applier := &scriptedApplier{results: map[string]scripted{
			"a": {outcome: schemas.OutcomeCancelled},
		}}
		runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))
		rc := begin(t, runctx.NewRegistry())

		summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b"}, request(0, nil))
		require.NoError(t, err)
		assert.Equal(t, schemas.SectionSummary{Cancelled: true}, summary)
		assert.Len(t, applier.Calls(), 1)
	})

	t.Run("stop is not checked once superseded", func(t *testing.T) {
		reg := runctx.NewRegistry()
		rc := begin(t, reg)
		reg.Stop()
		begin(t, reg)
		reg.Stop()

		runner := NewSectionRunner(&scriptedApplier{}, testPageConfig(), zaptest.NewLogger(t))
		summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a"}, request(0, nil))
		require.NoError(t, err)
		assert.True(t, summary.Cancelled)
	})
}

func TestRunSection_DelayIsInterruptible(t *testing.T) {
	reg := runctx.NewRegistry()
	rc := begin(t, reg)
	runner := NewSectionRunner(&scriptedApplier{}, testPageConfig(), zaptest.NewLogger(t))

	go func() {
		time.Sleep(30 * time.Millisecond)
		begin(t, reg)
	}()

	start := time.Now()
	summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b"}, request(60_000, nil))
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Added)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunSection_DelayAppliedAfterFailures(t *testing.T) {
	applier := &scriptedApplier{results: map[string]scripted{
		"a": {err: errors.New("boom")},
		"b": {err: errors.New("boom")},
	}}
	runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))
	rc := begin(t, runctx.NewRegistry())

	start := time.Now()
	summary, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b"}, request(25, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRunSection_ParentCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := runctx.NewRegistry()
	rc := reg.Begin(ctx)
	defer rc.Release()

	applier := &scriptedApplier{before: func(int) { cancel() }}
	runner := NewSectionRunner(applier, testPageConfig(), zaptest.NewLogger(t))

	_, err := runner.RunSection(rc, schemas.FieldModify, []string{"a", "b"}, request(10, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, applier.Calls(), 1)
}
