// File: internal/driver/driver.go
// Package driver adds one value to one multi-select field of the host page.
//
// The widget is driven the way a person would drive it: open the prompt, type
// the value, make the popup search, pick the matching result and confirm the
// chip appeared. Each step re-reads the page instead of trusting earlier reads,
// and every page mutation first checks that the run which started it is still live.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/hostpage"
	"github.com/xkilldash9x/bulkperm/internal/matcher"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
	"github.com/xkilldash9x/bulkperm/internal/waiter"
)

var (
	ErrFieldNotFound        = errors.New("field not found")
	ErrPopupDidNotOpen      = errors.New("popup did not open")
	ErrSearchResultsTimeout = errors.New("search results did not load")
	ErrNoMatchingOption     = errors.New("no matching option found")
	ErrSelectionNotVerified = errors.New("selection not verified")

	// errSuperseded unwinds an attempt whose run lost the live token.
	errSuperseded = errors.New("run superseded")
)

// sampleRows is how many result rows are logged when nothing matches.
const sampleRows = 6

// State names the step an attempt is in.
type State int

const (
	StateIdle State = iota
	StatePromptOpening
	StatePopupWaiting
	StateTyping
	StateSearchModeForcing
	StateAutoSelectChecking
	StateAutoSelected
	StateResultSelecting
	StateVerifying
	StateClosing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"idle", "prompt_opening", "popup_waiting", "typing", "search_mode_forcing",
	"auto_select_checking", "auto_selected", "result_selecting", "verifying",
	"closing", "done", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options are the per-run settings the driver honors.
type Options struct {
	// Delay is slept after a value is applied.
	Delay        time.Duration
	SkipExisting bool
}

// Driver applies values to fields of a single page. It is not safe for
// concurrent use; callers serialize invocations.
type Driver struct {
	page   hostpage.Page
	timing config.TimingConfig
	logger *zap.Logger
}

// New creates a driver for page.
func New(page hostpage.Page, timing config.TimingConfig, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{page: page, timing: timing, logger: logger.Named("driver")}
}

// ApplyValue makes value selected in the field labeled label.
//
// A value already shown as a chip is skipped when opts.SkipExisting is set. If
// the run is superseded part way through, ApplyValue stops touching the page and
// returns OutcomeCancelled with a nil error.
func (d *Driver) ApplyValue(rc *runctx.RunContext, label, value string, opts Options) (schemas.Outcome, error) {
	a := &attempt{
		d:     d,
		page:  d.page,
		t:     d.timing,
		rc:    rc,
		ctx:   rc.Context(),
		label: label,
		value: value,
		log: d.logger.With(
			zap.String("label", label),
			zap.String("value", value),
			zap.Uint64("token", rc.Token()),
		),
	}

	outcome, err := a.apply(opts)
	switch {
	case err == nil:
		a.enter(StateDone)
		return outcome, nil
	case errors.Is(err, errSuperseded) || !rc.Live():
		a.log.Info("Run superseded; value abandoned.", zap.Stringer("state", a.state))
		return schemas.OutcomeCancelled, nil
	default:
		a.enter(StateFailed)
		return schemas.OutcomeFailed, err
	}
}

// attempt carries the state of a single ApplyValue call.
type attempt struct {
	d    *Driver
	page hostpage.Page
	t    config.TimingConfig
	rc   *runctx.RunContext
	ctx  context.Context
	log  *zap.Logger

	label    string
	value    string
	widgetID string
	popup    hostpage.PopupRef
	state    State
}

func (a *attempt) enter(s State) {
	a.state = s
	a.log.Debug("Driver state.", zap.Stringer("state", s))
}

// act runs a page mutation unless the run has been superseded.
func (a *attempt) act(fn func(ctx context.Context) error) error {
	if !a.rc.Live() {
		return errSuperseded
	}
	return fn(a.ctx)
}

func (a *attempt) pause(d time.Duration) error {
	return waiter.Pause(a.ctx, d)
}

// actPause is act followed by pause.
func (a *attempt) actPause(d time.Duration, fn func(ctx context.Context) error) error {
	if err := a.act(fn); err != nil {
		return err
	}
	return a.pause(d)
}

func (a *attempt) apply(opts Options) (schemas.Outcome, error) {
	a.enter(StateIdle)

	field, found, err := waiter.Until(a.ctx, a.t.PollInterval, a.t.FieldWait, func(ctx context.Context) (hostpage.Field, bool, error) {
		return a.page.ResolveField(ctx, a.label)
	})
	if err != nil {
		return "", err
	}
	if !found || !field.HasWidget || !field.HasInput {
		return "", fmt.Errorf("%w for label %q", ErrFieldNotFound, a.label)
	}
	a.widgetID = field.AnchorID()

	if opts.SkipExisting {
		present, err := a.chipPresent(a.ctx)
		if err != nil {
			return "", err
		}
		if present {
			a.log.Info("Skip (already selected).")
			return schemas.OutcomeSkipped, nil
		}
	}

	a.enter(StatePromptOpening)
	if err := a.actPause(a.t.ScrollPause, func(ctx context.Context) error {
		return a.page.ScrollFieldIntoView(ctx, a.label)
	}); err != nil {
		return "", err
	}
	if err := a.openPrompt(); err != nil {
		return "", err
	}

	a.enter(StatePopupWaiting)
	opened, err := a.awaitPopup(a.t.PopupWait)
	if err != nil {
		return "", err
	}
	if !opened {
		a.log.Debug("Popup not open; retrying with ArrowDown.")
		if err := a.actPause(a.t.ClickPause, func(ctx context.Context) error {
			return a.page.ClickInput(ctx, a.label)
		}); err != nil {
			return "", err
		}
		if err := a.pressKey(hostpage.KeyArrowDown, a.t.OpenerPause); err != nil {
			return "", err
		}
		if opened, err = a.awaitPopup(a.t.PopupWait); err != nil {
			return "", err
		}
	}
	if !opened {
		return "", fmt.Errorf("%w for %q", ErrPopupDidNotOpen, a.label)
	}

	a.enter(StateTyping)
	if err := a.typeValue(); err != nil {
		return "", err
	}

	a.enter(StateSearchModeForcing)
	if err := a.forceSearchMode(); err != nil {
		return "", err
	}

	a.enter(StateAutoSelectChecking)
	auto, err := waiter.UntilTrue(a.ctx, a.t.FastPollInterval, a.t.AutoSelectWait, a.autoSelected)
	if err != nil {
		return "", err
	}
	if auto {
		a.enter(StateAutoSelected)
		a.log.Info("Auto-selected by host page.")
		return a.finish(schemas.OutcomeAutoSelected, false, a.t.AutoVerifyWait, opts.Delay)
	}

	a.enter(StateResultSelecting)
	rows, loaded, err := waiter.Until(a.ctx, a.t.PollInterval, a.t.ResultsWait, a.searchResults)
	if err != nil {
		return "", err
	}
	if !loaded {
		return "", fmt.Errorf("%w for %q in %q", ErrSearchResultsTimeout, a.value, a.label)
	}

	row, tier, ok := matcher.FindBest(rows, rowLabel, a.value)
	if !ok {
		a.log.Warn("Could not match.", zap.Strings("sample_rows", sample(rows)))
		return "", fmt.Errorf("%w for %q in %q", ErrNoMatchingOption, a.value, a.label)
	}
	a.log.Debug("Matched result row.", zap.String("row", row.Text), zap.Stringer("tier", tier))

	// Clicking a checked row unchecks it.
	if row.Checked {
		a.log.Info("Already checked in results (no click).")
		return a.finish(schemas.OutcomeAddedChecked, true, a.t.CheckedVerifyWait, opts.Delay)
	}

	if err := a.actPause(a.t.ClickPause, func(ctx context.Context) error {
		return a.page.ScrollRowIntoView(ctx, a.popup, row)
	}); err != nil {
		return "", err
	}
	var clicked bool
	if err := a.act(func(ctx context.Context) error {
		var err error
		clicked, err = a.page.ClickRow(ctx, a.popup, row, true)
		return err
	}); err != nil {
		return "", err
	}
	if !clicked {
		a.log.Warn("Result row re-rendered before the click.", zap.String("row", row.Text))
		return "", fmt.Errorf("%w for %q in %q: row %q vanished before the click", ErrNoMatchingOption, a.value, a.label, row.Text)
	}
	if _, err := waiter.UntilTrue(a.ctx, a.t.FastPollInterval, a.t.ClickRegisterWait, func(ctx context.Context) (bool, error) {
		return a.clickRegistered(ctx, row)
	}); err != nil {
		return "", err
	}

	return a.finish(schemas.OutcomeAdded, true, a.t.VerifyWait, opts.Delay)
}

// finish closes the popup, verifies the selection and applies the inter-value delay.
func (a *attempt) finish(outcome schemas.Outcome, manual bool, verifyWait, delay time.Duration) (schemas.Outcome, error) {
	if err := a.closePopup(manual); err != nil {
		return "", err
	}
	if err := a.verify(verifyWait); err != nil {
		return "", err
	}
	// The value is in; a run superseded during the delay still reports it.
	if err := a.pause(delay); err != nil && a.rc.Live() {
		return "", err
	}
	return outcome, nil
}

func (a *attempt) openPrompt() error {
	if err := a.actPause(a.t.ClickPause, func(ctx context.Context) error {
		return a.page.ClickInput(ctx, a.label)
	}); err != nil {
		return err
	}

	var clicked bool
	if err := a.act(func(ctx context.Context) (err error) {
		clicked, err = a.page.ClickOpener(ctx, a.label)
		return err
	}); err != nil {
		return err
	}
	if clicked {
		return a.pause(a.t.OpenerPause)
	}
	return a.pressKey(hostpage.KeyArrowDown, a.t.OpenerPause)
}

func (a *attempt) typeValue() error {
	if err := a.actPause(a.t.FocusPause, func(ctx context.Context) error {
		return a.page.FocusInput(ctx, a.label)
	}); err != nil {
		return err
	}
	if err := a.actPause(a.t.FocusPause, func(ctx context.Context) error {
		return a.page.SetInputValue(ctx, a.label, "")
	}); err != nil {
		return err
	}
	return a.actPause(a.t.TypePause, func(ctx context.Context) error {
		return a.page.SetInputValue(ctx, a.label, a.value)
	})
}

// forceSearchMode presses Enter so the popup searches for the typed value. A
// popup still showing only menu rows is switched through All (or Partial List)
// and the value is typed again.
func (a *attempt) forceSearchMode() error {
	field, found, err := a.page.ResolveField(a.ctx, a.label)
	if err != nil {
		return err
	}
	if !found || !field.HasInput {
		return nil
	}

	if err := a.actPause(a.t.FocusPause, func(ctx context.Context) error {
		return a.page.FocusInput(ctx, a.label)
	}); err != nil {
		return err
	}
	if err := a.pressKey(hostpage.KeyEnter, a.t.EnterPause); err != nil {
		return err
	}

	rows, err := a.page.PopupRows(a.ctx, a.popup)
	if err != nil {
		return err
	}
	if !matcher.AllNavigation(rows, rowLabel) {
		return nil
	}

	a.log.Debug("Popup stuck in menu mode; switching to list.")
	if menu, ok := menuRow(rows); ok {
		var clicked bool
		if err := a.actPause(a.t.MenuClickPause, func(ctx context.Context) error {
			var err error
			clicked, err = a.page.ClickRow(ctx, a.popup, menu, false)
			return err
		}); err != nil {
			return err
		}
		if !clicked {
			a.log.Warn("Menu row re-rendered before the click.", zap.String("row", menu.Text))
		}
	}

	if _, err := a.awaitPopupEvery(a.t.FastPollInterval, a.t.SearchModeWait); err != nil {
		return err
	}

	field, found, err = a.page.ResolveField(a.ctx, a.label)
	if err != nil {
		return err
	}
	if !found || !field.HasInput {
		return nil
	}
	if err := a.actPause(a.t.FocusPause, func(ctx context.Context) error {
		return a.page.FocusInput(ctx, a.label)
	}); err != nil {
		return err
	}
	if err := a.actPause(a.t.RetypePause, func(ctx context.Context) error {
		return a.page.SetInputValue(ctx, a.label, a.value)
	}); err != nil {
		return err
	}
	return a.pressKey(hostpage.KeyEnter, a.t.MenuClickPause)
}

// closePopup clicks outside the popup, never pressing Escape. When the popup was
// used for manual interaction it also waits for it to disappear and settle.
func (a *attempt) closePopup(manual bool) error {
	a.enter(StateClosing)
	outside := func(ctx context.Context) error { return a.page.ClickOutside(ctx) }

	if err := a.actPause(a.t.OutsideClickPause, outside); err != nil {
		return err
	}
	_, still, err := hostpage.LocatePopup(a.ctx, a.page, a.widgetID)
	if err != nil {
		return err
	}
	if still {
		if err := a.actPause(a.t.OutsideClickPause, outside); err != nil {
			return err
		}
	}

	if manual {
		if _, err := waiter.UntilTrue(a.ctx, a.t.FastPollInterval, a.t.CloseWait, func(ctx context.Context) (bool, error) {
			_, open, err := hostpage.LocatePopup(ctx, a.page, a.widgetID)
			return !open, err
		}); err != nil {
			return err
		}
		if err := a.pause(a.t.SettleDelay); err != nil {
			return err
		}
	}

	// The input needs focus again before it accepts the next Enter.
	return a.actPause(a.t.FocusPause, func(ctx context.Context) error {
		return a.page.FocusInput(ctx, a.label)
	})
}

func (a *attempt) verify(timeout time.Duration) error {
	a.enter(StateVerifying)
	ok, err := waiter.UntilTrue(a.ctx, a.t.PollInterval, timeout, a.selectionVisible)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w (chip not found) for %q in %q", ErrSelectionNotVerified, a.value, a.label)
	}
	return nil
}

func (a *attempt) pressKey(key hostpage.Key, after time.Duration) error {
	return a.actPause(after, func(ctx context.Context) error {
		return a.page.PressKey(ctx, a.label, key)
	})
}

func (a *attempt) awaitPopup(timeout time.Duration) (bool, error) {
	return a.awaitPopupEvery(a.t.FastPollInterval, timeout)
}

// awaitPopupEvery polls for the field's popup and remembers it when found.
func (a *attempt) awaitPopupEvery(interval, timeout time.Duration) (bool, error) {
	ref, ok, err := waiter.Until(a.ctx, interval, timeout, func(ctx context.Context) (hostpage.PopupRef, bool, error) {
		return hostpage.LocatePopup(ctx, a.page, a.widgetID)
	})
	if ok {
		a.popup = ref
	}
	return ok, err
}

// -- Predicates --

func (a *attempt) chipPresent(ctx context.Context) (bool, error) {
	values, err := a.page.SelectedValues(ctx, a.label)
	if err != nil {
		return false, err
	}
	return containsNormalized(values, a.value), nil
}

func (a *attempt) popupChipPresent(ctx context.Context, ref hostpage.PopupRef) (bool, error) {
	values, err := a.page.PopupSelectedValues(ctx, ref)
	if err != nil {
		return false, err
	}
	return containsNormalized(values, a.value), nil
}

// checkedInPopup reports whether the result row matching the value is checked.
func (a *attempt) checkedInPopup(ctx context.Context, ref hostpage.PopupRef) (bool, error) {
	rows, err := a.page.PopupRows(ctx, ref)
	if err != nil {
		return false, err
	}
	row, _, ok := matcher.FindBest(matcher.SearchResults(rows, rowLabel, rowHasCheckbox), rowLabel, a.value)
	return ok && row.Checked, nil
}

func (a *attempt) selectedIn(ctx context.Context, ref hostpage.PopupRef) (bool, error) {
	if ok, err := a.popupChipPresent(ctx, ref); ok || err != nil {
		return ok, err
	}
	return a.checkedInPopup(ctx, ref)
}

func (a *attempt) autoSelected(ctx context.Context) (bool, error) {
	if ok, err := a.chipPresent(ctx); ok || err != nil {
		return ok, err
	}
	return a.selectedIn(ctx, a.popup)
}

// selectionVisible holds when the chip is in the field, or an active popup still
// shows the value as selected.
func (a *attempt) selectionVisible(ctx context.Context) (bool, error) {
	if ok, err := a.chipPresent(ctx); ok || err != nil {
		return ok, err
	}
	ref, open, err := hostpage.LocatePopup(ctx, a.page, a.widgetID)
	if err != nil || !open {
		return false, err
	}
	return a.selectedIn(ctx, ref)
}

func (a *attempt) searchResults(ctx context.Context) ([]hostpage.Row, bool, error) {
	ref, ok, err := hostpage.LocatePopup(ctx, a.page, a.widgetID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		a.popup = ref
	}
	rows, err := a.page.PopupRows(ctx, a.popup)
	if err != nil {
		return nil, false, err
	}
	results := matcher.SearchResults(rows, rowLabel, rowHasCheckbox)
	return results, len(results) > 0, nil
}

func (a *attempt) clickRegistered(ctx context.Context, clicked hostpage.Row) (bool, error) {
	rows, err := a.page.PopupRows(ctx, a.popup)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.Label == clicked.Label && r.Checked {
			return true, nil
		}
	}
	if ok, err := a.popupChipPresent(ctx, a.popup); ok || err != nil {
		return ok, err
	}
	if ok, err := a.chipPresent(ctx); ok || err != nil {
		return ok, err
	}
	return a.checkedInPopup(ctx, a.popup)
}

// -- Row helpers --

func rowLabel(r hostpage.Row) string     { return r.Label }
func rowHasCheckbox(r hostpage.Row) bool { return r.HasCheckbox }

// menuRow picks the row that switches a menu-mode popup into its list: All, else Partial List.
func menuRow(rows []hostpage.Row) (hostpage.Row, bool) {
	for _, r := range rows {
		if matcher.Normalize(r.Label) == "all" {
			return r, true
		}
	}
	for _, r := range rows {
		if strings.HasPrefix(matcher.Normalize(r.Label), "partial list") {
			return r, true
		}
	}
	return hostpage.Row{}, false
}

func sample(rows []hostpage.Row) []string {
	n := len(rows)
	if n > sampleRows {
		n = sampleRows
	}
	out := make([]string, n)
	for i := range out {
		out[i] = rows[i].Text
	}
	return out
}

func containsNormalized(values []string, value string) bool {
	want := matcher.Normalize(value)
	for _, v := range values {
		if matcher.Normalize(v) == want {
			return true
		}
	}
	return false
}
