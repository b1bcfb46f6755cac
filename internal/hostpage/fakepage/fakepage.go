// File: internal/hostpage/fakepage/fakepage.go
// Package fakepage is an in-memory model of the host task page. It reproduces the
// multi-select prompt widget closely enough to exercise the selection protocol:
// popups that open from an opener or ArrowDown, a menu mode that Enter switches
// to search mode, result rows that toggle on click, and chips in the form row.
package fakepage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/bulkperm/internal/hostpage"
	"github.com/xkilldash9x/bulkperm/internal/matcher"
)

// Options alter the widget's behavior.
type Options struct {
	// CommitOnClose leaves clicked rows checked in the popup and only turns them
	// into chips when the popup closes.
	CommitOnClose bool
	// AutoSelectExact makes Enter select a catalog entry equal to the query.
	AutoSelectExact bool
	// StickyMenu keeps the popup in menu mode on Enter until All or Partial List is clicked.
	StickyMenu bool
	// NoAllRow renders only "Partial List" in menu mode.
	NoAllRow bool
	// Unassociated popups carry no anchor to their widget.
	Unassociated bool
	// NoCheckbox renders result rows without a checkbox control.
	NoCheckbox bool
	// ChipsInPopup renders the field's chips inside the popup too.
	ChipsInPopup bool
	// IgnoreClicks makes result row clicks have no effect.
	IgnoreClicks bool
	// VanishingRows makes result rows re-render away before a click lands.
	VanishingRows bool
	// ResultsLatency delays search results after Enter.
	ResultsLatency time.Duration
	// OpenFailures is the number of open attempts ignored before the popup opens.
	OpenFailures int
	// ExtraRows are appended to every search result list.
	ExtraRows []string
}

// FieldSpec declares a form row.
type FieldSpec struct {
	Label    string
	WidgetID string
	InputID  string
	NoWidget bool
	NoInput  bool
	NoOpener bool
}

type field struct {
	spec     FieldSpec
	value    string
	selected []string
	pending  []string
}

type popupMode int

const (
	modeMenu popupMode = iota
	modeSearch
)

type popupState struct {
	owner     string
	widgetID  string
	anchored  bool
	mode      popupMode
	unlocked  bool
	results   []string
	resultsAt time.Time
}

// Page implements hostpage.Page in memory. It is safe for concurrent use.
type Page struct {
	mu sync.Mutex

	opts    Options
	heading string
	catalog []string
	fields  map[string]*field
	popup   *popupState

	openFailures int
	mutations    int
	ops          []string
	rowClicks    map[string]int
	onMutation   func(n int)
}

var _ hostpage.Page = (*Page)(nil)

// New creates a page showing heading, with a searchable catalog of policy names.
func New(heading string, catalog []string, opts Options, fields ...FieldSpec) *Page {
	p := &Page{
		opts:         opts,
		heading:      heading,
		catalog:      catalog,
		fields:       make(map[string]*field),
		openFailures: opts.OpenFailures,
		rowClicks:    make(map[string]int),
	}
	for _, f := range fields {
		p.fields[f.Label] = &field{spec: f}
	}
	return p
}

// Preselect adds chips to a field.
func (p *Page) Preselect(label string, values ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fields[label]
	f.selected = append(f.selected, values...)
}

// SetPending marks values as checked in the popup without chips.
func (p *Page) SetPending(label string, values ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fields[label]
	f.pending = append(f.pending, values...)
}

// OnMutation registers a hook called after every mutating call with the running count.
func (p *Page) OnMutation(hook func(n int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMutation = hook
}

// Mutations returns the number of mutating calls made so far.
func (p *Page) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutations
}

// Ops returns the names of the mutating calls in order.
func (p *Page) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// RowClicks returns how many times a result row with this text was clicked.
func (p *Page) RowClicks(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rowClicks[matcher.Normalize(text)]
}

// Selected returns a field's chips as displayed.
func (p *Page) Selected(label string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fields[label].selected...)
}

// PopupOpen reports whether any popup is open.
func (p *Page) PopupOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popup != nil
}

// SetHeading replaces the page heading.
func (p *Page) SetHeading(h string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heading = h
}

// mutate records a mutating call, runs fn under the lock and then fires the hook.
func (p *Page) mutate(op string, fn func()) {
	p.mu.Lock()
	p.mutations++
	n := p.mutations
	p.ops = append(p.ops, op)
	if fn != nil {
		fn()
	}
	hook := p.onMutation
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (p *Page) Heading(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heading, nil
}

func (p *Page) ResolveField(ctx context.Context, label string) (hostpage.Field, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fields[label]
	if !ok {
		return hostpage.Field{}, false, nil
	}
	out := hostpage.Field{Label: label, HasWidget: !f.spec.NoWidget, HasInput: !f.spec.NoInput}
	if out.HasWidget {
		out.WidgetID = f.spec.WidgetID
	}
	if out.HasInput {
		out.InputID = f.spec.InputID
	}
	return out, true, nil
}

func (p *Page) SelectedValues(ctx context.Context, label string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fields[label]
	if !ok {
		return nil, nil
	}
	return normalizeAll(f.selected), nil
}

func (p *Page) ScrollFieldIntoView(ctx context.Context, label string) error {
	p.mutate("scroll_field", nil)
	return nil
}

func (p *Page) ClickInput(ctx context.Context, label string) error {
	p.mutate("click_input", nil)
	return nil
}

func (p *Page) FocusInput(ctx context.Context, label string) error {
	p.mutate("focus_input", nil)
	return nil
}

func (p *Page) ClickOpener(ctx context.Context, label string) (bool, error) {
	p.mu.Lock()
	f, ok := p.fields[label]
	hasOpener := ok && !f.spec.NoWidget && !f.spec.NoOpener
	p.mu.Unlock()
	if !hasOpener {
		return false, nil
	}
	p.mutate("click_opener", func() { p.tryOpenLocked(label) })
	return true, nil
}

func (p *Page) SetInputValue(ctx context.Context, label, value string) error {
	p.mutate("set_value", func() {
		if f, ok := p.fields[label]; ok {
			f.value = value
		}
	})
	return nil
}

func (p *Page) PressKey(ctx context.Context, label string, key hostpage.Key) error {
	p.mutate("key_"+string(key), func() {
		switch key {
		case hostpage.KeyArrowDown:
			if p.popup == nil {
				p.tryOpenLocked(label)
			}
		case hostpage.KeyEnter:
			if p.popup != nil && p.popup.owner == label {
				p.searchLocked(label)
			}
		}
	})
	return nil
}

func (p *Page) FindPopup(ctx context.Context, widgetID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.popup == nil {
		return false, nil
	}
	if widgetID == "" {
		return true, nil
	}
	return p.popup.anchored && p.popup.widgetID == widgetID, nil
}

func (p *Page) PopupRows(ctx context.Context, ref hostpage.PopupRef) ([]hostpage.Row, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rowsLocked(ref), nil
}

func (p *Page) PopupSelectedValues(ctx context.Context, ref hostpage.PopupRef) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pop := p.resolveLocked(ref)
	if pop == nil || !p.opts.ChipsInPopup {
		return nil, nil
	}
	return normalizeAll(p.fields[pop.owner].selected), nil
}

func (p *Page) ScrollRowIntoView(ctx context.Context, ref hostpage.PopupRef, row hostpage.Row) error {
	p.mutate("scroll_row", nil)
	return nil
}

func (p *Page) ClickRow(ctx context.Context, ref hostpage.PopupRef, row hostpage.Row, preferCheckbox bool) (bool, error) {
	var clicked bool
	p.mutate("click_row", func() {
		pop := p.resolveLocked(ref)
		if pop == nil {
			return
		}
		if p.opts.VanishingRows && pop.mode == modeSearch {
			return
		}
		var text string
		for _, r := range p.rowsLocked(ref) {
			if r.Label == row.Label {
				text = r.Text
				clicked = true
				break
			}
		}
		if !clicked {
			return
		}
		p.rowClicks[row.Label]++

		if pop.mode == modeMenu {
			if row.Label == "all" || strings.HasPrefix(row.Label, "partial list") {
				pop.unlocked = true
				p.fields[pop.owner].value = ""
			}
			return
		}
		if p.opts.IgnoreClicks {
			return
		}
		p.toggleLocked(pop.owner, text)
	})
	return clicked, nil
}

func (p *Page) ClickOutside(ctx context.Context) error {
	p.mutate("click_outside", func() {
		if p.popup == nil {
			return
		}
		f := p.fields[p.popup.owner]
		f.selected = append(f.selected, f.pending...)
		f.pending = nil
		p.popup = nil
	})
	return nil
}

func (p *Page) tryOpenLocked(label string) {
	if p.popup != nil {
		return
	}
	if p.openFailures > 0 {
		p.openFailures--
		return
	}
	f, ok := p.fields[label]
	if !ok {
		return
	}
	widgetID := f.spec.WidgetID
	if widgetID == "" {
		widgetID = f.spec.InputID
	}
	p.popup = &popupState{owner: label, widgetID: widgetID, anchored: !p.opts.Unassociated}
}

func (p *Page) searchLocked(label string) {
	pop := p.popup
	if pop.mode == modeMenu && p.opts.StickyMenu && !pop.unlocked {
		return
	}
	query := matcher.Normalize(p.fields[label].value)
	if query == "" {
		return
	}
	pop.mode = modeSearch

	var results []string
	for _, c := range p.catalog {
		if strings.Contains(matcher.Normalize(c), query) {
			results = append(results, c)
		}
	}
	pop.results = append(results, p.opts.ExtraRows...)
	pop.resultsAt = time.Now().Add(p.opts.ResultsLatency)

	if p.opts.AutoSelectExact {
		for _, c := range p.catalog {
			if matcher.Normalize(c) == query && !p.isSelectedLocked(label, c) {
				p.fields[label].selected = append(p.fields[label].selected, c)
			}
		}
	}
}

func (p *Page) resolveLocked(ref hostpage.PopupRef) *popupState {
	if p.popup == nil {
		return nil
	}
	if ref.Associated && (!p.popup.anchored || p.popup.widgetID != ref.WidgetID) {
		return nil
	}
	return p.popup
}

func (p *Page) rowsLocked(ref hostpage.PopupRef) []hostpage.Row {
	pop := p.resolveLocked(ref)
	if pop == nil {
		return nil
	}

	var texts []string
	box := !p.opts.NoCheckbox
	if pop.mode == modeMenu {
		if !p.opts.NoAllRow {
			texts = append(texts, "All")
		}
		texts = append(texts, "Partial List")
		box = false
	} else {
		if time.Now().Before(pop.resultsAt) {
			return nil
		}
		texts = pop.results
	}

	rows := make([]hostpage.Row, len(texts))
	for i, t := range texts {
		rows[i] = hostpage.Row{
			Index:       i,
			Label:       matcher.Normalize(t),
			Text:        t,
			HasCheckbox: box && !matcher.IsNavigation(t),
			Checked:     p.isSelectedLocked(pop.owner, t) || p.isPendingLocked(pop.owner, t),
		}
	}
	return rows
}

func (p *Page) toggleLocked(label, text string) {
	f := p.fields[label]
	if removed, ok := remove(f.selected, text); ok {
		f.selected = removed
		return
	}
	if removed, ok := remove(f.pending, text); ok {
		f.pending = removed
		return
	}
	if p.opts.CommitOnClose {
		f.pending = append(f.pending, text)
		return
	}
	f.selected = append(f.selected, text)
}

func (p *Page) isSelectedLocked(label, text string) bool {
	return contains(p.fields[label].selected, text)
}

func (p *Page) isPendingLocked(label, text string) bool {
	return contains(p.fields[label].pending, text)
}

func contains(list []string, text string) bool {
	want := matcher.Normalize(text)
	for _, v := range list {
		if matcher.Normalize(v) == want {
			return true
		}
	}
	return false
}

func remove(list []string, text string) ([]string, bool) {
	want := matcher.Normalize(text)
	for i, v := range list {
		if matcher.Normalize(v) == want {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

func normalizeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = matcher.Normalize(v)
	}
	return out
}
