// File: internal/hostpage/page.go
// Package hostpage defines the contract between the selection protocol and the
// host task page, along with its chromedp implementation.
//
// Every method addresses DOM state freshly. A form field is identified by its
// label text and re-resolved on each call; a popup is identified by a PopupRef
// and re-resolved the same way. Nothing returned by a Page is a live DOM handle.
package hostpage

import (
	"context"
)

// Key is a keyboard key sent to a field's search input.
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyArrowDown Key = "ArrowDown"
)

// Field is a snapshot of a labeled multi-select form row.
type Field struct {
	Label     string
	WidgetID  string
	InputID   string
	HasWidget bool
	HasInput  bool
}

// AnchorID is the id used to associate popups with this field: the widget id,
// else the input id, else empty.
func (f Field) AnchorID() string {
	if f.WidgetID != "" {
		return f.WidgetID
	}
	return f.InputID
}

// PopupRef tells the page how to find a popup again. Associated refs resolve
// through the popup anchored to WidgetID; the zero value resolves to any active popup.
type PopupRef struct {
	WidgetID   string
	Associated bool
}

// Row is a snapshot of one popup row.
type Row struct {
	// Index is the row's position among all rows of the popup when it was read.
	Index int
	// Label is the normalized row label.
	Label string
	// Text is the raw trimmed row text, kept for diagnostics.
	Text        string
	HasCheckbox bool
	Checked     bool
}

// Page is the host task page as seen by the selection protocol.
type Page interface {
	// Heading returns the trimmed text of the page's first h1, or "".
	Heading(ctx context.Context) (string, error)

	// ResolveField finds the form row whose label text equals label exactly.
	ResolveField(ctx context.Context, label string) (Field, bool, error)
	// SelectedValues returns the normalized texts of the chips selected in the field.
	SelectedValues(ctx context.Context, label string) ([]string, error)

	ScrollFieldIntoView(ctx context.Context, label string) error
	// ClickInput clicks the field's search input and focuses it.
	ClickInput(ctx context.Context, label string) error
	FocusInput(ctx context.Context, label string) error
	// ClickOpener clicks the field's prompt or search opener. It reports false,
	// without clicking anything, when the widget renders no such control.
	ClickOpener(ctx context.Context, label string) (bool, error)
	// SetInputValue assigns value through the native setter and fires bubbling
	// input and change events.
	SetInputValue(ctx context.Context, label, value string) error
	PressKey(ctx context.Context, label string, key Key) error

	// FindPopup reports whether an active popup associated with widgetID is
	// present. An empty widgetID asks for any active popup.
	FindPopup(ctx context.Context, widgetID string) (bool, error)
	// PopupRows returns every menu item and option row of the popup.
	PopupRows(ctx context.Context, ref PopupRef) ([]Row, error)
	// PopupSelectedValues returns the normalized chip texts rendered inside the popup.
	PopupSelectedValues(ctx context.Context, ref PopupRef) ([]string, error)
	ScrollRowIntoView(ctx context.Context, ref PopupRef, row Row) error
	// ClickRow clicks a row found again by index and label. With preferCheckbox
	// the row's checkbox control is clicked when it has one. It reports false
	// when the row is no longer present.
	ClickRow(ctx context.Context, ref PopupRef, row Row, preferCheckbox bool) (bool, error)
	// ClickOutside clicks the document body.
	ClickOutside(ctx context.Context) error
}
