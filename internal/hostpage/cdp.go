// File: internal/hostpage/cdp.go
package hostpage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// bridge.js installs window.__bulkperm, the DOM helpers every CDPPage call goes through.
// Installation is idempotent, so the source is prepended to each evaluation and
// survives page reloads.
//
//go:embed bridge.js
var bridgeJS string

// ActionExecutor runs chromedp actions against the attached tab. It is satisfied
// by browser.Session.
type ActionExecutor interface {
	RunActions(ctx context.Context, actions ...chromedp.Action) error
}

// CDPPage drives the host page of a Chrome tab over the DevTools protocol.
type CDPPage struct {
	exec    ActionExecutor
	logger  *zap.Logger
	timeout time.Duration
}

var _ Page = (*CDPPage)(nil)

// NewCDPPage creates a page bound to exec. actionTimeout bounds each CDP round trip.
func NewCDPPage(exec ActionExecutor, logger *zap.Logger, actionTimeout time.Duration) *CDPPage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if actionTimeout <= 0 {
		actionTimeout = 10 * time.Second
	}
	return &CDPPage{exec: exec, logger: logger.Named("hostpage"), timeout: actionTimeout}
}

// call evaluates window.__bulkperm[fn](args...) and decodes its return value into res.
func (p *CDPPage) call(ctx context.Context, res interface{}, fn string, args ...interface{}) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode argument %d of %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	script := fmt.Sprintf("(function(){\n%s\nreturn window.__bulkperm.%s(%s);\n})()", bridgeJS, fn, strings.Join(encoded, ","))

	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.exec.RunActions(opCtx, chromedp.Evaluate(script, res, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true)
	}))
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("page call %s timed out after %v: %w", fn, p.timeout, opCtx.Err())
		}
		return fmt.Errorf("page call %s failed: %w", fn, err)
	}
	return nil
}

// popupArg is the JS shape of a PopupRef.
type popupArg struct {
	WidgetID   string `json:"widgetId"`
	Associated bool   `json:"associated"`
}

func refArg(ref PopupRef) popupArg {
	return popupArg{WidgetID: ref.WidgetID, Associated: ref.Associated}
}

func (p *CDPPage) Heading(ctx context.Context) (string, error) {
	var h string
	err := p.call(ctx, &h, "heading")
	return h, err
}

type fieldResult struct {
	Found     bool   `json:"found"`
	HasWidget bool   `json:"hasWidget"`
	HasInput  bool   `json:"hasInput"`
	WidgetID  string `json:"widgetId"`
	InputID   string `json:"inputId"`
}

func (p *CDPPage) ResolveField(ctx context.Context, label string) (Field, bool, error) {
	var res fieldResult
	if err := p.call(ctx, &res, "field", label); err != nil {
		return Field{}, false, err
	}
	if !res.Found {
		return Field{}, false, nil
	}
	return Field{
		Label:     label,
		WidgetID:  res.WidgetID,
		InputID:   res.InputID,
		HasWidget: res.HasWidget,
		HasInput:  res.HasInput,
	}, true, nil
}

func (p *CDPPage) SelectedValues(ctx context.Context, label string) ([]string, error) {
	var values []string
	err := p.call(ctx, &values, "selected", label)
	return values, err
}

func (p *CDPPage) ScrollFieldIntoView(ctx context.Context, label string) error {
	var ok bool
	return p.call(ctx, &ok, "scrollField", label)
}

func (p *CDPPage) ClickInput(ctx context.Context, label string) error {
	var ok bool
	return p.call(ctx, &ok, "clickInput", label)
}

func (p *CDPPage) FocusInput(ctx context.Context, label string) error {
	var ok bool
	if err := p.call(ctx, &ok, "focusInput", label); err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("Input not present; focus skipped.", zap.String("label", label))
	}
	return nil
}

func (p *CDPPage) ClickOpener(ctx context.Context, label string) (bool, error) {
	var clicked bool
	err := p.call(ctx, &clicked, "clickOpener", label)
	return clicked, err
}

func (p *CDPPage) SetInputValue(ctx context.Context, label, value string) error {
	var ok bool
	return p.call(ctx, &ok, "setValue", label, value)
}

// keyDef holds what Chrome needs to synthesize a trusted key press.
type keyDef struct {
	code string
	vk   int64
	text string
}

var keyDefs = map[Key]keyDef{
	KeyEnter:     {code: "Enter", vk: 13, text: "\r"},
	KeyArrowDown: {code: "ArrowDown", vk: 40},
}

// PressKey focuses the field's input and dispatches a real keyDown/keyUp pair to it.
func (p *CDPPage) PressKey(ctx context.Context, label string, key Key) error {
	def, ok := keyDefs[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.FocusInput(ctx, label); err != nil {
		return err
	}

	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey(string(key)).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk)
	if def.text != "" {
		down = down.WithText(def.text).WithUnmodifiedText(def.text)
	}
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey(string(key)).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk)

	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.exec.RunActions(opCtx, down, up); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

func (p *CDPPage) FindPopup(ctx context.Context, widgetID string) (bool, error) {
	var found bool
	err := p.call(ctx, &found, "hasPopup", widgetID)
	return found, err
}

type rowResult struct {
	Index       int    `json:"index"`
	Label       string `json:"label"`
	Text        string `json:"text"`
	HasCheckbox bool   `json:"hasCheckbox"`
	Checked     bool   `json:"checked"`
}

func (p *CDPPage) PopupRows(ctx context.Context, ref PopupRef) ([]Row, error) {
	var res []rowResult
	if err := p.call(ctx, &res, "rows", refArg(ref)); err != nil {
		return nil, err
	}
	rows := make([]Row, len(res))
	for i, r := range res {
		rows[i] = Row{Index: r.Index, Label: r.Label, Text: r.Text, HasCheckbox: r.HasCheckbox, Checked: r.Checked}
	}
	return rows, nil
}

func (p *CDPPage) PopupSelectedValues(ctx context.Context, ref PopupRef) ([]string, error) {
	var values []string
	err := p.call(ctx, &values, "popupSelected", refArg(ref))
	return values, err
}

func (p *CDPPage) ScrollRowIntoView(ctx context.Context, ref PopupRef, row Row) error {
	var ok bool
	return p.call(ctx, &ok, "scrollRow", refArg(ref), row.Index, row.Label)
}

func (p *CDPPage) ClickRow(ctx context.Context, ref PopupRef, row Row, preferCheckbox bool) (bool, error) {
	var clicked bool
	err := p.call(ctx, &clicked, "clickRow", refArg(ref), row.Index, row.Label, preferCheckbox)
	return clicked, err
}

func (p *CDPPage) ClickOutside(ctx context.Context) error {
	var ok bool
	return p.call(ctx, &ok, "clickOutside")
}
