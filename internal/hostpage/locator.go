// File: internal/hostpage/locator.go
package hostpage

import (
	"context"
)

// PopupFinder is the subset of Page the locator needs.
type PopupFinder interface {
	FindPopup(ctx context.Context, widgetID string) (bool, error)
}

// LocatePopup finds the active popup for a widget. The popup structurally tied
// to widgetID wins; when there is none, or widgetID is empty, any active popup
// on the page is accepted. It has no side effects and is safe to poll.
func LocatePopup(ctx context.Context, page PopupFinder, widgetID string) (PopupRef, bool, error) {
	if widgetID != "" {
		ok, err := page.FindPopup(ctx, widgetID)
		if err != nil {
			return PopupRef{}, false, err
		}
		if ok {
			return PopupRef{WidgetID: widgetID, Associated: true}, true, nil
		}
	}

	ok, err := page.FindPopup(ctx, "")
	if err != nil || !ok {
		return PopupRef{}, false, err
	}
	return PopupRef{}, true, nil
}
