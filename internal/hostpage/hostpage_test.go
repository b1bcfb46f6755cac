// File: internal/hostpage/hostpage_test.go
package hostpage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubFinder struct {
	associated map[string]bool
	any        bool
	err        error
	calls      []string
}

func (s *stubFinder) FindPopup(_ context.Context, widgetID string) (bool, error) {
	s.calls = append(s.calls, widgetID)
	if s.err != nil {
		return false, s.err
	}
	if widgetID == "" {
		return s.any, nil
	}
	return s.associated[widgetID], nil
}

func TestLocatePopup(t *testing.T) {
	t.Run("associated popup wins", func(t *testing.T) {
		f := &stubFinder{associated: map[string]bool{"w1": true}, any: true}
		ref, ok, err := LocatePopup(context.Background(), f, "w1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, PopupRef{WidgetID: "w1", Associated: true}, ref)
		assert.Equal(t, []string{"w1"}, f.calls)
	})

	t.Run("falls back to any active popup", func(t *testing.T) {
		f := &stubFinder{any: true}
		ref, ok, err := LocatePopup(context.Background(), f, "w1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, PopupRef{}, ref)
		assert.Equal(t, []string{"w1", ""}, f.calls)
	})

	t.Run("empty widget id asks for any popup only", func(t *testing.T) {
		f := &stubFinder{}
		_, ok, err := LocatePopup(context.Background(), f, "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{""}, f.calls)
	})

	t.Run("errors propagate", func(t *testing.T) {
		boom := errors.New("target closed")
		_, ok, err := LocatePopup(context.Background(), &stubFinder{err: boom}, "w1")
		assert.False(t, ok)
		assert.ErrorIs(t, err, boom)
	})
}

func TestFieldAnchorID(t *testing.T) {
	assert.Equal(t, "w", Field{WidgetID: "w", InputID: "i"}.AnchorID())
	assert.Equal(t, "i", Field{InputID: "i"}.AnchorID())
	assert.Equal(t, "", Field{}.AnchorID())
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	args := m.Called(ctx, len(actions))
	return args.Error(0)
}

func TestCDPPagePressKey(t *testing.T) {
	t.Run("focuses then sends key down and up", func(t *testing.T) {
		exec := &mockExecutor{}
		exec.On("RunActions", mock.Anything, 1).Return(nil).Once()
		exec.On("RunActions", mock.Anything, 2).Return(nil).Once()

		p := NewCDPPage(exec, zaptest.NewLogger(t), 0)
		require.NoError(t, p.PressKey(context.Background(), "Label", KeyEnter))
		exec.AssertExpectations(t)
	})

	t.Run("unsupported key", func(t *testing.T) {
		exec := &mockExecutor{}
		p := NewCDPPage(exec, nil, 0)
		err := p.PressKey(context.Background(), "Label", Key("Escape"))
		assert.ErrorContains(t, err, "unsupported key")
		exec.AssertNotCalled(t, "RunActions", mock.Anything, mock.Anything)
	})
}

func TestCDPPageCallWrapsErrors(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("RunActions", mock.Anything, 1).Return(errors.New("websocket closed"))

	p := NewCDPPage(exec, nil, 0)
	_, _, err := p.ResolveField(context.Background(), "Label")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page call field failed")
	assert.Contains(t, err.Error(), "websocket closed")
}

func TestBridgeIsIdempotent(t *testing.T) {
	assert.True(t, strings.Contains(bridgeJS, "if (window.__bulkperm)"))
	for _, fn := range []string{"heading", "field", "selected", "clickOpener", "setValue", "hasPopup", "rows", "clickRow", "clickOutside"} {
		assert.Contains(t, bridgeJS, fn+": function", fn)
	}
}
