// File: internal/browser/browser_test.go
package browser

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bulkperm/internal/config"
)

func TestExecAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	t.Run("defaults add container flags and headless toggle", func(t *testing.T) {
		opts := ExecAllocatorOptions(config.BrowserConfig{})
		assert.Len(t, opts, base+3)
	})

	t.Run("gpu and profile", func(t *testing.T) {
		opts := ExecAllocatorOptions(config.BrowserConfig{DisableGPU: true, UserDataDir: "/tmp/profile"})
		assert.Len(t, opts, base+5)
	})

	t.Run("custom args", func(t *testing.T) {
		opts := ExecAllocatorOptions(config.BrowserConfig{
			Args: []string{"--no-zygote", "window-size=1280,900", "--", ""},
		})
		assert.Len(t, opts, base+5, "empty args are skipped")
	})

	t.Run("does not alias the package defaults", func(t *testing.T) {
		before := fmt.Sprintf("%#v", chromedp.DefaultExecAllocatorOptions)
		_ = ExecAllocatorOptions(config.BrowserConfig{Args: []string{"a", "b", "c"}})
		assert.Equal(t, before, fmt.Sprintf("%#v", chromedp.DefaultExecAllocatorOptions))
	})
}

func TestPickTarget(t *testing.T) {
	targets := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://impl.example.com/sw.js"},
		{TargetID: "dev", Type: "page", URL: "devtools://devtools/bundled/inspector.html"},
		{TargetID: "mail", Type: "page", URL: "https://mail.example.com/"},
		{TargetID: "task", Type: "page", URL: "https://impl.example.com/acme/d/task/2997$1.htmld"},
		nil,
	}

	t.Run("first page without a filter", func(t *testing.T) {
		got, err := PickTarget(targets, "")
		require.NoError(t, err)
		assert.Equal(t, target.ID("mail"), got.TargetID)
	})

	t.Run("filter is case-insensitive", func(t *testing.T) {
		got, err := PickTarget(targets, "IMPL.example.com/acme")
		require.NoError(t, err)
		assert.Equal(t, target.ID("task"), got.TargetID)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := PickTarget(targets, "nowhere")
		assert.ErrorIs(t, err, ErrNoTarget)
		assert.Contains(t, err.Error(), "nowhere")
	})

	t.Run("no pages", func(t *testing.T) {
		_, err := PickTarget(targets[:2], "")
		assert.ErrorIs(t, err, ErrNoTarget)
	})
}

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("inherits values from the primary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()
		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("cancelled by the primary", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()
		cancelPrimary()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("cancelled by the operation deadline", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("cancel releases the link", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), op)
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestConnectRejectsUnknownMode(t *testing.T) {
	_, err := Connect(context.Background(), config.BrowserConfig{Mode: "teleport"}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown browser mode")
}

func TestSessionRunActionsNeedsBrowserContext(t *testing.T) {
	s := &Session{ctx: context.Background(), logger: zaptest.NewLogger(t)}
	err := s.RunActions(context.Background(), chromedp.Sleep(time.Millisecond))
	assert.ErrorIs(t, err, chromedp.ErrInvalidContext)
	s.Close()
	s.Close()
}
