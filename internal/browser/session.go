// File: internal/browser/session.go
// Package browser connects to the Chrome tab showing the host application,
// either by attaching to a running browser over its DevTools endpoint or by
// launching one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/internal/config"
)

// ErrNoTarget is returned when no open tab matches in attach mode.
var ErrNoTarget = errors.New("no matching browser tab")

// Session is a connection to one tab. It implements hostpage.ActionExecutor.
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc
	logger  *zap.Logger

	closeOnce sync.Once
}

// Connect opens a session as configured by cfg.Mode.
func Connect(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("browser").With(zap.String("mode", cfg.Mode))

	switch cfg.Mode {
	case config.BrowserModeAttach:
		return attach(ctx, cfg, log)
	case config.BrowserModeLaunch:
		return launch(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
	}
}

func attach(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, contextOptions(log)...)
	s := &Session{logger: log, cancels: []context.CancelFunc{allocCancel}}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		browserCancel()
		s.Close()
		return nil, fmt.Errorf("failed to list tabs at %s: %w", cfg.RemoteURL, err)
	}
	info, err := PickTarget(targets, cfg.TargetURLContains)
	if err != nil {
		browserCancel()
		s.Close()
		return nil, err
	}

	tabCtx, _ := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
	if err := chromedp.Run(tabCtx); err != nil {
		browserCancel()
		s.Close()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", info.TargetID, err)
	}
	// Cancelling the tab context would close the user's tab; the allocator
	// cancel only drops the connection.
	s.ctx = tabCtx
	log.Info("Attached to tab.", zap.String("url", info.URL), zap.String("title", info.Title))
	return s, nil
}

func launch(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ExecAllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, contextOptions(log)...)
	s := &Session{ctx: tabCtx, logger: log, cancels: []context.CancelFunc{tabCancel, allocCancel}}

	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if cfg.StartURL != "" {
		navCtx, cancel := CombineContext(tabCtx, ctx)
		defer cancel()
		if cfg.NavigationTimeout > 0 {
			var cancelTimeout context.CancelFunc
			navCtx, cancelTimeout = context.WithTimeout(navCtx, cfg.NavigationTimeout)
			defer cancelTimeout()
		}
		if err := chromedp.Run(navCtx, chromedp.Navigate(cfg.StartURL)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to navigate to %s: %w", cfg.StartURL, err)
		}
	}
	log.Info("Browser launched.", zap.String("start_url", cfg.StartURL), zap.Bool("headless", cfg.Headless))
	return s, nil
}

func contextOptions(log *zap.Logger) []chromedp.ContextOption {
	sugar := log.Sugar()
	return []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	}
}

// PickTarget returns the first page tab whose URL contains urlContains
// (case-insensitive). An empty filter picks the first page tab.
func PickTarget(targets []*target.Info, urlContains string) (*target.Info, error) {
	want := strings.ToLower(strings.TrimSpace(urlContains))
	for _, t := range targets {
		if t == nil || t.Type != "page" || strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		if want == "" || strings.Contains(strings.ToLower(t.URL), want) {
			return t, nil
		}
	}
	if want == "" {
		return nil, fmt.Errorf("%w: no page tabs open", ErrNoTarget)
	}
	return nil, fmt.Errorf("%w: no tab URL contains %q", ErrNoTarget, urlContains)
}

// RunActions runs chromedp actions against the tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close releases the connection. In launch mode it also closes the browser.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
		s.logger.Debug("Browser session closed.")
	})
}
