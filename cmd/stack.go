// File: cmd/stack.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/bus"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/controller"
	"github.com/xkilldash9x/bulkperm/internal/driver"
	"github.com/xkilldash9x/bulkperm/internal/hostpage"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
	"github.com/xkilldash9x/bulkperm/internal/waiter"
)

const (
	// controllerReadyTimeout bounds the wait for the controller to subscribe.
	controllerReadyTimeout = 5 * time.Second
	// stopGrace is how long a stopped run may take to finish its current value.
	stopGrace = 30 * time.Second
)

// controllerStack is the page-side half of the tool: the command bus and the
// service consuming it, bound to one page.
type controllerStack struct {
	bus     *bus.Bus
	service *controller.Service
	logger  *zap.Logger
}

func newControllerStack(page hostpage.Page, cfg *config.Config, notifier controller.Notifier, logger *zap.Logger) (*controllerStack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := driver.New(page, cfg.Timing, logger)
	sections := controller.NewSectionRunner(d, cfg.Page, logger)
	orch, err := controller.NewOrchestrator(cfg.Page, page, sections, notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	b := bus.New(logger, cfg.Run.BusBufferSize, cfg.Run.CommandTimeout)
	return &controllerStack{
		bus:     b,
		service: controller.NewService(b, runctx.NewRegistry(), orch, logger),
		logger:  logger,
	}, nil
}

// drive runs the controller alongside fn and tears it down once fn returns.
// The controller does not inherit ctx's cancellation: fn decides how an
// interrupt turns into a STOP.
func (s *controllerStack) drive(ctx context.Context, fn func(ctx context.Context) error) error {
	serveCtx, cancelServe := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelServe()

	var g errgroup.Group
	g.Go(func() error {
		return s.service.Serve(serveCtx)
	})
	g.Go(func() error {
		defer cancelServe()
		if err := s.waitReady(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
	err := g.Wait()
	s.bus.Shutdown()
	return err
}

func (s *controllerStack) waitReady(ctx context.Context) error {
	ready, err := waiter.UntilTrue(ctx, 10*time.Millisecond, controllerReadyTimeout, func(ctx context.Context) (bool, error) {
		_, err := s.send(ctx, schemas.CommandStatus, nil)
		if errors.Is(err, bus.ErrNoHandler) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("controller did not come up within %v", controllerReadyTimeout)
	}
	return nil
}

// send posts a command and returns the controller's reply. A rejected
// command comes back as an error.
func (s *controllerStack) send(ctx context.Context, typ schemas.CommandType, req *schemas.RunRequest) (schemas.Reply, error) {
	reply, err := s.bus.Request(ctx, schemas.Command{Type: typ, Payload: req})
	if err != nil {
		return reply, err
	}
	if !reply.Accepted {
		return reply, fmt.Errorf("%s rejected: %s", typ, reply.Error)
	}
	return reply, nil
}

// stopAndWait sends STOP and gives the live run stopGrace to unwind. It
// ignores the cancellation of ctx.
func (s *controllerStack) stopAndWait(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopGrace)
	defer cancel()
	if _, err := s.send(waitCtx, schemas.CommandStop, nil); err != nil {
		s.logger.Warn("Stop command failed.", zap.Error(err))
	}
	if err := s.service.WaitIdle(waitCtx); err != nil {
		return fmt.Errorf("run did not stop within %v: %w", stopGrace, err)
	}
	return nil
}
