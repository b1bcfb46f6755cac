// File: internal/controller/service.go
package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/bus"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
)

// Runner executes one run request. *Orchestrator satisfies it.
type Runner interface {
	Run(rc *runctx.RunContext, runID string, req schemas.RunRequest) (*schemas.RunSummary, error)
}

// Service consumes RUN, STOP and STATUS commands from the bus. Runs execute on
// their own goroutine, one at a time: a new RUN supersedes the live run and
// waits for it to unwind before starting.
type Service struct {
	bus      *bus.Bus
	registry *runctx.Registry
	runner   Runner
	logger   *zap.Logger

	mu      sync.Mutex
	done    chan struct{}
	runID   string
	last    *schemas.RunSummary
	lastErr error
	wg      sync.WaitGroup
}

// NewService creates the command service.
func NewService(b *bus.Bus, registry *runctx.Registry, runner Runner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bus:      b,
		registry: registry,
		runner:   runner,
		logger:   logger.Named("controller"),
	}
}

// Serve handles commands until ctx is done or the bus shuts down. Before
// returning it waits for the live run to unwind.
func (s *Service) Serve(ctx context.Context) error {
	msgs, unsubscribe := s.bus.Subscribe(schemas.CommandRun, schemas.CommandStop, schemas.CommandStatus)
	defer unsubscribe()
	defer s.wg.Wait()

	s.logger.Info("Controller ready.")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Controller stopping.", zap.Error(ctx.Err()))
			return nil
		case env, ok := <-msgs:
			if !ok {
				s.logger.Info("Command bus closed; controller stopping.")
				return nil
			}
			s.handle(ctx, env)
			s.bus.Acknowledge(env)
		}
	}
}

func (s *Service) handle(ctx context.Context, env bus.Envelope) {
	cmd := env.Command
	log := s.logger.With(zap.String("command", string(cmd.Type)), zap.String("id", cmd.ID))

	switch cmd.Type {
	case schemas.CommandRun:
		if cmd.Payload == nil {
			log.Warn("RUN without payload rejected.")
			env.Reply(schemas.Reply{Token: s.registry.Token(), Error: "run command requires a payload"})
			return
		}
		if err := cmd.Payload.Validate(); err != nil {
			env.Reply(schemas.Reply{Token: s.registry.Token(), Error: err.Error()})
			return
		}
		token, runID := s.start(ctx, *cmd.Payload)
		log.Info("Run requested.", zap.Uint64("token", token), zap.String("run_id", runID))
		env.Reply(schemas.Reply{Accepted: true, Token: token, RunID: runID, Running: true})

	case schemas.CommandStop:
		s.registry.Stop()
		log.Info("Stop requested.", zap.Uint64("token", s.registry.Token()))
		env.Reply(schemas.Reply{Accepted: true, Token: s.registry.Token(), Running: s.Running()})

	case schemas.CommandStatus:
		env.Reply(s.status())

	default:
		log.Warn("Unknown command ignored.")
		env.Reply(schemas.Reply{Token: s.registry.Token(), Error: "unknown command " + string(cmd.Type)})
	}
}

// start supersedes the live run and launches req.
func (s *Service) start(ctx context.Context, req schemas.RunRequest) (uint64, string) {
	rc := s.registry.Begin(ctx)

	runID := uuid.NewString()
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.done
	s.done = done
	s.runID = runID
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer rc.Release()

		summary, err := s.runner.Run(rc, runID, req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if !rc.Live() {
			return
		}
		if summary != nil {
			s.last = summary
		}
		s.lastErr = err
	}()
	return rc.Token(), runID
}

// Running reports whether a run goroutine is still active.
func (s *Service) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (s *Service) status() schemas.Reply {
	running := s.Running()
	s.mu.Lock()
	defer s.mu.Unlock()
	r := schemas.Reply{
		Accepted: true,
		Token:    s.registry.Token(),
		RunID:    s.runID,
		Running:  running,
		Summary:  s.last,
	}
	if s.lastErr != nil {
		r.Error = s.lastErr.Error()
	}
	return r
}

// WaitIdle blocks until the most recently started run has finished.
func (s *Service) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		// A RUN may have superseded the one we waited on.
		s.mu.Lock()
		same := s.done == done
		s.mu.Unlock()
		if same {
			return nil
		}
	}
}

// LastResult returns the summary and error of the last run that finished while live.
func (s *Service) LastResult() (*schemas.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}
