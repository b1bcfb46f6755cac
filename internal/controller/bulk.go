// File: internal/controller/bulk.go
// Package controller runs bulk permission requests against the host page: the
// orchestrator walks the four sections, the section runner walks their values,
// and the service turns RUN/STOP/STATUS commands into runs.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
)

var (
	ErrWrongPage   = errors.New("not on the domain permissions task page")
	ErrUserStopped = errors.New("stopped by user")
)

// Notifier is told how a run ended. It is only called for runs that are still
// live and were not stopped.
type Notifier interface {
	RunFinished(summary schemas.RunSummary)
	RunFailed(token uint64, err error)
	WrongPage(message string)
}

// HeadingReader is the part of the page the orchestrator inspects before a run.
type HeadingReader interface {
	Heading(ctx context.Context) (string, error)
}

// Orchestrator runs a whole request, section by section.
type Orchestrator struct {
	page     config.PageConfig
	heading  HeadingReader
	sections *SectionRunner
	notifier Notifier
	logger   *zap.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(
	page config.PageConfig,
	heading HeadingReader,
	sections *SectionRunner,
	notifier Notifier,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if heading == nil || sections == nil || notifier == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		page:     page,
		heading:  heading,
		sections: sections,
		notifier: notifier,
		logger:   logger.Named("orchestrator"),
	}, nil
}

// Run applies req in the fixed section order MODIFY, VIEW, PUT, GET.
func (o *Orchestrator) Run(rc *runctx.RunContext, runID string, req schemas.RunRequest) (*schemas.RunSummary, error) {
	log := o.logger.With(zap.String("run_id", runID), zap.Uint64("token", rc.Token()))

	onPage, err := o.onTaskPage(rc)
	if err != nil {
		o.fail(rc, err)
		return nil, err
	}
	if !onPage {
		log.Warn("Wrong page; nothing applied.")
		if o.reportable(rc) {
			o.notifier.WrongPage(o.page.WrongPageMessage)
		}
		return nil, ErrWrongPage
	}

	counts := make([]zap.Field, 0, len(schemas.FieldOrder))
	for _, k := range schemas.FieldOrder {
		counts = append(counts, zap.Int(strings.ToLower(string(k)), len(req.Sections[k])))
	}
	log.Info("Run started.", append(counts,
		zap.Int("delay_ms", req.DelayMs),
		zap.Bool("skip_existing", req.SkipExisting),
		zap.Bool("stop_on_error", req.StopOnError))...)

	summary := schemas.NewRunSummary(runID, rc.Token())
	for _, k := range schemas.FieldOrder {
		s, err := o.sections.RunSection(rc, k, req.Sections[k], req)
		summary.Sections[k] = s
		if err != nil {
			o.fail(rc, err)
			return summary, err
		}
	}

	if o.reportable(rc) {
		log.Info("Run finished.", zap.Any("summary", summary.Sections))
		o.notifier.RunFinished(*summary)
	} else {
		log.Info("Run ended without report.", zap.Bool("live", rc.Live()), zap.Bool("stopped", rc.Stopped()))
	}
	return summary, nil
}

func (o *Orchestrator) onTaskPage(rc *runctx.RunContext) (bool, error) {
	h, err := o.heading.Heading(rc.Context())
	if err != nil {
		return false, fmt.Errorf("failed to read page heading: %w", err)
	}
	want := strings.ToLower(strings.TrimSpace(o.page.Heading))
	return strings.Contains(strings.ToLower(h), want), nil
}

func (o *Orchestrator) reportable(rc *runctx.RunContext) bool {
	return rc.Live() && !rc.Stopped()
}

func (o *Orchestrator) fail(rc *runctx.RunContext, err error) {
	if !o.reportable(rc) {
		o.logger.Debug("Suppressed error from inactive run.", zap.Uint64("token", rc.Token()), zap.Error(err))
		return
	}
	o.logger.Error("Fatal run error.", zap.Uint64("token", rc.Token()), zap.Error(err))
	o.notifier.RunFailed(rc.Token(), err)
}
