// File: internal/controller/section.go
package controller

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/driver"
	"github.com/xkilldash9x/bulkperm/internal/runctx"
	"github.com/xkilldash9x/bulkperm/internal/waiter"
)

// ValueApplier applies one value to one field. *driver.Driver satisfies it.
type ValueApplier interface {
	ApplyValue(rc *runctx.RunContext, label, value string, opts driver.Options) (schemas.Outcome, error)
}

// SectionRunner applies the values of one section in order.
type SectionRunner struct {
	applier ValueApplier
	page    config.PageConfig
	logger  *zap.Logger
}

// NewSectionRunner creates a runner that resolves field labels through page.
func NewSectionRunner(applier ValueApplier, page config.PageConfig, logger *zap.Logger) *SectionRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionRunner{applier: applier, page: page, logger: logger.Named("section")}
}

// RunSection applies values to the field for key.
//
// A superseded run returns what was counted so far with Cancelled set and no
// error. A stop request returns ErrUserStopped before the next value.
func (s *SectionRunner) RunSection(rc *runctx.RunContext, key schemas.FieldKey, values []string, req schemas.RunRequest) (schemas.SectionSummary, error) {
	var summary schemas.SectionSummary
	if len(values) == 0 {
		return summary, nil
	}

	label := s.page.Label(key)
	delay := time.Duration(req.DelayMs) * time.Millisecond
	opts := driver.Options{Delay: delay, SkipExisting: req.SkipExisting}
	log := s.logger.With(zap.String("section", string(key)), zap.Uint64("token", rc.Token()))
	log.Info("Running section.", zap.Int("values", len(values)))

	for i, value := range values {
		if !rc.Live() {
			log.Warn("Cancelled (new run started).")
			summary.Cancelled = true
			return summary, nil
		}
		if rc.Stopped() {
			return summary, ErrUserStopped
		}

		log.Info("Applying value.", zap.Int("index", i+1), zap.Int("of", len(values)), zap.String("value", value))
		outcome, err := s.applier.ApplyValue(rc, label, value, opts)
		switch {
		case err != nil:
			if ctxErr := rc.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				if !rc.Live() {
					summary.Cancelled = true
					return summary, nil
				}
				return summary, err
			}
			summary.Failed++
			log.Error("Failed to apply value.",
				zap.String("field", label),
				zap.String("value", value),
				zap.Error(err))
			if req.StopOnError {
				return summary, fmt.Errorf("%s %q: %w", key, value, err)
			}
		case outcome == schemas.OutcomeCancelled:
			summary.Cancelled = true
			return summary, nil
		case outcome == schemas.OutcomeSkipped:
			summary.Skipped++
		case outcome.IsAdded():
			summary.Added++
		}

		if err := waiter.Pause(rc.Context(), delay); err != nil {
			if !rc.Live() {
				summary.Cancelled = true
				return summary, nil
			}
			return summary, err
		}
	}
	return summary, nil
}
