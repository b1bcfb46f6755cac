// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/browser"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/controller"
	"github.com/xkilldash9x/bulkperm/internal/hostpage"
	"github.com/xkilldash9x/bulkperm/internal/observability"
	"github.com/xkilldash9x/bulkperm/internal/sheet"
)

// ErrNoInput is returned when a run has nothing to apply.
var ErrNoInput = errors.New("nothing to run: provide a policy list or an exported sheet")

func newRunCmd(v *viper.Viper) *cobra.Command {
	var input, requestFile, target string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply a policy list to the open task page and wait for the summary",
		Long: `Run reads policies from --input (a text block with MODIFY:/VIEW:/PUT:/GET:
headers, or an .xlsx/.xlsm/.csv export) or from a JSON run request given with
--request, and selects them on the task page. Ctrl+C stops the run after the
current value.`,
		Example: `  bulkperm run --input policies.xlsx
  bulkperm run -i list.txt --target VIEW --delay-ms 400
  bulkperm run --request request.json --stop-on-error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			logger := observability.GetLogger()

			req, err := buildRunRequest(cmd, cfg, input, requestFile, target)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			session, err := browser.Connect(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to the browser: %w", err)
			}
			defer session.Close()

			page := hostpage.NewCDPPage(session, logger, cfg.Browser.ActionTimeout)
			return runOnce(ctx, page, cfg, req, newConsoleNotifier(cmd.OutOrStdout()), logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "policy list: text file or .xlsx/.xlsm/.csv export")
	flags.StringVar(&requestFile, "request", "", "JSON run request file")
	flags.StringVar(&target, "target", "", "section for lines before any header (default run.default_target)")
	flags.Int("delay-ms", 0, "pause after each value, in milliseconds")
	flags.Bool("skip-existing", true, "skip values already selected in the field")
	flags.Bool("stop-on-error", false, "abort the run on the first failed value")
	bindFlag(v, "run.delay_ms", flags.Lookup("delay-ms"))
	bindFlag(v, "run.skip_existing", flags.Lookup("skip-existing"))
	bindFlag(v, "run.stop_on_error", flags.Lookup("stop-on-error"))
	return cmd
}

// runOnce sends one RUN and waits for it to finish. Cancelling ctx stops the
// run after its current value.
func runOnce(ctx context.Context, page hostpage.Page, cfg *config.Config, req schemas.RunRequest, notifier controller.Notifier, logger *zap.Logger) error {
	stack, err := newControllerStack(page, cfg, notifier, logger)
	if err != nil {
		return err
	}

	return stack.drive(ctx, func(ctx context.Context) error {
		reply, err := stack.send(ctx, schemas.CommandRun, &req)
		if err != nil {
			return err
		}
		logger.Info("Run started.",
			zap.Uint64("token", reply.Token),
			zap.String("run_id", reply.RunID),
			zap.Int("values", req.Sections.Total()))

		if err := stack.service.WaitIdle(ctx); err != nil {
			logger.Info("Interrupted; stopping the run.")
			if stopErr := stack.stopAndWait(ctx); stopErr != nil {
				logger.Warn("Run did not stop cleanly.", zap.Error(stopErr))
			}
			return err
		}

		summary, runErr := stack.service.LastResult()
		if runErr != nil {
			return runErr
		}
		if summary != nil {
			logger.Info("Run finished.", zap.String("run_id", summary.RunID))
		}
		return nil
	})
}

// buildRunRequest assembles the request from a request file or an input
// file, with run options from config. Flags set explicitly override a
// request file.
func buildRunRequest(cmd *cobra.Command, cfg *config.Config, input, requestFile, target string) (schemas.RunRequest, error) {
	var req schemas.RunRequest
	switch {
	case requestFile != "" && input != "":
		return req, fmt.Errorf("--input and --request are mutually exclusive")

	case requestFile != "":
		path, err := homedir.Expand(requestFile)
		if err != nil {
			return req, fmt.Errorf("failed to expand path %q: %w", requestFile, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("failed to read run request: %w", err)
		}
		if req, err = schemas.DecodeRunRequest(data); err != nil {
			return req, err
		}
		flags := cmd.Flags()
		if flags.Changed("delay-ms") {
			req.DelayMs = cfg.Run.DelayMs
		}
		if flags.Changed("skip-existing") {
			req.SkipExisting = cfg.Run.SkipExisting
		}
		if flags.Changed("stop-on-error") {
			req.StopOnError = cfg.Run.StopOnError
		}

	case input != "":
		var err error
		if req, err = requestFromFile(cfg, input, target); err != nil {
			return req, err
		}

	default:
		return req, ErrNoInput
	}

	if req.Sections.Total() == 0 {
		return req, ErrNoInput
	}
	return req, req.Validate()
}

// requestFromFile loads sections from path and applies the configured run
// options. target, when set, overrides the configured default section.
func requestFromFile(cfg *config.Config, path, target string) (schemas.RunRequest, error) {
	if target == "" {
		target = cfg.Run.DefaultTarget
	}
	key, err := schemas.ParseFieldKey(target)
	if err != nil {
		return schemas.RunRequest{}, err
	}
	sections, err := sheet.LoadSections(path, key)
	if err != nil {
		return schemas.RunRequest{}, err
	}

	req := schemas.NewRunRequest(sections)
	req.DelayMs = cfg.Run.DelayMs
	req.SkipExisting = cfg.Run.SkipExisting
	req.StopOnError = cfg.Run.StopOnError
	if req.Sections.Total() == 0 {
		return req, ErrNoInput
	}
	return req, nil
}
