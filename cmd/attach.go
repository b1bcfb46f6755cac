// File: cmd/attach.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/browser"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/hostpage"
	"github.com/xkilldash9x/bulkperm/internal/observability"
)

const shellPrompt = "bulkperm> "

const shellHelp = `Commands:
  run FILE [TARGET]   apply a policy list; a new run supersedes the live one
  stop                stop the live run after its current value
  status              show the live run and the last summary
  help                show this help
  exit, quit          stop any live run and leave`

// shellCommand is one parsed line of the attach shell.
type shellCommand struct {
	Name   string
	File   string
	Target string
}

var errBlankLine = errors.New("blank line")

// parseShellLine splits a shell line into a command. FILE may contain spaces
// when no TARGET follows it.
func parseShellLine(line string) (shellCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return shellCommand{}, errBlankLine
	}
	name := strings.ToLower(fields[0])
	rest := fields[1:]

	switch name {
	case "run":
		if len(rest) == 0 {
			return shellCommand{}, fmt.Errorf("usage: run FILE [TARGET]")
		}
		c := shellCommand{Name: name}
		if len(rest) > 1 {
			if key, err := schemas.ParseFieldKey(rest[len(rest)-1]); err == nil {
				c.Target = string(key)
				rest = rest[:len(rest)-1]
			}
		}
		c.File = strings.Join(rest, " ")
		return c, nil
	case "stop", "status", "help":
		if len(rest) > 0 {
			return shellCommand{}, fmt.Errorf("%s takes no arguments", name)
		}
		return shellCommand{Name: name}, nil
	case "exit", "quit":
		return shellCommand{Name: "exit"}, nil
	default:
		return shellCommand{}, fmt.Errorf("unknown command %q; type help", fields[0])
	}
}

func newAttachCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Connect to the task page and accept run/stop/status commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			logger := observability.GetLogger()
			if target != "" {
				if _, err := schemas.ParseFieldKey(target); err != nil {
					return err
				}
				shellCfg := *cfg
				shellCfg.Run.DefaultTarget = target
				cfg = &shellCfg
			}

			ctx := cmd.Context()
			session, err := browser.Connect(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to the browser: %w", err)
			}
			defer session.Close()

			page := hostpage.NewCDPPage(session, logger, cfg.Browser.ActionTimeout)
			return runShell(ctx, page, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "default section for run FILE (default run.default_target)")
	return cmd
}

// runShell serves shell commands read from in until exit, end of input or
// cancellation of ctx. A live run is stopped before returning.
func runShell(ctx context.Context, page hostpage.Page, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) error {
	notifier := newConsoleNotifier(out)
	stack, err := newControllerStack(page, cfg, notifier, logger)
	if err != nil {
		return err
	}

	// Reads block outside of any context, so the reader is left behind on exit.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sh := &shell{stack: stack, cfg: cfg, out: out, logger: logger}
	return stack.drive(ctx, func(ctx context.Context) error {
		fmt.Fprintln(out, "Attached. Type help for commands.")
		for {
			fmt.Fprint(out, shellPrompt)
			select {
			case <-ctx.Done():
				fmt.Fprintln(out)
				return sh.leave(ctx, ctx.Err())
			case line, ok := <-lines:
				if !ok {
					return sh.leave(ctx, nil)
				}
				c, err := parseShellLine(line)
				if errors.Is(err, errBlankLine) {
					continue
				}
				if err != nil {
					fmt.Fprintln(out, err)
					continue
				}
				if c.Name == "exit" {
					return sh.leave(ctx, nil)
				}
				sh.exec(ctx, c)
			}
		}
	})
}

type shell struct {
	stack  *controllerStack
	cfg    *config.Config
	out    io.Writer
	logger *zap.Logger
}

func (sh *shell) exec(ctx context.Context, c shellCommand) {
	switch c.Name {
	case "help":
		fmt.Fprintln(sh.out, shellHelp)

	case "run":
		req, err := requestFromFile(sh.cfg, c.File, c.Target)
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
			return
		}
		reply, err := sh.stack.send(ctx, schemas.CommandRun, &req)
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
			return
		}
		fmt.Fprintf(sh.out, "run %s started (token %d, %d values)\n", reply.RunID, reply.Token, req.Sections.Total())

	case "stop":
		if _, err := sh.stack.send(ctx, schemas.CommandStop, nil); err != nil {
			fmt.Fprintln(sh.out, "error:", err)
			return
		}
		fmt.Fprintln(sh.out, "stop requested")

	case "status":
		reply, err := sh.stack.send(ctx, schemas.CommandStatus, nil)
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
			return
		}
		fmt.Fprintln(sh.out, renderStatus(reply))
	}
}

// leave stops a live run and returns cause.
func (sh *shell) leave(ctx context.Context, cause error) error {
	if sh.stack.service.Running() {
		fmt.Fprintln(sh.out, "stopping the live run...")
		if err := sh.stack.stopAndWait(ctx); err != nil {
			sh.logger.Warn("Run did not stop cleanly.", zap.Error(err))
		}
	}
	return cause
}
