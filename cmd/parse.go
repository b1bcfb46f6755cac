// File: cmd/parse.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/observability"
	"github.com/xkilldash9x/bulkperm/internal/sheet"
)

func newParseCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Print the policy block a sheet or text file would run",
		Long: `Parse reads a text block or an .xlsx/.xlsm/.csv export and prints the
MODIFY:/VIEW:/PUT:/GET: block that run would apply. The output can be edited
and passed back to run --input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = config.Get().Run.DefaultTarget
			}
			key, err := schemas.ParseFieldKey(target)
			if err != nil {
				return err
			}
			sections, err := sheet.LoadSections(args[0], key)
			if err != nil {
				return err
			}
			observability.GetLogger().Debug("Parsed input.",
				zap.String("path", args[0]),
				zap.Int("values", sections.Total()))

			block := sheet.FormatBlock(sections)
			if block == "" {
				return fmt.Errorf("%s: %w", args[0], ErrNoInput)
			}
			fmt.Fprint(cmd.OutOrStdout(), block)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "section for lines before any header (default run.default_target)")
	return cmd
}
