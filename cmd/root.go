// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/internal/config"
	"github.com/xkilldash9x/bulkperm/internal/observability"
)

const (
	appName   = "bulkperm"
	envPrefix = "BULKPERM"
)

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	root := &cobra.Command{
		Use:   appName,
		Short: "Bulk entry of domain security policy permissions into the security group task page.",
		Long: `bulkperm reads a list of domain security policies, from a text block or an
exported spreadsheet, and selects each one in the Modify, View, Put and Get
fields of the "Maintain Domain Permissions for Security Group" task, driving
your logged-in Chrome tab over the DevTools protocol.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: appName})
				return err
			}
			config.Set(cfg)
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()),
				zap.String("browser_mode", cfg.Browser.Mode))
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml or $XDG_CONFIG_HOME/bulkperm/config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("remote-url", "", "DevTools endpoint of the Chrome to attach to")
	flags.String("browser-mode", "", "attach to a running Chrome or launch one (attach|launch)")
	bindFlag(v, "logger.level", flags.Lookup("log-level"))
	bindFlag(v, "browser.remote_url", flags.Lookup("remote-url"))
	bindFlag(v, "browser.mode", flags.Lookup("browser-mode"))

	root.AddCommand(
		newRunCmd(v),
		newAttachCmd(),
		newParseCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Interrupted.")
		} else {
			observability.GetLogger().Error("Command failed.", zap.Error(err))
			fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file, if any, and environment overrides.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// No config file is fine unless one was named explicitly.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// bindFlag maps a flag onto a config key. Unchanged flags leave the
// config file and defaults in charge.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag for %s: %v", key, err))
	}
}
