package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/iambrandonn/bmoffice/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bmoffice",
	Short: "Watch a multi-agent office and choreograph its movements",
	Long: `bmoffice polls a company's agents from the office backend, keeps a local
actor for each of them, and walks actors between zones when the backend
asks for a handoff or a return to the desk.

Running 'bmoffice' without a subcommand is equivalent to 'bmoffice watch'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the 'watch' command
		return watchCmd.RunE(cmd, args)
	},
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to bmoffice.{json,yaml,toml} (default: search up directory tree)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")

	addWatchFlags(rootCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the configuration: an explicit --config path, else the
// nearest config file up the tree, else the defaults
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get current directory: %w", err)
		}
		if configPath, err = config.Find(cwd); err != nil {
			return nil, "", err
		}
	}

	if configPath == "" {
		return config.GenerateDefault(), "", nil
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}

// newLogger builds the stderr logger, letting --log-level win over the config
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level := cfg.LogLevel
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	return config.NewLogger(cmd.ErrOrStderr(), level)
}

// setup loads and validates the config and builds the logger
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfgPath != "" {
		logger.Debug("loaded configuration", "path", cfgPath)
	} else {
		logger.Debug("no config file found, using defaults")
	}
	return cfg, logger, nil
}

// applyOverrides copies the connection flags a command defines onto cfg
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if f := flags.Lookup("api"); f != nil && f.Changed {
		cfg.API.BaseURL = f.Value.String()
	}
	if f := flags.Lookup("company"); f != nil && f.Changed {
		cfg.API.CompanyID = f.Value.String()
	}
	if f := flags.Lookup("interval"); f != nil && f.Changed {
		interval, err := flags.GetDuration("interval")
		if err != nil {
			return err
		}
		cfg.Poll.IntervalMs = int(interval.Milliseconds())
	}
	if f := flags.Lookup("feed"); f != nil && f.Changed {
		cfg.Feed.Enabled = true
		cfg.Feed.Addr = f.Value.String()
	}
	if f := flags.Lookup("record"); f != nil && f.Changed {
		cfg.Record.Path = f.Value.String()
	}
	return nil
}

// addConnectionFlags registers the flags every backend-facing command takes
func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("api", "", "Backend base URL (overrides api.base_url)")
	cmd.Flags().String("company", "", "Company ID (overrides api.company_id)")
}
