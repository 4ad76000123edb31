// Package cli holds the tradeagent cobra commands and wires configuration
// into the domain packages.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/config"
	"github.com/rustyeddy/tradeagent/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// RootConfig carries the persistent flags and the loaded configuration to
// every subcommand.
type RootConfig struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	JSONLogs   bool

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "tradeagent",
		Short:         "tradeagent: daily equity decision pipeline and backtester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "Database DSN; overrides DATABASE_URL")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&rc.JSONLogs, "json-logs", false, "Emit structured JSON logs")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return rc.load(cmd)
	}

	cmd.AddCommand(
		newRunCmd(rc),
		newBacktestCmd(rc),
		newScheduleCmd(rc),
		newSnapshotCmd(rc),
		newAssessCmd(rc),
		newDecisionsCmd(rc),
		newTradesCmd(rc),
		newInstrumentsCmd(rc),
		newConfigCmd(rc),
		newVersionCmd(),
	)
	return cmd
}

func (rc *RootConfig) load(cmd *cobra.Command) error {
	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		return err
	}
	if rc.DBPath != "" {
		cfg.Env.DatabaseURL = rc.DBPath
	}
	level := rc.LogLevel
	if f := cmd.Flags().Lookup("log-level"); (f == nil || !f.Changed) && cfg.Env.LogLevel != "" {
		level = cfg.Env.LogLevel
	}
	rc.cfg = cfg
	rc.logger = logging.SetupWriter(cmd.ErrOrStderr(), level, rc.JSONLogs)
	return nil
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradeagent %s\n", Version)
		},
	}
}
