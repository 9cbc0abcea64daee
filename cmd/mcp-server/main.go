// Command mcp-server runs the conductor workflow orchestrator as an MCP
// server over stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conductor-mcp/conductor/pkg/service"
	"github.com/conductor-mcp/conductor/pkg/service/config"
	"github.com/conductor-mcp/conductor/pkg/store"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "conductor-mcp",
		Short:         "Token-driven workflow orchestrator serving MCP over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with CONDUCTOR_* variables")

	root.AddCommand(newServeCmd(&envFile))
	root.AddCommand(newMigrateCmd(&envFile))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply pending migrations and serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			srv, err := service.New(cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("Shutdown complete")
			return nil
		},
	}
}

func newMigrateCmd(envFile *string) *cobra.Command {
	var destructive bool
	var rollbackTo int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			st, err := store.Open(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if rollbackTo >= 0 {
				if err := st.Rollback(ctx, rollbackTo); err != nil {
					return err
				}
			} else if err := st.Migrate(ctx, store.MigrateOptions{AllowDestructive: destructive}); err != nil {
				return err
			}

			version, err := st.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&destructive, "destructive", false, "allow migrations that drop data")
	cmd.Flags().IntVar(&rollbackTo, "rollback-to", -1, "roll the schema back to this version instead of migrating")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor-mcp %s (%s)\n", Version, GitCommit)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout carries the MCP protocol; logs go to stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
