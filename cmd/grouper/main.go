// Package main is the entry point of the class grouper.
//
// The grouper partitions a student roster into groups of similar ability.
// It runs as a service (HTTP API and NATS responder) or as a one-shot CLI
// over a CSV file, and manages rosters stored in PostgreSQL.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/class-grouper/config"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

var (
	// Global flags
	configFile string

	// Set by PersistentPreRunE
	cfg *config.Config
	log *logger.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "grouper",
	Short: "Group students into balanced classes of similar ability",
	Long: `grouper partitions a student roster into groups of a target size.

Students are clustered by their survey answers (age, experience, skills) with
k-means, then the clusters are re-chunked into groups of exactly the target
size, with one smaller final group when the roster does not divide evenly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
		log = newLogger(cfg, cmd.ErrOrStderr())
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (default $CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd, groupCmd, rosterCmd, migrateCmd)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. Logs go to stderr so CLI output on
// stdout stays machine readable.
func newLogger(c *config.Config, out io.Writer) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = out
	opts.Level = logger.ParseLevel(c.Observability.LogLevel)
	opts.Format = logger.Format(c.Observability.LogFormat)
	opts.AddCaller = c.App.Debug || c.IsDevelopment()

	return logger.New(opts).With(
		logger.String("app", c.App.Name),
		logger.String("env", string(c.App.Environment)),
	)
}
