// Command migratectl drives the import engine from the shell: detect a
// file's format, import it with a dry-run preview, export collections and
// manage backup bundles.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ledgermigrate/internal/app"
	"github.com/JonMunkholm/ledgermigrate/internal/config"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/events"
	"github.com/JonMunkholm/ledgermigrate/internal/logging"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", core.FormatUserError(err))
		fmt.Fprintln(os.Stderr, "detail:", err)
		os.Exit(1)
	}
}

// cli carries the wiring shared by all subcommands. It is filled in by
// the root command's PersistentPreRunE.
type cli struct {
	envFile  string
	logLevel string

	cfg      *config.Config
	app      *app.App
	recorder *events.Recorder
}

func (c *cli) service() *core.Service { return c.app.Service }

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "migratectl",
		Short:         "Import, export and back up ledger data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newDetectCmd(c),
		newImportCmd(c),
		newExportCmd(c),
		newBackupCmd(c),
		newRestoreCmd(c),
	)
	return root
}

// open loads configuration and wires the engine. Events go to Kafka when
// configured; otherwise they are recorded so import can list them.
func (c *cli) open(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Overload(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	var opts app.Options
	if !strings.EqualFold(cfg.Events.Backend, events.BackendKafka) {
		c.recorder = events.NewRecorder()
		opts.Publisher = c.recorder
	}

	a, err := app.Open(cmd.Context(), cfg, logger, opts)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}
