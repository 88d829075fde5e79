package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

// rootConfig is shared by every subcommand. Defaults come from the same
// SANDBOX_* environment the server reads.
type rootConfig struct {
	cfg      *config.Config
	logLevel string
	sqlite   string
	attach   string
	journal  string
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "indicator",
		Short:         "Run custom indicator scripts and manage their data offline",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rc.cfg = cfg
			if rc.sqlite == "" {
				rc.sqlite = cfg.SQLitePath
			}
			if rc.attach == "" {
				rc.attach = cfg.AttachmentsDir
			}
			if rc.journal == "" {
				rc.journal = cfg.JournalDir
			}
			setupCLILogger(rc.logLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rc.logLevel, "log-level", "warn", "stderr log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&rc.sqlite, "sqlite", "", "bar database path (default $SANDBOX_SQLITE_PATH)")
	cmd.PersistentFlags().StringVar(&rc.attach, "attachments", "", "attachment directory (default $SANDBOX_ATTACHMENTS_DIR)")
	cmd.PersistentFlags().StringVar(&rc.journal, "journal", "", "run journal directory (default $SANDBOX_JOURNAL_DIR)")

	cmd.AddCommand(
		newRunCmd(rc),
		newBarsCmd(rc),
		newBuiltinsCmd(rc),
		newJournalCmd(rc),
		newVersionCmd(),
	)
	return cmd
}

func (rc *rootConfig) openSQLite() (*bars.SQLiteStore, error) {
	return bars.NewSQLite(rc.sqlite)
}

func setupCLILogger(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("indicator " + version)
		},
	}
}
