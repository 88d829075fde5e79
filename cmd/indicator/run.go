package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/artifacts"
	"github.com/dgnsrekt/tv_sandbox/internal/attachments"
	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/journal"
	"github.com/dgnsrekt/tv_sandbox/internal/supervisor"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
	"github.com/spf13/cobra"
)

const cliInstance = "cli/run"

type runReport struct {
	Result    supervisor.Result    `json:"result"`
	Artifacts []artifacts.Artifact `json:"artifacts"`
}

func newRunCmd(rc *rootConfig) *cobra.Command {
	var (
		symbol    string
		timeframe string
		timeoutMS int
		mock      bool
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a script once against stored or generated bars and print what it plotted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if timeoutMS <= 0 {
				timeoutMS = rc.cfg.RunTimeoutMS
			}

			var src bars.Provider = bars.NewMock()
			if !mock {
				db, err := rc.openSQLite()
				if err != nil {
					return err
				}
				defer db.Close()
				src = bars.Fallback{Primary: db, Secondary: bars.NewMock()}
			}
			files, err := attachments.NewStore(rc.attach)
			if err != nil {
				return err
			}

			store := artifacts.NewMemoryStore()
			opts := supervisor.Options{
				Bars:       src,
				Files:      files,
				Sink:       store,
				MaxTimeout: time.Duration(rc.cfg.MaxTimeoutMS) * time.Millisecond,
				OnLog: func(e supervisor.LogEntry) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", e.Level, e.Line)
				},
			}
			if record {
				j := journal.New(rc.journal, 16, rc.cfg.JournalMaxMB)
				defer j.Close()
				opts.Journal = j
			}
			sup := supervisor.New(opts)

			run, err := sup.Start(cliInstance, types.RunSpec{
				Symbol:     symbol,
				Timeframe:  timeframe,
				SourceCode: string(code),
				TimeoutMS:  timeoutMS,
			})
			if err != nil {
				return err
			}
			res, err := run.Wait(cmd.Context())
			if err != nil {
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sup.Shutdown(shutdownCtx); err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), runReport{Result: res, Artifacts: store.List(artifacts.Prefix(cliInstance))}); err != nil {
				return err
			}
			if res.State != "completed" {
				return fmt.Errorf("run %s: %s", res.State, res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "BTCUSD", "symbol passed to the script")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1h", "timeframe passed to the script")
	cmd.Flags().IntVar(&timeoutMS, "timeout", 0, "run budget in ms (default $SANDBOX_RUN_TIMEOUT_MS)")
	cmd.Flags().BoolVar(&mock, "mock", false, "use generated bars instead of the bar database")
	cmd.Flags().BoolVar(&record, "record", false, "append the result to the run journal")
	return cmd
}
