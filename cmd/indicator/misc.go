package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/indicators"
	"github.com/dgnsrekt/tv_sandbox/internal/journal"
	"github.com/spf13/cobra"
)

func newBuiltinsCmd(rc *rootConfig) *cobra.Command {
	var (
		symbol    string
		timeframe string
		params    []string
		mock      bool
	)
	cmd := &cobra.Command{
		Use:   "builtins [id]",
		Short: "List built-in indicators, or compute one over a series",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, b := range indicators.Builtins() {
					var ps []string
					for _, p := range b.Params {
						ps = append(ps, fmt.Sprintf("%s=%g", p.Name, p.Default))
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-6s %-32s %s\n", b.ID, b.Name, strings.Join(ps, " "))
				}
				return nil
			}

			values, err := parseParams(params)
			if err != nil {
				return err
			}
			var src bars.Provider = bars.NewMock()
			if !mock {
				store, err := rc.openSQLite()
				if err != nil {
					return err
				}
				defer store.Close()
				src = store
			}
			bs, err := src.GetBars(cmd.Context(), symbol, timeframe)
			if err != nil {
				return err
			}
			out, err := indicators.Compute(args[0], bs, values)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "BTCUSD", "series symbol")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1h", "series timeframe")
	cmd.Flags().StringSliceVar(&params, "param", nil, "parameter override, e.g. --param period=14")
	cmd.Flags().BoolVar(&mock, "mock", false, "use generated bars instead of the bar database")
	return cmd
}

func parseParams(kvs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad --param %q: want name=value", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("bad --param %q: %w", kv, err)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}

func newJournalCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "journal [YYYY-MM-DD]",
		Short: "Print run results journaled on a day (default today, UTC)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC().Format("2006-01-02")
			if len(args) == 1 {
				date = args[0]
			}
			records, err := journal.ReadDay(rc.journal, date)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintln(cmd.OutOrStdout(), string(r))
			}
			return nil
		},
	}
}
