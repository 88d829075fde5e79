package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgnsrekt/tv_sandbox/internal/bars"
	"github.com/dgnsrekt/tv_sandbox/internal/types"
	"github.com/spf13/cobra"
)

func newBarsCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Import, export and list stored bar series",
	}
	cmd.AddCommand(
		newBarsImportCmd(rc),
		newBarsExportCmd(rc),
		newBarsListCmd(rc),
		newBarsDeleteCmd(rc),
	)
	return cmd
}

func seriesFlags(cmd *cobra.Command, symbol, timeframe *string) {
	cmd.Flags().StringVar(symbol, "symbol", "", "series symbol")
	cmd.Flags().StringVar(timeframe, "timeframe", "", "series timeframe, e.g. 1m, 4h, 1d")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("timeframe")
}

func newBarsImportCmd(rc *rootConfig) *cobra.Command {
	var symbol, timeframe string
	cmd := &cobra.Command{
		Use:   "import <file.csv|file.parquet>",
		Short: "Load bars from a CSV or Parquet file into the bar database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := bars.ParseTimeframe(timeframe); err != nil {
				return err
			}
			var (
				bs      []types.Bar
				skipped int
				err     error
			)
			switch strings.ToLower(filepath.Ext(args[0])) {
			case ".parquet":
				bs, err = bars.ReadParquet(args[0])
			default:
				f, openErr := os.Open(args[0])
				if openErr != nil {
					return openErr
				}
				defer f.Close()
				bs, skipped, err = bars.ReadCSV(f)
			}
			if err != nil {
				return err
			}

			store, err := rc.openSQLite()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.PutBars(cmd.Context(), symbol, timeframe, bs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d bars into %s %s (%d rows skipped)\n", n, symbol, timeframe, skipped)
			return nil
		},
	}
	seriesFlags(cmd, &symbol, &timeframe)
	return cmd
}

func newBarsExportCmd(rc *rootConfig) *cobra.Command {
	var symbol, timeframe, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stored series to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openSQLite()
			if err != nil {
				return err
			}
			defer store.Close()
			bs, err := store.GetBars(cmd.Context(), symbol, timeframe)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("%s_%s.parquet", symbol, timeframe)
			}
			if err := bars.WriteParquet(out, bs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bars to %s\n", len(bs), out)
			return nil
		},
	}
	seriesFlags(cmd, &symbol, &timeframe)
	cmd.Flags().StringVar(&out, "out", "", "output path (default <symbol>_<timeframe>.parquet)")
	return cmd
}

func newBarsListCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored series",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openSQLite()
			if err != nil {
				return err
			}
			defer store.Close()
			series, err := store.Series(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range series {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-4s %6d bars  %d .. %d\n", s.Symbol, s.Timeframe, s.Count, s.First, s.Last)
			}
			return nil
		},
	}
}

func newBarsDeleteCmd(rc *rootConfig) *cobra.Command {
	var symbol, timeframe string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stored series",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openSQLite()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.DeleteSeries(cmd.Context(), symbol, timeframe)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d bars\n", n)
			return nil
		},
	}
	seriesFlags(cmd, &symbol, &timeframe)
	return cmd
}
