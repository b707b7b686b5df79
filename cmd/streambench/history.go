package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tianqiongenze/StreamingBench/pkg/bench"
	"github.com/tianqiongenze/StreamingBench/pkg/config"
	"github.com/tianqiongenze/StreamingBench/pkg/state"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <configFile> [queryName]",
		Short: "List stored results, oldest first.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(args[0])
			queryName := ""
			if len(args) == 2 {
				queryName = args[1]
			}

			hist, err := state.OpenHistory(cfg.State.Path)
			if err != nil {
				return err
			}
			defer hist.Close()

			results, err := hist.List(queryName)
			if err != nil {
				return err
			}
			stats, err := hist.StatsByQuery()
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), results, stats)
		},
	}
}

func printHistory(out io.Writer, results []bench.Result, stats map[string]int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tQUERY\tRUNTIME(s)\tRECORDS\tTPS\tROWS\tHASH")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.FinishedAt.Format("2006-01-02 15:04:05"), r.QueryName, r.RuntimeSeconds(),
			r.TotalRecordCount, r.TPS, r.ResultRows, r.QueryHash)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	queries := make([]string, 0, len(stats))
	for q := range stats {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	fmt.Fprintf(out, "\n%d result(s) listed\n", len(results))
	for _, q := range queries {
		fmt.Fprintf(out, "  %s: %d run(s)\n", q, stats[q])
	}
	return nil
}
