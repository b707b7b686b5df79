package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streambench",
		Short: "streambench runs SQL benchmark queries over streaming topics.",
		Long: `streambench consumes the benchmark topics (shopping, click, imp, dau,
userVisit), registers them as tables, runs one SQL query file and appends
the measured throughput to <resultLocation>/result.log.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		runCmd(),
		historyCmd(),
	)
	return cmd
}
