package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codesearch",
		Short: "Harvest GitHub code search results",
		Long: `codesearch collects as many results as possible for one GitHub code
search query. It re-runs the query under up to three orderings to get
past the 1000-results-per-query cap and waits out rate limiting.`,
		SilenceUsage: true,
	}

	root.AddCommand(newSearchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("codesearch version %s\n", version)
		},
	}
}
