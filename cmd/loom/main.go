// Command loom is an autonomous issue-workflow orchestrator: it watches a
// forge repository's labels and drives issues through plan, implement,
// review, and merge by dispatching phase commands into a terminal
// multiplexer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var cfgFile string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loom",
		Short: "Weave issues through plan, implement, review, merge",
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yml (default: <state-dir>/config.yml)")

	cmd.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newOpenCmd(),
		newConfigCmd(),
		newHistoryCmd(),
		newDashboardCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print loom's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loom %s\n", version)
		},
	}
}
