package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adaojoaquim/agi-core/engine"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agicore %s\n", engine.Version)
	},
}
