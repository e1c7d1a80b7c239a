package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/idem"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of idem",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "idem version %s\n", strings.TrimSpace(idem.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
