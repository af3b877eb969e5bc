package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "development"

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func versionInit() {
	rootCmd.AddCommand(versionCmd)
}
