package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scholarrserver",
	Short: "The main Scholarr application.",
	Long: `The main Scholarr application.

The different parts of Scholarr are run as sub-commands, for example
to run the full server:

	scholarrserver serve --config=instance_config.json

`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	initSubCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initSubCommands() {
	serveInit()
	initDbInit()
	addUserInit()
	versionInit()
}
