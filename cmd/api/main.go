package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"workboard/api/cmd/api/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "workboard",
		Short:         "Workboard API server and CLI",
		Long:          "Workboard assigns a team's weekly tasks to members within their available hours.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewBoardCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
