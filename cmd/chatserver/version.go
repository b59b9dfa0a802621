package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chatserver build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
