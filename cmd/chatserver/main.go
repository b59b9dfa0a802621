package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatserver",
	Short: "chatserver runs the end-to-end encrypted group chat relay",
	Long: `chatserver is the relay half of the chat system: it authenticates
users, stores chats and their encrypted message logs, and mediates the
E2E handshake that hands a chat's key pair to newly-added participants
without ever seeing the key material itself.`,
}

func main() {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a server config file (YAML or JSON)")
}
