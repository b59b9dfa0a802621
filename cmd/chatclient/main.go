package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	identifier string
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "chatclient is a scriptable client for the end-to-end encrypted group chat relay",
	Long: `chatclient drives the client half of the protocol: it authenticates
against a relay server, keeps per-chat RSA key pairs in an encrypted local
store (generating one when the server sends CREATE_NEW_KEYS), and runs
the E2E handshake state machine whenever the server hands it an
E2E_HANDSHAKE event.`,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a client config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&identifier, "identifier", "local-machine", "machine identifier unlocking the local key store")
}
