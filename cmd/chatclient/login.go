package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Log into an existing account",
	Args:  cobra.ExactArgs(2),
	RunE:  runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	username, password := args[0], args[1]

	c, done, err := connectedClient()
	if err != nil {
		return err
	}
	defer done()

	if err := c.Login(username, hashPassword(password)); err != nil {
		return fmt.Errorf("sending login request: %w", err)
	}

	ev, ok := awaitTag(c, replyTimeout, "LOGIN_RESULT")
	if !ok {
		return fmt.Errorf("no response from server")
	}
	if success, _ := ev.Fields["success"].(bool); !success {
		return fmt.Errorf("login failed: bad username or password")
	}
	fmt.Printf("logged in as %s, uuid=%v\n", username, ev.Fields["uuid"])
	return nil
}
