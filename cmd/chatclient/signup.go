package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var signUpCmd = &cobra.Command{
	Use:   "signup <username> <password>",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(2),
	RunE:  runSignUp,
}

func init() {
	rootCmd.AddCommand(signUpCmd)
}

func runSignUp(cmd *cobra.Command, args []string) error {
	username, password := args[0], args[1]

	c, done, err := connectedClient()
	if err != nil {
		return err
	}
	defer done()

	if err := c.SignUp(username, hashPassword(password)); err != nil {
		return fmt.Errorf("sending signup request: %w", err)
	}

	ev, ok := awaitTag(c, replyTimeout, "SIGN_UP_RESULT")
	if !ok {
		return fmt.Errorf("no response from server")
	}
	if success, _ := ev.Fields["success"].(bool); !success {
		return fmt.Errorf("signup failed: username %q is already taken", username)
	}
	fmt.Printf("signed up as %s, uuid=%v\n", username, ev.Fields["uuid"])
	return nil
}
