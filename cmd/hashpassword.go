package cmd

import (
	"fmt"
	"log"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/traso56/oribot/oribot"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really
// only here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var hashPasswordCmd = &cobra.Command{
	Use:   "hashpassword",
	Short: "Hash an admin password for the api.admin_password_hash setting",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var password string
		for {
			fmt.Fprint(out, "Enter admin password: ")
			passwordBytes, err := customPasswordReader()
			if err != nil {
				log.Fatalf("Error reading password: %v", err)
			}
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin password: ")
			confirmBytes, err := customPasswordReader()
			if err != nil {
				log.Fatalf("Error reading password: %v", err)
			}
			fmt.Fprintln(out)

			if password == string(confirmBytes) {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}

		hashed, err := oribot.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}
		fmt.Fprintln(out, hashed)
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
