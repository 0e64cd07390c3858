package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the generation service",
	Long: `Log in to the generation service and persist the access token.

The password is prompted interactively unless --password is given
(intended for CI use only).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loginRun()
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the persisted access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return logoutRun()
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return whoamiRun()
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func loginRun() error {
	email := strings.TrimSpace(loginEmail)
	if email == "" {
		fmt.Fprint(ui.Out, "Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	password := loginPassword
	if password == "" {
		fmt.Fprint(ui.Out, "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(ui.Out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	creds, err := client.Login(context.Background(), email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	ui.Success("Logged in as %s", creds.User.Email)
	return nil
}

func logoutRun() error {
	creds, err := getCreds()
	if err != nil {
		return err
	}
	if err := creds.Clear(); err != nil {
		return err
	}
	ui.Success("Logged out")
	return nil
}

func whoamiRun() error {
	creds, err := getCreds()
	if err != nil {
		return err
	}
	user, ok := creds.User()
	if !ok {
		return fmt.Errorf("not logged in (run 'tcgen login')")
	}
	ui.Info("%s (%s)", user.Name, user.Email)
	return nil
}
