package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/credentials"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the credential set",
	Long: `Sign in with an email and password. Without --password the password is
read from the first line of standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			var err error
			password, err = readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", resp.UserName, resp.UserEmail)
		return nil
	},
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored credential set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signed-in identity and access token lifetime",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		id, _ := a.Credentials.Identity()
		fmt.Fprint(cmd.OutOrStdout(), formatStatus(a.Credentials.IsAuthenticated(), id, a.Inspector.RemainingLifetime()))
		return nil
	},
}

func formatStatus(authenticated bool, id credentials.Identity, remaining time.Duration) string {
	if !authenticated {
		return "Not signed in\n"
	}
	var b strings.Builder
	if id.Email != "" {
		fmt.Fprintf(&b, "Signed in as %s <%s>\n", id.DisplayName, id.Email)
		if id.Role != "" {
			fmt.Fprintf(&b, "Role: %s\n", id.Role)
		}
	} else {
		b.WriteString("Signed in\n")
	}
	if remaining <= 0 {
		b.WriteString("Access token: expired\n")
	} else {
		fmt.Fprintf(&b, "Access token: expires in %s\n", remaining.Truncate(time.Second))
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (read from stdin when omitted)")
	_ = loginCmd.MarkFlagRequired("email")
}
