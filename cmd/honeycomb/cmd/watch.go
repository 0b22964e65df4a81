package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/app"
	"github.com/jmcleod/honeycomb/credentials"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the access token lifetime until interrupted",
	Long: `Runs the expiry monitor in the foreground. A warning is printed when the
access token is close to expiry and the stored credentials are cleared once
it lapses. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		a, err := app.Open(cmd.Context(), cfg,
			app.WithLogger(log),
			app.WithAdvisory(func(remaining time.Duration) {
				fmt.Fprintf(out, "Access token expires in %s\n", remaining.Truncate(time.Second))
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to open client state: %w", err)
		}
		defer a.Close()

		lapsed := make(chan credentials.LogoutReason, 1)
		a.OnForcedLogout(func(r credentials.LogoutReason) {
			select {
			case lapsed <- r:
			default:
			}
		})

		if !a.Credentials.IsAuthenticated() {
			return fmt.Errorf("not signed in")
		}

		printBanner(out)
		fmt.Fprintf(out, "Watching access token (poll every %s)...\n", cfg.Expiry.PollInterval)
		a.Monitor.Check()
		a.StartMonitor(cmd.Context())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, stopping...\n", sig)
		case r := <-lapsed:
			fmt.Fprintf(out, "Signed out (%s)\n", r)
		case <-cmd.Context().Done():
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
