package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/sessions"
)

var newChat bool

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message in the current chat session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if newChat {
			if err := a.NewChat(); err != nil {
				return err
			}
		}
		reply, err := a.Chat(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and switch chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		current, _ := a.Sessions.Current()
		writeSessionList(cmd.OutOrStdout(), a.Sessions.List(), current)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print every turn of a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Sessions.Get(args[0])
		if err != nil {
			return err
		}
		writeTranscript(cmd.OutOrStdout(), sess)
		return nil
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a chat session current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Sessions.SetCurrent(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Current session: %s\n", args[0])
		return nil
	},
}

func writeSessionList(w io.Writer, list []sessions.Session, current string) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No chat sessions")
		return
	}
	for _, s := range list {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %-33s  %3d turns  %s\n",
			marker, s.ID, s.Title, len(s.Turns), s.UpdatedAt.Local().Format(time.DateTime))
	}
}

func writeTranscript(w io.Writer, s sessions.Session) {
	fmt.Fprintf(w, "%s\n\n", s.Title)
	for _, t := range s.Turns {
		fmt.Fprintf(w, "[%s] %s\n", t.Role, t.Text)
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsUseCmd)
	chatCmd.Flags().BoolVar(&newChat, "new", false, "Start a new chat session")
}
