package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/client"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents stored on the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.Client.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(docs) == 0 {
			fmt.Fprintln(out, "No documents")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(out, "%s  %s  (%d bytes)\n", d.ID, d.FileName, len(d.Content))
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Request a handover report for local files or the stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var docs []client.Document
		if len(args) > 0 {
			docs, err = readDocuments(args)
		} else {
			docs, err = a.Client.ListDocuments(cmd.Context())
		}
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents to analyze")
		}

		report, err := a.Client.Analyze(cmd.Context(), docs)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !report.IsStructured() {
			fmt.Fprintln(out, report.Text())
			return nil
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report.JSON())
	},
}

func readDocuments(paths []string) ([]client.Document, error) {
	docs := make([]client.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		docs = append(docs, client.Document{FileName: filepath.Base(p), Content: string(data)})
	}
	return docs, nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check backend health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.Client.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nconfig valid: %t\n", h.Status, h.ConfigValid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(healthCmd)
}
