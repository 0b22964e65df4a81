package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/honeycomb/internal/mockapi"
)

var (
	devPort      int
	devAccessTTL time.Duration
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local stub of the assistant backend",
	Long: `Serves the backend API on localhost for development. The demo account is
demo@honeycomb.local with password "honeycomb".`,
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

		stub := mockapi.New(
			mockapi.WithUsers(mockapi.DemoUser),
			mockapi.WithAccessTTL(devAccessTTL),
			mockapi.WithLogger(log),
			mockapi.WithDocuments(
				mockapi.Document{ID: "doc-1", FileName: "README.md", Content: "# Pricing service\n\nOwns quote calculation."},
				mockapi.Document{ID: "doc-2", FileName: "runbook.md", Content: "Restart with `make deploy`."},
			),
		)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", stub.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", devPort),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out)
		fmt.Fprintf(out, "Stub backend listening on http://127.0.0.1:%d (login %s / %s)\n",
			devPort, mockapi.DemoUser.Email, mockapi.DemoUser.Password)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVarP(&devPort, "port", "p", 8000, "Port to listen on")
	devserverCmd.Flags().DurationVar(&devAccessTTL, "access-ttl", 10*time.Minute, "Lifetime of issued access tokens")
}
