package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/server"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"
)

func newServeCmd(g *globals) *cobra.Command {
	var port string
	var storageDir string
	var databaseURL string
	var publicURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the editing backend",
		Long: `Starts a development implementation of the editing backend on the specified port.

Uploaded PDFs, session images and edited output are kept under the storage
directory. Sessions and operation logs are held in memory unless a Postgres
database URL is given.`,
		Example: `  # Start server on default port 8000
  pdfstamp serve

  # Persist sessions and operations in Postgres
  pdfstamp serve --database-url "host=localhost user=pdfstamp dbname=pdfstamp sslmode=disable"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("storage-dir") {
				g.cfg.StorageDir = storageDir
			}
			if cmd.Flags().Changed("database-url") {
				g.cfg.DatabaseURL = databaseURL
			}

			var store storage.Store = storage.New()
			if g.cfg.DatabaseURL != "" {
				gormStore, err := storage.OpenGorm(g.cfg.DatabaseURL)
				if err != nil {
					return err
				}
				store = gormStore
				slog.Info("Using Postgres session store")
			}

			if publicURL == "" {
				publicURL = "http://localhost:" + port
			}
			handler := server.New(store, server.Options{
				StorageDir: g.cfg.StorageDir,
				APIKey:     g.cfg.APIKey,
				PublicURL:  publicURL,
			})

			addr := ":" + port
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Editing backend available", "addr", addr, "url", publicURL+"/api/v1", "storage_dir", g.cfg.StorageDir)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8000", "Port to listen on")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "Directory for uploaded and edited files (PDFSTAMP_STORAGE_DIR)")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres DSN for sessions and operations (PDFSTAMP_DATABASE_URL)")
	cmd.Flags().StringVar(&publicURL, "public-url", "", "Public base URL used in editor links")

	return cmd
}
