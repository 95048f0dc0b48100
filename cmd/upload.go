package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/config"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

func newUploadCmd(g *globals) *cobra.Command {
	var expiresIn int
	var callbackURL string
	var readOnly bool
	var noDownload bool

	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF and open an editing session on it",
		Long: `Validates and uploads a PDF (at most 50MB), then creates an editing session.

The session id and token are printed as environment assignments so they can be
appended to a .env file for the other commands.`,
		Example: `  # Upload and keep the session for 48 hours
  pdfstamp upload report.pdf --expires-in 48 >> .env`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			client := g.client()
			file, err := client.UploadFile(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			slog.Info("File uploaded", "file_id", file.ID, "pages", file.PageCount, "size", file.FileSize)

			session, err := client.CreateSession(cmd.Context(), file.ID, models.SessionRequest{
				ExpiresInHours: expiresIn,
				CallbackURL:    callbackURL,
				Permissions: models.Permissions{
					CanEdit:     !readOnly,
					CanDownload: !noDownload,
				},
			})
			if err != nil {
				return err
			}
			slog.Info("Session created", "session_id", session.SessionID, "expires_at", session.ExpiresAt, "editor_url", session.EditorURL)

			fmt.Printf("PDFSTAMP_SESSION_ID=%s\n", session.SessionID)
			fmt.Printf("PDFSTAMP_SESSION_TOKEN=%s\n", session.SessionToken)
			return nil
		},
	}

	cmd.Flags().IntVar(&expiresIn, "expires-in", config.DefaultSessionLifetime, "Session lifetime in hours")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "URL notified when the session is committed")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Create a session that cannot place images")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Create a session that cannot download the edited PDF")

	return cmd
}
