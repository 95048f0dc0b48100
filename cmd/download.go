package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newDownloadCmd(g *globals) *cobra.Command {
	var output string
	var skipCommit bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Commit the session and download the edited PDF",
		Long: `Compiles the operation log of the session into an edited PDF on the backend
and downloads it. A committed session is completed and can no longer be edited.`,
		Example: `  # Writes edited_<original name> in the current directory
  pdfstamp download

  # Download an already committed session again
  pdfstamp download --skip-commit -o final.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			client := g.client()
			ctx := cmd.Context()

			info, err := client.SessionInfo(ctx, sessionID, token)
			if err != nil {
				return err
			}
			if !skipCommit {
				result, err := client.Commit(ctx, info.FileID, sessionID, token)
				if err != nil {
					return err
				}
				slog.Info("Session committed", "session_id", sessionID, "size", result.EditedFileSize)
			}

			data, err := client.DownloadEdited(ctx, sessionID, token)
			if err != nil {
				return err
			}
			if output == "" {
				output = "edited_" + info.FileName
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			slog.Info("Edited PDF saved", "path", output, "size", len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to edited_<original name>)")
	cmd.Flags().BoolVar(&skipCommit, "skip-commit", false, "Download without committing first")

	return cmd
}
