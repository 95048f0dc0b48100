package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/export"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
)

func newReplayCmd(g *globals) *cobra.Command {
	var input string
	var output string
	var logPath string
	var imagesDir string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild an edited PDF locally from an operation log",
		Long: `Folds an operation log into the final placed images and stamps them onto a
local copy of the PDF.

The log comes from the session on the backend, or from a file written by
"pdfstamp ops export" with --log. Images are fetched from the session unless
--images points at a directory of files named <image id>.<ext>.`,
		Example: `  # Replay the session log onto its original PDF
  pdfstamp replay -o preview.pdf

  # Fully offline
  pdfstamp replay --log session.parquet --input report.pdf --images ./images -o preview.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			offline := logPath != "" && input != "" && imagesDir != ""

			var sessionID, token string
			if !offline {
				var err error
				if sessionID, token, err = g.session(); err != nil {
					return err
				}
			}

			var ops []models.Operation
			var err error
			if logPath != "" {
				ops, err = export.Load(logPath)
			} else {
				ops, err = g.client().ListOperations(ctx, sessionID, token)
			}
			if err != nil {
				return err
			}
			images := replay.Fold(ops)
			slog.Info("Operation log folded", "operations", len(ops), "images", len(images))

			dir, err := os.MkdirTemp("", "pdfstamp-replay-")
			if err != nil {
				return fmt.Errorf("failed to create temp directory: %w", err)
			}
			defer os.RemoveAll(dir)

			if input == "" {
				if input, err = downloadOriginal(ctx, g, sessionID, token, dir); err != nil {
					return err
				}
			}

			fetch := func(ctx context.Context, imageID string) ([]byte, error) {
				return g.client().FetchImage(ctx, models.ImageURL(sessionID, imageID))
			}
			if imagesDir != "" {
				fetch = localImage(imagesDir)
			}

			stamps, err := replay.Stamps(images, replay.AssetFiles(ctx, dir, fetch))
			if err != nil {
				return err
			}
			if err := replay.Compose(ctx, input, output, stamps); err != nil {
				return err
			}
			slog.Info("Replayed PDF saved", "path", output, "stamps", len(stamps))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output PDF (required)")
	cmd.Flags().StringVar(&input, "input", "", "Source PDF (defaults to the session's original)")
	cmd.Flags().StringVar(&logPath, "log", "", "Exported operation log (.json, .yaml or .parquet)")
	cmd.Flags().StringVar(&imagesDir, "images", "", "Directory of source images named by image id")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func downloadOriginal(ctx context.Context, g *globals, sessionID, token, dir string) (string, error) {
	client := g.client()
	info, err := client.SessionInfo(ctx, sessionID, token)
	if err != nil {
		return "", err
	}
	data, err := client.DownloadOriginal(ctx, info.FileID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "original.pdf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// localImage reads <dir>/<image id>.* from disk
func localImage(dir string) replay.FetchFunc {
	return func(ctx context.Context, imageID string) ([]byte, error) {
		matches, err := filepath.Glob(filepath.Join(dir, filepath.Base(imageID)+".*"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no image file for %s in %s", imageID, dir)
		}
		return os.ReadFile(matches[0])
	}
}
