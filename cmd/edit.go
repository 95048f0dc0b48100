package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/assets"
	"github.com/lehigh-university-libraries/pdfstamp/internal/editor"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/outbox"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
	"github.com/lehigh-university-libraries/pdfstamp/internal/raster"
	"github.com/lehigh-university-libraries/pdfstamp/internal/script"
)

func newEditCmd(g *globals) *cobra.Command {
	var scriptPath string
	var rasterizer string
	var reset bool
	var flushTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Run an edit script against a session",
		Long: `Opens the session in a headless editor, restores the placed images from the
operation log and runs a YAML edit script. Every placement, move and delete is
appended to the session log; the command waits for delivery and reconciles
the local and remote operation counts before exiting.

Script steps: page, zoom, place, move, resize, rotate, delete, preview, wait, flush.`,
		Example: `  # edits.yaml
  steps:
    - page: 1
    - place: {image: signature.png, as: sig}
    - move: {target: sig, x: 380, y: 690, steps: 5}
    - rotate: {target: sig, angle: -4}
    - preview: page1.png

  pdfstamp edit --script edits.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.Load(scriptPath)
			if err != nil {
				return err
			}
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			return runEdit(cmd.Context(), g, s, sessionID, token, rasterizer, reset, flushTimeout)
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "Path to the YAML edit script (required)")
	cmd.Flags().StringVar(&rasterizer, "rasterizer", "auto", "Page rasterizer (auto, poppler, or blank)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the operation log before running the script")
	cmd.Flags().DurationVar(&flushTimeout, "flush-timeout", time.Minute, "How long to wait for pending operations on exit")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func runEdit(ctx context.Context, g *globals, s *script.Script, sessionID, token, rasterizer string, reset bool, flushTimeout time.Duration) error {
	logger := slog.Default().With("session_id", sessionID)
	client := g.client()

	state := editor.NewState()
	info, err := editor.Restore(ctx, client, state, sessionID, token, time.Now())
	if err != nil {
		return err
	}
	restored := state.Snapshot()
	logger.Info("Session restored", "file", info.FileName, "pages", info.PageCount, "operations", len(restored.Operations), "images", len(restored.Images))

	dir, err := os.MkdirTemp("", "pdfstamp-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	pages, err := openRasterizer(ctx, g, client, info.FileID, filepath.Join(dir, "original.pdf"), rasterizer)
	if err != nil {
		return err
	}

	queue := outbox.New(client, sessionID, token, outbox.Options{
		Lister: client,
		Logger: logger,
		OnError: func(err error) {
			logger.Warn("Operation log unavailable", "error", err)
		},
	})
	queue.SetBaseline(len(restored.Operations))
	queue.Start(ctx)
	defer queue.Close()

	canvas := overlay.NewCanvas()
	engine, err := editor.New(state, editor.Options{
		Rasterizer:     pages,
		Overlay:        canvas,
		Assets:         assets.NewLoader(client),
		Sink:           queue,
		Remote:         client,
		CoalesceWindow: g.cfg.CoalesceWindow,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if reset {
		if err := engine.Reset(ctx); err != nil {
			return err
		}
	}

	var rErr *editor.RasterizationError
	if err := engine.Render(ctx); err != nil && !errors.As(err, &rErr) {
		return err
	}

	runner := script.NewRunner(engine, canvas, client, logger)
	runErr := runner.Run(ctx, s)

	// closing settles the last gestures into the queue
	if err := engine.Close(); err != nil {
		return err
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := queue.Flush(flushCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("operations not delivered: %w (%d pending)", err, queue.Pending()))
	}
	if runErr != nil {
		return runErr
	}

	report, err := queue.Reconcile(flushCtx)
	if err != nil {
		return err
	}
	if report.Diverged() {
		return fmt.Errorf("operation log diverged: %d local, %d on server", report.Local, report.Remote)
	}
	logger.Info("Edit script finished", "appended", queue.Appended(), "operations", report.Remote, "images", len(state.Snapshot().Images))
	return nil
}

// openRasterizer downloads the original PDF to path and picks a rasterizer for it
func openRasterizer(ctx context.Context, g *globals, client *oplog.Client, fileID, path, mode string) (editor.Rasterizer, error) {
	data, err := client.DownloadOriginal(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	poppler := raster.NewPoppler(g.cfg.Pdftoppm, path)
	switch mode {
	case "poppler":
		if !poppler.Available() {
			return nil, fmt.Errorf("%s not found in PATH", g.cfg.Pdftoppm)
		}
		return poppler, nil
	case "auto":
		if poppler.Available() {
			return poppler, nil
		}
		slog.Warn("pdftoppm not available, rendering blank pages", "bin", g.cfg.Pdftoppm)
		return raster.NewBlank(path)
	case "blank":
		return raster.NewBlank(path)
	default:
		return nil, fmt.Errorf("unsupported rasterizer: %s", mode)
	}
}
