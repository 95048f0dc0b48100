package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// Poppler renders pages with the pdftoppm binary
type Poppler struct {
	Bin  string
	Path string
}

func NewPoppler(bin, path string) *Poppler {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &Poppler{Bin: bin, Path: path}
}

// Available reports whether the pdftoppm binary can be found
func (p *Poppler) Available() bool {
	_, err := exec.LookPath(p.Bin)
	return err == nil
}

func (p *Poppler) Rasterize(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if zoom <= 0 {
		zoom = 1
	}
	dir, err := os.MkdirTemp("", "pdfstamp-raster-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page + 1)
	cmd := exec.CommandContext(ctx, p.Bin,
		"-f", n, "-l", n,
		"-r", strconv.FormatFloat(72*zoom, 'f', 2, 64),
		"-png", "-singlefile",
		p.Path, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Rasterizing page", "path", p.Path, "page", page, "zoom", zoom)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	img, err := imaging.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page %d: %w", page, err)
	}
	return img, nil
}
