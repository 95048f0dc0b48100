package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// Stamp is one image to draw onto a page
type Stamp struct {
	Page        int // 0-indexed
	ImagePath   string
	Box         models.Position
	Rotation    float64
	Opacity     float64
	PixelWidth  int
	PixelHeight int
}

// AssetFile resolves an image id to a local file and its pixel size
type AssetFile func(imageID string) (path string, width, height int, err error)

// Stamps turns placed images into stamps, resolving each source image once
func Stamps(images []models.PlacedImage, resolve AssetFile) ([]Stamp, error) {
	type asset struct {
		path string
		w, h int
	}
	seen := make(map[string]asset)
	stamps := make([]Stamp, 0, len(images))
	for _, img := range images {
		a, ok := seen[img.SourceImageID]
		if !ok {
			path, w, h, err := resolve(img.SourceImageID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve image %s: %w", img.SourceImageID, err)
			}
			a = asset{path: path, w: w, h: h}
			seen[img.SourceImageID] = a
		}
		stamps = append(stamps, Stamp{
			Page:        img.Page,
			ImagePath:   a.path,
			Box:         img.Position(),
			Rotation:    img.Rotation,
			Opacity:     img.Opacity,
			PixelWidth:  a.w,
			PixelHeight: a.h,
		})
	}
	return stamps, nil
}

// Description builds the pdfcpu stamp description for s on a page of the
// given height. Document space has its origin top-left; PDF user space
// has it bottom-left.
func Description(s Stamp, pageHeight float64) string {
	scale := 1.0
	if s.PixelWidth > 0 {
		scale = s.Box.Width / float64(s.PixelWidth)
	}
	opacity := s.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	dx := s.Box.X
	dy := pageHeight - (s.Box.Y + s.Box.Height)
	return fmt.Sprintf("position:bl, offset:%s %s, scalefactor:%s abs, rotation:%s, opacity:%s",
		num(dx), num(dy), num(scale), num(-s.Rotation), num(opacity))
}

func num(f float64) string {
	return strconv.FormatFloat(models.Round2(f), 'f', -1, 64)
}

// Compose copies inFile to outFile and stamps every image onto its page
func Compose(ctx context.Context, inFile, outFile string, stamps []Stamp) error {
	dims, err := api.PageDimsFile(inFile)
	if err != nil {
		return fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if err := copyFile(inFile, outFile); err != nil {
		return err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	for i, s := range stamps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Page < 0 || s.Page >= len(dims) {
			slog.Warn("Skipping image on missing page", "page", s.Page, "page_count", len(dims))
			continue
		}
		desc := Description(s, dims[s.Page].Height)
		pages := []string{strconv.Itoa(s.Page + 1)}
		if err := api.AddImageWatermarksFile(outFile, "", pages, true, s.ImagePath, desc, conf); err != nil {
			return fmt.Errorf("failed to stamp image %d on page %d: %w", i, s.Page, err)
		}
		slog.Debug("Stamped image", "page", s.Page, "image", s.ImagePath, "description", desc)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
