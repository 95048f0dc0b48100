// Package raster turns PDF pages into bitmaps for the editor.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// PageSizes reads the size of every page in points
func PageSizes(path string) ([]models.Size, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions of %s: %w", path, err)
	}
	sizes := make([]models.Size, len(dims))
	for i, d := range dims {
		sizes[i] = models.Size{Width: d.Width, Height: d.Height}
	}
	return sizes, nil
}

// PageCount returns the number of pages of the PDF at path
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}
	return n, nil
}

// Blank renders white pages of the right size. It needs no external
// renderer, which makes it the rasterizer for headless editing and tests.
type Blank struct {
	pages []models.Size
}

// NewBlank reads the page geometry of the PDF at path
func NewBlank(path string) (*Blank, error) {
	sizes, err := PageSizes(path)
	if err != nil {
		return nil, err
	}
	return &Blank{pages: sizes}, nil
}

// NewBlankSizes builds a Blank rasterizer from known page sizes
func NewBlankSizes(pages ...models.Size) *Blank {
	return &Blank{pages: pages}
}

func (b *Blank) PageCount() int {
	return len(b.pages)
}

// PageSize returns the size of a 0-indexed page in points
func (b *Blank) PageSize(page int) (models.Size, error) {
	if page < 0 || page >= len(b.pages) {
		return models.Size{}, fmt.Errorf("page %d out of range (0-%d)", page, len(b.pages)-1)
	}
	return b.pages[page], nil
}

func (b *Blank) Rasterize(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, err := b.PageSize(page)
	if err != nil {
		return nil, err
	}
	w, h := scaled(size, zoom)
	return imaging.New(w, h, color.White), nil
}

func scaled(size models.Size, zoom float64) (int, int) {
	if zoom <= 0 {
		zoom = 1
	}
	return int(math.Round(size.Width * zoom)), int(math.Round(size.Height * zoom))
}
