package raster

import (
	"context"
	"testing"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

func TestBlankRasterize(t *testing.T) {
	b := NewBlankSizes(models.Size{Width: 612, Height: 792}, models.Size{Width: 842, Height: 595})

	tests := []struct {
		name   string
		page   int
		zoom   float64
		width  int
		height int
		err    bool
	}{
		{name: "letter at zoom 1", page: 0, zoom: 1, width: 612, height: 792},
		{name: "letter at zoom 1.5", page: 0, zoom: 1.5, width: 918, height: 1188},
		{name: "landscape at zoom 0.5", page: 1, zoom: 0.5, width: 421, height: 298},
		{name: "zero zoom falls back to 1", page: 1, zoom: 0, width: 842, height: 595},
		{name: "page out of range", page: 2, zoom: 1, err: true},
		{name: "negative page", page: -1, zoom: 1, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := b.Rasterize(context.Background(), tt.page, tt.zoom)
			if tt.err {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Rasterize: %v", err)
			}
			if img.Bounds().Dx() != tt.width || img.Bounds().Dy() != tt.height {
				t.Errorf("Expected %dx%d, got %v", tt.width, tt.height, img.Bounds())
			}
		})
	}
}

func TestBlankRasterizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewBlankSizes(models.Size{Width: 1, Height: 1}).Rasterize(ctx, 0, 1); err == nil {
		t.Error("Expected context error")
	}
}
