package replay

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// onePagePDF writes a single page PDF sized to a 200x300 image
func onePagePDF(t *testing.T, dir string) string {
	t.Helper()
	page := filepath.Join(dir, "page.png")
	if err := imaging.Save(imaging.New(200, 300, color.NRGBA{R: 255, G: 255, B: 255, A: 255}), page); err != nil {
		t.Fatalf("save page image: %v", err)
	}
	in := filepath.Join(dir, "in.pdf")
	if err := api.ImportImagesFile([]string{page}, in, nil, nil); err != nil {
		t.Fatalf("ImportImagesFile: %v", err)
	}
	return in
}

func TestCompose(t *testing.T) {
	dir := t.TempDir()
	in := onePagePDF(t, dir)
	stampPath := filepath.Join(dir, "stamp.png")
	if err := imaging.Save(imaging.New(20, 10, color.NRGBA{B: 255, A: 255}), stampPath); err != nil {
		t.Fatalf("save stamp image: %v", err)
	}
	info, err := os.Stat(in)
	if err != nil {
		t.Fatalf("stat input: %v", err)
	}

	stamp := func(page int) Stamp {
		return Stamp{
			Page:        page,
			ImagePath:   stampPath,
			Box:         models.Position{X: 10, Y: 10, Width: 40, Height: 20},
			Opacity:     1,
			PixelWidth:  20,
			PixelHeight: 10,
		}
	}

	tests := []struct {
		name      string
		stamps    []Stamp
		cancelled bool
		expectErr error
		// grows reports whether the output must be larger than the input
		grows bool
	}{
		{
			name:   "one stamp",
			stamps: []Stamp{stamp(0)},
			grows:  true,
		},
		{
			name:   "stamp on missing page is skipped",
			stamps: []Stamp{stamp(3)},
		},
		{
			name: "no stamps copies the document",
		},
		{
			name:      "cancelled context",
			stamps:    []Stamp{stamp(0)},
			cancelled: true,
			expectErr: context.Canceled,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			if tt.cancelled {
				cancel()
			} else {
				defer cancel()
			}
			out := filepath.Join(dir, "out"+string(rune('a'+i))+".pdf")

			err := Compose(ctx, in, out, tt.stamps)
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Fatalf("Expected %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compose: %v", err)
			}

			n, err := api.PageCountFile(out)
			if err != nil {
				t.Fatalf("PageCountFile: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected 1 page, got %d", n)
			}
			if err := api.ValidateFile(out, nil); err != nil {
				t.Errorf("Composed PDF does not validate: %v", err)
			}
			outInfo, err := os.Stat(out)
			if err != nil {
				t.Fatalf("stat output: %v", err)
			}
			if tt.grows && outInfo.Size() <= info.Size() {
				t.Errorf("Expected stamped output larger than %d bytes, got %d", info.Size(), outInfo.Size())
			}
			if !tt.grows && outInfo.Size() != info.Size() {
				t.Errorf("Expected an unchanged copy of %d bytes, got %d", info.Size(), outInfo.Size())
			}
		})
	}
}
