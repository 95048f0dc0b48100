package replay

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestAssetFilesWritesPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(40, 20, color.NRGBA{R: 255, A: 255}), imaging.JPEG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dir := t.TempDir()
	resolve := AssetFiles(context.Background(), dir, func(ctx context.Context, imageID string) ([]byte, error) {
		if imageID != "img1" {
			return nil, errors.New("unknown image")
		}
		return buf.Bytes(), nil
	})

	path, w, h, err := resolve("img1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if path != filepath.Join(dir, "img1.png") || w != 40 || h != 20 {
		t.Errorf("Unexpected asset %s %dx%d", path, w, h)
	}
	if _, err := imaging.Open(path); err != nil {
		t.Errorf("Written asset should decode: %v", err)
	}

	if _, _, _, err := resolve("missing"); err == nil {
		t.Error("Expected fetch error to surface")
	}
}
