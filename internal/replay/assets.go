package replay

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/webp"
)

// FetchFunc returns the encoded bytes of a source image
type FetchFunc func(ctx context.Context, imageID string) ([]byte, error)

// AssetFiles resolves image ids by fetching them and re-encoding them as PNG
// files in dir, so every source format can be stamped.
func AssetFiles(ctx context.Context, dir string, fetch FetchFunc) AssetFile {
	return func(imageID string) (string, int, int, error) {
		data, err := fetch(ctx, imageID)
		if err != nil {
			return "", 0, 0, err
		}
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return "", 0, 0, fmt.Errorf("failed to decode image %s: %w", imageID, err)
		}
		path := filepath.Join(dir, filepath.Base(imageID)+".png")
		if err := imaging.Save(img, path); err != nil {
			return "", 0, 0, fmt.Errorf("failed to write image %s: %w", imageID, err)
		}
		b := img.Bounds()
		return path, b.Dx(), b.Dy(), nil
	}
}
