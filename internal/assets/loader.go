package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	// decoders for formats imaging does not register
	_ "golang.org/x/image/webp"
)

// Fetcher downloads image bytes by URL
type Fetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Loader decodes image assets once per URL and caches them. Concurrent
// loads of the same URL share one fetch. Local paths and file:// URLs are
// opened from disk.
type Loader struct {
	fetcher Fetcher
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]image.Image
}

// NewLoader creates a loader backed by fetcher (may be nil for local files only)
func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{
		fetcher: fetcher,
		cache:   make(map[string]image.Image),
	}
}

// Load returns the decoded image for src
func (l *Loader) Load(ctx context.Context, src string) (image.Image, error) {
	l.mu.RLock()
	img, ok := l.cache[src]
	l.mu.RUnlock()
	if ok {
		return img, nil
	}

	ch := l.group.DoChan(src, func() (interface{}, error) {
		// detached so one caller's cancellation does not fail the others
		img, err := l.load(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[src] = img
		l.mu.Unlock()
		return img, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put seeds the cache, used when an image is already decoded locally
func (l *Loader) Put(src string, img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[src] = img
}

// Forget drops every cached image
func (l *Loader) Forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]image.Image)
}

func (l *Loader) load(ctx context.Context, src string) (image.Image, error) {
	if path, ok := localPath(src); ok {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to open image %s: %w", path, err)
		}
		return img, nil
	}

	if l.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured for %s", src)
	}
	data, err := l.fetcher.FetchImage(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image %s: %w", src, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", src, err)
	}
	slog.Debug("Image asset loaded", "src", src, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return img, nil
}

func localPath(src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil {
		return src, true
	}
	switch u.Scheme {
	case "file":
		return u.Path, true
	case "http", "https":
		return "", false
	case "":
		// host-relative API paths are fetched, bare relative paths are files
		if len(src) > 0 && src[0] == '/' && u.Host == "" && isAPIPath(u.Path) {
			return "", false
		}
		return src, true
	}
	return src, true
}

func isAPIPath(p string) bool {
	return len(p) >= 5 && p[:5] == "/api/"
}
