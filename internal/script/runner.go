package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/lehigh-university-libraries/pdfstamp/internal/editor"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
)

// Uploader uploads an image to the session so placements can reference it
type Uploader interface {
	UploadImage(ctx context.Context, sessionID, token, filename string, data []byte) (*models.ImageAsset, error)
}

// Runner applies script steps to an editor
type Runner struct {
	engine   *editor.Engine
	canvas   *overlay.Canvas
	uploader Uploader
	logger   *slog.Logger

	names    map[string]string
	uploaded map[string]models.ImageAsset
}

// NewRunner creates a runner. A nil uploader places local files without
// uploading them, for offline editing.
func NewRunner(engine *editor.Engine, canvas *overlay.Canvas, uploader Uploader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:   engine,
		canvas:   canvas,
		uploader: uploader,
		logger:   logger,
		names:    make(map[string]string),
		uploaded: make(map[string]models.ImageAsset),
	}
}

// Placement returns the local id of a named placement
func (r *Runner) Placement(name string) (string, bool) {
	id, ok := r.names[name]
	return id, ok
}

// Run executes every step. Rasterization failures are logged and do not stop the script.
func (r *Runner) Run(ctx context.Context, s *Script) error {
	for i, step := range s.Steps {
		r.logger.Debug("Running step", "step", i+1, "action", step.Action())
		err := r.step(ctx, step)
		var rErr *editor.RasterizationError
		if errors.As(err, &rErr) {
			r.logger.Warn("Page could not be rendered", "step", i+1, "page", rErr.Page, "error", rErr.Err)
			continue
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action(), err)
		}
	}
	return nil
}

func (r *Runner) step(ctx context.Context, s Step) error {
	switch {
	case s.Page != nil:
		return r.engine.SetPage(ctx, *s.Page-1)
	case s.Zoom != nil:
		return r.engine.SetZoom(ctx, *s.Zoom)
	case s.Place != nil:
		return r.place(ctx, *s.Place)
	case s.Move != nil:
		return r.move(*s.Move)
	case s.Resize != nil:
		return r.transform(s.Resize.Target, func(img *models.PlacedImage) {
			height := s.Resize.Height
			if height <= 0 && img.Width > 0 {
				height = img.Height * s.Resize.Width / img.Width
			}
			img.Width, img.Height = s.Resize.Width, height
		})
	case s.Rotate != nil:
		return r.transform(s.Rotate.Target, func(img *models.PlacedImage) {
			img.Rotation = s.Rotate.Angle
		})
	case s.Delete != nil:
		return r.delete(s.Delete.Target)
	case s.Preview != nil:
		return r.preview(*s.Preview)
	case s.Wait != nil:
		return sleep(ctx, s.Wait.Duration)
	case s.Flush != nil:
		if *s.Flush {
			r.engine.Flush()
		}
		return nil
	}
	return fmt.Errorf("empty step")
}

func (r *Runner) place(ctx context.Context, p PlaceStep) error {
	asset, err := r.asset(ctx, p.Image)
	if err != nil {
		return err
	}
	placed, err := r.engine.OnImageDropped(ctx, asset)
	if err != nil {
		return err
	}
	name := p.As
	if name == "" {
		name = filepath.Base(p.Image)
	}
	r.names[name] = placed.LocalID
	r.logger.Info("Placed image", "name", name, "local_id", placed.LocalID, "page", placed.Page+1)
	return nil
}

// asset uploads a local image once per script run
func (r *Runner) asset(ctx context.Context, path string) (models.ImageAsset, error) {
	if asset, ok := r.uploaded[path]; ok {
		return asset, nil
	}
	if r.uploader == nil {
		asset := models.ImageAsset{ID: filepath.Base(path), ImageURL: path, OriginalFilename: filepath.Base(path)}
		r.uploaded[path] = asset
		return asset, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.ImageAsset{}, fmt.Errorf("failed to read image: %w", err)
	}
	session := r.engine.State().Session()
	uploaded, err := r.uploader.UploadImage(ctx, session.SessionID, session.SessionToken, filepath.Base(path), data)
	if err != nil {
		return models.ImageAsset{}, err
	}
	r.uploaded[path] = *uploaded
	return *uploaded, nil
}

// object finds the overlay object of a named placement on the current page
func (r *Runner) object(name string) (overlay.Object, models.PlacedImage, error) {
	id, ok := r.names[name]
	if !ok {
		return overlay.Object{}, models.PlacedImage{}, fmt.Errorf("no placement named %q", name)
	}
	img, ok := r.engine.State().Image(id)
	if !ok {
		return overlay.Object{}, models.PlacedImage{}, fmt.Errorf("%w: %s", editor.ErrUnknownImage, name)
	}
	obj, ok := r.canvas.FindByTag(id)
	if !ok {
		return overlay.Object{}, img, fmt.Errorf("%q is on page %d, not the current page", name, img.Page+1)
	}
	return obj, img, nil
}

// gesture moves obj on the canvas and reports it to the engine
func (r *Runner) gesture(obj overlay.Object, img models.PlacedImage) error {
	iw, ih := obj.IntrinsicSize()
	g := editor.ToGeometry(img, iw, ih, r.engine.State().Session().Zoom)
	r.canvas.Transform(obj.ID, g)
	return r.engine.OnObjectTransformed(obj.ID, g)
}

func (r *Runner) transform(name string, apply func(*models.PlacedImage)) error {
	obj, img, err := r.object(name)
	if err != nil {
		return err
	}
	apply(&img)
	return r.gesture(obj, img)
}

func (r *Runner) move(m MoveStep) error {
	obj, img, err := r.object(m.Target)
	if err != nil {
		return err
	}
	steps := max(m.Steps, 1)
	startX, startY := img.X, img.Y
	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		img.X = startX + (m.X-startX)*frac
		img.Y = startY + (m.Y-startY)*frac
		if err := r.gesture(obj, img); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) delete(name string) error {
	obj, _, err := r.object(name)
	if err != nil {
		return err
	}
	if err := r.engine.Select(obj.ID); err != nil {
		return err
	}
	if err := r.engine.HandleKey("Delete"); err != nil {
		return err
	}
	delete(r.names, name)
	return nil
}

func (r *Runner) preview(path string) error {
	img, err := r.canvas.Render()
	if err != nil {
		return fmt.Errorf("failed to render preview: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	r.logger.Info("Preview written", "path", path)
	return nil
}
