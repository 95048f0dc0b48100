// Package editor keeps the page bitmap, the object overlay and the
// operation log of one editing session consistent.
package editor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/pdfstamp/internal/debounce"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
)

const (
	DefaultCoalesceWindow = 300 * time.Millisecond
	assetLoadConcurrency  = 4
)

// Rasterizer renders one page at a zoom factor
type Rasterizer interface {
	Rasterize(ctx context.Context, page int, zoom float64) (image.Image, error)
}

// Overlay is the interactive object layer drawn over the page bitmap
type Overlay interface {
	SetDimensions(width, height int) error
	SetBackground(img image.Image) error
	Add(obj overlay.Object) (string, error)
	Remove(id string) bool
	Clear()
	Object(id string) (overlay.Object, bool)
	Objects() []overlay.Object
	Active() (overlay.Object, bool)
	SetActive(id string) bool
	Dispose()
}

// AssetLoader decodes an image by URL or path
type AssetLoader interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// Sink receives operations for the remote log. Emit must not block on the network.
type Sink interface {
	Emit(op models.OperationRequest) error
}

// Discarder is implemented by sinks that can drop operations not yet
// delivered, waiting for an append in flight
type Discarder interface {
	Discard(ctx context.Context) (int, error)
}

// Clearer wipes the remote log of a session
type Clearer interface {
	ClearOperations(ctx context.Context, sessionID, token string) error
}

type Options struct {
	Rasterizer Rasterizer
	Overlay    Overlay
	Assets     AssetLoader
	Sink       Sink
	// Remote is used by Reset; optional
	Remote         Clearer
	CoalesceWindow time.Duration
	Logger         *slog.Logger
	// OnError receives sink failures; local state is never rolled back
	OnError func(error)
}

// burst is an in-progress transform gesture of one placed image
type burst struct {
	old      models.Position
	rotation float64
}

// Engine reconciles the page bitmap, the overlay and the operation log.
// Calls are safe from any goroutine. Debounced transform bursts settle on
// timer goroutines and take the same lock.
type Engine struct {
	state  *State
	opts   Options
	logger *slog.Logger

	debouncer *debounce.Debouncer[string]

	mu           sync.Mutex
	bitmap       image.Image
	bitmapZoom   float64
	bursts       map[string]burst
	renderSeq    uint64
	rebuildSeq   uint64
	renderCancel context.CancelFunc
	closed       bool

	// lifetime is cancelled by Close and bounds every async load
	lifetime context.Context
	cancel   context.CancelFunc
}

// New creates an engine over state. Rasterizer, Overlay, Assets and Sink are required.
func New(state *State, opts Options) (*Engine, error) {
	if state == nil || opts.Rasterizer == nil || opts.Overlay == nil || opts.Assets == nil || opts.Sink == nil {
		return nil, fmt.Errorf("editor requires state, rasterizer, overlay, assets and sink")
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = DefaultCoalesceWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Engine{
		state:     state,
		opts:      opts,
		logger:    logger,
		debouncer: debounce.New[string](opts.CoalesceWindow),
		bursts:    make(map[string]burst),
		lifetime:  lifetime,
		cancel:    cancel,
	}, nil
}

func (e *Engine) State() *State {
	return e.state
}

// Bitmap returns the last page bitmap set on the overlay
func (e *Engine) Bitmap() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitmap
}

// scoped derives a context from ctx that is also cancelled by Close
func (e *Engine) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// SetPage switches to a 0-indexed page and renders it
func (e *Engine) SetPage(ctx context.Context, page int) error {
	count := e.state.Session().PageCount
	if page < 0 || (count > 0 && page >= count) {
		return fmt.Errorf("%w: %d of %d", ErrNoPage, page, count)
	}
	e.state.SetPage(page)
	return e.Render(ctx)
}

// SetZoom changes the zoom factor and renders the current page
func (e *Engine) SetZoom(ctx context.Context, zoom float64) error {
	if zoom <= 0 {
		return fmt.Errorf("invalid zoom %v", zoom)
	}
	e.state.SetZoom(zoom)
	return e.Render(ctx)
}

// Render rasterizes the current page at the current zoom, sizes the overlay
// to the bitmap and rebuilds the objects. Only the latest request touches
// the surfaces; earlier ones are cancelled and return ErrSuperseded.
func (e *Engine) Render(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.renderCancel != nil {
		e.renderCancel()
	}
	e.renderSeq++
	seq := e.renderSeq
	rctx, cancel := e.scoped(ctx)
	e.renderCancel = cancel
	session := e.state.Session()
	e.mu.Unlock()
	defer cancel()

	bitmap, err := e.opts.Rasterizer.Rasterize(rctx, session.CurrentPage, session.Zoom)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if seq != e.renderSeq {
		e.mu.Unlock()
		e.logger.Debug("Discarding stale render", "page", session.CurrentPage, "zoom", session.Zoom)
		return ErrSuperseded
	}
	if err != nil {
		e.mu.Unlock()
		e.logger.Error("Page rasterization failed", "page", session.CurrentPage, "zoom", session.Zoom, "error", err)
		return &RasterizationError{Page: session.CurrentPage, Zoom: session.Zoom, Err: err}
	}
	b := bitmap.Bounds()
	if err := e.opts.Overlay.SetDimensions(b.Dx(), b.Dy()); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.opts.Overlay.SetBackground(bitmap); err != nil {
		e.mu.Unlock()
		return err
	}
	e.bitmap = bitmap
	e.bitmapZoom = session.Zoom
	e.mu.Unlock()

	return e.RebuildOverlay(ctx)
}

// RebuildOverlay replaces every overlay object with one per placed image
// on the current page. Assets are loaded concurrently outside the lock;
// a newer rebuild wins, and a state change during loading restarts it.
func (e *Engine) RebuildOverlay(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		e.rebuildSeq++
		seq := e.rebuildSeq
		snap := e.state.Snapshot()
		e.mu.Unlock()

		var onPage []models.PlacedImage
		for _, img := range snap.Images {
			if img.Page == snap.Session.CurrentPage {
				onPage = append(onPage, img)
			}
		}

		loaded, err := e.loadAll(ctx, onPage)
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		if seq != e.rebuildSeq {
			e.mu.Unlock()
			return ErrSuperseded
		}
		if e.state.Version() != snap.Version {
			e.mu.Unlock()
			e.logger.Debug("State changed during overlay rebuild, retrying")
			continue
		}

		e.opts.Overlay.Clear()
		for i, img := range onPage {
			if loaded[i] == nil {
				continue
			}
			if _, err := e.opts.Overlay.Add(objectFor(img, loaded[i], snap.Session.Zoom)); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		e.mu.Unlock()
		e.logger.Debug("Overlay rebuilt", "page", snap.Session.CurrentPage, "objects", len(onPage))
		return nil
	}
}

// loadAll loads the assets of images in order. Failed loads leave a nil
// entry; only cancellation fails the whole call.
func (e *Engine) loadAll(ctx context.Context, images []models.PlacedImage) ([]image.Image, error) {
	loaded := make([]image.Image, len(images))
	if len(images) == 0 {
		return loaded, nil
	}

	lctx, cancel := e.scoped(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(lctx)
	g.SetLimit(assetLoadConcurrency)
	for i, img := range images {
		g.Go(func() error {
			src, err := e.opts.Assets.Load(gctx, img.SourceURL)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("Skipping image that failed to load", "local_id", img.LocalID, "src", img.SourceURL, "error", err)
				return nil
			}
			loaded[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if e.lifetime.Err() != nil {
			return nil, ErrClosed
		}
		return nil, err
	}
	return loaded, nil
}

// OnImageDropped places asset on the current page at the drop anchor,
// selects it and emits add_image.
func (e *Engine) OnImageDropped(ctx context.Context, asset models.ImageAsset) (models.PlacedImage, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return models.PlacedImage{}, ErrClosed
	}

	lctx, cancel := e.scoped(ctx)
	defer cancel()
	src, err := e.opts.Assets.Load(lctx, asset.ImageURL)
	if err != nil {
		if e.lifetime.Err() != nil {
			return models.PlacedImage{}, ErrClosed
		}
		return models.PlacedImage{}, fmt.Errorf("failed to load dropped image %s: %w", asset.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return models.PlacedImage{}, ErrClosed
	}

	session := e.state.Session()
	b := src.Bounds()
	// the bitmap may predate a zoom change still rendering
	size := dropSize(e.bitmap, e.bitmapZoom, b.Dx(), b.Dy())
	placed := models.PlacedImage{
		LocalID:       uuid.NewString(),
		SourceImageID: asset.ID,
		Page:          session.CurrentPage,
		X:             dropAnchor,
		Y:             dropAnchor,
		Width:         size.Width,
		Height:        size.Height,
		Opacity:       1,
		SourceURL:     asset.ImageURL,
	}
	e.state.AddImage(placed)

	id, err := e.opts.Overlay.Add(objectFor(placed, src, session.Zoom))
	if err != nil {
		return placed, err
	}
	e.opts.Overlay.SetActive(id)

	pos := placed.Position()
	e.emit(models.OperationRequest{
		OperationType: models.OpAddImage,
		OperationData: models.OperationData{
			Page:        placed.Page,
			ImageID:     asset.ID,
			PlacementID: placed.LocalID,
			ImagePath:   asset.StoredFilename,
			ImageURL:    asset.ImageURL,
			Position:    &pos,
			Rotation:    models.Float(0),
			Opacity:     models.Float(1),
		},
	})
	e.logger.Info("Image placed", "local_id", placed.LocalID, "image_id", asset.ID, "page", placed.Page)
	return placed, nil
}

// OnObjectTransformed records a move, resize or rotate gesture step of an
// overlay object. State follows every step; one move_image per burst is
// emitted once the object stays still for the coalesce window.
func (e *Engine) OnObjectTransformed(objectID string, g overlay.Geometry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	obj, ok := e.opts.Overlay.Object(objectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, objectID)
	}
	img, ok := e.state.Image(obj.Tag)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, obj.Tag)
	}

	iw, ih := obj.IntrinsicSize()
	pos := FromGeometry(g, iw, ih, e.state.Session().Zoom)
	rotation := models.Round2(g.Angle)

	if _, inBurst := e.bursts[img.LocalID]; !inBurst {
		e.bursts[img.LocalID] = burst{old: img.Position().Rounded(), rotation: img.Rotation}
	}
	e.state.UpdateImage(img.LocalID, ImageUpdate{
		X:        &pos.X,
		Y:        &pos.Y,
		Width:    &pos.Width,
		Height:   &pos.Height,
		Rotation: &rotation,
	})

	localID := img.LocalID
	e.debouncer.Trigger(localID, func() { e.settle(localID) })
	return nil
}

// settle emits the coalesced move of a finished burst
func (e *Engine) settle(localID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.bursts[localID]
	if !ok {
		return
	}
	delete(e.bursts, localID)

	img, ok := e.state.Image(localID)
	if !ok {
		return
	}
	current := img.Position().Rounded()
	if current == b.old && img.Rotation == b.rotation {
		e.logger.Debug("Transform burst ended where it started", "local_id", localID)
		return
	}

	e.emit(models.OperationRequest{
		OperationType: models.OpMoveImage,
		OperationData: models.OperationData{
			Page:        img.Page,
			ImageID:     img.SourceImageID,
			PlacementID: localID,
			OldPosition: &b.old,
			NewPosition: &current,
			Rotation:    models.Float(img.Rotation),
		},
	})
}

// Select makes objectID the active object
func (e *Engine) Select(objectID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if !e.opts.Overlay.SetActive(objectID) {
		return fmt.Errorf("%w: %s", ErrUnknownObject, objectID)
	}
	return nil
}

// OnDeleteRequested removes an overlay object and its placed image and
// emits delete_image with the last known position. A pending transform
// burst of the image is dropped.
func (e *Engine) OnDeleteRequested(objectID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	obj, ok := e.opts.Overlay.Object(objectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, objectID)
	}
	img, ok := e.state.Image(obj.Tag)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, obj.Tag)
	}
	e.opts.Overlay.Remove(objectID)
	e.debouncer.Cancel(img.LocalID)
	delete(e.bursts, img.LocalID)
	e.state.RemoveImage(img.LocalID)

	pos := img.Position().Rounded()
	e.emit(models.OperationRequest{
		OperationType: models.OpDeleteImage,
		OperationData: models.OperationData{
			Page:        img.Page,
			ImageID:     img.SourceImageID,
			PlacementID: img.LocalID,
			Position:    &pos,
		},
	})
	e.logger.Info("Image deleted", "local_id", img.LocalID, "page", img.Page)
	return nil
}

// HandleKey deletes the active object on Delete or Backspace. Other keys
// and a missing selection are ignored.
func (e *Engine) HandleKey(key string) error {
	if key != "Delete" && key != "Backspace" {
		return nil
	}
	e.mu.Lock()
	active, ok := e.opts.Overlay.Active()
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.OnDeleteRequested(active.ID)
}

// Flush settles every pending transform burst now
func (e *Engine) Flush() {
	e.debouncer.Flush()
}

// Pending returns the number of transform bursts not yet emitted
func (e *Engine) Pending() int {
	return e.debouncer.Len()
}

// Reset drops pending bursts and undelivered operations, clears the remote
// log (when a Remote is configured), every placed image and operation, and
// the overlay. The engine stays locked throughout so no operation is emitted
// between the discard and the remote clear.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	for id := range e.bursts {
		e.debouncer.Cancel(id)
		delete(e.bursts, id)
	}
	session := e.state.Session()

	if d, ok := e.opts.Sink.(Discarder); ok {
		if _, err := d.Discard(ctx); err != nil {
			return fmt.Errorf("failed to discard pending operations: %w", err)
		}
	}
	if e.opts.Remote != nil && session.SessionID != "" {
		if err := e.opts.Remote.ClearOperations(ctx, session.SessionID, session.SessionToken); err != nil {
			return fmt.Errorf("failed to clear operations: %w", err)
		}
	}

	e.state.ClearAll()
	e.opts.Overlay.Clear()
	e.logger.Info("Editor reset", "session_id", session.SessionID)
	return nil
}

// Close settles pending bursts, cancels in-flight rendering and loads and
// disposes the overlay. Later calls return ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.debouncer.Flush()
	e.debouncer.Stop()
	e.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.Overlay.Dispose()
	e.bitmap = nil
	e.bursts = make(map[string]burst)
	return nil
}

func (e *Engine) emit(op models.OperationRequest) {
	if err := e.opts.Sink.Emit(op); err != nil {
		e.logger.Warn("Operation not queued", "type", op.OperationType, "error", err)
		if e.opts.OnError != nil {
			e.opts.OnError(err)
		}
	}
}
