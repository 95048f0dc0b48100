package editor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/outbox"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
	"github.com/lehigh-university-libraries/pdfstamp/internal/raster"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
)

// remoteLog is a server-side operation log. The first failures appends
// fail with a network error before reaching it.
type remoteLog struct {
	mu       sync.Mutex
	failures int
	attempts int
	clears   int
	ops      []models.Operation
}

func (r *remoteLog) AppendOperation(ctx context.Context, sessionID, token string, op models.OperationRequest) (*models.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures > 0 {
		r.failures--
		return nil, &oplog.NetworkError{Op: "append operation", Err: errors.New("connection refused")}
	}
	record := models.Operation{ID: op.OperationData.PlacementID, SessionID: sessionID, Order: len(r.ops) + 1, Type: op.OperationType, Data: op.OperationData}
	r.ops = append(r.ops, record)
	return &record, nil
}

func (r *remoteLog) ListOperations(ctx context.Context, sessionID, token string) ([]models.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Operation(nil), r.ops...), nil
}

func (r *remoteLog) ClearOperations(ctx context.Context, sessionID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.ops = nil
	return nil
}

func (r *remoteLog) snapshot() (attempts, clears int, ops []models.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, r.clears, append([]models.Operation(nil), r.ops...)
}

func TestReset(t *testing.T) {
	tests := []struct {
		name   string
		remote bool
		// act runs between the drop and Reset
		act   func(t *testing.T, h *harness, obj overlay.Object)
		check func(t *testing.T, h *harness, obj overlay.Object, remote *remoteLog)
	}{
		{
			name:   "clears state, overlay and remote log",
			remote: true,
			check: func(t *testing.T, h *harness, obj overlay.Object, remote *remoteLog) {
				if _, clears, _ := remote.snapshot(); clears != 1 {
					t.Errorf("Expected one remote clear, got %d", clears)
				}
				snap := h.state.Snapshot()
				if len(snap.Images) != 0 || len(snap.Operations) != 0 {
					t.Errorf("Expected empty state, got %d images and %d operations", len(snap.Images), len(snap.Operations))
				}
				if len(h.canvas.Objects()) != 0 {
					t.Errorf("Expected empty overlay, got %d objects", len(h.canvas.Objects()))
				}
				if h.state.Session().SessionID != "sess1" {
					t.Error("Reset must keep the session")
				}
			},
		},
		{
			name: "works without a remote",
			check: func(t *testing.T, h *harness, obj overlay.Object, remote *remoteLog) {
				if _, clears, _ := remote.snapshot(); clears != 0 {
					t.Errorf("Expected no remote clear, got %d", clears)
				}
				if len(h.state.Snapshot().Images) != 0 {
					t.Error("Expected images to be cleared")
				}
			},
		},
		{
			name:   "cancels pending bursts",
			remote: true,
			act: func(t *testing.T, h *harness, obj overlay.Object) {
				h.drag(t, obj, 10, 10, 0)
				if h.engine.Pending() != 1 {
					t.Fatalf("Expected a pending burst, got %d", h.engine.Pending())
				}
			},
			check: func(t *testing.T, h *harness, obj overlay.Object, remote *remoteLog) {
				if h.engine.Pending() != 0 {
					t.Errorf("Expected no pending bursts, got %d", h.engine.Pending())
				}
				h.engine.Flush()
				for _, op := range h.sink.requests() {
					if op.OperationType == models.OpMoveImage {
						t.Error("Cancelled burst must not emit move_image")
					}
				}
			},
		},
		{
			name:   "transform of a cleared object is rejected",
			remote: true,
			check: func(t *testing.T, h *harness, obj overlay.Object, remote *remoteLog) {
				err := h.engine.OnObjectTransformed(obj.ID, obj.Geometry)
				if !errors.Is(err, ErrUnknownObject) {
					t.Errorf("Expected ErrUnknownObject, got %v", err)
				}
				if err := h.engine.OnDeleteRequested(obj.ID); !errors.Is(err, ErrUnknownObject) {
					t.Errorf("Expected ErrUnknownObject on delete, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, raster.NewBlankSizes(letter), 1, time.Hour)
			remote := &remoteLog{}
			if tt.remote {
				h.engine.opts.Remote = remote
			}
			ctx := context.Background()
			if err := h.engine.Render(ctx); err != nil {
				t.Fatalf("Render: %v", err)
			}
			_, obj := h.drop(t, logo)
			if tt.act != nil {
				tt.act(t, h, obj)
			}
			if err := h.engine.Reset(ctx); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			tt.check(t, h, obj, remote)
		})
	}
}

func TestResetDiscardsUndeliveredOperations(t *testing.T) {
	remote := &remoteLog{failures: 1}
	queue := outbox.New(remote, "sess1", "tok", outbox.Options{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Lister:         remote,
	})
	queue.Start(context.Background())
	defer queue.Close()

	state := NewState()
	state.SetFile("file1", "doc.pdf", 1)
	state.SetSession("sess1", "tok")
	assets := &fakeAssets{images: map[string]image.Image{
		"logo.png": imaging.New(400, 200, color.NRGBA{B: 255, A: 255}),
	}}
	engine, err := New(state, Options{
		Rasterizer:     raster.NewBlankSizes(letter),
		Overlay:        overlay.NewCanvas(),
		Assets:         assets,
		Sink:           queue,
		Remote:         remote,
		CoalesceWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := engine.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, err := engine.OnImageDropped(ctx, logo); err != nil {
		t.Fatalf("OnImageDropped: %v", err)
	}
	waitFor(t, "first append attempt", func() bool {
		attempts, _, _ := remote.snapshot()
		return attempts > 0
	})

	if err := engine.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, _, ops := remote.snapshot(); len(ops) != 0 {
		t.Fatalf("Reset operation reached the server: %+v", ops)
	}
	if len(state.Snapshot().Images) != 0 {
		t.Fatal("Expected no local images after Reset")
	}

	placed, err := engine.OnImageDropped(ctx, logo)
	if err != nil {
		t.Fatalf("OnImageDropped: %v", err)
	}
	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_, _, ops := remote.snapshot()
	folded := replay.Fold(ops)
	if len(folded) != 1 || folded[0].LocalID != placed.LocalID {
		t.Errorf("Server log should hold only the new placement, got %+v", folded)
	}
	report, err := queue.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Diverged() {
		t.Errorf("Expected counts to agree after Reset, got %+v", report)
	}
}

func TestDeleteWithMissingImageLeavesOverlay(t *testing.T) {
	h := newHarness(t, raster.NewBlankSizes(letter), 1, time.Hour)
	placed, obj := h.drop(t, logo)
	h.state.RemoveImage(placed.LocalID)

	if err := h.engine.OnDeleteRequested(obj.ID); !errors.Is(err, ErrUnknownImage) {
		t.Fatalf("Expected ErrUnknownImage, got %v", err)
	}
	if _, ok := h.canvas.Object(obj.ID); !ok {
		t.Error("Failed delete must not remove the overlay object")
	}
	if len(h.sink.requests()) != 1 {
		t.Errorf("Failed delete must not emit, got %d operations", len(h.sink.requests()))
	}
}

// zoomGate blocks renders at one zoom until released
type zoomGate struct {
	*raster.Blank
	zoom    float64
	started chan struct{}
	release chan struct{}
}

func (g *zoomGate) Rasterize(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if zoom == g.zoom {
		g.started <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Blank.Rasterize(ctx, page, zoom)
}

func TestDropDuringZoomUsesRenderedZoom(t *testing.T) {
	gate := &zoomGate{
		Blank:   raster.NewBlankSizes(letter),
		zoom:    2,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, gate, 1, time.Hour)
	ctx := context.Background()
	if err := h.engine.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.SetZoom(ctx, 2) }()
	<-gate.started

	placed, _ := h.drop(t, logo)
	close(gate.release)
	if err := <-errCh; err != nil {
		t.Fatalf("SetZoom: %v", err)
	}

	if placed.Width != 183.6 || placed.Height != 91.8 {
		t.Errorf("Expected 183.6x91.8 from the zoom 1 bitmap, got %vx%v", placed.Width, placed.Height)
	}
}
