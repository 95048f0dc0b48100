package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/lehigh-university-libraries/pdfstamp/internal/assets"
	"github.com/lehigh-university-libraries/pdfstamp/internal/editor"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/outbox"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
	"github.com/lehigh-university-libraries/pdfstamp/internal/raster"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"
)

const testKey = "secret"

type testServer struct {
	handler *Handler
	client  *oplog.Client

	mu     sync.Mutex
	stamps []replay.Stamp
	offset time.Duration
}

func (ts *testServer) composed() []replay.Stamp {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stamps
}

// advance moves the server clock forward
func (ts *testServer) advance(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.offset += d
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	h := New(storage.New(), Options{StorageDir: t.TempDir(), APIKey: testKey, PublicURL: "http://editor.test"})
	h.now = func() time.Time {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return time.Now().Add(ts.offset)
	}
	h.pageCount = func(path string) (int, error) { return 3, nil }
	h.compose = func(ctx context.Context, in, out string, stamps []replay.Stamp) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.stamps = stamps
		return os.WriteFile(out, []byte("%PDF-1.7 edited"), 0644)
	}
	ts.handler = h

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	ts.client = oplog.NewClient(srv.URL+"/api/v1", testKey, 5*time.Second)
	return ts
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// openSession uploads a PDF and opens a session on it
func (ts *testServer) openSession(t *testing.T) (*models.FileInfo, *models.SessionCreated) {
	t.Helper()
	ctx := context.Background()
	info, err := ts.client.UploadFile(ctx, "doc.pdf", []byte("%PDF-1.4\n%stub\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	created, err := ts.client.CreateSession(ctx, info.ID, models.SessionRequest{Permissions: models.Permissions{CanEdit: true, CanDownload: true}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return info, created
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	file, created := ts.openSession(t)
	sid, tok := created.SessionID, created.SessionToken

	if file.PageCount != 3 || file.OriginalFilename != "doc.pdf" {
		t.Errorf("Unexpected file info %+v", file)
	}
	if created.ExpiresAt.Sub(time.Now()) < 23*time.Hour {
		t.Errorf("Expected a 24 hour session, expires at %v", created.ExpiresAt)
	}

	info, err := ts.client.SessionInfo(ctx, sid, tok)
	if err != nil {
		t.Fatalf("SessionInfo: %v", err)
	}
	if info.PageCount != 3 || info.FileName != "doc.pdf" || oplog.CheckUsable(info, time.Now()) != nil {
		t.Errorf("Unexpected session info %+v", info)
	}

	asset, err := ts.client.UploadImage(ctx, sid, tok, "logo.png", pngData(t, 40, 20))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if asset.Width != 40 || asset.Height != 20 {
		t.Errorf("Unexpected asset size %dx%d", asset.Width, asset.Height)
	}
	data, err := ts.client.FetchImage(ctx, asset.ImageURL)
	if err != nil || !bytes.Equal(data, pngData(t, 40, 20)) {
		t.Errorf("FetchImage returned %d bytes, err %v", len(data), err)
	}

	add := models.OperationRequest{
		OperationType: models.OpAddImage,
		OperationData: models.OperationData{ImageID: asset.ID, PlacementID: "p1", Position: &models.Position{X: 10, Y: 10, Width: 40, Height: 20}},
	}
	record, err := ts.client.AppendOperation(ctx, sid, tok, add)
	if err != nil {
		t.Fatalf("AppendOperation: %v", err)
	}
	if record.Order != 1 {
		t.Errorf("Expected order 1, got %d", record.Order)
	}

	result, err := ts.client.Commit(ctx, file.ID, sid, tok)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.Status != models.SessionCompleted || result.EditedFileSize == 0 {
		t.Errorf("Unexpected commit result %+v", result)
	}
	if stamps := ts.composed(); len(stamps) != 1 || stamps[0].PixelWidth != 40 || stamps[0].Box.X != 10 {
		t.Errorf("Unexpected stamps %+v", stamps)
	}

	pdf, err := ts.client.DownloadEdited(ctx, sid, tok)
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Errorf("DownloadEdited returned %q, %v", pdf, err)
	}

	_, err = ts.client.AppendOperation(ctx, sid, tok, add)
	if !oplog.IsTerminal(err) {
		t.Errorf("Expected terminal error after commit, got %v", err)
	}
	info, _ = ts.client.SessionInfo(ctx, sid, tok)
	if !errors.Is(oplog.CheckUsable(info, time.Now()), oplog.ErrSessionCompleted) {
		t.Errorf("Expected completed session, got status %s", info.Status)
	}
}

func TestOperationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, created := ts.openSession(t)
	sid, tok := created.SessionID, created.SessionToken

	tests := []struct {
		name   string
		op     models.OperationRequest
		status int
	}{
		{name: "unknown type", op: models.OperationRequest{OperationType: "flip_image", OperationData: models.OperationData{ImageID: "x"}}, status: 422},
		{name: "add without position", op: models.OperationRequest{OperationType: models.OpAddImage, OperationData: models.OperationData{ImageID: "x"}}, status: 422},
		{name: "move without image", op: models.OperationRequest{OperationType: models.OpMoveImage, OperationData: models.OperationData{NewPosition: &models.Position{}}}, status: 422},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.client.AppendOperation(ctx, sid, tok, tt.op)
			var apiErr *oplog.APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %v", tt.status, err)
			}
		})
	}

	var ids []string
	for i := 0; i < 3; i++ {
		op := models.OperationRequest{
			OperationType: models.OpAddImage,
			OperationData: models.OperationData{ImageID: "img", PlacementID: fmt.Sprintf("p%d", i), Position: &models.Position{Width: 1, Height: 1}},
		}
		record, err := ts.client.AppendOperation(ctx, sid, tok, op)
		if err != nil {
			t.Fatalf("AppendOperation: %v", err)
		}
		ids = append(ids, record.ID)
	}
	if err := ts.client.DeleteOperation(ctx, sid, tok, ids[0]); err != nil {
		t.Fatalf("DeleteOperation: %v", err)
	}
	ops, err := ts.client.ListOperations(ctx, sid, tok)
	if err != nil || len(ops) != 2 || ops[0].ID != ids[1] {
		t.Fatalf("Unexpected log %+v, %v", ops, err)
	}
	if err := ts.client.ClearOperations(ctx, sid, tok); err != nil {
		t.Fatalf("ClearOperations: %v", err)
	}
	if ops, _ := ts.client.ListOperations(ctx, sid, tok); len(ops) != 0 {
		t.Errorf("Expected empty log, got %d", len(ops))
	}

	if _, err := ts.client.ListOperations(ctx, sid, "wrong"); !errors.Is(err, oplog.ErrAuth) {
		t.Errorf("Expected ErrAuth for a wrong token, got %v", err)
	}
}

func TestAPIKeyAndExpiry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, created := ts.openSession(t)

	anonymous := oplog.NewClient(ts.client.BaseURL, "wrong", time.Second)
	if _, err := anonymous.UploadFile(ctx, "doc.pdf", []byte("%PDF-1.4\n")); !errors.Is(err, oplog.ErrAuth) {
		t.Errorf("Expected ErrAuth without API key, got %v", err)
	}

	ts.advance(48 * time.Hour)
	_, err := ts.client.ListOperations(ctx, created.SessionID, created.SessionToken)
	if !errors.Is(err, oplog.ErrAuth) {
		t.Errorf("Expected expired session to be refused, got %v", err)
	}
	info, err := ts.client.SessionInfo(ctx, created.SessionID, created.SessionToken)
	if err != nil {
		t.Fatalf("SessionInfo should stay readable: %v", err)
	}
	if !errors.Is(oplog.CheckUsable(info, time.Now().Add(48*time.Hour)), oplog.ErrSessionExpired) {
		t.Error("Expected CheckUsable to report expiry")
	}
}

func TestDownloadBeforeCommit(t *testing.T) {
	ts := newTestServer(t)
	_, created := ts.openSession(t)
	_, err := ts.client.DownloadEdited(context.Background(), created.SessionID, created.SessionToken)
	var apiErr *oplog.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Errorf("Expected 409 before commit, got %v", err)
	}
}

// TestEditorThroughServer drives the editor against the server and checks
// the persisted log folds into the editor's images.
func TestEditorThroughServer(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	file, created := ts.openSession(t)
	sid, tok := created.SessionID, created.SessionToken

	asset, err := ts.client.UploadImage(ctx, sid, tok, "logo.png", pngData(t, 400, 200))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}

	state := editor.NewState()
	if _, err := editor.Restore(ctx, ts.client, state, sid, tok, time.Now()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	queue := outbox.New(ts.client, sid, tok, outbox.Options{Lister: ts.client, OnAppended: state.AddOperation})
	queue.Start(ctx)
	defer queue.Close()

	canvas := overlay.NewCanvas()
	engine, err := editor.New(state, editor.Options{
		Rasterizer:     raster.NewBlankSizes(models.Size{Width: 612, Height: 792}, models.Size{Width: 612, Height: 792}, models.Size{Width: 612, Height: 792}),
		Overlay:        canvas,
		Assets:         assets.NewLoader(ts.client),
		Sink:           queue,
		CoalesceWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("editor.New: %v", err)
	}
	defer engine.Close()

	if err := engine.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	placed, err := engine.OnImageDropped(ctx, *asset)
	if err != nil {
		t.Fatalf("OnImageDropped: %v", err)
	}
	obj, _ := canvas.FindByTag(placed.LocalID)
	moved := placed
	moved.X, moved.Y, moved.Rotation = 240, 310, 30
	iw, ih := obj.IntrinsicSize()
	if err := engine.OnObjectTransformed(obj.ID, editor.ToGeometry(moved, iw, ih, 1)); err != nil {
		t.Fatalf("OnObjectTransformed: %v", err)
	}
	engine.Flush()

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := queue.Flush(flushCtx); err != nil {
		t.Fatalf("queue.Flush: %v", err)
	}

	ops, err := ts.client.ListOperations(ctx, sid, tok)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("Expected add and move, got %d operations", len(ops))
	}
	folded := replay.Fold(ops)
	images := state.Snapshot().Images
	if len(folded) != 1 || folded[0] != images[0] {
		t.Errorf("Server log does not match editor state:\n log   %+v\n state %+v", folded, images)
	}
	if len(state.Snapshot().Operations) != 2 {
		t.Errorf("Expected appended operations to be recorded in state")
	}
	if report, err := queue.Reconcile(ctx); err != nil || report.Diverged() {
		t.Errorf("Unexpected reconcile %+v, %v", report, err)
	}

	if _, err := ts.client.Commit(ctx, file.ID, sid, tok); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if stamps := ts.composed(); len(stamps) != 1 || stamps[0].Rotation != 30 {
		t.Errorf("Unexpected stamps %+v", stamps)
	}
}
