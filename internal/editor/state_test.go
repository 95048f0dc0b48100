package editor

import (
	"testing"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

func TestStateImageLifecycle(t *testing.T) {
	s := NewState()
	s.AddImage(models.PlacedImage{LocalID: "a", Page: 0, X: 10, Y: 20, Width: 100, Height: 50, Opacity: 1})
	s.AddImage(models.PlacedImage{LocalID: "b", Page: 1, X: 0, Y: 0, Width: 10, Height: 10, Opacity: 1})

	if !s.UpdateImage("a", ImageUpdate{X: models.Float(30), Rotation: models.Float(45)}) {
		t.Fatal("Expected update of known image to succeed")
	}
	img, ok := s.Image("a")
	if !ok || img.X != 30 || img.Y != 20 || img.Rotation != 45 || img.Width != 100 {
		t.Errorf("Unexpected image after update: %+v", img)
	}

	if s.UpdateImage("missing", ImageUpdate{X: models.Float(1)}) {
		t.Error("Expected update of unknown image to be a no-op")
	}
	if s.RemoveImage("missing") {
		t.Error("Expected removal of unknown image to be a no-op")
	}

	if got := s.ImagesOnPage(1); len(got) != 1 || got[0].LocalID != "b" {
		t.Errorf("Unexpected images on page 1: %+v", got)
	}
	if !s.RemoveImage("a") {
		t.Fatal("Expected removal to succeed")
	}
	if _, ok := s.Image("a"); ok {
		t.Error("Removed image still present")
	}
}

func TestStateVersionBumps(t *testing.T) {
	s := NewState()
	steps := []struct {
		name   string
		mutate func()
	}{
		{name: "set file", mutate: func() { s.SetFile("f", "doc.pdf", 3) }},
		{name: "set session", mutate: func() { s.SetSession("s", "t") }},
		{name: "set page", mutate: func() { s.SetPage(2) }},
		{name: "set zoom", mutate: func() { s.SetZoom(1.5) }},
		{name: "add image", mutate: func() { s.AddImage(models.PlacedImage{LocalID: "x"}) }},
		{name: "add operation", mutate: func() { s.AddOperation(models.Operation{ID: "op"}) }},
		{name: "clear all", mutate: func() { s.ClearAll() }},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			before := s.Version()
			step.mutate()
			if s.Version() <= before {
				t.Errorf("Version did not advance: %d -> %d", before, s.Version())
			}
		})
	}
}

func TestStateZoomIgnoresNonPositive(t *testing.T) {
	s := NewState()
	s.SetZoom(0)
	s.SetZoom(-2)
	if z := s.Session().Zoom; z != 1 {
		t.Errorf("Expected zoom 1, got %v", z)
	}
}

func TestStateClearAllKeepsSession(t *testing.T) {
	s := NewState()
	s.SetFile("f", "doc.pdf", 2)
	s.SetSession("s", "t")
	s.AddImage(models.PlacedImage{LocalID: "a"})
	s.AddOperation(models.Operation{ID: "op"})

	s.ClearAll()
	snap := s.Snapshot()
	if len(snap.Images) != 0 || len(snap.Operations) != 0 {
		t.Errorf("Expected no images or operations, got %+v", snap)
	}
	if snap.Session.SessionID != "s" || snap.Session.FileID != "f" {
		t.Errorf("Session should survive ClearAll: %+v", snap.Session)
	}

	s.Reset()
	if got := s.Session(); got != (models.DocumentSession{Zoom: 1}) {
		t.Errorf("Expected initial session after Reset, got %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewState()
	s.AddImage(models.PlacedImage{LocalID: "a", X: 1})
	snap := s.Snapshot()
	snap.Images[0].X = 99
	if img, _ := s.Image("a"); img.X != 1 {
		t.Errorf("Snapshot mutation leaked into state: %+v", img)
	}
}
