package overlay

import (
	"errors"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestCanvasObjects(t *testing.T) {
	c := NewCanvas()
	if err := c.SetDimensions(200, 100); err != nil {
		t.Fatalf("SetDimensions: %v", err)
	}

	img := imaging.New(10, 10, color.Black)
	a, _ := c.Add(Object{Tag: "one", Image: img, Geometry: Geometry{Left: 50, Top: 50, ScaleX: 1, ScaleY: 1}})
	b, _ := c.Add(Object{Tag: "two", Image: img, Geometry: Geometry{Left: 150, Top: 50, ScaleX: 2, ScaleY: 2}})
	if a == "" || b == "" || a == b {
		t.Fatalf("Expected distinct generated ids, got %q and %q", a, b)
	}

	if obj, ok := c.FindByTag("two"); !ok || obj.ID != b || obj.Opacity != 1 {
		t.Errorf("FindByTag returned %+v, %v", obj, ok)
	}

	if !c.SetActive(b) {
		t.Fatal("SetActive failed")
	}
	c.Remove(b)
	if _, ok := c.Active(); ok {
		t.Error("Removing the active object must clear the selection")
	}
	if len(c.Objects()) != 1 {
		t.Errorf("Expected 1 object, got %d", len(c.Objects()))
	}

	if !c.Transform(a, Geometry{Left: 60, Top: 40, ScaleX: 1, ScaleY: 1, Angle: 90, Opacity: 0.5}) {
		t.Fatal("Transform failed")
	}
	if obj, _ := c.Object(a); obj.Left != 60 || obj.Angle != 90 {
		t.Errorf("Unexpected geometry %+v", obj.Geometry)
	}

	c.Clear()
	if len(c.Objects()) != 0 {
		t.Error("Clear left objects behind")
	}
}

func TestCanvasRender(t *testing.T) {
	c := NewCanvas()
	_ = c.SetDimensions(100, 100)
	_ = c.SetBackground(imaging.New(100, 100, color.White))
	red := imaging.New(10, 10, color.NRGBA{R: 255, A: 255})
	_, _ = c.Add(Object{Image: red, Geometry: Geometry{Left: 50, Top: 50, ScaleX: 2, ScaleY: 2, Opacity: 1}})

	out, err := c.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := out.NRGBAAt(50, 50); got.R != 255 || got.G != 0 {
		t.Errorf("Expected red at centre, got %v", got)
	}
	if got := out.NRGBAAt(5, 5); got.R != 255 || got.G != 255 {
		t.Errorf("Expected white background at corner, got %v", got)
	}
}

func TestCanvasDispose(t *testing.T) {
	c := NewCanvas()
	_ = c.SetDimensions(10, 10)
	c.Dispose()
	if _, err := c.Add(Object{}); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed from Add, got %v", err)
	}
	if _, err := c.Render(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Expected ErrDisposed from Render, got %v", err)
	}
}
