// Package overlay is an in-memory interactive object layer drawn over a
// page bitmap. Objects are positioned by their centre, scaled relative to
// their intrinsic image size and rotated clockwise in degrees.
package overlay

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// ErrDisposed is returned by every call after Dispose
var ErrDisposed = errors.New("overlay is disposed")

// Geometry places an object on the overlay, in overlay pixels
type Geometry struct {
	Left    float64 `json:"left"`
	Top     float64 `json:"top"`
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
	Angle   float64 `json:"angle"`
	Opacity float64 `json:"opacity"`
}

// Object is one image on the overlay. Tag carries the caller's identity
// for the object and is never interpreted by the canvas.
type Object struct {
	ID    string
	Tag   string
	Image image.Image
	Geometry
}

// IntrinsicSize returns the pixel size of the unscaled image
func (o Object) IntrinsicSize() (int, int) {
	if o.Image == nil {
		return 0, 0
	}
	b := o.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Canvas is a headless overlay: a sized surface with a background bitmap
// and an ordered list of objects, the last one on top.
type Canvas struct {
	mu         sync.RWMutex
	width      int
	height     int
	background image.Image
	objects    []*Object
	active     string
	disposed   bool
}

func NewCanvas() *Canvas {
	return &Canvas{}
}

// SetDimensions resizes the surface
func (c *Canvas) SetDimensions(width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.width, c.height = width, height
	return nil
}

func (c *Canvas) Dimensions() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.width, c.height
}

// SetBackground sets the page bitmap drawn beneath the objects
func (c *Canvas) SetBackground(img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.background = img
	return nil
}

func (c *Canvas) Background() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.background
}

// Add puts obj on top and returns its id, generating one when empty
func (c *Canvas) Add(obj Object) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return "", ErrDisposed
	}
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	if obj.Opacity == 0 {
		obj.Opacity = 1
	}
	c.objects = append(c.objects, &obj)
	return obj.ID, nil
}

// Remove deletes the object with id and clears the selection if it was active
func (c *Canvas) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.objects {
		if o.ID == id {
			c.objects = append(c.objects[:i:i], c.objects[i+1:]...)
			if c.active == id {
				c.active = ""
			}
			return true
		}
	}
	return false
}

// Clear removes every object
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = nil
	c.active = ""
}

// Object returns a copy of the object with id
func (c *Canvas) Object(id string) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.objects {
		if o.ID == id {
			return *o, true
		}
	}
	return Object{}, false
}

// FindByTag returns the first object carrying tag
func (c *Canvas) FindByTag(tag string) (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.objects {
		if o.Tag == tag {
			return *o, true
		}
	}
	return Object{}, false
}

// Objects returns copies of all objects, bottom first
func (c *Canvas) Objects() []Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Object, 0, len(c.objects))
	for _, o := range c.objects {
		out = append(out, *o)
	}
	return out
}

// Transform replaces the geometry of an object, the way a user gesture would
func (c *Canvas) Transform(id string, g Geometry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.objects {
		if o.ID == id {
			o.Geometry = g
			return true
		}
	}
	return false
}

// Active returns the selected object
func (c *Canvas) Active() (Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == "" {
		return Object{}, false
	}
	for _, o := range c.objects {
		if o.ID == c.active {
			return *o, true
		}
	}
	return Object{}, false
}

// SetActive selects the object with id; an empty id clears the selection
func (c *Canvas) SetActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.active = ""
		return true
	}
	for _, o := range c.objects {
		if o.ID == id {
			c.active = id
			return true
		}
	}
	return false
}

// Dispose releases the background and objects. The canvas is unusable afterwards.
func (c *Canvas) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.background = nil
	c.objects = nil
	c.active = ""
}

func (c *Canvas) Disposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// Render flattens the background and objects into one bitmap
func (c *Canvas) Render() (*image.NRGBA, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disposed {
		return nil, ErrDisposed
	}
	if c.width <= 0 || c.height <= 0 {
		return nil, errors.New("overlay has no dimensions")
	}

	dst := imaging.New(c.width, c.height, color.White)
	if c.background != nil {
		dst = imaging.Paste(dst, c.background, image.Pt(0, 0))
	}
	for _, o := range c.objects {
		dst = drawObject(dst, o)
	}
	return dst, nil
}

func drawObject(dst *image.NRGBA, o *Object) *image.NRGBA {
	iw, ih := o.IntrinsicSize()
	w := int(math.Round(float64(iw) * o.ScaleX))
	h := int(math.Round(float64(ih) * o.ScaleY))
	if w <= 0 || h <= 0 {
		return dst
	}

	img := imaging.Resize(o.Image, w, h, imaging.Lanczos)
	if o.Angle != 0 {
		// imaging rotates counter-clockwise
		img = imaging.Rotate(img, -o.Angle, color.Transparent)
	}
	b := img.Bounds()
	pt := image.Pt(
		int(math.Round(o.Left-float64(b.Dx())/2)),
		int(math.Round(o.Top-float64(b.Dy())/2)),
	)
	return imaging.Overlay(dst, img, pt, o.Opacity)
}
