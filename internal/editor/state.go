package editor

import (
	"sync"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// ImageUpdate carries the fields of a placed image to change; nil fields are kept
type ImageUpdate struct {
	X        *float64
	Y        *float64
	Width    *float64
	Height   *float64
	Rotation *float64
	Opacity  *float64
}

// Snapshot is an immutable copy of the editor state
type Snapshot struct {
	Session    models.DocumentSession
	Images     []models.PlacedImage
	Operations []models.Operation
	Version    uint64
}

// State owns the document session, the placed images and the known
// operation log. Every mutation bumps the version.
type State struct {
	mu         sync.RWMutex
	session    models.DocumentSession
	images     []models.PlacedImage
	operations []models.Operation
	version    uint64
}

// NewState returns an empty state with zoom 1
func NewState() *State {
	return &State{session: models.DocumentSession{Zoom: 1}}
}

// SetFile records the open file
func (s *State) SetFile(fileID, fileName string, pageCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.FileID = fileID
	s.session.FileName = fileName
	s.session.PageCount = pageCount
	s.version++
}

// SetSession records the editing session credentials
func (s *State) SetSession(sessionID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.SessionID = sessionID
	s.session.SessionToken = token
	s.version++
}

// SetPage sets the current 0-indexed page
func (s *State) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.CurrentPage = page
	s.version++
}

// SetZoom sets the zoom factor; non-positive values are ignored
func (s *State) SetZoom(zoom float64) {
	if zoom <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Zoom = zoom
	s.version++
}

func (s *State) AddImage(img models.PlacedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, img)
	s.version++
}

// UpdateImage applies u to the image with localID. Unknown ids are a no-op.
func (s *State) UpdateImage(localID string, u ImageUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.images {
		if s.images[i].LocalID != localID {
			continue
		}
		img := &s.images[i]
		set(&img.X, u.X)
		set(&img.Y, u.Y)
		set(&img.Width, u.Width)
		set(&img.Height, u.Height)
		set(&img.Rotation, u.Rotation)
		set(&img.Opacity, u.Opacity)
		s.version++
		return true
	}
	return false
}

func set(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// RemoveImage deletes the image with localID. Unknown ids are a no-op.
func (s *State) RemoveImage(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.images {
		if s.images[i].LocalID == localID {
			s.images = append(s.images[:i:i], s.images[i+1:]...)
			s.version++
			return true
		}
	}
	return false
}

// AddOperation records a persisted operation
func (s *State) AddOperation(op models.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, op)
	s.version++
}

// SetOperations replaces the known operation log
func (s *State) SetOperations(ops []models.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append([]models.Operation(nil), ops...)
	s.version++
}

// SetImages replaces the placed images, used when restoring from the log
func (s *State) SetImages(images []models.PlacedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append([]models.PlacedImage(nil), images...)
	s.version++
}

// ClearAll drops every image and operation, keeping the session
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = nil
	s.operations = nil
	s.version++
}

// Reset returns to the initial state
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = models.DocumentSession{Zoom: 1}
	s.images = nil
	s.operations = nil
	s.version++
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Session:    s.session,
		Images:     append([]models.PlacedImage(nil), s.images...),
		Operations: append([]models.Operation(nil), s.operations...),
		Version:    s.version,
	}
}

func (s *State) Session() models.DocumentSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Image returns a copy of the image with localID
func (s *State) Image(localID string) (models.PlacedImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.images {
		if img.LocalID == localID {
			return img, true
		}
	}
	return models.PlacedImage{}, false
}

// ImagesOnPage returns the images on page in placement order
func (s *State) ImagesOnPage(page int) []models.PlacedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PlacedImage
	for _, img := range s.images {
		if img.Page == page {
			out = append(out, img)
		}
	}
	return out
}

func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
