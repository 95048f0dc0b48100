package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded means a newer render or rebuild started; the result was discarded
	ErrSuperseded = errors.New("superseded by a newer request")
	ErrClosed     = errors.New("editor is closed")
	// ErrUnknownObject is returned for overlay objects that do not exist (any more)
	ErrUnknownObject = errors.New("unknown overlay object")
	// ErrUnknownImage is returned when an overlay object has no placed image behind it
	ErrUnknownImage = errors.New("unknown placed image")
	ErrNoPage       = errors.New("page out of range")
)

// RasterizationError reports a page that could not be rendered. The
// session stays usable; another page or zoom can be requested.
type RasterizationError struct {
	Page int
	Zoom float64
	Err  error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("failed to rasterize page %d at zoom %.2f: %v", e.Page, e.Zoom, e.Err)
}

func (e *RasterizationError) Unwrap() error {
	return e.Err
}
