package models

import (
	"math"
	"net/url"
	"time"
)

// DocumentSession describes the file and editing session currently open in the editor
type DocumentSession struct {
	FileID       string  `json:"file_id"`
	SessionID    string  `json:"session_id"`
	SessionToken string  `json:"session_token"`
	FileName     string  `json:"file_name"`
	PageCount    int     `json:"page_count"`
	CurrentPage  int     `json:"current_page"` // 0-indexed
	Zoom         float64 `json:"zoom"`
}

// PlacedImage is one placement of an uploaded image on a page.
// X, Y, Width and Height are in document space (zoom = 1); X, Y is the
// top-left corner of the un-rotated bounding box.
type PlacedImage struct {
	LocalID       string  `json:"local_id"`
	SourceImageID string  `json:"source_image_id"`
	Page          int     `json:"page"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	Rotation      float64 `json:"rotation"`
	Opacity       float64 `json:"opacity"`
	SourceURL     string  `json:"source_url"`
}

// Position returns the image box in document space
func (p PlacedImage) Position() Position {
	return Position{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
}

// Position is a box in document space
type Position struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Rounded returns the position rounded to two decimal places
func (p Position) Rounded() Position {
	return Position{X: Round2(p.X), Y: Round2(p.Y), Width: Round2(p.Width), Height: Round2(p.Height)}
}

// Near reports whether both positions agree within tol on every field
func (p Position) Near(o Position, tol float64) bool {
	return math.Abs(p.X-o.X) <= tol &&
		math.Abs(p.Y-o.Y) <= tol &&
		math.Abs(p.Width-o.Width) <= tol &&
		math.Abs(p.Height-o.Height) <= tol
}

// Size is a width/height pair in document space
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Round2 rounds n to two decimal places
func Round2(n float64) float64 {
	return math.Round(n*100) / 100
}

// FileInfo is returned by the file upload and file info endpoints
type FileInfo struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size"`
	PageCount        int       `json:"page_count"`
	MimeType         string    `json:"mime_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Permissions granted to an editing session
type Permissions struct {
	CanEdit     bool `json:"can_edit"`
	CanDownload bool `json:"can_download"`
}

// SessionRequest is the body of a session creation call
type SessionRequest struct {
	ExpiresInHours int         `json:"expires_in_hours"`
	CallbackURL    string      `json:"callback_url,omitempty"`
	Permissions    Permissions `json:"permissions"`
}

// SessionCreated is returned when a session is created for a file
type SessionCreated struct {
	SessionID    string      `json:"session_id"`
	FileID       string      `json:"file_id"`
	SessionToken string      `json:"session_token"`
	EditorURL    string      `json:"editor_url"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Permissions  Permissions `json:"permissions"`
}

// Session statuses
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// SessionInfo describes an existing session
type SessionInfo struct {
	ID           string      `json:"id"`
	FileID       string      `json:"file_id"`
	FileName     string      `json:"file_name"`
	PageCount    int         `json:"page_count"`
	SessionToken string      `json:"session_token"`
	Status       string      `json:"status"`
	ExpiresAt    time.Time   `json:"expires_at"`
	CreatedAt    time.Time   `json:"created_at"`
	Permissions  Permissions `json:"permissions"`
}

// ImageAsset is an image uploaded to a session. Many placements may share one asset.
type ImageAsset struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredFilename   string    `json:"stored_filename"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	UploadedAt       time.Time `json:"uploaded_at"`
	ImageURL         string    `json:"image_url"`
}

// CommitResult is returned when a session is compiled into an edited PDF
type CommitResult struct {
	SessionID      string    `json:"session_id"`
	FileID         string    `json:"file_id"`
	Status         string    `json:"status"`
	EditedFilePath string    `json:"edited_file_path"`
	EditedFileSize int64     `json:"edited_file_size"`
	DownloadURL    string    `json:"download_url"`
	CompletedAt    time.Time `json:"completed_at"`
}

// ImageURL is the host-relative URL an uploaded session image is served from
func ImageURL(sessionID, imageID string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + "/images/" + url.PathEscape(imageID)
}
