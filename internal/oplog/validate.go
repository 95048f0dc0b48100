package oplog

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MaxPDFSize   = 50 * 1024 * 1024
	MaxImageSize = 10 * 1024 * 1024
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ValidatePDF rejects anything that is not a PDF under 50MB
func ValidatePDF(filename string, data []byte) error {
	if len(data) == 0 {
		return &ValidationError{Field: "file", Reason: "file is empty"}
	}
	if len(data) > MaxPDFSize {
		return &ValidationError{Field: "file", Reason: "file size must be less than 50MB"}
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) && http.DetectContentType(data) != "application/pdf" {
		return &ValidationError{Field: "file", Reason: fmt.Sprintf("%s is not a PDF file", filepath.Base(filename))}
	}
	return nil
}

// ValidateImage rejects non-images and images of 10MB or more
func ValidateImage(filename string, data []byte) error {
	if len(data) == 0 {
		return &ValidationError{Field: "image", Reason: "file is empty"}
	}
	if len(data) >= MaxImageSize {
		return &ValidationError{Field: "image", Reason: "image size must be less than 10MB"}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExtensions[ext] {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("unsupported extension %q (JPG, PNG, GIF, WebP)", ext)}
	}
	if contentType := http.DetectContentType(data); !strings.HasPrefix(contentType, "image/") {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("content type %s is not an image", contentType)}
	}
	return nil
}
