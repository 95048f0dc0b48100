package models

import (
	"fmt"
	"time"
)

// OperationType names one kind of edit intent
type OperationType string

const (
	OpAddImage    OperationType = "add_image"
	OpMoveImage   OperationType = "move_image"
	OpResizeImage OperationType = "resize_image"
	OpRotateImage OperationType = "rotate_image"
	OpDeleteImage OperationType = "delete_image"
)

// Valid reports whether t is one of the known operation types
func (t OperationType) Valid() bool {
	switch t {
	case OpAddImage, OpMoveImage, OpResizeImage, OpRotateImage, OpDeleteImage:
		return true
	}
	return false
}

// OperationData is the type-specific payload of an operation
type OperationData struct {
	Page        int       `json:"page" yaml:"page"`
	ImageID     string    `json:"image_id" yaml:"image_id"`
	PlacementID string    `json:"placement_id,omitempty" yaml:"placement_id,omitempty"`
	ImagePath   string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	ImageURL    string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Position    *Position `json:"position,omitempty" yaml:"position,omitempty"`
	OldPosition *Position `json:"old_position,omitempty" yaml:"old_position,omitempty"`
	NewPosition *Position `json:"new_position,omitempty" yaml:"new_position,omitempty"`
	OldSize     *Size     `json:"old_size,omitempty" yaml:"old_size,omitempty"`
	NewSize     *Size     `json:"new_size,omitempty" yaml:"new_size,omitempty"`
	Rotation    *float64  `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	Opacity     *float64  `json:"opacity,omitempty" yaml:"opacity,omitempty"`
}

// OperationRequest is the body of an append call
type OperationRequest struct {
	OperationType OperationType `json:"operation_type"`
	OperationData OperationData `json:"operation_data"`
}

// Validate checks the request carries what its type needs
func (r OperationRequest) Validate() error {
	if !r.OperationType.Valid() {
		return fmt.Errorf("unknown operation type: %q", r.OperationType)
	}
	if r.OperationData.ImageID == "" {
		return fmt.Errorf("%s: image_id is required", r.OperationType)
	}
	if r.OperationData.Page < 0 {
		return fmt.Errorf("%s: page must not be negative", r.OperationType)
	}
	switch r.OperationType {
	case OpAddImage:
		if r.OperationData.Position == nil {
			return fmt.Errorf("%s: position is required", r.OperationType)
		}
	case OpMoveImage:
		if r.OperationData.NewPosition == nil {
			return fmt.Errorf("%s: new_position is required", r.OperationType)
		}
	case OpResizeImage:
		if r.OperationData.NewPosition == nil && r.OperationData.NewSize == nil {
			return fmt.Errorf("%s: new_position or new_size is required", r.OperationType)
		}
	case OpRotateImage:
		if r.OperationData.Rotation == nil {
			return fmt.Errorf("%s: rotation is required", r.OperationType)
		}
	}
	return nil
}

// Operation is a persisted operation record
type Operation struct {
	ID        string        `json:"id" yaml:"id"`
	SessionID string        `json:"session_id" yaml:"session_id"`
	Order     int           `json:"operation_order" yaml:"operation_order"`
	Type      OperationType `json:"operation_type" yaml:"operation_type"`
	Data      OperationData `json:"operation_data" yaml:"operation_data"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// OperationList is the response of the list operations endpoint
type OperationList struct {
	Operations []Operation `json:"operations"`
	Total      int         `json:"total"`
}

// Float returns a pointer to f, for optional payload fields
func Float(f float64) *float64 {
	return &f
}
