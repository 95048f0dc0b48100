// Package script drives the editor from a YAML edit script, the way a user
// would drive it with a pointer and keyboard.
package script

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is a list of steps run in order
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action
type Step struct {
	// Page is 1-indexed
	Page    *int        `yaml:"page,omitempty"`
	Zoom    *float64    `yaml:"zoom,omitempty"`
	Place   *PlaceStep  `yaml:"place,omitempty"`
	Move    *MoveStep   `yaml:"move,omitempty"`
	Resize  *ResizeStep `yaml:"resize,omitempty"`
	Rotate  *RotateStep `yaml:"rotate,omitempty"`
	Delete  *TargetStep `yaml:"delete,omitempty"`
	Preview *string     `yaml:"preview,omitempty"`
	Wait    *Duration   `yaml:"wait,omitempty"`
	// Flush ends every pending gesture now
	Flush   *bool       `yaml:"flush,omitempty"`
}

type PlaceStep struct {
	Image string `yaml:"image"`
	// As names the placement for later steps; defaults to the image file name
	As string `yaml:"as,omitempty"`
}

type TargetStep struct {
	Target string `yaml:"target"`
}

type MoveStep struct {
	Target string  `yaml:"target"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	// Steps splits the move into intermediate drag events
	Steps int `yaml:"steps,omitempty"`
}

type ResizeStep struct {
	Target string  `yaml:"target"`
	Width  float64 `yaml:"width"`
	// Height keeps the aspect ratio when omitted
	Height float64 `yaml:"height,omitempty"`
}

type RotateStep struct {
	Target string  `yaml:"target"`
	Angle  float64 `yaml:"angle"`
}

// Duration reads values like "500ms" from YAML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads and validates a script file
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes a script, rejecting unknown keys
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &s, nil
}

func (s Step) validate() error {
	set := 0
	for _, present := range []bool{
		s.Page != nil, s.Zoom != nil, s.Place != nil, s.Move != nil, s.Resize != nil,
		s.Rotate != nil, s.Delete != nil, s.Preview != nil, s.Wait != nil, s.Flush != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("expected exactly one action, got %d", set)
	}

	switch {
	case s.Page != nil && *s.Page < 1:
		return fmt.Errorf("page must be 1 or more")
	case s.Zoom != nil && *s.Zoom <= 0:
		return fmt.Errorf("zoom must be positive")
	case s.Place != nil && s.Place.Image == "":
		return fmt.Errorf("place needs an image")
	case s.Move != nil && s.Move.Target == "":
		return fmt.Errorf("move needs a target")
	case s.Resize != nil && (s.Resize.Target == "" || s.Resize.Width <= 0):
		return fmt.Errorf("resize needs a target and a positive width")
	case s.Rotate != nil && s.Rotate.Target == "":
		return fmt.Errorf("rotate needs a target")
	case s.Delete != nil && s.Delete.Target == "":
		return fmt.Errorf("delete needs a target")
	}
	return nil
}

// Action names the step for logs
func (s Step) Action() string {
	switch {
	case s.Page != nil:
		return "page"
	case s.Zoom != nil:
		return "zoom"
	case s.Place != nil:
		return "place"
	case s.Move != nil:
		return "move"
	case s.Resize != nil:
		return "resize"
	case s.Rotate != nil:
		return "rotate"
	case s.Delete != nil:
		return "delete"
	case s.Preview != nil:
		return "preview"
	case s.Wait != nil:
		return "wait"
	case s.Flush != nil:
		return "flush"
	}
	return "unknown"
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
