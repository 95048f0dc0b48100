// Package replay rebuilds placed images from an operation log and stamps
// them into a PDF.
package replay

import (
	"log/slog"
	"sort"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

// positionTolerance is how far (document units) an old_position may drift
// from the tracked placement and still identify it
const positionTolerance = 0.5

// Fold applies ops in operation order and returns the images that remain
// placed. Operations that do not match any placement are skipped.
func Fold(ops []models.Operation) []models.PlacedImage {
	sorted := append([]models.Operation(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var images []models.PlacedImage
	for _, op := range sorted {
		d := op.Data
		if op.Type == models.OpAddImage {
			if d.Position == nil {
				slog.Debug("Skipping add without position", "operation_id", op.ID)
				continue
			}
			id := d.PlacementID
			if id == "" {
				id = op.ID
			}
			img := models.PlacedImage{
				LocalID:       id,
				SourceImageID: d.ImageID,
				Page:          d.Page,
				X:             d.Position.X,
				Y:             d.Position.Y,
				Width:         d.Position.Width,
				Height:        d.Position.Height,
				Opacity:       1,
				SourceURL:     d.ImageURL,
			}
			if d.Rotation != nil {
				img.Rotation = *d.Rotation
			}
			if d.Opacity != nil {
				img.Opacity = *d.Opacity
			}
			images = append(images, img)
			continue
		}

		i := match(images, d, op.Type)
		if i < 0 {
			slog.Debug("Skipping operation with no matching placement", "operation_id", op.ID, "type", op.Type, "image_id", d.ImageID)
			continue
		}
		img := &images[i]
		switch op.Type {
		case models.OpMoveImage:
			if d.NewPosition != nil {
				setPosition(img, *d.NewPosition)
			}
			if d.Rotation != nil {
				img.Rotation = *d.Rotation
			}
		case models.OpResizeImage:
			if d.NewPosition != nil {
				setPosition(img, *d.NewPosition)
			} else if d.NewSize != nil {
				img.Width, img.Height = d.NewSize.Width, d.NewSize.Height
			}
		case models.OpRotateImage:
			if d.Rotation != nil {
				img.Rotation = *d.Rotation
			}
		case models.OpDeleteImage:
			images = append(images[:i:i], images[i+1:]...)
		}
		if op.Type != models.OpDeleteImage && d.Opacity != nil {
			img.Opacity = *d.Opacity
		}
	}
	return images
}

func setPosition(img *models.PlacedImage, p models.Position) {
	img.X, img.Y, img.Width, img.Height = p.X, p.Y, p.Width, p.Height
}

// match finds the placement an operation refers to: by placement id when
// present, otherwise by image id on the page, preferring the one at the
// recorded position and falling back to the most recent placement.
func match(images []models.PlacedImage, d models.OperationData, t models.OperationType) int {
	if d.PlacementID != "" {
		for i := range images {
			if images[i].LocalID == d.PlacementID {
				return i
			}
		}
		return -1
	}

	var hint *models.Position
	switch t {
	case models.OpDeleteImage:
		hint = d.Position
	default:
		hint = d.OldPosition
	}

	last := -1
	for i := range images {
		if images[i].SourceImageID != d.ImageID || images[i].Page != d.Page {
			continue
		}
		if hint != nil && images[i].Position().Near(*hint, positionTolerance) {
			return i
		}
		last = i
	}
	return last
}
