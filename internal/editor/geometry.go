package editor

import (
	"image"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/overlay"
)

const (
	// dropAnchor is where dropped images land, top-left in document space
	dropAnchor = 100.0
	// dropWidthRatio of the page width is the default width of a dropped image
	dropWidthRatio = 0.3
	// dropFallbackWidth is used while no page is rendered
	dropFallbackWidth = 200.0
)

// ToGeometry places img on the overlay at zoom. iw and ih are the intrinsic
// pixel size of its asset.
func ToGeometry(img models.PlacedImage, iw, ih int, zoom float64) overlay.Geometry {
	g := overlay.Geometry{
		Left:    (img.X + img.Width/2) * zoom,
		Top:     (img.Y + img.Height/2) * zoom,
		Angle:   img.Rotation,
		Opacity: img.Opacity,
	}
	if iw > 0 {
		g.ScaleX = img.Width * zoom / float64(iw)
	}
	if ih > 0 {
		g.ScaleY = img.Height * zoom / float64(ih)
	}
	return g
}

// FromGeometry converts overlay geometry back to a document-space box,
// rounded to two decimals.
func FromGeometry(g overlay.Geometry, iw, ih int, zoom float64) models.Position {
	if zoom <= 0 {
		zoom = 1
	}
	w := float64(iw) * g.ScaleX / zoom
	h := float64(ih) * g.ScaleY / zoom
	return models.Position{
		X:      g.Left/zoom - w/2,
		Y:      g.Top/zoom - h/2,
		Width:  w,
		Height: h,
	}.Rounded()
}

// dropSize scales an asset to the default drop width keeping its aspect ratio
func dropSize(page image.Image, zoom float64, iw, ih int) models.Size {
	width := dropFallbackWidth
	if page != nil && zoom > 0 {
		width = float64(page.Bounds().Dx()) / zoom * dropWidthRatio
	}
	height := width
	if iw > 0 {
		height = width * float64(ih) / float64(iw)
	}
	return models.Size{Width: models.Round2(width), Height: models.Round2(height)}
}

func objectFor(img models.PlacedImage, src image.Image, zoom float64) overlay.Object {
	b := src.Bounds()
	return overlay.Object{
		Tag:      img.LocalID,
		Image:    src,
		Geometry: ToGeometry(img, b.Dx(), b.Dy(), zoom),
	}
}
