package main

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"cropview/internal/geometry"
)

// ImagingCropper is an implementation of the Cropper interface
// using the disintegration/imaging library
type ImagingCropper struct {
	Quality int
}

// Crop decodes an image from r with EXIF orientation applied, so that it is in
// the same rotation corrected pixel space the crop rectangle was resolved in,
// cuts out rect, scales it to the display size and writes a JPEG to w.
func (c *ImagingCropper) Crop(ctx context.Context, r io.Reader, w io.Writer, rect geometry.CropRect) error {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if rect.Size.Width <= 0 || rect.Size.Height <= 0 {
		return fmt.Errorf("invalid crop dimensions: width=%d, height=%d", rect.Size.Width, rect.Size.Height)
	}

	bounds := src.Bounds()
	cropRect := image.Rect(
		bounds.Min.X+rect.Offset.X,
		bounds.Min.Y+rect.Offset.Y,
		bounds.Min.X+rect.Offset.X+rect.Size.Width,
		bounds.Min.Y+rect.Offset.Y+rect.Size.Height,
	)
	if !cropRect.In(bounds) {
		// The file may have changed since the rectangle was resolved
		cropRect = cropRect.Intersect(bounds)
		if cropRect.Empty() {
			return fmt.Errorf("crop rectangle is outside image bounds")
		}
	}

	cropped := imaging.Crop(src, cropRect)
	if d := rect.DisplaySize; d.Width > 0 && d.Height > 0 {
		cropped = imaging.Resize(cropped, d.Width, d.Height, imaging.Lanczos)
	}

	return imaging.Encode(w, cropped, imaging.JPEG, imaging.JPEGQuality(c.quality()))
}

func (c *ImagingCropper) quality() int {
	if c.Quality < 1 || c.Quality > 100 {
		return 90
	}
	return c.Quality
}

// NewImagingCropper creates a new instance of ImagingCropper
func NewImagingCropper(quality int) *ImagingCropper {
	return &ImagingCropper{Quality: quality}
}
