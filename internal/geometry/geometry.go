// Package geometry maps a pan/zoom view of a fitted image back onto the pixels
// of the original image.
//
// Three coordinate spaces are involved: the source image (rotation corrected),
// the fitted image (aspect-preserving, short side equal to a reference edge)
// and the crop viewport in which the fitted image is scaled and translated.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrUninitialized is returned when geometry is requested before the image
// layout is known, or when the inputs describe a zero-area region.
var ErrUninitialized = errors.New("geometry not initialized")

// MaxScaleHeadroom is added to the minimum scale to get the maximum scale.
const MaxScaleHeadroom = 100

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

// SourceImageInfo is the intrinsic size of an image as stored, plus the
// clockwise rotation needed to display it upright.
type SourceImageInfo struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Rotation int `json:"rotation"`
}

// Corrected returns the info with width and height swapped when the image is
// displayed rotated by a quarter turn. Rotation is kept for reference.
func (s SourceImageInfo) Corrected() SourceImageInfo {
	if s.Rotation == 90 || s.Rotation == 270 {
		s.Width, s.Height = s.Height, s.Width
	}
	return s
}

func (s SourceImageInfo) Size() Size {
	return Size{Width: float64(s.Width), Height: float64(s.Height)}
}

// ViewState is a committed view transform. Positions are in fitted image
// units, already divided by Scale.
type ViewState struct {
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	Scale     float64 `json:"scale"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type PixelSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CropRect is a rectangle in source pixel space plus the pixel size the
// cropped image should be rendered at.
type CropRect struct {
	Offset      Point     `json:"offset"`
	Size        PixelSize `json:"size"`
	DisplaySize PixelSize `json:"display_size"`
}

func (r CropRect) String() string {
	return fmt.Sprintf("crop(x=%d,y=%d,w=%d,h=%d)->%dx%d",
		r.Offset.X, r.Offset.Y, r.Size.Width, r.Size.Height, r.DisplaySize.Width, r.DisplaySize.Height)
}

// Layout is everything derived once per image and viewport.
type Layout struct {
	Source   SourceImageInfo `json:"source"`
	Fitted   Size            `json:"fitted"`
	Viewport Size            `json:"viewport"`
	MinScale float64         `json:"min_scale"`
	MaxScale float64         `json:"max_scale"`
}

// Ready reports whether the layout can drive gestures and crop resolution.
func (l Layout) Ready() bool {
	return l.MinScale > 0 && !l.Fitted.Empty() && !l.Viewport.Empty()
}

// NewLayout corrects the source for rotation, fits it against refEdge and
// computes the scale bounds for the viewport.
func NewLayout(source SourceImageInfo, refEdge float64, viewport Size) (Layout, error) {
	src := source.Corrected()
	if src.Width <= 0 || src.Height <= 0 {
		return Layout{}, fmt.Errorf("degenerate source %dx%d: %w", src.Width, src.Height, ErrUninitialized)
	}
	if refEdge <= 0 {
		return Layout{}, fmt.Errorf("degenerate reference edge %g: %w", refEdge, ErrUninitialized)
	}
	if viewport.Empty() {
		return Layout{}, fmt.Errorf("degenerate viewport %s: %w", viewport, ErrUninitialized)
	}

	fitted := Fit(src, refEdge)
	minScale := MinScale(src, fitted, viewport)
	return Layout{
		Source:   src,
		Fitted:   fitted,
		Viewport: viewport,
		MinScale: minScale,
		MaxScale: minScale + MaxScaleHeadroom,
	}, nil
}

// Fit scales the (corrected) source so that its shorter side equals refEdge.
func Fit(src SourceImageInfo, refEdge float64) Size {
	w, h := float64(src.Width), float64(src.Height)
	switch {
	case w > h:
		return Size{Width: w * (refEdge / h), Height: refEdge}
	case w < h:
		return Size{Width: refEdge, Height: h * (refEdge / w)}
	default:
		return Size{Width: refEdge, Height: refEdge}
	}
}

// MinScale is the smallest zoom at which the fitted image covers the viewport,
// rounded up to a tenth and never below 1.
//
// In a viewport at least as tall as it is wide, a portrait image must cover
// both edges while a landscape or square image only needs to cover the
// height. In a wider than tall viewport both edges are covered too, rather
// than leaving the scale at 1 or covering only the height, so the image never
// leaves a gap.
func MinScale(src SourceImageInfo, fitted, viewport Size) float64 {
	coverHeight := ceilTenth(viewport.Height / fitted.Height)
	coverWidth := ceilTenth(viewport.Width / fitted.Width)

	var scale float64
	if viewport.Width <= viewport.Height {
		if src.Width < src.Height {
			scale = math.Max(coverHeight, coverWidth)
		} else {
			scale = coverHeight
		}
	} else {
		scale = math.Max(coverHeight, coverWidth)
	}
	return math.Max(1, scale)
}

func ceilTenth(v float64) float64 {
	return math.Ceil(v*10) / 10
}
