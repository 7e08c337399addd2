package geometry

import (
	"fmt"
	"math"
)

// Resolve computes the source pixel rectangle visible through the viewport for
// the given view state. requested is the output size the caller wants the
// crop rendered at and is only rounded.
//
// Resolve never mutates its inputs; out of range positions and scales are
// clamped into a valid rectangle rather than reported.
func Resolve(state ViewState, fitted, viewport Size, source SourceImageInfo, requested Size) (CropRect, error) {
	if fitted.Empty() {
		return CropRect{}, fmt.Errorf("fitted size %s: %w", fitted, ErrUninitialized)
	}
	if viewport.Empty() {
		return CropRect{}, fmt.Errorf("viewport size %s: %w", viewport, ErrUninitialized)
	}
	if state.Scale <= 0 {
		return CropRect{}, fmt.Errorf("scale %g: %w", state.Scale, ErrUninitialized)
	}
	src := source.Corrected()
	if src.Width <= 0 || src.Height <= 0 {
		return CropRect{}, fmt.Errorf("source size %dx%d: %w", src.Width, src.Height, ErrUninitialized)
	}

	visibleW := percentOf(viewport.Width/state.Scale, fitted.Width)
	visibleH := percentOf(viewport.Height/state.Scale, fitted.Height)

	hiddenW := fromPercent(100-visibleW, fitted.Width)
	hiddenH := fromPercent(100-visibleH, fitted.Height)

	x := math.Max(0, hiddenW/2-state.PositionX)
	y := math.Max(0, hiddenH/2-state.PositionY)

	offX := clampInt(math.Floor(fromPercent(percentOf(x, fitted.Width), float64(src.Width))), 0, src.Width)
	offY := clampInt(math.Floor(fromPercent(percentOf(y, fitted.Height), float64(src.Height))), 0, src.Height)

	sizeW := clampInt(math.Round(fromPercent(visibleW, float64(src.Width))), 0, src.Width-offX)
	sizeH := clampInt(math.Round(fromPercent(visibleH, float64(src.Height))), 0, src.Height-offY)

	return CropRect{
		Offset: Point{X: offX, Y: offY},
		Size:   PixelSize{Width: sizeW, Height: sizeH},
		DisplaySize: PixelSize{
			Width:  int(math.Round(requested.Width)),
			Height: int(math.Round(requested.Height)),
		},
	}, nil
}

// percentOf expresses part as a percentage of whole.
func percentOf(part, whole float64) float64 {
	return part / whole * 100
}

// fromPercent returns percent of whole.
func fromPercent(percent, whole float64) float64 {
	return percent / 100 * whole
}

func clampInt(v float64, lo, hi int) int {
	if math.IsNaN(v) || v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}
