package session

import (
	"context"
	"fmt"

	"cropview/internal/geometry"
	"cropview/internal/probe"
)

// CropRequest carries a committed view together with everything needed to
// map it back onto the source image.
type CropRequest struct {
	PositionX         float64       `json:"position_x"`
	PositionY         float64       `json:"position_y"`
	Scale             float64       `json:"scale"`
	FittedSize        geometry.Size `json:"fitted_size"`
	URI               string        `json:"uri"`
	RequestedCropSize geometry.Size `json:"requested_crop_size"`
	ViewportSize      geometry.Size `json:"viewport_size"`
}

// ComputeCropRect re-probes the source rather than trusting cached metadata,
// so a file replaced since the session started is cropped by its real size.
func ComputeCropRect(ctx context.Context, prober probe.Prober, req CropRequest) (geometry.CropRect, error) {
	src, err := prober.Probe(ctx, req.URI)
	if err != nil {
		return geometry.CropRect{}, err
	}
	state := geometry.ViewState{PositionX: req.PositionX, PositionY: req.PositionY, Scale: req.Scale}
	rect, err := geometry.Resolve(state, req.FittedSize, req.ViewportSize, src, req.RequestedCropSize)
	if err != nil {
		return geometry.CropRect{}, fmt.Errorf("failed to resolve crop for %q: %w", req.URI, err)
	}
	return rect, nil
}
