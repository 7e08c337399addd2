package main

import (
	"bytes"
	"context"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"cropview/internal/geometry"
)

func pngSource(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{G: 255, A: 255})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("failed to encode source: %v", err)
	}
	return buf.Bytes()
}

func TestImagingCropper(t *testing.T) {
	src := pngSource(t, 10, 10)

	tests := []struct {
		name         string
		rect         geometry.CropRect
		wantW, wantH int
		wantErr      bool
	}{
		{
			name:  "inside",
			rect:  geometry.CropRect{Offset: geometry.Point{X: 2, Y: 2}, Size: geometry.PixelSize{Width: 4, Height: 6}},
			wantW: 4, wantH: 6,
		},
		{
			name: "resized to display size",
			rect: geometry.CropRect{
				Size:        geometry.PixelSize{Width: 5, Height: 5},
				DisplaySize: geometry.PixelSize{Width: 20, Height: 20},
			},
			wantW: 20, wantH: 20,
		},
		{
			name:  "clipped to bounds",
			rect:  geometry.CropRect{Offset: geometry.Point{X: 8, Y: 8}, Size: geometry.PixelSize{Width: 4, Height: 4}},
			wantW: 2, wantH: 2,
		},
		{
			name:    "outside",
			rect:    geometry.CropRect{Offset: geometry.Point{X: 20, Y: 20}, Size: geometry.PixelSize{Width: 4, Height: 4}},
			wantErr: true,
		},
		{
			name:    "empty",
			rect:    geometry.CropRect{Size: geometry.PixelSize{Width: 0, Height: 4}},
			wantErr: true,
		},
	}

	c := NewImagingCropper(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := c.Crop(context.Background(), bytes.NewReader(src), &out, tt.rect)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Crop failed: %v", err)
			}
			img, err := imaging.Decode(&out)
			if err != nil {
				t.Fatalf("failed to decode output: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
		})
	}
}
