package geometry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func portraitLayout(t *testing.T) Layout {
	t.Helper()
	layout, err := NewLayout(SourceImageInfo{Width: 1000, Height: 2000}, 400, Size{400, 400})
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	return layout
}

func TestResolveFullImage(t *testing.T) {
	src := SourceImageInfo{Width: 1000, Height: 2000}
	fitted := Size{400, 800}

	got, err := Resolve(ViewState{Scale: 1}, fitted, fitted, src, Size{300.4, 600.6})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := CropRect{
		Offset:      Point{0, 0},
		Size:        PixelSize{1000, 2000},
		DisplaySize: PixelSize{300, 601},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveRotatedSource(t *testing.T) {
	src := SourceImageInfo{Width: 2000, Height: 1000, Rotation: 270}
	fitted := Size{400, 800}

	got, err := Resolve(ViewState{Scale: 1}, fitted, fitted, src, Size{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if diff := cmp.Diff(PixelSize{1000, 2000}, got.Size); diff != "" {
		t.Errorf("size mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveZoomed(t *testing.T) {
	layout := portraitLayout(t)

	tests := []struct {
		name  string
		state ViewState
		want  CropRect
	}{
		{
			name:  "centered",
			state: ViewState{Scale: 2},
			want:  CropRect{Offset: Point{250, 750}, Size: PixelSize{500, 500}},
		},
		{
			name:  "panned to top left",
			state: ViewState{PositionX: 100, PositionY: 300, Scale: 2},
			want:  CropRect{Offset: Point{0, 0}, Size: PixelSize{500, 500}},
		},
		{
			name:  "panned to bottom right",
			state: ViewState{PositionX: -100, PositionY: -300, Scale: 2},
			want:  CropRect{Offset: Point{500, 1500}, Size: PixelSize{500, 500}},
		},
		{
			name:  "panned past the edge",
			state: ViewState{PositionX: 500, PositionY: 900, Scale: 2},
			want:  CropRect{Offset: Point{0, 0}, Size: PixelSize{500, 500}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.state, layout.Fitted, layout.Viewport, layout.Source, Size{})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	layout := portraitLayout(t)
	state := ViewState{PositionX: -37.25, PositionY: 12.5, Scale: 3.3}

	first, err := Resolve(state, layout.Fitted, layout.Viewport, layout.Source, Size{1080, 1080})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := Resolve(state, layout.Fitted, layout.Viewport, layout.Source, Size{1080, 1080})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Resolve() not idempotent (-first +second):\n%s", diff)
	}
}

func TestResolveStaysInsideSource(t *testing.T) {
	sources := []SourceImageInfo{
		{Width: 1000, Height: 2000},
		{Width: 4032, Height: 3024, Rotation: 90},
		{Width: 997, Height: 661},
		{Width: 1, Height: 3},
	}
	viewports := []Size{{390, 390}, {300, 520}, {640, 360}}

	for _, s := range sources {
		for _, vp := range viewports {
			layout, err := NewLayout(s, 390, vp)
			if err != nil {
				t.Fatalf("NewLayout failed: %v", err)
			}
			for _, scale := range []float64{layout.MinScale, layout.MinScale * 1.7, layout.MaxScale, 0.25} {
				limitX := (layout.Fitted.Width*scale - vp.Width) / 2 / scale
				limitY := (layout.Fitted.Height*scale - vp.Height) / 2 / scale
				for _, pos := range [][2]float64{
					{0, 0}, {limitX, limitY}, {-limitX, -limitY}, {limitX, -limitY},
					{-10 * limitX, 10 * limitY}, {1e6, -1e6},
				} {
					state := ViewState{PositionX: pos[0], PositionY: pos[1], Scale: scale}
					r, err := Resolve(state, layout.Fitted, vp, s, Size{})
					if err != nil {
						t.Fatalf("Resolve failed: %v", err)
					}
					src := s.Corrected()
					if r.Offset.X < 0 || r.Offset.Y < 0 || r.Size.Width < 0 || r.Size.Height < 0 {
						t.Errorf("negative component in %v for %+v", r, state)
					}
					if r.Offset.X+r.Size.Width > src.Width || r.Offset.Y+r.Size.Height > src.Height {
						t.Errorf("%v exceeds source %dx%d for %+v", r, src.Width, src.Height, state)
					}
				}
			}
		}
	}
}

func TestResolveUninitialized(t *testing.T) {
	src := SourceImageInfo{Width: 10, Height: 10}
	tests := []struct {
		name     string
		state    ViewState
		fitted   Size
		viewport Size
		source   SourceImageInfo
	}{
		{"zero fitted", ViewState{Scale: 1}, Size{}, Size{10, 10}, src},
		{"zero viewport", ViewState{Scale: 1}, Size{10, 10}, Size{10, 0}, src},
		{"zero scale", ViewState{}, Size{10, 10}, Size{10, 10}, src},
		{"zero source", ViewState{Scale: 1}, Size{10, 10}, Size{10, 10}, SourceImageInfo{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.state, tt.fitted, tt.viewport, tt.source, Size{})
			if !errors.Is(err, ErrUninitialized) {
				t.Errorf("expected ErrUninitialized, got %v", err)
			}
		})
	}
}
