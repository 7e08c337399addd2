package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"cropview/internal/geometry"
	"cropview/internal/probe"
	"cropview/internal/viewer"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

type fakeProber struct {
	mu     sync.Mutex
	images map[string]geometry.SourceImageInfo
	calls  int
}

func newFakeProber() *fakeProber {
	return &fakeProber{images: map[string]geometry.SourceImageInfo{
		"portrait.jpg": {Width: 1000, Height: 2000},
		"rotated.jpg":  {Width: 2000, Height: 1000, Rotation: 90},
		"square.png":   {Width: 600, Height: 600},
	}}
}

func (p *fakeProber) Probe(_ context.Context, uri string) (geometry.SourceImageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	info, ok := p.images[uri]
	if !ok {
		return geometry.SourceImageInfo{}, fmt.Errorf("%w %q: not found", probe.ErrProbe, uri)
	}
	return info, nil
}

func (p *fakeProber) set(uri string, info geometry.SourceImageInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[uri] = info
}

type recorder struct {
	mu     sync.Mutex
	params []CropParams
}

func (r *recorder) record(p CropParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, p)
}

func (r *recorder) all() []CropParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CropParams(nil), r.params...)
}

var square400 = geometry.Size{Width: 400, Height: 400}

func TestInitializeDispatchesInitialParams(t *testing.T) {
	var rec recorder
	s, err := Initialize(context.Background(), newFakeProber(), Key{URI: "rotated.jpg", Viewport: square400}, Options{
		RefEdge:             200,
		OnCropParamsChanged: rec.record,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Close()

	want := []CropParams{{
		Scale:      2,
		SrcSize:    geometry.Size{Width: 1000, Height: 2000},
		FittedSize: geometry.Size{Width: 200, Height: 400},
	}}
	if diff := cmp.Diff(want, rec.all(), approx); diff != "" {
		t.Errorf("initial params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[0], s.Latest(), approx); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}
}

func TestInitializeProbeFailure(t *testing.T) {
	_, err := Initialize(context.Background(), newFakeProber(), Key{URI: "missing.jpg", Viewport: square400}, Options{RefEdge: 400})
	if !errors.Is(err, probe.ErrProbe) {
		t.Errorf("expected ErrProbe, got %v", err)
	}
}

func TestInitializeDegenerateViewport(t *testing.T) {
	_, err := Initialize(context.Background(), newFakeProber(), Key{URI: "square.png"}, Options{RefEdge: 400})
	if !errors.Is(err, geometry.ErrUninitialized) {
		t.Errorf("expected ErrUninitialized, got %v", err)
	}
}

func TestSubmitDispatchesOnlyCommits(t *testing.T) {
	var rec recorder
	s, err := Initialize(context.Background(), newFakeProber(), Key{URI: "portrait.jpg", Viewport: square400}, Options{
		RefEdge:             400,
		OnCropParamsChanged: rec.record,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	out, err := s.Submit(ctx, []viewer.Event{
		{Phase: viewer.PhaseBegin, Kind: viewer.KindPan},
		{Phase: viewer.PhaseUpdate, Kind: viewer.KindPan, TranslationY: 40},
		{Phase: viewer.PhaseUpdate, Kind: viewer.KindPan, TranslationY: 80},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no params for uncommitted updates, got %v", out)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("expected only the initial callback, got %d", n)
	}

	out, err = s.Submit(ctx, []viewer.Event{{Phase: viewer.PhaseEnd, Kind: viewer.KindPan}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(out) != 1 || out[0].PositionY != 80 {
		t.Fatalf("expected one commit at y=80, got %v", out)
	}
	if got := rec.all(); len(got) != 2 || got[1].PositionY != 80 {
		t.Errorf("callback not invoked for the commit: %v", got)
	}
	if s.Latest().PositionY != 80 {
		t.Errorf("latest not updated: %+v", s.Latest())
	}
}

func TestSubmitAfterClose(t *testing.T) {
	s, err := Initialize(context.Background(), newFakeProber(), Key{URI: "square.png", Viewport: square400}, Options{RefEdge: 400})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	s.Close()
	s.Close()

	if _, err := s.Submit(context.Background(), []viewer.Event{{Phase: viewer.PhaseEnd, Kind: viewer.KindTap}}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCropRectReprobes(t *testing.T) {
	prober := newFakeProber()
	s, err := Initialize(context.Background(), prober, Key{URI: "portrait.jpg", Viewport: square400}, Options{RefEdge: 400})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Submit(ctx, []viewer.Event{
		{Phase: viewer.PhaseBegin, Kind: viewer.KindPinch},
		{Phase: viewer.PhaseUpdate, Kind: viewer.KindPinch, Scale: 2},
		{Phase: viewer.PhaseEnd, Kind: viewer.KindPinch},
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rect, err := s.CropRect(ctx, prober, geometry.Size{Width: 1080, Height: 1080})
	if err != nil {
		t.Fatalf("CropRect failed: %v", err)
	}
	want := geometry.CropRect{
		Offset:      geometry.Point{X: 250, Y: 750},
		Size:        geometry.PixelSize{Width: 500, Height: 500},
		DisplaySize: geometry.PixelSize{Width: 1080, Height: 1080},
	}
	if diff := cmp.Diff(want, rect); diff != "" {
		t.Errorf("CropRect() mismatch (-want +got):\n%s", diff)
	}

	// The file was replaced by a version at twice the resolution.
	prober.set("portrait.jpg", geometry.SourceImageInfo{Width: 2000, Height: 4000})
	rect, err = s.CropRect(ctx, prober, geometry.Size{Width: 1080, Height: 1080})
	if err != nil {
		t.Fatalf("CropRect failed: %v", err)
	}
	if diff := cmp.Diff(geometry.Point{X: 500, Y: 1500}, rect.Offset); diff != "" {
		t.Errorf("crop not based on a fresh probe (-want +got):\n%s", diff)
	}
	if prober.calls != 3 {
		t.Errorf("expected 3 probes, got %d", prober.calls)
	}
}

func TestComputeCropRectProbeFailure(t *testing.T) {
	_, err := ComputeCropRect(context.Background(), newFakeProber(), CropRequest{
		Scale:        1,
		FittedSize:   square400,
		URI:          "gone.jpg",
		ViewportSize: square400,
	})
	if !errors.Is(err, probe.ErrProbe) {
		t.Errorf("expected ErrProbe, got %v", err)
	}
}
