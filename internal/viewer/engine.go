// Package viewer turns recognized pan, pinch and double-tap gestures into a
// committed view transform over a fitted image.
//
// The Engine is not safe for concurrent use. It is meant to be owned by the
// single goroutine that processes gesture events.
package viewer

import (
	"math"

	"cropview/internal/geometry"
)

type Phase string

const (
	PhaseBegin  Phase = "begin"
	PhaseUpdate Phase = "update"
	PhaseEnd    Phase = "end"
)

type Kind string

const (
	KindPan   Kind = "pan"
	KindPinch Kind = "pinch"
	KindTap   Kind = "tap"
)

// Event is a recognized gesture event. TranslationX and TranslationY are the
// accumulated pointer translation in screen pixels since the pan began, Scale
// is the accumulated pinch factor since the pinch began.
type Event struct {
	Phase        Phase   `json:"phase"`
	Kind         Kind    `json:"kind"`
	TranslationX float64 `json:"translation_x,omitempty"`
	TranslationY float64 `json:"translation_y,omitempty"`
	Scale        float64 `json:"scale,omitempty"`
}

func (e Event) Valid() bool {
	switch e.Phase {
	case PhaseBegin, PhaseUpdate, PhaseEnd:
	default:
		return false
	}
	switch e.Kind {
	case KindPan, KindPinch, KindTap:
		return true
	}
	return false
}

// Bounds are the pan limits for the committed scale. An axis is pannable only
// when the scaled image is at least as large as the viewport on that axis.
type Bounds struct {
	MaxX         float64 `json:"max_x"`
	MaxY         float64 `json:"max_y"`
	ScaledWidth  float64 `json:"scaled_width"`
	ScaledHeight float64 `json:"scaled_height"`
}

type Engine struct {
	layout geometry.Layout
	ready  bool

	// committed
	offsetX, offsetY, offsetZ float64
	// candidate, written by update phases
	translateX, translateY, scale float64

	bounds Bounds

	panning, pinching, tapping bool
}

// New returns a dormant engine. It ignores gestures until Initialize is
// called with a ready layout.
func New() *Engine {
	return &Engine{}
}

// Initialize resets the engine to the minimum scale with no pan and returns
// the initial snapshot. A layout that is not ready leaves the engine dormant.
func (e *Engine) Initialize(layout geometry.Layout) geometry.ViewState {
	*e = Engine{layout: layout}
	if !layout.Ready() {
		return geometry.ViewState{}
	}
	e.ready = true
	e.offsetZ = layout.MinScale
	e.scale = layout.MinScale
	e.bounds = e.boundsAt(layout.MinScale)
	return e.State()
}

func (e *Engine) Ready() bool {
	return e.ready
}

func (e *Engine) Layout() geometry.Layout {
	return e.layout
}

// State returns the last committed view state.
func (e *Engine) State() geometry.ViewState {
	return geometry.ViewState{PositionX: e.offsetX, PositionY: e.offsetY, Scale: e.offsetZ}
}

// Live returns the uncommitted transform that a renderer would draw.
func (e *Engine) Live() geometry.ViewState {
	return geometry.ViewState{PositionX: e.translateX, PositionY: e.translateY, Scale: e.scale}
}

func (e *Engine) Bounds() Bounds {
	return e.bounds
}

// Handle applies one gesture event. It returns the committed state and true
// when the event ended a gesture; update phases never commit.
func (e *Engine) Handle(ev Event) (geometry.ViewState, bool) {
	if !e.ready {
		return geometry.ViewState{}, false
	}
	switch ev.Kind {
	case KindTap:
		return e.handleTap(ev)
	case KindPan:
		return e.handlePan(ev)
	case KindPinch:
		return e.handlePinch(ev)
	}
	return geometry.ViewState{}, false
}

// A tap is only recognized at its end. A pan or pinch that begins while a tap
// is pending cancels the tap; a tap that begins during a pan or pinch is
// ignored.
func (e *Engine) handleTap(ev Event) (geometry.ViewState, bool) {
	if e.panning || e.pinching {
		return geometry.ViewState{}, false
	}
	switch ev.Phase {
	case PhaseBegin:
		e.tapping = true
	case PhaseEnd:
		if !e.tapping {
			return geometry.ViewState{}, false
		}
		e.tapping = false
		minScale := e.layout.MinScale
		e.offsetX, e.offsetY, e.offsetZ = 0, 0, minScale
		e.translateX, e.translateY, e.scale = 0, 0, minScale
		e.bounds = e.boundsAt(minScale)
		return e.State(), true
	}
	return geometry.ViewState{}, false
}

func (e *Engine) handlePan(ev Event) (geometry.ViewState, bool) {
	switch ev.Phase {
	case PhaseBegin:
		e.tapping = false
		e.panning = true
		e.translateX, e.translateY = e.offsetX, e.offsetY
	case PhaseUpdate:
		if !e.panning {
			return geometry.ViewState{}, false
		}
		e.translateX = ev.TranslationX/e.scale + e.offsetX
		e.translateY = ev.TranslationY/e.scale + e.offsetY
	case PhaseEnd:
		if !e.panning {
			return geometry.ViewState{}, false
		}
		e.panning = false
		x, y := e.offsetX, e.offsetY
		if e.bounds.ScaledWidth >= e.layout.Viewport.Width {
			x = clamp(e.translateX, -e.bounds.MaxX, e.bounds.MaxX)
		}
		if e.bounds.ScaledHeight >= e.layout.Viewport.Height {
			y = clamp(e.translateY, -e.bounds.MaxY, e.bounds.MaxY)
		}
		e.offsetX, e.offsetY = x, y
		e.translateX, e.translateY = x, y
		return e.State(), true
	}
	return geometry.ViewState{}, false
}

func (e *Engine) handlePinch(ev Event) (geometry.ViewState, bool) {
	switch ev.Phase {
	case PhaseBegin:
		e.tapping = false
		e.pinching = true
		e.scale = e.offsetZ
	case PhaseUpdate:
		if !e.pinching || ev.Scale <= 0 {
			return geometry.ViewState{}, false
		}
		e.scale = e.offsetZ * ev.Scale
	case PhaseEnd:
		if !e.pinching {
			return geometry.ViewState{}, false
		}
		e.pinching = false
		e.offsetZ = clamp(e.scale, e.layout.MinScale, e.layout.MaxScale)
		e.scale = e.offsetZ
		e.bounds = e.boundsAt(e.offsetZ)
		return e.State(), true
	}
	return geometry.ViewState{}, false
}

func (e *Engine) boundsAt(scale float64) Bounds {
	fitted, vp := e.layout.Fitted, e.layout.Viewport
	return Bounds{
		MaxX:         (fitted.Width*scale - vp.Width) / 2 / scale,
		MaxY:         (fitted.Height*scale - vp.Height) / 2 / scale,
		ScaledWidth:  fitted.Width * scale,
		ScaledHeight: fitted.Height * scale,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
