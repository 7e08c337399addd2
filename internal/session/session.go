// Package session wires the prober, the layout and a gesture engine into one
// crop session per image and viewport.
//
// Each session runs two goroutines. The gesture loop is the only owner of the
// engine. Committed snapshots are handed to the dispatch loop, which publishes
// them and invokes the caller's callback, so callbacks never run on the
// gesture loop. Callbacks must not call Submit on their own session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"cropview/internal/geometry"
	"cropview/internal/probe"
	"cropview/internal/viewer"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)

// CropParams is what a session reports after every commit.
type CropParams struct {
	PositionX  float64       `json:"position_x"`
	PositionY  float64       `json:"position_y"`
	Scale      float64       `json:"scale"`
	SrcSize    geometry.Size `json:"src_size"`
	FittedSize geometry.Size `json:"fitted_size"`
}

func (p CropParams) ViewState() geometry.ViewState {
	return geometry.ViewState{PositionX: p.PositionX, PositionY: p.PositionY, Scale: p.Scale}
}

// Key identifies the inputs a session was initialized from. A session only
// needs to be rebuilt when its key changes.
type Key struct {
	URI      string        `json:"uri"`
	Viewport geometry.Size `json:"viewport"`
}

type Options struct {
	ID string
	// RefEdge is the edge length the shorter image side is fitted to.
	RefEdge             float64
	OnCropParamsChanged func(CropParams)
}

type batch struct {
	events []viewer.Event
	reply  chan []CropParams
}

type dispatch struct {
	states []geometry.ViewState
	reply  chan []CropParams
}

type Session struct {
	id       string
	key      Key
	layout   geometry.Layout
	onChange func(CropParams)

	events  chan batch
	commits chan dispatch
	done    chan struct{}
	once    sync.Once
	wg      conc.WaitGroup

	latest atomic.Pointer[CropParams]
}

// Initialize probes the image, computes its layout and starts the session.
// It returns once the initial snapshot has been dispatched. On any error no
// goroutines are left running.
func Initialize(ctx context.Context, prober probe.Prober, key Key, opts Options) (*Session, error) {
	src, err := prober.Probe(ctx, key.URI)
	if err != nil {
		return nil, err
	}
	layout, err := geometry.NewLayout(src, opts.RefEdge, key.Viewport)
	if err != nil {
		return nil, fmt.Errorf("failed to lay out %q: %w", key.URI, err)
	}

	s := &Session{
		id:       opts.ID,
		key:      key,
		layout:   layout,
		onChange: opts.OnCropParamsChanged,
		events:   make(chan batch),
		commits:  make(chan dispatch),
		done:     make(chan struct{}),
	}

	engine := viewer.New()
	initial := engine.Initialize(layout)

	s.wg.Go(func() { s.gestureLoop(engine) })
	s.wg.Go(s.dispatchLoop)

	reply := make(chan []CropParams, 1)
	s.commits <- dispatch{states: []geometry.ViewState{initial}, reply: reply}
	<-reply

	log.Ctx(ctx).Debug().
		Str("session", s.id).
		Str("uri", key.URI).
		Stringer("fitted", layout.Fitted).
		Float64("min_scale", layout.MinScale).
		Msg("session initialized")
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Key() Key {
	return s.key
}

func (s *Session) Layout() geometry.Layout {
	return s.layout
}

// Latest returns the most recently dispatched params.
func (s *Session) Latest() CropParams {
	if p := s.latest.Load(); p != nil {
		return *p
	}
	return CropParams{}
}

// Submit feeds a batch of gesture events to the engine and returns the params
// emitted by the commits in that batch, after they have been dispatched.
func (s *Session) Submit(ctx context.Context, events []viewer.Event) ([]CropParams, error) {
	b := batch{events: events, reply: make(chan []CropParams, 1)}
	select {
	case s.events <- b:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-b.reply:
		return out, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CropRect resolves the latest committed view against a fresh probe of the
// source image.
func (s *Session) CropRect(ctx context.Context, prober probe.Prober, requested geometry.Size) (geometry.CropRect, error) {
	p := s.Latest()
	return ComputeCropRect(ctx, prober, CropRequest{
		PositionX:         p.PositionX,
		PositionY:         p.PositionY,
		Scale:             p.Scale,
		FittedSize:        s.layout.Fitted,
		URI:               s.key.URI,
		RequestedCropSize: requested,
		ViewportSize:      s.key.Viewport,
	})
}

// Close stops the session goroutines and waits for them to exit.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Session) gestureLoop(engine *viewer.Engine) {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.events:
			var states []geometry.ViewState
			for _, ev := range b.events {
				if state, ok := engine.Handle(ev); ok {
					states = append(states, state)
				}
			}
			select {
			case s.commits <- dispatch{states: states, reply: b.reply}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.commits:
			out := make([]CropParams, 0, len(d.states))
			for _, state := range d.states {
				p := s.params(state)
				s.latest.Store(&p)
				if s.onChange != nil {
					s.onChange(p)
				}
				out = append(out, p)
			}
			d.reply <- out
		}
	}
}

func (s *Session) params(state geometry.ViewState) CropParams {
	return CropParams{
		PositionX:  state.PositionX,
		PositionY:  state.PositionY,
		Scale:      state.Scale,
		SrcSize:    s.layout.Source.Size(),
		FittedSize: s.layout.Fitted,
	}
}
