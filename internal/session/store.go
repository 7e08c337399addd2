package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cropview/internal/probe"
)

// Store keeps the live sessions of a server, keyed by a random id.
type Store struct {
	prober   probe.Prober
	refEdge  float64
	onChange func(id string, params CropParams)

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(prober probe.Prober, refEdge float64, onChange func(id string, params CropParams)) *Store {
	return &Store{
		prober:   prober,
		refEdge:  refEdge,
		onChange: onChange,
		sessions: make(map[string]*Session),
	}
}

func (s *Store) Prober() probe.Prober {
	return s.prober
}

func (s *Store) Create(ctx context.Context, key Key) (*Session, error) {
	sess, err := s.initialize(ctx, uuid.NewString(), key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Reinitialize rebuilds the session when key differs from the one it was
// created with, keeping the id. The boolean reports whether a rebuild
// happened. If the rebuild fails the old session stays in place. If the
// session is replaced or closed while rebuilding, the rebuild is discarded
// and the session now in the store is returned.
func (s *Store) Reinitialize(ctx context.Context, id string, key Key) (*Session, bool, error) {
	old, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}
	if old.Key() == key {
		return old, false, nil
	}

	sess, err := s.initialize(ctx, id, key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	cur, ok := s.sessions[id]
	if cur == old {
		s.sessions[id] = sess
	}
	s.mu.Unlock()
	if cur != old {
		// Closed or rebuilt while we were probing; the map already moved on.
		sess.Close()
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return cur, false, nil
	}
	old.Close()

	log.Ctx(ctx).Info().Str("session", id).Str("uri", key.URI).Msg("session reinitialized")
	return sess, true, nil
}

func (s *Store) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Close()
	return nil
}

func (s *Store) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) initialize(ctx context.Context, id string, key Key) (*Session, error) {
	opts := Options{ID: id, RefEdge: s.refEdge}
	if fn := s.onChange; fn != nil {
		opts.OnCropParamsChanged = func(p CropParams) {
			fn(id, p)
		}
	}
	return Initialize(ctx, s.prober, key, opts)
}
