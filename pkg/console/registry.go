package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clusterlabs/striker-console/internal/pool"
	"github.com/rs/zerolog/log"
)

// Factory creates an unopened session for a target server.
type Factory func(serverUUID string) *Session

// Registry keeps at most one live session per target server. The broker
// reservation is not idempotent, so a second open for the same server is
// refused until the first session has closed or failed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	pool     *pool.Pool
}

// NewRegistry creates a registry; p runs OpenAsync jobs.
func NewRegistry(factory Factory, p *pool.Pool) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		pool:     p,
	}
}

// Open creates a session for serverUUID and opens it on the calling
// goroutine. The session is returned even when Open fails so callers can
// inspect its state.
func (r *Registry) Open(ctx context.Context, serverUUID string) (*Session, error) {
	s, err := r.add(serverUUID)
	if err != nil {
		return nil, err
	}
	if err = s.Open(ctx); err != nil {
		r.forget(s)
		return s, err
	}
	return s, nil
}

// OpenAsync creates a session and opens it on the worker pool. The returned
// channel receives Open's result; progress is visible through State.
func (r *Registry) OpenAsync(ctx context.Context, serverUUID string) (*Session, <-chan error, error) {
	s, err := r.add(serverUUID)
	if err != nil {
		return nil, nil, err
	}

	result := make(chan error, 1)
	err = r.pool.Submit(ctx, func() error {
		openErr := s.Open(ctx)
		if openErr != nil {
			r.forget(s)
		}
		result <- openErr
		return openErr
	})
	if err != nil {
		r.forget(s)
		return nil, nil, fmt.Errorf("failed to schedule console open for server %s: %w", serverUUID, err)
	}
	return s, result, nil
}

// Get returns the registered session for serverUUID.
func (r *Registry) Get(serverUUID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[serverUUID]
	return s, ok
}

// Close closes and unregisters the session for serverUUID.
func (r *Registry) Close(ctx context.Context, serverUUID string) error {
	r.mu.Lock()
	s, ok := r.sessions[serverUUID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("console session for server %s not found", serverUUID)
	}
	delete(r.sessions, serverUUID)
	r.mu.Unlock()

	return s.Close(ctx)
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", s.ServerUUID(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) add(serverUUID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[serverUUID]; ok {
		if !existing.State().Terminal() {
			return nil, fmt.Errorf("%w for server %s", ErrSessionExists, serverUUID)
		}
		log.Debug().Msgf("Replacing %s console session for server %s.", existing.State(), serverUUID)
	}

	s := r.factory(serverUUID)
	r.sessions[serverUUID] = s
	return s, nil
}

// forget removes s only if it is still the registered session.
func (r *Registry) forget(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ServerUUID()] == s {
		delete(r.sessions, s.ServerUUID())
	}
}
