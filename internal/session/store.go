package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/metrics"
)

// Factory builds the controller for a new session id.
type Factory func(id string) (*Controller, error)

// Store keeps controllers keyed by session id. Sessions expire after ttl
// without use; expiry and deletion close the controller.
type Store struct {
	cache   *cache.Cache
	factory Factory
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewStore creates a store. A cleanupInterval of zero disables the
// background janitor; call Sweep to evict expired sessions.
func NewStore(ttl, cleanupInterval time.Duration, factory Factory, m *metrics.Metrics, log *slog.Logger) *Store {
	s := &Store{
		cache:   cache.New(ttl, cleanupInterval),
		factory: factory,
		metrics: m,
		log:     logging.OrModule(log, "session"),
	}
	s.cache.OnEvicted(func(id string, v any) {
		if ctrl, ok := v.(*Controller); ok {
			if err := ctrl.Close(); err != nil {
				s.log.Warn("session close failed", "session", id, "error", err)
			}
		}
		s.metrics.SessionClosed()
		s.log.Debug("session evicted", "session", id)
	})
	return s
}

// Create starts a new session.
func (s *Store) Create() (*Controller, error) {
	id := uuid.NewString()
	ctrl, err := s.factory(id)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(id, ctrl)
	s.metrics.SessionOpened()
	s.log.Info("session created", "session", id)
	return ctrl, nil
}

// Get returns a live session and extends its lifetime.
func (s *Store) Get(id string) (*Controller, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, apperr.ErrUnknownSession
	}
	ctrl := v.(*Controller)
	s.cache.SetDefault(id, ctrl)
	return ctrl, nil
}

// Delete ends a session.
func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

// Sweep evicts expired sessions.
func (s *Store) Sweep() {
	s.cache.DeleteExpired()
}

// Len is the number of sessions held, including expired ones not yet swept.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Close ends every session.
func (s *Store) Close() {
	s.cache.DeleteExpired()
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
}
