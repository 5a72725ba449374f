package forecast

import (
	"context"
	"sync/atomic"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// Store holds the predictor currently serving requests. Swaps are atomic:
// readers see either the old or the new bundle, never a mix.
type Store struct {
	current atomic.Pointer[Predictor]
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Current returns the serving predictor, or nil before the first Swap.
func (s *Store) Current() *Predictor { return s.current.Load() }

// Swap installs p and returns the predictor it replaced.
func (s *Store) Swap(p *Predictor) *Predictor { return s.current.Swap(p) }

// CheckReadiness reports ErrNoModel until a bundle is loaded.
func (s *Store) CheckReadiness(_ context.Context) error {
	if s.current.Load() == nil {
		return domain.ErrNoModel
	}
	return nil
}
