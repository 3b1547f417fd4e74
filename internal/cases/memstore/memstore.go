// Package memstore provides an in-memory implementation of cases.Store.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/linnemanlabs/dogtor/internal/cases"
)

// Store holds cases in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	cases map[string]*cases.Case // case ID -> case
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{cases: make(map[string]*cases.Case)}
}

// Create stores a copy of c. Ids must be unique.
func (s *Store) Create(_ context.Context, c *cases.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

// Get retrieves a case by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*cases.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// List returns copies of every case, newest first.
func (s *Store) List(_ context.Context) ([]*cases.Case, error) {
	s.mu.RLock()
	out := make([]*cases.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *cases.Case) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// SetObservations replaces the observations of a case.
func (s *Store) SetObservations(_ context.Context, id string, obs *cases.ObservationResult) (*cases.Case, error) {
	return s.update(id, func(c *cases.Case) {
		c.Observations = obs.Clone()
	})
}

// SetAnswers replaces the answers of a case.
func (s *Store) SetAnswers(_ context.Context, id string, answers map[string]any) (*cases.Case, error) {
	return s.update(id, func(c *cases.Case) {
		c.UserAnswers = maps.Clone(answers)
	})
}

// SetTriage stores the summary and closes the case.
func (s *Store) SetTriage(_ context.Context, id string, summary *cases.TriageSummary) (*cases.Case, error) {
	return s.update(id, func(c *cases.Case) {
		c.TriageSummary = summary.Clone()
		c.Status = cases.StatusClosed
	})
}

func (s *Store) update(id string, fn func(c *cases.Case)) (*cases.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, cases.ErrNotFound
	}
	fn(c)
	return c.Clone(), nil
}
