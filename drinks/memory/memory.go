// Package memory provides an in-process drinks.Store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ggoodman/coffeeshop/drinks"
)

// Store keeps drinks in a map guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	drinks map[int]drinks.Drink
	titles map[string]int
	nextID int
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.drinks = map[int]drinks.Drink{}
	s.titles = map[string]int{}
	s.nextID = 1
}

func (s *Store) List(context.Context) ([]drinks.Drink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]drinks.Drink, 0, len(s.drinks))
	for _, id := range slices.Sorted(maps.Keys(s.drinks)) {
		out = append(out, s.drinks[id].Long())
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id int) (drinks.Drink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drinks[id]
	if !ok {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return d.Long(), nil
}

func (s *Store) Insert(_ context.Context, d drinks.Drink) (drinks.Drink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.titles[d.Title]; taken {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
	}
	d = d.Long()
	d.ID = s.nextID
	s.nextID++
	s.drinks[d.ID] = d
	s.titles[d.Title] = d.ID
	return d.Long(), nil
}

func (s *Store) Update(_ context.Context, d drinks.Drink) (drinks.Drink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.drinks[d.ID]
	if !ok {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, d.ID)
	}
	if owner, taken := s.titles[d.Title]; taken && owner != d.ID {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
	}
	delete(s.titles, cur.Title)
	d = d.Long()
	s.drinks[d.ID] = d
	s.titles[d.Title] = d.ID
	return d.Long(), nil
}

func (s *Store) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drinks[id]
	if !ok {
		return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	delete(s.drinks, id)
	delete(s.titles, d.Title)
	return nil
}

func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

var _ drinks.Store = (*Store)(nil)
