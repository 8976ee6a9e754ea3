// Package drinks holds the drink model served by the coffee shop API and the
// Store contract its backends implement.
package drinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when no drink has the requested id.
	ErrNotFound = errors.New("drinks: not found")
	// ErrConflict is returned when another drink already uses the title.
	ErrConflict = errors.New("drinks: title already exists")
	// ErrInvalid is returned for drinks without a title or recipe.
	ErrInvalid = errors.New("drinks: invalid drink")
)

// Ingredient is one component of a recipe.
type Ingredient struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// Recipe is an ordered list of ingredients. It decodes from either a JSON
// array or a single ingredient object.
type Recipe []Ingredient

func (r *Recipe) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = nil
		return nil
	case len(b) > 0 && b[0] == '{':
		var one Ingredient
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*r = Recipe{one}
		return nil
	}
	var many []Ingredient
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// Drink is the long representation of a drink.
type Drink struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Recipe Recipe `json:"recipe"`
}

// ShortIngredient is an ingredient without its name.
type ShortIngredient struct {
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// Short is the public representation of a drink: the recipe only reveals
// colors and proportions.
type Short struct {
	ID     int               `json:"id"`
	Title  string            `json:"title"`
	Recipe []ShortIngredient `json:"recipe"`
}

// Short returns the public representation of d.
func (d Drink) Short() Short {
	s := Short{ID: d.ID, Title: d.Title, Recipe: make([]ShortIngredient, 0, len(d.Recipe))}
	for _, in := range d.Recipe {
		s.Recipe = append(s.Recipe, ShortIngredient{Color: in.Color, Parts: in.Parts})
	}
	return s
}

// Long returns a copy of d that shares no memory with it.
func (d Drink) Long() Drink {
	d.Recipe = slices.Clone(d.Recipe)
	return d
}

// Validate reports ErrInvalid when d has no title or an empty recipe.
func (d Drink) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(d.Recipe) == 0 {
		return fmt.Errorf("%w: recipe is required", ErrInvalid)
	}
	for i, in := range d.Recipe {
		if in.Parts < 0 {
			return fmt.Errorf("%w: ingredient %d has negative parts", ErrInvalid, i)
		}
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title  *string `json:"title"`
	Recipe *Recipe `json:"recipe"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool { return p.Title == nil && p.Recipe == nil }

// Apply returns d with p applied and validated.
func (p Patch) Apply(d Drink) (Drink, error) {
	d = d.Long()
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Recipe != nil {
		d.Recipe = slices.Clone(*p.Recipe)
	}
	if err := d.Validate(); err != nil {
		return Drink{}, err
	}
	return d, nil
}

// Store persists drinks. Implementations must be safe for concurrent use.
type Store interface {
	// List returns every drink ordered by id.
	List(ctx context.Context) ([]Drink, error)
	// Get returns the drink with id or ErrNotFound.
	Get(ctx context.Context, id int) (Drink, error)
	// Insert assigns d a new id and stores it. The id of d is ignored.
	Insert(ctx context.Context, d Drink) (Drink, error)
	// Update replaces the drink with d.ID.
	Update(ctx context.Context, d Drink) (Drink, error)
	// Delete removes the drink with id.
	Delete(ctx context.Context, id int) error
	// Reset drops every drink and restarts id assignment.
	Reset(ctx context.Context) error
}

// Sample is the drink a freshly reset store is seeded with.
func Sample() Drink {
	return Drink{
		Title:  "water",
		Recipe: Recipe{{Name: "water", Color: "blue", Parts: 1}},
	}
}

// ResetAndSeed empties s and inserts Sample.
func ResetAndSeed(ctx context.Context, s Store) error {
	if err := s.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if _, err := s.Insert(ctx, Sample()); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	return nil
}
