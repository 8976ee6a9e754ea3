package memory

import (
	"context"
	"testing"

	"github.com/ggoodman/coffeeshop/drinks"
	"github.com/ggoodman/coffeeshop/drinks/drinkstest"
)

func TestMemoryStore(t *testing.T) {
	drinkstest.RunStoreTests(t, func(t *testing.T) drinks.Store { return New() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := New()
	in, err := s.Insert(context.Background(), drinks.Sample())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	in.Recipe[0].Color = "green"

	got, err := s.Get(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Recipe[0].Color != "blue" {
		t.Fatalf("caller mutation leaked into the store: %+v", got)
	}
}
