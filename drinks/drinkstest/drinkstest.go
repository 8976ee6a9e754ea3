// Package drinkstest is a conformance suite every drinks.Store backend runs.
package drinkstest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ggoodman/coffeeshop/drinks"
)

// StoreFactory returns an empty Store for one subtest.
type StoreFactory func(t *testing.T) drinks.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("InsertAssignsIncreasingIDs", func(t *testing.T) { testInsertAssignsIDs(t, factory) })
	t.Run("GetReturnsLongForm", func(t *testing.T) { testGet(t, factory) })
	t.Run("ListIsOrderedByID", func(t *testing.T) { testListOrdered(t, factory) })
	t.Run("DuplicateTitleConflicts", func(t *testing.T) { testDuplicateTitle(t, factory) })
	t.Run("UpdateReplacesFields", func(t *testing.T) { testUpdate(t, factory) })
	t.Run("UpdateReleasesOldTitle", func(t *testing.T) { testUpdateReleasesTitle(t, factory) })
	t.Run("UnknownIDNotFound", func(t *testing.T) { testNotFound(t, factory) })
	t.Run("DeleteRemoves", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ResetAndSeed", func(t *testing.T) { testResetAndSeed(t, factory) })
	t.Run("ConcurrentInsertsWithSameTitle", func(t *testing.T) { testConcurrentInserts(t, factory) })
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func mocha() drinks.Drink {
	return drinks.Drink{Title: "mocha", Recipe: drinks.Recipe{
		{Name: "espresso", Color: "brown", Parts: 1},
		{Name: "chocolate", Color: "dark", Parts: 1},
		{Name: "milk", Color: "white", Parts: 2},
	}}
}

func mustInsert(t *testing.T, s drinks.Store, d drinks.Drink) drinks.Drink {
	t.Helper()
	got, err := s.Insert(ctx(t), d)
	if err != nil {
		t.Fatalf("insert %q: %v", d.Title, err)
	}
	return got
}

func testInsertAssignsIDs(t *testing.T, factory StoreFactory) {
	s := factory(t)
	a := mustInsert(t, s, drinks.Drink{ID: 99, Title: "latte", Recipe: drinks.Recipe{{Name: "milk", Color: "white", Parts: 3}}})
	b := mustInsert(t, s, mocha())
	if a.ID <= 0 || b.ID <= a.ID {
		t.Fatalf("expected increasing positive ids, got %d then %d", a.ID, b.ID)
	}
}

func testGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	in := mustInsert(t, s, mocha())

	got, err := s.Get(ctx(t), in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := mocha()
	want.ID = in.ID
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("drink mismatch (-want +got):\n%s", diff)
	}
}

func testListOrdered(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if list, err := s.List(ctx(t)); err != nil || len(list) != 0 {
		t.Fatalf("expected empty store, got %v %v", list, err)
	}
	titles := []string{"americano", "cortado", "flat white"}
	for _, title := range titles {
		mustInsert(t, s, drinks.Drink{Title: title, Recipe: drinks.Recipe{{Name: "espresso", Color: "brown", Parts: 1}}})
	}
	list, err := s.List(ctx(t))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for i, d := range list {
		if i > 0 && d.ID <= list[i-1].ID {
			t.Fatalf("list not ordered by id: %v", list)
		}
		got = append(got, d.Title)
	}
	if diff := cmp.Diff(titles, got); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}
}

func testDuplicateTitle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mustInsert(t, s, mocha())
	if _, err := s.Insert(ctx(t), mocha()); !errors.Is(err, drinks.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	list, _ := s.List(ctx(t))
	if len(list) != 1 {
		t.Fatalf("conflicting insert must not be stored, got %d drinks", len(list))
	}
}

func testUpdate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	in := mustInsert(t, s, mocha())

	in.Title = "white mocha"
	in.Recipe = drinks.Recipe{{Name: "white chocolate", Color: "cream", Parts: 1}}
	got, err := s.Update(ctx(t), in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("update result mismatch (-want +got):\n%s", diff)
	}
	stored, err := s.Get(ctx(t), in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(in, stored); diff != "" {
		t.Fatalf("stored drink mismatch (-want +got):\n%s", diff)
	}

	// Keeping the same title is not a conflict with itself.
	if _, err := s.Update(ctx(t), stored); err != nil {
		t.Fatalf("update with unchanged title: %v", err)
	}
}

func testUpdateReleasesTitle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	a := mustInsert(t, s, mocha())
	b := mustInsert(t, s, drinks.Drink{Title: "latte", Recipe: drinks.Recipe{{Name: "milk", Color: "white", Parts: 3}}})

	b.Title = "mocha"
	if _, err := s.Update(ctx(t), b); !errors.Is(err, drinks.ErrConflict) {
		t.Fatalf("expected ErrConflict renaming onto a taken title, got %v", err)
	}

	a.Title = "dark mocha"
	if _, err := s.Update(ctx(t), a); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.Update(ctx(t), b); err != nil {
		t.Fatalf("old title should be free after rename: %v", err)
	}
}

func testNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if _, err := s.Get(ctx(t), 4242); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	d := mocha()
	d.ID = 4242
	if _, err := s.Update(ctx(t), d); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx(t), 4242); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	in := mustInsert(t, s, mocha())
	if err := s.Delete(ctx(t), in.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx(t), in.ID); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx(t), in.ID); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	// The title is free again.
	mustInsert(t, s, mocha())
}

func testResetAndSeed(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mustInsert(t, s, mocha())
	mustInsert(t, s, drinks.Drink{Title: "latte", Recipe: drinks.Recipe{{Name: "milk", Color: "white", Parts: 3}}})

	if err := drinks.ResetAndSeed(ctx(t), s); err != nil {
		t.Fatalf("reset: %v", err)
	}
	list, err := s.List(ctx(t))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "water" || list[0].ID != 1 {
		t.Fatalf("expected only the seeded drink with id 1, got %+v", list)
	}
}

func testConcurrentInserts(t *testing.T, factory StoreFactory) {
	s := factory(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx(t), mocha())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, drinks.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("exactly one insert must win, got %d", ok)
	}
}
