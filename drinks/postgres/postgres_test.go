package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ggoodman/coffeeshop/drinks"
	"github.com/ggoodman/coffeeshop/drinks/drinkstest"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupTestDB(t)
	drinkstest.RunStoreTests(t, func(t *testing.T) drinks.Store {
		s, err := New(context.Background(), db)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		if err := s.Reset(context.Background()); err != nil {
			t.Fatalf("reset: %v", err)
		}
		return s
	})
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
