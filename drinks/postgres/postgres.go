// Package postgres provides a drinks.Store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ggoodman/coffeeshop/drinks"
)

// drinkRow mirrors the drinks table. The recipe is kept as a JSON string.
type drinkRow struct {
	ID     int    `gorm:"primaryKey;autoIncrement"`
	Title  string `gorm:"size:80;not null;uniqueIndex"`
	Recipe string `gorm:"type:text;not null"`
}

func (drinkRow) TableName() string { return "drinks" }

func toRow(d drinks.Drink) (drinkRow, error) {
	recipe, err := json.Marshal(d.Recipe)
	if err != nil {
		return drinkRow{}, fmt.Errorf("marshal recipe: %w", err)
	}
	return drinkRow{ID: d.ID, Title: d.Title, Recipe: string(recipe)}, nil
}

func (r drinkRow) drink() (drinks.Drink, error) {
	d := drinks.Drink{ID: r.ID, Title: r.Title}
	if err := json.Unmarshal([]byte(r.Recipe), &d.Recipe); err != nil {
		return drinks.Drink{}, fmt.Errorf("unmarshal recipe of drink %d: %w", r.ID, err)
	}
	return d, nil
}

// Store implements drinks.Store on a gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(ctx, gdb)
}

// New wraps an existing connection and migrates the schema.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &Store{db: db}
	if err := s.db.WithContext(ctx).AutoMigrate(&drinkRow{}); err != nil {
		return nil, fmt.Errorf("migrate drinks: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	var rows []drinkRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list drinks: %w", err)
	}
	out := make([]drinks.Drink, 0, len(rows))
	for _, r := range rows {
		d, err := r.drink()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int) (drinks.Drink, error) {
	var row drinkRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
		}
		return drinks.Drink{}, fmt.Errorf("get drink %d: %w", id, err)
	}
	return row.drink()
}

func (s *Store) Insert(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	d.ID = 0
	row, err := toRow(d)
	if err != nil {
		return drinks.Drink{}, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
		}
		return drinks.Drink{}, fmt.Errorf("insert drink: %w", err)
	}
	return row.drink()
}

func (s *Store) Update(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	row, err := toRow(d)
	if err != nil {
		return drinks.Drink{}, err
	}
	res := s.db.WithContext(ctx).Model(&drinkRow{ID: d.ID}).Updates(map[string]any{
		"title":  row.Title,
		"recipe": row.Recipe,
	})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
		}
		return drinks.Drink{}, fmt.Errorf("update drink %d: %w", d.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, d.ID)
	}
	return row.drink()
}

func (s *Store) Delete(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Delete(&drinkRow{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete drink %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
	}
	return nil
}

// Reset drops and recreates the drinks table, which also restarts ids.
func (s *Store) Reset(ctx context.Context) error {
	m := s.db.WithContext(ctx).Migrator()
	if err := m.DropTable(&drinkRow{}); err != nil {
		return fmt.Errorf("drop drinks: %w", err)
	}
	if err := m.AutoMigrate(&drinkRow{}); err != nil {
		return fmt.Errorf("migrate drinks: %w", err)
	}
	return nil
}

// isDuplicate recognizes unique violations whether or not the connection was
// opened with TranslateError.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "SQLSTATE 23505")
}

var _ drinks.Store = (*Store)(nil)
