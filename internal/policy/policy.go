// Package policy maps API routes to the permission they require. The table
// starts from built-in defaults and may be overridden by a YAML file that is
// reloaded when it changes on disk.
package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RouteKey identifies an operation by HTTP method and router pattern.
type RouteKey struct {
	Method string
	Path   string
}

func (k RouteKey) String() string { return k.Method + " " + k.Path }

// Table maps each route to its required permission. An empty permission
// marks the route public.
type Table map[RouteKey]string

// Route patterns served by the API.
const (
	PathDrinks       = "/drinks"
	PathDrinksDetail = "/drinks-detail"
	PathDrink        = "/drinks/{id}"
)

// Defaults is the permission table used when no policy file overrides it.
func Defaults() Table {
	return Table{
		{http.MethodGet, PathDrinks}:       "",
		{http.MethodGet, PathDrinksDetail}: "get:drinks-detail",
		{http.MethodPost, PathDrinks}:      "post:drinks",
		{http.MethodPatch, PathDrink}:      "patch:drinks",
		{http.MethodDelete, PathDrink}:     "delete:drinks",
	}
}

type document struct {
	Routes []rule `yaml:"routes"`
}

type rule struct {
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
	Permission string `yaml:"permission"`
	Public     bool   `yaml:"public"`
}

// Parse decodes a policy document and applies it over Defaults. Only routes
// the API serves may be overridden; routes not mentioned keep their default.
func Parse(b []byte) (Table, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}

	t := Defaults()
	seen := map[RouteKey]bool{}
	for i, r := range doc.Routes {
		key := RouteKey{Method: strings.ToUpper(strings.TrimSpace(r.Method)), Path: strings.TrimSpace(r.Path)}
		if _, ok := t[key]; !ok {
			return nil, fmt.Errorf("route %d: unknown route %s", i, key)
		}
		if seen[key] {
			return nil, fmt.Errorf("route %d: duplicate route %s", i, key)
		}
		seen[key] = true

		perm := strings.TrimSpace(r.Permission)
		switch {
		case r.Public && perm != "":
			return nil, fmt.Errorf("route %d: %s is public but names permission %q", i, key, perm)
		case !r.Public && perm == "":
			return nil, fmt.Errorf("route %d: %s needs a permission or public: true", i, key)
		case strings.ContainsAny(perm, " \t"):
			return nil, fmt.Errorf("route %d: permission %q contains whitespace", i, perm)
		}
		t[key] = perm
	}
	return t, nil
}

// Load reads and parses the policy file at path.
func Load(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(b)
}

// Policy holds the active Table. Lookups are lock-free and see a reload as a
// single atomic swap.
type Policy struct {
	path  string
	log   *slog.Logger
	table atomic.Pointer[Table]
}

// New returns a Policy serving t.
func New(t Table) *Policy {
	p := &Policy{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	t = maps.Clone(t)
	p.table.Store(&t)
	return p
}

// Open loads the policy file at path. An empty path serves Defaults.
func Open(path string, log *slog.Logger) (*Policy, error) {
	t := Defaults()
	if path != "" {
		var err error
		if t, err = Load(path); err != nil {
			return nil, err
		}
	}
	p := New(t)
	p.path = path
	if log != nil {
		p.log = log
	}
	return p, nil
}

// Permission returns the permission required for method and the router
// pattern path. required is false for public routes. Routes missing from
// the table require a permission nobody holds.
func (p *Policy) Permission(method, path string) (permission string, required bool) {
	t := *p.table.Load()
	perm, ok := t[RouteKey{Method: method, Path: path}]
	if !ok {
		return "deny:" + method + ":" + path, true
	}
	return perm, perm != ""
}

// Table returns a copy of the active table.
func (p *Policy) Table() Table {
	return maps.Clone(*p.table.Load())
}

// Reload re-reads the policy file. On error the active table is kept.
func (p *Policy) Reload() error {
	if p.path == "" {
		return nil
	}
	t, err := Load(p.path)
	if err != nil {
		p.log.Error("policy.reload.fail", slog.String("path", p.path), slog.String("err", err.Error()))
		return err
	}
	p.table.Store(&t)
	p.log.Info("policy.reload.ok", slog.String("path", p.path), slog.Int("routes", len(t)))
	return nil
}

// Watch reloads the policy whenever its file changes until ctx is done. The
// containing directory is watched so that editors replacing the file by
// rename are noticed.
func (p *Policy) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	abs, err := filepath.Abs(p.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = p.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("policy.watch.error", slog.String("err", err.Error()))
		}
	}
}
