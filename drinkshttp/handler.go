// Package drinkshttp serves the coffee shop drinks API over HTTP. Every route
// is guarded by an auth.Gate using the permission named by the route policy.
package drinkshttp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ggoodman/coffeeshop/auth"
	"github.com/ggoodman/coffeeshop/drinks"
	"github.com/ggoodman/coffeeshop/internal/logctx"
	"github.com/ggoodman/coffeeshop/internal/policy"
	"github.com/ggoodman/coffeeshop/internal/wellknown"
)

const maxBodyBytes = 1 << 20

// drinkRoute is policy.PathDrink restricted to numeric ids, so other paths
// answer 404 before authorization runs.
const drinkRoute = "/drinks/{id:[0-9]+}"

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	corsAllowHeaders = "Content-Type,Authorization"
	corsAllowMethods = "GET,POST,PATCH,DELETE,OPTIONS"
)

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	origins  []string
	resource string
}

// WithLogger sets the slog logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
// "*" allows any origin. Defaults to "*".
func WithCORSOrigins(origins ...string) Option {
	return func(c *config) { c.origins = slices.Clone(origins) }
}

// WithResourceURL sets the resource identifier advertised in the protected
// resource metadata. Defaults to the gate's audience.
func WithResourceURL(u string) Option {
	return func(c *config) { c.resource = u }
}

// Handler is the drinks API.
type Handler struct {
	log      *slog.Logger
	store    drinks.Store
	gate     *auth.Gate
	policy   *policy.Policy
	origins  []string
	resource string
	router   chi.Router
}

// New builds the API over store, authorizing requests through gate with the
// permissions named by pol.
func New(store drinks.Store, gate *auth.Gate, pol *policy.Policy, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if gate == nil {
		return nil, errors.New("gate is required")
	}
	if pol == nil {
		pol = policy.New(policy.Defaults())
	}

	cfg := &config{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.resource == "" {
		cfg.resource = gate.SecurityConfig().Audience
	}

	h := &Handler{
		log:      slog.New(logctx.Wrap(cfg.logger.Handler())),
		store:    store,
		gate:     gate,
		policy:   pol,
		origins:  cfg.origins,
		resource: cfg.resource,
	}

	r := chi.NewRouter()
	r.Use(h.recoverer, h.cors)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed)
	})

	r.Get(wellknown.ProtectedResourcePath, h.handleGetProtectedResourceMetadata)
	r.Method(http.MethodGet, policy.PathDrinks, h.guard(http.MethodGet, policy.PathDrinks, h.handleListDrinks))
	r.Method(http.MethodGet, policy.PathDrinksDetail, h.guard(http.MethodGet, policy.PathDrinksDetail, h.handleListDrinksDetail))
	r.Method(http.MethodPost, policy.PathDrinks, h.guard(http.MethodPost, policy.PathDrinks, h.handleCreateDrink))
	r.Method(http.MethodPatch, drinkRoute, h.guard(http.MethodPatch, policy.PathDrink, h.handleUpdateDrink))
	r.Method(http.MethodDelete, drinkRoute, h.guard(http.MethodDelete, policy.PathDrink, h.handleDeleteDrink))

	h.router = r
	return h, nil
}

// guard resolves the route's permission from the policy at request time so
// that reloads apply without rebuilding the router.
func (h *Handler) guard(method, pattern string, fn auth.ClaimsHandlerFunc) http.Handler {
	return h.gate.Guard(func(*http.Request) (string, bool) {
		return h.policy.Permission(method, pattern)
	}, fn)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handleGetProtectedResourceMetadata describes how to obtain tokens for this
// API. Scopes reflect the policy currently in force.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	sec := h.gate.SecurityConfig()
	var scopes []string
	for _, perm := range h.policy.Table() {
		scopes = append(scopes, perm)
	}
	md := wellknown.NewProtectedResourceMetadata(h.resource, sec.Issuer, sec.JWKSURL, sec.AllowedAlgs, scopes)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, md)
}

type listResponse struct {
	Success bool `json:"success"`
	Drinks  any  `json:"drinks"`
}

type deleteResponse struct {
	Success bool `json:"success"`
	Delete  int  `json:"delete"`
}

// handleListDrinks serves the public short form of every drink.
func (h *Handler) handleListDrinks(w http.ResponseWriter, r *http.Request, _ *auth.ClaimSet) {
	ctx := r.Context()
	list, ok := h.list(w, r)
	if !ok {
		return
	}
	out := make([]drinks.Short, 0, len(list))
	for _, d := range list {
		out = append(out, d.Short())
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Drinks: out})
	h.log.InfoContext(ctx, "drinks.list.ok", slog.Int("count", len(out)))
}

// handleListDrinksDetail serves the long form of every drink.
func (h *Handler) handleListDrinksDetail(w http.ResponseWriter, r *http.Request, _ *auth.ClaimSet) {
	ctx := r.Context()
	list, ok := h.list(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Drinks: list})
	h.log.InfoContext(ctx, "drinks.detail.ok", slog.Int("count", len(list)))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) ([]drinks.Drink, bool) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, r, "drinks.list.fail", err)
		return nil, false
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound)
		return nil, false
	}
	return list, true
}

type createRequest struct {
	Title  string        `json:"title"`
	Recipe drinks.Recipe `json:"recipe"`
}

func (h *Handler) handleCreateDrink(w http.ResponseWriter, r *http.Request, claims *auth.ClaimSet) {
	start := time.Now()
	ctx := r.Context()

	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	d := drinks.Drink{Title: strings.TrimSpace(req.Title), Recipe: req.Recipe}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity)
		h.log.InfoContext(ctx, "drinks.create.invalid", slog.String("err", err.Error()))
		return
	}

	created, err := h.store.Insert(ctx, d)
	if err != nil {
		h.storeError(w, r, "drinks.create.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Drinks: []drinks.Drink{created}})
	h.log.InfoContext(ctx, "drinks.create.ok", slog.Int("id", created.ID), slog.String("by", subject(claims)), slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleUpdateDrink(w http.ResponseWriter, r *http.Request, claims *auth.ClaimSet) {
	start := time.Now()
	ctx := r.Context()

	id, ok := drinkID(w, r)
	if !ok {
		return
	}
	var patch drinks.Patch
	if !h.decode(w, r, &patch) {
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusUnprocessableEntity)
		h.log.InfoContext(ctx, "drinks.update.invalid", slog.String("err", "empty patch"))
		return
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
	}

	cur, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, r, "drinks.update.fail", err)
		return
	}
	next, err := patch.Apply(cur)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity)
		h.log.InfoContext(ctx, "drinks.update.invalid", slog.String("err", err.Error()))
		return
	}
	updated, err := h.store.Update(ctx, next)
	if err != nil {
		h.storeError(w, r, "drinks.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Drinks: []drinks.Drink{updated}})
	h.log.InfoContext(ctx, "drinks.update.ok", slog.Int("id", id), slog.String("by", subject(claims)), slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleDeleteDrink(w http.ResponseWriter, r *http.Request, claims *auth.ClaimSet) {
	ctx := r.Context()

	id, ok := drinkID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(ctx, id); err != nil {
		h.storeError(w, r, "drinks.delete.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Delete: id})
	h.log.InfoContext(ctx, "drinks.delete.ok", slog.Int("id", id), slog.String("by", subject(claims)))
}

// drinkID parses the {id} path segment. Ids that are not positive integers
// cannot name a drink and answer 404.
func drinkID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound)
		return 0, false
	}
	return id, true
}

// decode enforces a JSON content type and decodes the body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "content_type.unsupported")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity)
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return false
	}
	return true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, event string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, drinks.ErrNotFound):
		writeError(w, http.StatusNotFound)
		h.log.InfoContext(ctx, event, slog.String("err", err.Error()))
	case errors.Is(err, drinks.ErrConflict), errors.Is(err, drinks.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity)
		h.log.InfoContext(ctx, event, slog.String("err", err.Error()))
	default:
		writeError(w, http.StatusInternalServerError)
		h.log.ErrorContext(ctx, event, slog.String("err", err.Error()))
	}
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.log.ErrorContext(r.Context(), "http.panic", slog.Any("panic", v))
				writeError(w, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			switch {
			case slices.Contains(h.origins, "*"):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(h.origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func subject(p auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.Subject()
}
