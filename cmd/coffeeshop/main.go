// Command coffeeshop serves the drinks API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/coffeeshop/auth"
	"github.com/ggoodman/coffeeshop/drinks"
	"github.com/ggoodman/coffeeshop/drinks/memory"
	"github.com/ggoodman/coffeeshop/drinks/postgres"
	drinksredis "github.com/ggoodman/coffeeshop/drinks/redis"
	"github.com/ggoodman/coffeeshop/drinkshttp"
	"github.com/ggoodman/coffeeshop/internal/config"
	"github.com/ggoodman/coffeeshop/internal/logctx"
	"github.com/ggoodman/coffeeshop/internal/policy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "coffeeshop: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := newLogger(cfg, stderr)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.DBReset {
		if err := drinks.ResetAndSeed(ctx, store); err != nil {
			return err
		}
		log.Warn("store.reset.ok", slog.String("store", cfg.Store))
	}

	gate, err := newGate(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	pol, err := policy.Open(cfg.PolicyFile, log)
	if err != nil {
		return err
	}
	go func() {
		if err := pol.Watch(ctx); err != nil {
			log.Error("policy.watch.fail", slog.String("err", err.Error()))
		}
	}()

	h, err := drinkshttp.New(store, gate, pol,
		drinkshttp.WithLogger(log),
		drinkshttp.WithCORSOrigins(cfg.Origins()...),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", cfg.ListenAddr), slog.String("issuer", cfg.Issuer), slog.String("audience", cfg.Audience))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("http.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http.shutdown.ok")
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Wrap(h))
}

func newGate(ctx context.Context, cfg *config.Config, log *slog.Logger) (*auth.Gate, error) {
	opts := []auth.Option{
		auth.WithAllowedAlgs(cfg.AlgorithmList()...),
		auth.WithLeeway(cfg.Leeway),
		auth.WithKeySetTTL(cfg.KeySetTTL),
		auth.WithKeySource(cfg.KeySetSource),
		auth.WithLogger(log),
		auth.WithRealm("coffeeshop"),
	}
	if cfg.Discovery && cfg.JWKSURL == "" {
		return auth.NewFromDiscovery(ctx, cfg.Issuer, cfg.Audience, opts...)
	}
	return auth.NewFromJWKS(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience, opts...)
}

func openStore(ctx context.Context, cfg *config.Config) (drinks.Store, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := drinksredis.New(ctx, drinksredis.Config{Addr: cfg.RedisAddr, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}
