package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"golang.org/x/time/rate"
)

// AutoRefreshConfig tunes an AutoRefresh. Zero values select the defaults.
type AutoRefreshConfig struct {
	// Client fetches the key set. Its Timeout, when set, bounds each fetch.
	Client *http.Client
	// RefreshInterval is the background refresh period. Defaults to 10m.
	RefreshInterval time.Duration
	// Log receives background refresh failures.
	Log *slog.Logger
}

// AutoRefresh is a Source backed by keyfunc's background JWKS refresher. The
// refresh goroutine lives until the context passed to NewAutoRefresh is
// cancelled.
type AutoRefresh struct {
	kf keyfunc.Keyfunc
}

// NewAutoRefresh performs the initial fetch of url and starts the background
// refresh.
func NewAutoRefresh(ctx context.Context, url string, cfg AutoRefreshConfig) (*AutoRefresh, error) {
	if url == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	timeout := 10 * time.Second
	if cfg.Client != nil && cfg.Client.Timeout > 0 {
		timeout = cfg.Client.Timeout
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	storage, err := jwkset.NewStorageFromHTTP(url, jwkset.HTTPClientStorageOptions{
		Client:          cfg.Client,
		Ctx:             ctx,
		HTTPTimeout:     timeout,
		RefreshInterval: cfg.RefreshInterval,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			log.WarnContext(ctx, "jwks.autorefresh.fail", slog.String("err", err.Error()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: jwks init failed: %v", ErrUnavailable, err)
	}
	client, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{url: storage},
		RateLimitWaitMax:  time.Minute,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(5*time.Minute), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("jwks client: %w", err)
	}
	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: client})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return &AutoRefresh{kf: kf}, nil
}

func (a *AutoRefresh) Find(ctx context.Context, kid string) (SigningKey, error) {
	jwk, err := a.kf.Storage().KeyRead(ctx, kid)
	if err != nil {
		if errors.Is(err, jwkset.ErrKeyNotFound) {
			return SigningKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		return SigningKey{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fromJWK(jwk), nil
}

func (a *AutoRefresh) Resolve(ctx context.Context) (KeySet, error) {
	all, err := a.kf.Storage().KeyReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ks := make(KeySet, len(all))
	for _, jwk := range all {
		k := fromJWK(jwk)
		if k.KeyID == "" {
			continue
		}
		ks[k.KeyID] = k
	}
	return ks, nil
}

func fromJWK(jwk jwkset.JWK) SigningKey {
	m := jwk.Marshal()
	return SigningKey{KeyID: m.KID, Algorithm: m.ALG.String(), Key: jwk.Key()}
}

var _ Source = (*AutoRefresh)(nil)
