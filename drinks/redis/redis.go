// Package redis provides a Redis-backed drinks.Store.
//
// Each drink is stored as a JSON document under <prefix>drink:<id>. A sorted
// set keeps ids in order, a hash maps titles to ids to enforce uniqueness,
// and a counter hands out new ids.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/coffeeshop/drinks"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. When nil, one is dialed at Addr.
	Client *redis.Client

	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix for all keys. ENV: REDIS_KEY_PREFIX
	KeyPrefix string `env:"REDIS_KEY_PREFIX,default=coffeeshop:"`
}

// Store implements drinks.Store on Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a Store and checks the server is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "coffeeshop:"
	}
	return &Store{client: client, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// --- Key helpers ---

func (s *Store) drinkKey(id int) string { return s.keyPrefix + "drink:" + strconv.Itoa(id) }
func (s *Store) idsKey() string         { return s.keyPrefix + "ids" }
func (s *Store) titlesKey() string      { return s.keyPrefix + "titles" }
func (s *Store) seqKey() string         { return s.keyPrefix + "seq" }

func (s *Store) List(ctx context.Context) ([]drinks.Drink, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list drink ids: %w", err)
	}
	if len(ids) == 0 {
		return []drinks.Drink{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.keyPrefix+"drink:"+id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load drinks: %w", err)
	}

	out := make([]drinks.Drink, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		var d drinks.Drink
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored drink: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int) (drinks.Drink, error) {
	return s.get(ctx, s.client, id)
}

func (s *Store) get(ctx context.Context, c redis.Cmdable, id int) (drinks.Drink, error) {
	raw, err := c.Get(ctx, s.drinkKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return drinks.Drink{}, fmt.Errorf("%w: id %d", drinks.ErrNotFound, id)
		}
		return drinks.Drink{}, fmt.Errorf("failed to get drink %d: %w", id, err)
	}
	var d drinks.Drink
	if err := json.Unmarshal(raw, &d); err != nil {
		return drinks.Drink{}, fmt.Errorf("failed to unmarshal stored drink: %w", err)
	}
	return d, nil
}

func (s *Store) Insert(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("failed to allocate drink id: %w", err)
	}
	d = d.Long()
	d.ID = int(id)

	claimed, err := s.client.HSetNX(ctx, s.titlesKey(), d.Title, d.ID).Result()
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("failed to claim title: %w", err)
	}
	if !claimed {
		return drinks.Drink{}, fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("failed to marshal drink: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.drinkKey(d.ID), data, 0)
		pipe.ZAdd(ctx, s.idsKey(), redis.Z{Score: float64(d.ID), Member: strconv.Itoa(d.ID)})
		return nil
	})
	if err != nil {
		s.client.HDel(ctx, s.titlesKey(), d.Title)
		return drinks.Drink{}, fmt.Errorf("failed to store drink: %w", err)
	}
	return d, nil
}

func (s *Store) Update(ctx context.Context, d drinks.Drink) (drinks.Drink, error) {
	d = d.Long()
	data, err := json.Marshal(d)
	if err != nil {
		return drinks.Drink{}, fmt.Errorf("failed to marshal drink: %w", err)
	}

	key := s.drinkKey(d.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if cur.Title != d.Title {
			claimed, err := tx.HSetNX(ctx, s.titlesKey(), d.Title, d.ID).Result()
			if err != nil {
				return fmt.Errorf("failed to claim title: %w", err)
			}
			if !claimed {
				return fmt.Errorf("%w: %q", drinks.ErrConflict, d.Title)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if cur.Title != d.Title {
				pipe.HDel(ctx, s.titlesKey(), cur.Title)
			}
			return nil
		})
		if err != nil && cur.Title != d.Title {
			tx.HDel(ctx, s.titlesKey(), d.Title)
		}
		return err
	}, key)
	if err != nil {
		return drinks.Drink{}, s.wrapTxErr("update", err)
	}
	return d, nil
}

func (s *Store) Delete(ctx context.Context, id int) error {
	key := s.drinkKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.idsKey(), strconv.Itoa(id))
			pipe.HDel(ctx, s.titlesKey(), cur.Title)
			return nil
		})
		return err
	}, key)
	return s.wrapTxErr("delete", err)
}

func (s *Store) wrapTxErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, drinks.ErrNotFound), errors.Is(err, drinks.ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("failed to %s drink: concurrent modification: %w", op, err)
	default:
		return fmt.Errorf("failed to %s drink: %w", op, err)
	}
}

// Reset removes every key under the store's prefix.
func (s *Store) Reset(ctx context.Context) error {
	keys, err := s.scanKeys(ctx, s.keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// scanKeys uses Redis SCAN to find all keys matching a pattern
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

var _ drinks.Store = (*Store)(nil)
