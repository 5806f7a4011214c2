// Package redis stores carts in Redis as JSON documents. Dispatch runs an
// optimistic WATCH/MULTI transaction so concurrent writers never interleave.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const maxTxRetries = 5

var (
	_ cart.Provider = (*Carts)(nil)
	_ cart.Store    = (*CartStore)(nil)
)

// Carts opens Redis-backed carts.
type Carts struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewCarts creates a provider. Every write refreshes the cart TTL.
func NewCarts(client goredis.UniversalClient, ttl time.Duration) *Carts {
	return &Carts{client: client, ttl: ttl}
}

// Cart returns the store of the cart with the given id.
func (c *Carts) Cart(id string) cart.Store {
	return &CartStore{client: c.client, key: cartKey(id), ttl: c.ttl}
}

// Ping checks connectivity.
func (c *Carts) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CartStore is a single Redis-backed cart.
type CartStore struct {
	client goredis.UniversalClient
	key    string
	ttl    time.Duration
}

// Snapshot reads the cart. A missing key is an empty cart.
func (s *CartStore) Snapshot(ctx context.Context) (cart.Snapshot, error) {
	return load(ctx, s.client, s.key)
}

// Dispatch applies a atomically, retrying when another writer changed the
// cart between read and write.
func (s *CartStore) Dispatch(ctx context.Context, a cart.Action) error {
	txf := func(tx *goredis.Tx) error {
		snap, err := load(ctx, tx, s.key)
		if err != nil {
			return err
		}
		data, err := json.Marshal(cart.Apply(snap, a))
		if err != nil {
			return errors.Wrap(err, "marshal cart")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, s.ttl)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "dispatch to %s", s.key)
		}
		return nil
	}
	return errors.Errorf("dispatch to %s: too many concurrent writers", s.key)
}

func load(ctx context.Context, c getter, key string) (cart.Snapshot, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return cart.Snapshot{}, nil
	}
	if err != nil {
		return cart.Snapshot{}, errors.Wrapf(err, "get %s", key)
	}
	var snap cart.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return cart.Snapshot{}, errors.Wrapf(err, "unmarshal %s", key)
	}
	return snap, nil
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func cartKey(id string) string {
	return "cart:" + id
}
