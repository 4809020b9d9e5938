// Package redis implements the registration store on Redis so several bot
// replicas can share one dedup record.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ernie/whitelist-warden/internal/domain"
	"github.com/ernie/whitelist-warden/internal/registry"
)

// commitScript writes the record unless one is already committed
var commitScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`)

// releaseScript deletes the key only while it still holds a reservation
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// revokeScript deletes a committed record and its index entry
var revokeScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur or cur == ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`)

// Store is a Redis-backed registry.Store
type Store struct {
	client *redis.Client
	cfg    Config
}

var _ registry.Store = (*Store)(nil)

// New connects to Redis and verifies the connection
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a store with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = def.ReservationTTL
	}
	return &Store{client: client, cfg: cfg}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Lookup(ctx context.Context, requesterID string) (*domain.Registration, error) {
	data, err := s.client.Get(ctx, s.registrationKey(requesterID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, registry.ErrNotRegistered
		}
		return nil, err
	}
	if data == pendingValue {
		return nil, registry.ErrNotRegistered
	}
	return decode(data)
}

func (s *Store) CheckAndReserve(ctx context.Context, requesterID string) error {
	key := s.registrationKey(requesterID)

	ok, err := s.client.SetNX(ctx, key, pendingValue, s.cfg.ReservationTTL).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	cur, err := s.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// released between the two calls
		return registry.ErrReservationHeld
	case err != nil:
		return err
	case cur == pendingValue:
		return registry.ErrReservationHeld
	default:
		return registry.ErrAlreadyRegistered
	}
}

func (s *Store) Commit(ctx context.Context, reg domain.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}

	keys := []string{s.registrationKey(reg.RequesterID), s.indexKey()}
	n, err := commitScript.Run(ctx, s.client, keys, pendingValue, data, reg.RequesterID).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrAlreadyRegistered
	}
	return nil
}

func (s *Store) Release(ctx context.Context, requesterID string) error {
	keys := []string{s.registrationKey(requesterID)}
	return releaseScript.Run(ctx, s.client, keys, pendingValue).Err()
}

func (s *Store) List(ctx context.Context) ([]domain.Registration, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Registration{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.registrationKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	regs := make([]domain.Registration, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok || str == pendingValue {
			continue
		}
		reg, err := decode(str)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}

	sort.Slice(regs, func(i, j int) bool {
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
	return regs, nil
}

func (s *Store) Revoke(ctx context.Context, requesterID string) error {
	keys := []string{s.registrationKey(requesterID), s.indexKey()}
	n, err := revokeScript.Run(ctx, s.client, keys, pendingValue, requesterID).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotRegistered
	}
	return nil
}

func decode(data string) (*domain.Registration, error) {
	var reg domain.Registration
	if err := json.Unmarshal([]byte(data), &reg); err != nil {
		return nil, fmt.Errorf("decoding registration: %w", err)
	}
	return &reg, nil
}
