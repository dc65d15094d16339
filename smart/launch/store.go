package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SanteonNL/orca/smarthost/smart/smartcontext"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// ErrLaunchNotFound is returned when a launch ID is unknown or expired.
var ErrLaunchNotFound = errors.New("launch not found")

// Store holds the launch context bound to launch IDs, until they expire.
type Store interface {
	Put(ctx context.Context, launchID string, contextMap smartcontext.ContextMap) error
	// Get returns ErrLaunchNotFound if the launch ID is unknown or expired.
	Get(ctx context.Context, launchID string) (smartcontext.ContextMap, error)
	Close() error
}

var _ Binder = &StoreBinder{}

// StoreBinder issues launch IDs itself, storing the launch context so it can be resolved through the BinderService.
type StoreBinder struct {
	store Store
}

func NewStoreBinder(store Store) *StoreBinder {
	return &StoreBinder{store: store}
}

func (s StoreBinder) BindContext(ctx context.Context, contextMap smartcontext.ContextMap) (string, error) {
	launchID := uuid.NewString()
	if err := s.store.Put(ctx, launchID, contextMap.Clone()); err != nil {
		return "", fmt.Errorf("store launch context: %w", err)
	}
	return launchID, nil
}

// Resolve returns the launch context bound to the launch ID.
func (s StoreBinder) Resolve(ctx context.Context, launchID string) (smartcontext.ContextMap, error) {
	return s.store.Get(ctx, launchID)
}

var _ Store = &MemoryStore{}

// MemoryStore keeps launch context in memory, so launch IDs can only be resolved by the instance that issued them.
type MemoryStore struct {
	cache *ttlcache.Cache[string, smartcontext.ContextMap]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New[string, smartcontext.ContextMap](
		ttlcache.WithTTL[string, smartcontext.ContextMap](ttl),
		ttlcache.WithDisableTouchOnHit[string, smartcontext.ContextMap](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (m *MemoryStore) Put(_ context.Context, launchID string, contextMap smartcontext.ContextMap) error {
	m.cache.Set(launchID, contextMap, ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, launchID string) (smartcontext.ContextMap, error) {
	item := m.cache.Get(launchID)
	if item == nil {
		return nil, ErrLaunchNotFound
	}
	return item.Value().Clone(), nil
}

func (m *MemoryStore) Close() error {
	m.cache.Stop()
	return nil
}

var _ Store = &RedisStore{}

const redisKeyPrefix = "smarthost:launch:"

// RedisStore keeps launch context in Redis, so launch IDs can be resolved by any instance.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a Redis client for the given configuration.
func NewRedisClient(config RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisStore) Put(ctx context.Context, launchID string, contextMap smartcontext.ContextMap) error {
	data, err := json.Marshal(contextMap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+launchID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, launchID string) (smartcontext.ContextMap, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+launchID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLaunchNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var result smartcontext.ContextMap
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid launch context in Redis (launch=%s): %w", launchID, err)
	}
	return result, nil
}

// Ping checks the connection to Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
