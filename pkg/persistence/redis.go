package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGUIDRegistry is a distributed implementation of
// rakserver.GUIDRegistry, backed by a Redis SET. It lets more than one
// server process behind a load balancer agree on which client GUIDs
// currently hold a connection, so a client reconnecting through a
// different process still gets rejected with AlreadyConnected rather
// than admitted twice.
type RedisGUIDRegistry struct {
	client *redis.Client
	ctx    context.Context
	key    string
	ttl    time.Duration
}

// RedisGUIDRegistryConfig holds Redis connection settings.
type RedisGUIDRegistryConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// TTL bounds how long a GUID can stay claimed if its owning process
	// dies without releasing it. Refreshed on every admission.
	TTL time.Duration
}

// NewRedisGUIDRegistry dials Redis and verifies connectivity.
func NewRedisGUIDRegistry(config RedisGUIDRegistryConfig) (*RedisGUIDRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	log.Println("Redis GUID registry connection established")
	return &RedisGUIDRegistry{
		client: client,
		ctx:    ctx,
		key:    "raknet:connected_guids",
		ttl:    ttl,
	}, nil
}

// TryAdmit atomically claims guid if no other process currently holds
// it. It implements rakserver.GUIDRegistry.
func (r *RedisGUIDRegistry) TryAdmit(guid uint64) (bool, error) {
	member := fmt.Sprintf("%d", guid)
	added, err := r.client.SAdd(r.ctx, r.key, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis guid registry: sadd: %w", err)
	}
	if added == 0 {
		return false, nil
	}
	if err := r.client.Expire(r.ctx, r.key, r.ttl).Err(); err != nil {
		return false, fmt.Errorf("redis guid registry: expire: %w", err)
	}
	return true, nil
}

// Release frees guid so a future connection attempt can be admitted.
func (r *RedisGUIDRegistry) Release(guid uint64) {
	member := fmt.Sprintf("%d", guid)
	if err := r.client.SRem(r.ctx, r.key, member).Err(); err != nil {
		log.Printf("redis guid registry: failed to release guid %d: %v", guid, err)
	}
}

// Health checks whether Redis is reachable.
func (r *RedisGUIDRegistry) Health() error {
	return r.client.Ping(r.ctx).Err()
}

// Close releases the underlying Redis client.
func (r *RedisGUIDRegistry) Close() error {
	log.Println("closing redis guid registry connection")
	return r.client.Close()
}
