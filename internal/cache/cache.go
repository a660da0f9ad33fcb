// Package cache implements the Live-State Cache: a bus subscriber that
// mirrors the latest EstimatedState and VehicleState per entity into
// Redis, so an out-of-process dashboard or CLI can query current vehicle
// status without joining the bus (§4.6). Nothing in the core control path
// ever reads from it — VS and PCB only ever read the bus.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
	"github.com/redis/go-redis/v9"
)

// navTTL/modeTTL scale a long-lived-record cache's 1h/24h TTLs down to
// mission-relevant horizons: a stale nav reading is harmless within
// seconds, a stale vehicle-mode reading is dangerous within minutes.
const (
	navTTL  = 30 * time.Second
	modeTTL = 10 * time.Minute
)

// RedisClient is the narrow set of Redis operations the cache depends on,
// mirroring a narrow RedisClientInterface seam for mocking in tests.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Dial connects to Redis at addr and verifies the connection with a ping.
func Dial(addr string) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to redis: %w", err)
	}
	return client, nil
}

func entityName(entityID int32) string {
	return fmt.Sprintf("%d", entityID)
}

// Cache is the Live-State Cache task.
type Cache struct {
	*task.Task

	redis RedisClient
}

// New creates a Cache task bound to b, mirroring state into redisClient.
func New(name string, entityID int32, b *bus.Bus, redisClient RedisClient) *Cache {
	c := &Cache{redis: redisClient}
	c.Task = task.New(name, entityID, b, nil, 256)

	c.On(messages.KindEstimatedState, c.handleEstimatedState)
	c.On(messages.KindVehicleState, c.handleVehicleState)
	return c
}

func (c *Cache) handleEstimatedState(msg bus.Message) {
	nav := msg.Payload.(messages.EstimatedState)
	c.store(fmt.Sprintf("vehicle:%s:nav", entityName(nav.Header.SourceEntity)), nav, navTTL)
}

func (c *Cache) handleVehicleState(msg bus.Message) {
	vs := msg.Payload.(messages.VehicleState)
	c.store(fmt.Sprintf("vehicle:%s:state", entityName(vs.Header.SourceEntity)), vs, modeTTL)
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache %s: failed to marshal %s: %v", c.Name(), key, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Printf("cache %s: failed to store %s: %v", c.Name(), key, err)
	}
}

// GetLatestNav retrieves the most recently cached EstimatedState for
// entity, for use by an optional status CLI. Returns ok=false if nothing
// is cached (expired or never written).
func GetLatestNav(ctx context.Context, r RedisClient, entityID int32) (messages.EstimatedState, bool, error) {
	var nav messages.EstimatedState
	ok, err := getJSON(ctx, r, fmt.Sprintf("vehicle:%s:nav", entityName(entityID)), &nav)
	return nav, ok, err
}

// GetLatestState retrieves the most recently cached VehicleState for
// entity.
func GetLatestState(ctx context.Context, r RedisClient, entityID int32) (messages.VehicleState, bool, error) {
	var vs messages.VehicleState
	ok, err := getJSON(ctx, r, fmt.Sprintf("vehicle:%s:state", entityName(entityID)), &vs)
	return vs, ok, err
}

func getJSON(ctx context.Context, r RedisClient, key string, target any) (bool, error) {
	data, err := r.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("cache: failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
