package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
)

// CapCounter counts deliveries per recipient, family and local day
type CapCounter interface {
	Count(ctx context.Context, family domain.JobType, userID string, day time.Time) (int, error)
	Increment(ctx context.Context, family domain.JobType, userID string, day time.Time) error
}

// capKeyTTL keeps a day's counter around long enough for every time zone to
// have finished that day
const capKeyTTL = 48 * time.Hour

// RedisCapCounter keeps daily counters in Redis
type RedisCapCounter struct {
	client *redis.Client
}

// NewRedisCapCounter creates a Redis-backed cap counter
func NewRedisCapCounter(client *redis.Client) *RedisCapCounter {
	return &RedisCapCounter{client: client}
}

// CapKey is the counter key for a family, user and local day
func CapKey(family domain.JobType, userID string, day time.Time) string {
	return fmt.Sprintf("cap:%s:%s:%s", family, userID, day.Format("20060102"))
}

// Count returns the number of deliveries recorded for the day
func (c *RedisCapCounter) Count(ctx context.Context, family domain.JobType, userID string, day time.Time) (int, error) {
	n, err := c.client.Get(ctx, CapKey(family, userID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Increment records one delivery for the day
func (c *RedisCapCounter) Increment(ctx context.Context, family domain.JobType, userID string, day time.Time) error {
	key := CapKey(family, userID, day)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, capKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// DeliveryCounter counts runs that reached a recipient since a point in time
type DeliveryCounter interface {
	CountDeliveries(ctx context.Context, family domain.JobType, userID string, since time.Time) (int, error)
}

// StoreCapCounter derives the daily count from notification records. It is
// the fallback when no Redis is configured; Increment is a no-op because the
// records themselves are the count.
type StoreCapCounter struct {
	store DeliveryCounter
}

// NewStoreCapCounter creates a record-backed cap counter
func NewStoreCapCounter(store DeliveryCounter) *StoreCapCounter {
	return &StoreCapCounter{store: store}
}

// Count returns the number of runs that delivered to the user since the
// start of the given local day
func (c *StoreCapCounter) Count(ctx context.Context, family domain.JobType, userID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return c.store.CountDeliveries(ctx, family, userID, start)
}

// Increment does nothing
func (c *StoreCapCounter) Increment(context.Context, domain.JobType, string, time.Time) error {
	return nil
}
