// Package redisx holds the Redis side of the order services: the status
// cache, create idempotency and consumer dedup.
package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/camrent-orders/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// StatusView is the cached answer of GET /orders/{id}/status.
type StatusView struct {
	OrderID    string        `json:"orderId"`
	Status     orders.Status `json:"status"`
	StatusName string        `json:"statusName"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func ViewOf(o *orders.Order) StatusView {
	return StatusView{OrderID: o.ID, Status: o.OrderStatus, StatusName: o.OrderStatus.String(), UpdatedAt: o.UpdatedAt}
}

type StatusCache struct{ RDB redis.Cmdable }

// Get reports false on a cache miss.
func (c StatusCache) Get(ctx context.Context, orderID string) (StatusView, bool, error) {
	var v StatusView
	b, err := c.RDB.Get(ctx, StatusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

func (c StatusCache) Put(ctx context.Context, v StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, StatusKey(v.OrderID), b, TTLStatusCache).Err()
}

// Idempotency remembers which order an external id created.
type Idempotency struct{ RDB redis.Cmdable }

func (i Idempotency) Lookup(ctx context.Context, externalID string) (string, bool, error) {
	id, err := i.RDB.Get(ctx, IdemKey(externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (i Idempotency) Remember(ctx context.Context, externalID, orderID string) error {
	return i.RDB.Set(ctx, IdemKey(externalID), orderID, TTLIdempotency).Err()
}

// Dedup tracks processed event ids for one consumer.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

func (d Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, DedupKey(d.Service, eventID))
}

func (d Dedup) Mark(ctx context.Context, eventID string) error {
	return d.RDB.Set(ctx, DedupKey(d.Service, eventID), "1", TTLDedup).Err()
}
