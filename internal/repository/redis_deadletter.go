package repository

import (
	"context"
	"encoding/json"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisDeadLetter spills audit batches that exhausted delivery retries into a
// bounded Redis list, so a long backend outage degrades to "recoverable
// later" instead of "silently dropped".
type RedisDeadLetter struct {
	client  *redis.Client
	listKey string
	listMax int
}

func NewRedisDeadLetter(client *redis.Client, listKey string, listMax int) *RedisDeadLetter {
	if listKey == "" {
		listKey = "audit:dead_letter"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisDeadLetter{
		client:  client,
		listKey: listKey,
		listMax: listMax,
	}
}

func (r *RedisDeadLetter) Spill(ctx context.Context, entries []*model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		payloads = append(payloads, raw)
	}
	if err := r.client.RPush(ctx, r.listKey, payloads...).Err(); err != nil {
		return err
	}
	// keep the newest entries when the list overflows
	return r.client.LTrim(ctx, r.listKey, int64(-r.listMax), -1).Err()
}

// Reclaim pops up to max spilled entries for operator-driven redelivery.
func (r *RedisDeadLetter) Reclaim(ctx context.Context, max int) ([]*model.AuditLogEntry, error) {
	if max <= 0 {
		max = 100
	}
	entries := make([]*model.AuditLogEntry, 0, max)
	for len(entries) < max {
		raw, err := r.client.LPop(ctx, r.listKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return entries, err
		}
		var e model.AuditLogEntry
		if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Depth reports how many entries are waiting in the dead-letter list.
func (r *RedisDeadLetter) Depth(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.listKey).Result()
}
