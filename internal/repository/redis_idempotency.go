package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore shares idempotency state across gateway replicas.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		ttl:    ttl,
		prefix: "idem:",
	}
}

type idemWire struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"`
}

func (s *RedisIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx := context.Background()
	lock, _ := json.Marshal(idemWire{Processing: true, CreatedAt: time.Now().UTC()})

	// SET NX doubles as the lock: the first caller wins and proceeds, later
	// callers read whatever state the winner left behind
	ok, err := s.client.SetNX(ctx, s.prefix+key, lock, s.ttl).Result()
	if err == nil && ok {
		return nil, false
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	var wire idemWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, false
	}
	return &middleware.IdempotencyRecord{
		Status:     wire.Status,
		Body:       wire.Body,
		CreatedAt:  wire.CreatedAt,
		Processing: wire.Processing,
	}, true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	ctx := context.Background()
	payload, _ := json.Marshal(idemWire{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	_ = s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	_ = s.client.Del(context.Background(), s.prefix+key).Err()
}
