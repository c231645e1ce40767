package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyRecord 幂等记录: 保存首次请求的响应, 重复请求直接回放
type IdempotencyRecord struct {
	Status     int
	Body       []byte
	CreatedAt  time.Time
	Processing bool
}

// IdempotencyStore persists idempotency records. GetOrLock must be atomic:
// the first caller for a key gets (nil, false) and owns the key until Save
// or Unlock; every later caller sees the stored record.
type IdempotencyStore interface {
	GetOrLock(key string) (*IdempotencyRecord, bool)
	Save(key string, status int, body []byte)
	Unlock(key string)
}

// InMemIdempotencyStore 单实例部署用的内存实现
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*IdempotencyRecord
	ttl     time.Duration
}

func NewInMemIdempotencyStore(ttl time.Duration) *InMemIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &InMemIdempotencyStore{
		records: make(map[string]*IdempotencyRecord),
		ttl:     ttl,
	}
	go s.evictLoop()
	return s
}

func (s *InMemIdempotencyStore) GetOrLock(key string) (*IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec, true
	}
	s.records[key] = &IdempotencyRecord{Processing: true, CreatedAt: time.Now()}
	return nil, false
}

func (s *InMemIdempotencyStore) Save(key string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = &IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

func (s *InMemIdempotencyStore) Unlock(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *InMemIdempotencyStore) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.ttl)
		s.mu.Lock()
		for key, rec := range s.records {
			if rec.CreatedAt.Before(cutoff) {
				delete(s.records, key)
			}
		}
		s.mu.Unlock()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for repeated mutating
// requests carrying the same Idempotency-Key. Keys are scoped per tenant so
// tenants cannot collide with (or probe) each other's keys.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		idemKey := c.GetHeader(HeaderIdempotencyKey)
		if idemKey == "" {
			c.Next()
			return
		}

		key := idemKey
		if tenant := TenantFrom(c); tenant != nil {
			key = tenant.ID + ":" + idemKey
		}

		if rec, found := store.GetOrLock(key); found {
			if rec.Processing {
				// 首次请求还在处理中
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"success": false,
					"error":   "A request with this idempotency key is still being processed",
				})
				return
			}
			logger.Debug("🔁 replaying idempotent response", "key", idemKey, "status", rec.Status)
			c.Data(rec.Status, "application/json", rec.Body)
			c.Abort()
			return
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			// 服务端错误不缓存, 让客户端重试真正执行
			store.Unlock(key)
			return
		}
		store.Save(key, status, w.body.Bytes())
	}
}
