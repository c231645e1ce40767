package service

import (
	"context"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/logger"
	"github.com/edgegate/edgegate/internal/pkg/metrics"
	"github.com/google/uuid"
)

// AuditBackend is the durable store the batcher delivers to. In production it
// is the edge-function bulk-insert RPC; tests and the degraded local mode use
// other implementations of the same interface.
type AuditBackend interface {
	BulkInsert(ctx context.Context, entries []*model.AuditLogEntry) error
	Query(ctx context.Context, filters model.AuditQueryFilters, userToken string) (*model.AuditQueryResult, error)
}

// DeadLetter receives batches that exhausted their delivery retries.
type DeadLetter interface {
	Spill(ctx context.Context, entries []*model.AuditLogEntry) error
}

// AuditService accumulates audit entries in memory and flushes them in
// batches, by size threshold or timer, whichever fires first. Log never does
// network I/O; delivery failures requeue the batch at the front so ordering
// survives retries. A batch that keeps failing is handed to the dead-letter
// store instead of growing the queue forever.
type AuditService struct {
	mu    sync.Mutex
	queue []*model.AuditLogEntry

	backend    AuditBackend
	deadLetter DeadLetter
	sanitizer  *Sanitizer

	batchSize   int
	interval    time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	// retry state for the batch currently at the head of the queue
	attempts  int
	notBefore time.Time

	flushing bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool

	disabled bool

	// notify fans an enqueued entry out to live stream subscribers; it must
	// not block
	notify func(*model.AuditLogEntry)

	now func() time.Time
}

// NewAuditService builds the batcher. A nil backend puts the service into
// disabled mode: Log, Query, Statistics and Export all become cheap no-ops so
// an unconfigured audit store never breaks the request path.
func NewAuditService(cfg config.AuditConfig, backend AuditBackend, deadLetter DeadLetter) *AuditService {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	backoffBase := time.Duration(cfg.BackoffBase) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	backoffMax := time.Duration(cfg.BackoffMax) * time.Millisecond
	if backoffMax < backoffBase {
		backoffMax = 30 * time.Second
	}

	svc := &AuditService{
		backend:     backend,
		deadLetter:  deadLetter,
		sanitizer:   NewSanitizer(cfg.SensitiveKeys),
		batchSize:   batchSize,
		interval:    interval,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		disabled:    backend == nil,
		now:         time.Now,
	}
	if svc.disabled {
		logger.Warn("⚠️ Audit backend not configured, audit pipeline disabled (no-op mode)")
	}
	return svc
}

// SetNotify registers the live-stream fanout. Must be called before Start.
func (s *AuditService) SetNotify(fn func(*model.AuditLogEntry)) {
	s.notify = fn
}

// Enabled reports whether the pipeline has a backend.
func (s *AuditService) Enabled() bool {
	return !s.disabled
}

// Sanitizer exposes the shared redaction rules so the audit middleware can
// scrub request/response bodies with the same key list.
func (s *AuditService) Sanitizer() *Sanitizer {
	return s.sanitizer
}

// Start launches the recurring flush timer.
func (s *AuditService) Start() {
	if s.disabled || s.started {
		return
	}
	s.started = true
	go s.flushLoop()
}

// Log assembles defaults, sanitizes metadata, fires alerts, and enqueues the
// entry. It is synchronous and never blocks on the backend; once it returns
// the batcher owns the entry until delivery or process exit.
func (s *AuditService) Log(entry *model.AuditLogEntry) {
	if s.disabled || entry == nil {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CorrelationID == "" {
		// one id per log call; callers grouping a multi-step operation must
		// pass their own
		entry.CorrelationID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = model.DefaultSeverity(entry.Action, entry.Success)
	}

	// sanitize before enqueue so unredacted values never sit in the queue
	entry.Metadata = s.sanitizer.Map(entry.Metadata)
	if entry.Error != "" {
		// free text, but bounded
		entry.Error = truncate(entry.Error, 4096)
	}

	if model.ShouldAlert(entry.Action, entry.Severity) {
		metrics.AuditAlerts.WithLabelValues(entry.Action).Inc()
		logger.Warn("🚨 Audit alert",
			"action", entry.Action,
			"severity", string(entry.Severity),
			"tenant_id", entry.TenantID,
			"correlation_id", entry.CorrelationID,
		)
	}

	s.mu.Lock()
	s.queue = append(s.queue, entry)
	depth := len(s.queue)
	s.mu.Unlock()
	metrics.AuditQueueDepth.Set(float64(depth))

	if s.notify != nil {
		s.notify(entry)
	}

	// size trigger, on top of the timer
	if depth >= s.batchSize {
		go s.Flush(context.Background())
	}
}

// QueueDepth returns the number of entries awaiting delivery.
func (s *AuditService) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush attempts delivery of one batch from the front of the queue. Safe to
// call concurrently; overlapping calls collapse into one in-flight delivery.
func (s *AuditService) Flush(ctx context.Context) {
	if s.disabled {
		return
	}

	s.mu.Lock()
	if s.flushing || len(s.queue) == 0 || s.now().Before(s.notBefore) {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	n := len(s.queue)
	if n > s.batchSize {
		n = s.batchSize
	}
	// take a prefix; Log keeps appending behind it while delivery is in flight
	batch := s.queue[:n:n]
	s.queue = s.queue[n:]
	s.mu.Unlock()

	err := s.backend.BulkInsert(ctx, batch)

	s.mu.Lock()
	s.flushing = false
	if err == nil {
		s.attempts = 0
		s.notBefore = time.Time{}
		depth := len(s.queue)
		s.mu.Unlock()
		metrics.AuditFlushes.WithLabelValues("ok").Inc()
		metrics.AuditQueueDepth.Set(float64(depth))
		return
	}

	s.attempts++
	attempts := s.attempts
	if attempts >= s.maxRetries {
		// retries exhausted: hand the batch to the dead-letter store instead
		// of requeueing, so a long backend outage cannot grow memory unbounded
		s.attempts = 0
		s.notBefore = time.Time{}
		s.mu.Unlock()

		metrics.AuditFlushes.WithLabelValues("dead_letter").Inc()
		s.spill(batch, err)
		return
	}

	// requeue at the front, original order preserved for the next attempt
	s.queue = append(batch, s.queue...)
	s.notBefore = s.now().Add(s.backoff(attempts))
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.AuditFlushes.WithLabelValues("error").Inc()
	metrics.AuditQueueDepth.Set(float64(depth))
	logger.Error("❌ Audit batch delivery failed, requeued",
		"error", err,
		"batch_size", len(batch),
		"attempt", attempts,
		"queue_depth", depth,
	)
}

func (s *AuditService) backoff(attempt int) time.Duration {
	d := s.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.backoffMax {
			return s.backoffMax
		}
	}
	if d > s.backoffMax {
		d = s.backoffMax
	}
	return d
}

func (s *AuditService) spill(batch []*model.AuditLogEntry, cause error) {
	metrics.AuditDeadLettered.Add(float64(len(batch)))
	if s.deadLetter == nil {
		logger.Error("❌ Audit batch dropped after retry exhaustion, no dead-letter store",
			"error", cause, "dropped", len(batch))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deadLetter.Spill(ctx, batch); err != nil {
		logger.Error("❌ Audit dead-letter spill failed, batch dropped",
			"error", err, "dropped", len(batch))
		return
	}
	logger.Warn("⚠️ Audit batch dead-lettered after retry exhaustion",
		"cause", cause, "batch_size", len(batch))
}

func (s *AuditService) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Close cancels the flush timer and makes a final best-effort drain of
// whatever is still queued. Called on graceful shutdown.
func (s *AuditService) Close() {
	if s.disabled {
		return
	}
	if s.started {
		close(s.stopCh)
		<-s.doneCh
	}

	// ignore the backoff gate on shutdown, this is the last chance
	s.mu.Lock()
	s.notBefore = time.Time{}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for s.QueueDepth() > 0 {
		before := s.QueueDepth()
		s.Flush(ctx)
		if s.QueueDepth() >= before {
			// no progress (backend down), stop trying
			logger.Error("❌ Audit drain incomplete at shutdown", "remaining", s.QueueDepth())
			return
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
