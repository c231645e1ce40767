package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	batches     [][]*model.AuditLogEntry
	failFirst   int // fail this many BulkInsert calls before succeeding
	calls       int
	queryResult *model.AuditQueryResult
	queryErr    error
	lastFilters model.AuditQueryFilters
	lastToken   string
}

func (f *fakeBackend) BulkInsert(_ context.Context, entries []*model.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return errors.New("backend unavailable")
	}
	batch := make([]*model.AuditLogEntry, len(entries))
	copy(batch, entries)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeBackend) Query(_ context.Context, filters model.AuditQueryFilters, userToken string) (*model.AuditQueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilters = filters
	f.lastToken = userToken
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryResult != nil {
		return f.queryResult, nil
	}
	return &model.AuditQueryResult{Entries: []*model.AuditLogEntry{}}, nil
}

func (f *fakeBackend) delivered() []*model.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*model.AuditLogEntry
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type fakeDeadLetter struct {
	mu      sync.Mutex
	spilled []*model.AuditLogEntry
	err     error
}

func (f *fakeDeadLetter) Spill(_ context.Context, entries []*model.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.spilled = append(f.spilled, entries...)
	return nil
}

func testAuditConfig() config.AuditConfig {
	return config.AuditConfig{
		BatchSize:     100,
		BatchInterval: 5,
		MaxRetries:    3,
		BackoffBase:   1,
		BackoffMax:    1,
		SensitiveKeys: []string{"password", "token", "secret", "apiKey"},
	}
}

func newTestService(backend AuditBackend, dl DeadLetter) *AuditService {
	svc := NewAuditService(testAuditConfig(), backend, dl)
	// every clock read jumps another hour ahead, so the backoff gate never
	// blocks the consecutive flushes the tests force
	var mu sync.Mutex
	var reads int
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		reads++
		return time.Now().Add(time.Duration(reads) * time.Hour)
	}
	return svc
}

func entry(i int) *model.AuditLogEntry {
	return &model.AuditLogEntry{
		Action:   model.ActionRequest,
		Resource: model.ResourceFunction,
		Success:  true,
		TenantID: "tenant-a",
		Metadata: map[string]interface{}{"seq": i},
	}
}

func TestBatchDeliveryInOrder(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewAuditService(testAuditConfig(), backend, nil)

	for i := 0; i < 250; i++ {
		svc.Log(entry(i))
	}

	// Log fires async size-triggered flushes at the 100 mark; force flush
	// cycles until the queue is drained, then inspect what arrived
	deadline := time.Now().Add(2 * time.Second)
	for svc.QueueDepth() > 0 && time.Now().Before(deadline) {
		svc.Flush(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	all := backend.delivered()
	require.Len(t, all, 250)
	backend.mu.Lock()
	for _, batch := range backend.batches {
		assert.LessOrEqual(t, len(batch), 100)
	}
	backend.mu.Unlock()
	for i, e := range all {
		assert.Equal(t, i, e.Metadata["seq"], "relative order must be preserved")
	}
}

func TestRequeueOnFailure(t *testing.T) {
	backend := &fakeBackend{failFirst: 1}
	svc := newTestService(backend, nil)

	for i := 0; i < 5; i++ {
		svc.Log(entry(i))
	}
	require.Equal(t, 5, svc.QueueDepth())

	// first flush fails, batch must be requeued intact
	svc.Flush(context.Background())
	assert.Equal(t, 5, svc.QueueDepth())
	assert.Empty(t, backend.delivered())

	// second flush delivers the same batch, nothing lost or duplicated
	svc.Flush(context.Background())
	assert.Equal(t, 0, svc.QueueDepth())
	all := backend.delivered()
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, i, e.Metadata["seq"])
	}
}

func TestRequeuePreservesOrderAgainstNewEntries(t *testing.T) {
	backend := &fakeBackend{failFirst: 1}
	svc := newTestService(backend, nil)

	svc.Log(entry(0))
	svc.Log(entry(1))
	svc.Flush(context.Background()) // fails, 0 and 1 go back to the front

	svc.Log(entry(2))
	svc.Flush(context.Background())

	all := backend.delivered()
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, i, e.Metadata["seq"])
	}
}

func TestDeadLetterAfterRetryExhaustion(t *testing.T) {
	backend := &fakeBackend{failFirst: 100}
	dl := &fakeDeadLetter{}
	svc := newTestService(backend, dl)

	for i := 0; i < 4; i++ {
		svc.Log(entry(i))
	}

	// MaxRetries=3: two failed attempts requeue, the third spills
	svc.Flush(context.Background())
	assert.Equal(t, 4, svc.QueueDepth())
	svc.Flush(context.Background())
	assert.Equal(t, 4, svc.QueueDepth())
	svc.Flush(context.Background())
	assert.Equal(t, 0, svc.QueueDepth())

	dl.mu.Lock()
	defer dl.mu.Unlock()
	assert.Len(t, dl.spilled, 4)
}

func TestDeadLetterDropWithoutStore(t *testing.T) {
	backend := &fakeBackend{failFirst: 100}
	svc := newTestService(backend, nil)

	svc.Log(entry(0))
	for i := 0; i < 3; i++ {
		svc.Flush(context.Background())
	}
	// dropped with a critical log, not stuck in the queue
	assert.Equal(t, 0, svc.QueueDepth())
}

func TestLogFillsDefaults(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend, nil)

	e := &model.AuditLogEntry{Action: model.ActionRequest, Success: true}
	svc.Log(e)

	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.CorrelationID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, model.SeverityInfo, e.Severity)

	// a second entry gets its own correlation id
	e2 := &model.AuditLogEntry{Action: model.ActionRequest, Success: true}
	svc.Log(e2)
	assert.NotEqual(t, e.CorrelationID, e2.CorrelationID)

	// explicit correlation ids are kept
	e3 := &model.AuditLogEntry{Action: model.ActionRequest, Success: true, CorrelationID: "corr-1"}
	svc.Log(e3)
	assert.Equal(t, "corr-1", e3.CorrelationID)
}

func TestLogDefaultSeverityByAction(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend, nil)

	cases := []struct {
		action  string
		success bool
		want    model.Severity
	}{
		{model.ActionRequest, true, model.SeverityInfo},
		{model.ActionRequest, false, model.SeverityError},
		{model.ActionLoginFailed, false, model.SeverityWarning},
		{model.ActionTenantSuspended, true, model.SeverityCritical},
	}
	for _, tc := range cases {
		e := &model.AuditLogEntry{Action: tc.action, Success: tc.success}
		svc.Log(e)
		assert.Equal(t, tc.want, e.Severity, "action %s", tc.action)
	}
}

func TestLogSanitizesMetadataBeforeEnqueue(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend, nil)

	e := &model.AuditLogEntry{
		Action:  model.ActionRequest,
		Success: true,
		Metadata: map[string]interface{}{
			"password": "secret123",
			"nested": map[string]interface{}{
				"token": "abc",
				"safe":  "keep-me",
			},
		},
	}
	svc.Log(e)

	assert.Equal(t, "***", e.Metadata["password"])
	nested := e.Metadata["nested"].(map[string]interface{})
	assert.Equal(t, "***", nested["token"])
	assert.Equal(t, "keep-me", nested["safe"])
}

func TestDisabledModeNoOps(t *testing.T) {
	svc := NewAuditService(testAuditConfig(), nil, nil)
	assert.False(t, svc.Enabled())

	// Log returns without error and queues nothing
	svc.Log(entry(0))
	assert.Equal(t, 0, svc.QueueDepth())

	res, err := svc.Query(context.Background(), model.AuditQueryFilters{}, "token")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Entries)

	stats, err := svc.Statistics(context.Background(), "tenant-a", time.Time{}, time.Time{}, "token")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	out, contentType, err := svc.Export(context.Background(), model.AuditQueryFilters{}, model.ExportJSON, "token")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "[]", string(out))

	// Close and Flush are safe too
	svc.Flush(context.Background())
	svc.Close()
}

func TestCloseDrainsQueue(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend, nil)
	svc.Start()

	for i := 0; i < 7; i++ {
		svc.Log(entry(i))
	}
	svc.Close()

	assert.Equal(t, 0, svc.QueueDepth())
	assert.Len(t, backend.delivered(), 7)
}

func TestConcurrentLogDuringFlush(t *testing.T) {
	backend := &fakeBackend{}
	svc := newTestService(backend, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				svc.Log(&model.AuditLogEntry{
					Action:   model.ActionRequest,
					Success:  true,
					Metadata: map[string]interface{}{"worker": fmt.Sprintf("g%d-%d", g, i)},
				})
			}
		}(g)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for svc.QueueDepth() > 0 && time.Now().Before(deadline) {
		svc.Flush(context.Background())
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, backend.delivered(), 200)
}

func TestBackoffGrowth(t *testing.T) {
	svc := newTestService(&fakeBackend{}, nil)
	svc.backoffBase = 100 * time.Millisecond
	svc.backoffMax = time.Second

	assert.Equal(t, 100*time.Millisecond, svc.backoff(1))
	assert.Equal(t, 200*time.Millisecond, svc.backoff(2))
	assert.Equal(t, 400*time.Millisecond, svc.backoff(3))
	assert.Equal(t, 800*time.Millisecond, svc.backoff(4))
	assert.Equal(t, time.Second, svc.backoff(5))
	assert.Equal(t, time.Second, svc.backoff(10))
}
