package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

type fakeOutbox struct {
	mu        sync.Mutex
	events    []*model.OutboxEvent
	processed map[uuid.UUID]bool
	failed    map[uuid.UUID]string
	cutoff    time.Time
}

func newFakeOutbox(events ...*model.OutboxEvent) *fakeOutbox {
	return &fakeOutbox{
		events:    events,
		processed: make(map[uuid.UUID]bool),
		failed:    make(map[uuid.UUID]string),
	}
}

func (f *fakeOutbox) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range f.events {
		if !f.processed[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = true
	return nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errorMessage
	return nil
}

func (f *fakeOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = before
	return int64(len(f.processed)), nil
}

type recordingBroker struct {
	mu       sync.Mutex
	failures int
	channels []string
	messages []interface{}
}

func (b *recordingBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.channels = append(b.channels, channel)
	b.messages = append(b.messages, message)
	return nil
}

func (b *recordingBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBroker) Close() error { return nil }

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		Channel:         "queue.events",
		BatchSize:       10,
		PollInterval:    10 * time.Millisecond,
		RetryAttempts:   2,
		RetryDelay:      time.Millisecond,
		Retention:       time.Hour,
		CleanupInterval: time.Hour,
	}
}

func newEvent(eventType string) *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   []byte(`{"type":"` + eventType + `"}`),
		Status:    model.OutboxStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestProcessPendingPublishesAndMarksProcessed(t *testing.T) {
	added := newEvent(model.EventPatientAdded)
	moved := newEvent(model.EventPatientMoved)
	repo := newFakeOutbox(added, moved)
	broker := &recordingBroker{}
	m := metrics.New("test", prometheus.NewRegistry())

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	delivered, err := p.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"queue.events", "queue.events"}, broker.channels)
	assert.True(t, repo.processed[added.ID])
	assert.True(t, repo.processed[moved.ID])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))
}

func TestProcessPendingRetriesThenSucceeds(t *testing.T) {
	evt := newEvent(model.EventQueueCleared)
	repo := newFakeOutbox(evt)
	broker := &recordingBroker{failures: 1}
	m := metrics.New("test", prometheus.NewRegistry())

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	delivered, err := p.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, delivered)
	assert.True(t, repo.processed[evt.ID])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventQueueCleared)))
}

func TestProcessPendingMarksFailedAfterRetries(t *testing.T) {
	evt := newEvent(model.EventPatientRemoved)
	repo := newFakeOutbox(evt)
	broker := &recordingBroker{failures: 5}
	m := metrics.New("test", prometheus.NewRegistry())

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), m)
	delivered, err := p.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, delivered)
	assert.False(t, repo.processed[evt.ID])
	assert.Equal(t, "broker unavailable", repo.failed[evt.ID])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestCleanupUsesRetention(t *testing.T) {
	repo := newFakeOutbox()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p := NewOutboxProcessor(repo, &recordingBroker{}, testConfig(), logger.Nop(), metrics.New("test", prometheus.NewRegistry()))
	p.now = func() time.Time { return now }

	_, err := p.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), repo.cutoff)
}

func TestStartStopsOnCancel(t *testing.T) {
	evt := newEvent(model.EventPatientAdded)
	repo := newFakeOutbox(evt)
	broker := &recordingBroker{}

	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), metrics.New("test", prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.processed[evt.ID]
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestNewOutboxProcessorRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	assert.Panics(t, func() {
		NewOutboxProcessor(newFakeOutbox(), &recordingBroker{}, cfg, logger.Nop(), metrics.New("test", prometheus.NewRegistry()))
	})
}
