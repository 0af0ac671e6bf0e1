package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ordermesh/eventrelay/internal/core_event/domain"
)

// --- Mocks ---

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) ClaimBatch(ctx context.Context, now time.Time, batchSize int) ([]*domain.OutboxRecord, error) {
	args := m.Called(ctx, now, batchSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxRecord), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	args := m.Called(ctx, id, publishedAt)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id string, reason string, now, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, reason, now, nextAttemptAt)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkDeadLettered(ctx context.Context, id string, reason string, now time.Time) error {
	args := m.Called(ctx, id, reason, now)
	return args.Error(0)
}

func (m *MockOutboxRepository) Requeue(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) SweepStuck(ctx context.Context, claimedBefore time.Time) (int, error) {
	args := m.Called(ctx, claimedBefore)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		AttemptCeiling: 5,
		BackoffBase:    2 * time.Second,
		BackoffMax:     5 * time.Minute,
		SweepTimeout:   time.Minute,
	}
}

func testRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:   time.Second,
		BatchSize:      10,
		PublishTimeout: time.Second,
		SweepInterval:  time.Minute,
		SourceService:  "inventory-service",
		SubjectRoot:    "events",
	}
}

func claimedRecord(id, aggregateID string, attempts int) *domain.OutboxRecord {
	return &domain.OutboxRecord{
		ID:             id,
		AggregateID:    aggregateID,
		EventType:      "stock-adjusted",
		PayloadVersion: "1.0",
		Payload:        []byte(`{"delta":1}`),
		Status:         domain.StatusPublishing,
		AttemptCount:   attempts,
		CreatedAt:      time.Now().UTC(),
	}
}

func newTestRelay(repo *MockOutboxRepository, pub *MockPublisher) *Relay {
	tracker := NewDeliveryTracker(repo, testLogger(), testTrackerConfig())
	return NewRelay(tracker, pub, nil, testLogger(), testRelayConfig())
}

// --- Tests ---

func TestRelay_RunOncePublishesClaimedBatch(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	recA := claimedRecord("rec-a", "agg-1", 0)
	recB := claimedRecord("rec-b", "agg-2", 0)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{recA, recB}, nil)
	pub.On("Publish", mock.Anything, "events.inventory-service.stock-adjusted.v1", mock.Anything).
		Return(nil)
	repo.On("MarkPublished", mock.Anything, "rec-a", mock.Anything).Return(nil)
	repo.On("MarkPublished", mock.Anything, "rec-b", mock.Anything).Return(nil)

	published, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, domain.StatusPublished, recA.Status)
	assert.Equal(t, domain.StatusPublished, recB.Status)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRelay_RunOnceEmptyBatch(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{}, nil)

	published, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, published)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_TransientFailureSchedulesRetry(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	rec := claimedRecord("rec-a", "agg-1", 0)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{rec}, nil)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable"))
	repo.On("MarkFailed", mock.Anything, "rec-a", "broker unavailable", mock.Anything, mock.Anything).
		Return(nil)

	published, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	repo.AssertNotCalled(t, "MarkDeadLettered", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_RetryBackoffGrowsWithAttempts(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	rec := claimedRecord("rec-a", "agg-1", 2)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{rec}, nil)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("timeout"))

	var scheduledDelay time.Duration
	repo.On("MarkFailed", mock.Anything, "rec-a", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			now := args.Get(3).(time.Time)
			next := args.Get(4).(time.Time)
			scheduledDelay = next.Sub(now)
		}).
		Return(nil)

	_, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	// Third attempt: base 2s doubled twice.
	assert.Equal(t, 8*time.Second, scheduledDelay)
}

func TestRelay_AttemptCeilingDeadLetters(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	rec := claimedRecord("rec-a", "agg-1", 4)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{rec}, nil)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("still down"))
	repo.On("MarkDeadLettered", mock.Anything, "rec-a", "still down", mock.Anything).
		Return(nil)

	_, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeadLettered, rec.Status)
	assert.Equal(t, 5, rec.AttemptCount)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_PermanentFailureDeadLettersImmediately(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	// A malformed payload version makes the envelope unroutable; retrying
	// cannot fix it.
	rec := claimedRecord("rec-a", "agg-1", 0)
	rec.PayloadVersion = "broken"
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{rec}, nil)
	repo.On("MarkDeadLettered", mock.Anything, "rec-a", mock.Anything, mock.Anything).
		Return(nil)

	_, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeadLettered, rec.Status)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelay_FailureBlocksLaterRecordsOfSameAggregate(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	first := claimedRecord("rec-1", "agg-1", 0)
	second := claimedRecord("rec-2", "agg-1", 0)
	other := claimedRecord("rec-3", "agg-2", 0)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{first, second, other}, nil)

	// Only the first publish fails; rec-3 belongs to another aggregate and
	// must still go out.
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("nope")).Once()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()

	repo.On("MarkFailed", mock.Anything, "rec-1", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("Requeue", mock.Anything, "rec-2").Return(nil)
	repo.On("MarkPublished", mock.Anything, "rec-3", mock.Anything).Return(nil)

	published, err := newTestRelay(repo, pub).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, domain.StatusPending, second.Status)
	assert.Zero(t, second.AttemptCount, "a requeued record must not consume an attempt")
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

// contextBoundPublisher fails when the attempt context is already done,
// mirroring how the JetStream client honors cancellation.
type contextBoundPublisher struct {
	published int
}

func (p *contextBoundPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.published++
	return nil
}

func TestRelay_ShutdownFinishesInFlightBatch(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := &contextBoundPublisher{}

	// One attempt away from the ceiling: a shutdown-induced failure here
	// would dead-letter a record the broker could still accept.
	rec := claimedRecord("rec-a", "agg-1", 4)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{rec}, nil)
	repo.On("MarkPublished", mock.Anything, "rec-a", mock.Anything).Return(nil)

	tracker := NewDeliveryTracker(repo, testLogger(), testTrackerConfig())
	relay := NewRelay(tracker, pub, nil, testLogger(), testRelayConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	published, err := relay.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, pub.published)
	assert.Equal(t, domain.StatusPublished, rec.Status)
	assert.NotEqual(t, domain.StatusDeadLettered, rec.Status)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkDeadLettered", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestRelay_RunStopsOnContextCancel(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	repo.On("SweepStuck", mock.Anything, mock.Anything).Return(0, nil)
	repo.On("ClaimBatch", mock.Anything, mock.Anything, 10).
		Return([]*domain.OutboxRecord{}, nil).Maybe()

	cfg := testRelayConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.SweepInterval = time.Hour

	tracker := NewDeliveryTracker(repo, testLogger(), testTrackerConfig())
	relay := NewRelay(tracker, pub, nil, testLogger(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay loop did not stop after cancellation")
	}
}

func TestTracker_SweepStuckUsesLivenessCutoff(t *testing.T) {
	repo := new(MockOutboxRepository)

	var cutoff time.Time
	repo.On("SweepStuck", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cutoff = args.Get(1).(time.Time) }).
		Return(3, nil)

	tracker := NewDeliveryTracker(repo, testLogger(), testTrackerConfig())
	count, err := tracker.SweepStuck(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Minute), cutoff, 2*time.Second)
}

func TestTracker_MarkPublishedRejectsIllegalState(t *testing.T) {
	repo := new(MockOutboxRepository)
	tracker := NewDeliveryTracker(repo, testLogger(), testTrackerConfig())

	rec := claimedRecord("rec-a", "agg-1", 0)
	rec.Status = domain.StatusPublished

	err := tracker.MarkPublished(context.Background(), rec)
	assert.True(t, domain.IsInvalidTransition(err))
	repo.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything)
}
