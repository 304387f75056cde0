package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/models"
)

// MockNATSClient mocks the nats client operations we need
type MockNATSClient struct {
	PublishedSubject string
	PublishedData    any
	PublishError     error
}

func (m *MockNATSClient) Publish(ctx context.Context, subject string, data any) error {
	m.PublishedSubject = subject
	m.PublishedData = data
	return m.PublishError
}

func TestNATSPublisher_PublishRunCompleted(t *testing.T) {
	mock := &MockNATSClient{}
	pub := NewNATSPublisher(mock)

	start := time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC)
	summary := models.NewRunSummary("sess-1", start, models.RunConfiguration{})
	require.NoError(t, summary.Record(models.ChannelOutcome{Channel: "@a", MessagesScraped: 4, Success: true}))
	require.NoError(t, summary.Finalize(start.Add(time.Minute), nil))

	require.NoError(t, pub.PublishRunCompleted(context.Background(), summary))

	assert.Equal(t, SubjectRunCompleted, mock.PublishedSubject)
	event, ok := mock.PublishedData.(RunCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, 4, event.TotalMessages)
	assert.Equal(t, 1, event.ChannelsSuccess)
	require.NotNil(t, event.EndTime)
}

func TestNATSPublisher_PartitionWritten(t *testing.T) {
	mock := &MockNATSClient{}
	now := time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC)
	pub := NewNATSPublisher(mock).ForSession("sess-2")
	pub.now = func() time.Time { return now }

	err := pub.PartitionWritten(context.Background(), lake.Partition{Channel: "@a", Date: "2024-06-10", Path: "p", Messages: 3})

	require.NoError(t, err)
	assert.Equal(t, SubjectPartitionWritten, mock.PublishedSubject)
	event := mock.PublishedData.(PartitionWrittenEvent)
	assert.Equal(t, "sess-2", event.SessionID)
	assert.Equal(t, 3, event.Messages)
	assert.Equal(t, now, event.WrittenAt)
}

func TestNATSPublisher_Error(t *testing.T) {
	boom := errors.New("no responders")
	pub := NewNATSPublisher(&MockNATSClient{PublishError: boom})

	err := pub.PartitionWritten(context.Background(), lake.Partition{})

	assert.ErrorIs(t, err, boom)
}
