// Package publisher emits harvest events to NATS.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/models"
)

// Subjects of published events.
const (
	SubjectRunCompleted     = "harvest.run.completed"
	SubjectPartitionWritten = "lake.partition.written"
)

// NATSClient interface to allow mocking. *nats.Client implements it.
type NATSClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// RunCompletedEvent is published once per finalized run.
type RunCompletedEvent struct {
	SessionID       string     `json:"session_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalMessages   int        `json:"total_messages"`
	TotalImages     int        `json:"total_images"`
	ChannelsSuccess int        `json:"channels_success"`
	ChannelsFailed  int        `json:"channels_failed"`
	Cancelled       bool       `json:"cancelled"`
	Error           *string    `json:"error"`
}

// PartitionWrittenEvent is published after each partition commit.
type PartitionWrittenEvent struct {
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	Date      string    `json:"date"`
	Path      string    `json:"path"`
	Messages  int       `json:"messages"`
	WrittenAt time.Time `json:"written_at"`
}

// NATSPublisher implements report.Publisher and lake.Notifier.
type NATSPublisher struct {
	js        NATSClient
	sessionID string
	now       func() time.Time
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{js: client, now: time.Now}
}

// ForSession returns a publisher that tags partition events with sessionID.
func (p *NATSPublisher) ForSession(sessionID string) *NATSPublisher {
	cp := *p
	cp.sessionID = sessionID
	return &cp
}

// PublishRunCompleted publishes the run completion event.
func (p *NATSPublisher) PublishRunCompleted(ctx context.Context, s *models.RunSummary) error {
	event := RunCompletedEvent{
		SessionID:       s.SessionID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		TotalMessages:   s.TotalMessages,
		TotalImages:     s.TotalImages,
		ChannelsSuccess: s.ChannelsSuccess,
		ChannelsFailed:  s.ChannelsFailed,
		Cancelled:       s.Cancelled,
		Error:           s.Error,
	}
	if err := p.js.Publish(ctx, SubjectRunCompleted, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PartitionWritten publishes a partition commit event.
func (p *NATSPublisher) PartitionWritten(ctx context.Context, part lake.Partition) error {
	event := PartitionWrittenEvent{
		SessionID: p.sessionID,
		Channel:   part.Channel,
		Date:      part.Date,
		Path:      part.Path,
		Messages:  part.Messages,
		WrittenAt: p.now().UTC(),
	}
	if err := p.js.Publish(ctx, SubjectPartitionWritten, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
