package lake

import (
	"context"
	"fmt"
	"sort"

	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
)

// PartitionWriteError means a partition could not be committed. It aborts
// the run.
type PartitionWriteError struct {
	Channel string
	Date    string
	Err     error
}

func (e *PartitionWriteError) Error() string {
	return fmt.Sprintf("write partition %s/%s: %v", e.Channel, e.Date, e.Err)
}

func (e *PartitionWriteError) Unwrap() error { return e.Err }

// Partition identifies a committed partition.
type Partition struct {
	Channel  string `json:"channel"`
	Date     string `json:"date"`
	Path     string `json:"path"`
	Messages int    `json:"messages"`
}

// Notifier is told about each committed partition.
type Notifier interface {
	PartitionWritten(ctx context.Context, p Partition) error
}

// PartitionWriter groups messages by event date and replaces each
// (channel, date) partition in the sink.
type PartitionWriter struct {
	sink     Sink
	notifier Notifier
	log      *logger.Logger
}

// NewPartitionWriter creates a writer. notifier may be nil.
func NewPartitionWriter(sink Sink, notifier Notifier) *PartitionWriter {
	return &PartitionWriter{sink: sink, notifier: notifier, log: logger.Get()}
}

// Write commits messages for channel and returns the number written.
// Messages without event time are dropped. Within a partition the first copy
// of a message id wins and records are ordered newest first. Partitions are
// committed in ascending date order.
func (w *PartitionWriter) Write(ctx context.Context, channel string, messages []models.Message) (int, error) {
	groups := make(map[string][]models.Message)
	seen := make(map[string]map[int]struct{})
	dropped := 0

	for _, m := range messages {
		date, ok := m.EventDate()
		if !ok {
			dropped++
			continue
		}
		if seen[date] == nil {
			seen[date] = make(map[int]struct{})
		}
		if _, dup := seen[date][m.MessageID]; dup {
			continue
		}
		seen[date][m.MessageID] = struct{}{}
		groups[date] = append(groups[date], m)
	}

	if dropped > 0 {
		w.log.Warn().Str("channel", channel).Int("dropped", dropped).Msg("lake: dropping messages without event time")
	}

	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	written := 0
	for _, date := range dates {
		group := groups[date]
		sort.SliceStable(group, func(i, j int) bool { return group[i].MessageID > group[j].MessageID })

		if err := w.sink.ReplacePartition(ctx, channel, date, group); err != nil {
			return written, &PartitionWriteError{Channel: channel, Date: date, Err: err}
		}
		written += len(group)

		w.log.Info().Str("channel", channel).Str("date", date).Int("messages", len(group)).Msg("lake: partition written")

		if w.notifier != nil {
			p := Partition{Channel: channel, Date: date, Path: PartitionPath(channel, date), Messages: len(group)}
			if err := w.notifier.PartitionWritten(ctx, p); err != nil {
				w.log.Warn().Err(err).Str("channel", channel).Str("date", date).Msg("lake: partition notification failed")
			}
		}
	}
	return written, nil
}
