package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
)

// TxStarter opens transactions. *pgxpool.Pool implements it.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var messagesTable = pgx.Identifier{"raw", "telegram_messages"}

var messageColumns = []string{
	"partition_channel", "partition_date", "message_id", "channel_id",
	"channel_username", "channel_name", "message_date", "message_text",
	"has_media", "media_type", "image_path", "views", "forwards", "replies",
	"edited", "edit_date", "pinned", "via_bot", "scraping_session_id", "scraped_at",
}

const deletePartitionSQL = `DELETE FROM raw.telegram_messages
WHERE partition_channel = $1 AND partition_date = $2`

const upsertChannelSQL = `INSERT INTO raw.telegram_channels (
	channel_id, channel_username, channel_name, description, participants_count,
	date_created, is_verified, is_scam, total_messages, scraped_at, loaded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
ON CONFLICT (channel_id) DO UPDATE SET
	channel_username = EXCLUDED.channel_username,
	channel_name = EXCLUDED.channel_name,
	description = EXCLUDED.description,
	participants_count = EXCLUDED.participants_count,
	date_created = EXCLUDED.date_created,
	is_verified = EXCLUDED.is_verified,
	is_scam = EXCLUDED.is_scam,
	total_messages = EXCLUDED.total_messages,
	scraped_at = EXCLUDED.scraped_at,
	loaded_at = NOW()`

// Stats counts what a load touched.
type Stats struct {
	Partitions int `json:"partitions"`
	Messages   int `json:"messages"`
	Channels   int `json:"channels"`
}

// Loader copies lake partitions and channel records into the raw schema.
// Each partition replaces its previous rows in one transaction, so loading
// the same lake twice leaves the tables unchanged.
type Loader struct {
	db     TxStarter
	reader *lake.Reader
	log    *logger.Logger
}

// NewLoader creates a loader reading from reader.
func NewLoader(db TxStarter, reader *lake.Reader) *Loader {
	return &Loader{db: db, reader: reader, log: logger.Get()}
}

// Load loads all channel records, then all partitions.
func (l *Loader) Load(ctx context.Context) (Stats, error) {
	var stats Stats

	n, err := l.LoadChannels(ctx)
	if err != nil {
		return stats, err
	}
	stats.Channels = n

	parts, err := l.reader.Partitions()
	if err != nil {
		return stats, err
	}
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := l.LoadPartition(ctx, p)
		if err != nil {
			return stats, err
		}
		stats.Partitions++
		stats.Messages += n
	}

	l.log.Info().
		Int("partitions", stats.Partitions).
		Int("messages", stats.Messages).
		Int("channels", stats.Channels).
		Msg("warehouse: load complete")
	return stats, nil
}

// LoadChannels upserts every channel side record.
func (l *Loader) LoadChannels(ctx context.Context) (int, error) {
	channels, err := l.reader.Channels()
	if err != nil {
		return 0, err
	}
	if len(channels) == 0 {
		return 0, nil
	}

	err = l.inTx(ctx, func(tx pgx.Tx) error {
		for i := range channels {
			if _, err := tx.Exec(ctx, upsertChannelSQL, channelArgs(&channels[i])...); err != nil {
				return fmt.Errorf("upsert channel %d: %w", channels[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(channels), nil
}

// LoadPartition replaces the rows of one (channel, date) partition.
func (l *Loader) LoadPartition(ctx context.Context, p lake.PartitionFile) (int, error) {
	date, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return 0, fmt.Errorf("partition %s: bad date: %w", p.Path, err)
	}

	msgs, err := l.reader.ReadPartition(p)
	if err != nil {
		return 0, err
	}
	rows := messageRows(p.Channel, date, msgs)
	if skipped := len(msgs) - len(rows); skipped > 0 {
		l.log.Warn().Str("partition", p.Path).Int("skipped", skipped).Msg("warehouse: messages without event time skipped")
	}

	err = l.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deletePartitionSQL, p.Channel, date); err != nil {
			return fmt.Errorf("clear partition %s: %w", p.Path, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, messagesTable, messageColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy partition %s: %w", p.Path, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.log.Debug().Str("partition", p.Path).Int("messages", len(rows)).Msg("warehouse: partition loaded")
	return len(rows), nil
}

func (l *Loader) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// messageRows converts messages to COPY rows in messageColumns order.
// Messages without an event time are dropped.
func messageRows(channel string, date time.Time, msgs []models.Message) [][]any {
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		if m.Date == nil {
			continue
		}
		rows = append(rows, []any{
			channel,
			date,
			m.MessageID,
			m.ChannelID,
			m.ChannelUsername,
			m.ChannelName,
			m.Date.UTC(),
			m.Text,
			m.HasMedia,
			m.MediaType,
			m.ImagePath,
			m.Views,
			m.Forwards,
			m.Replies,
			m.Edited,
			m.EditDate,
			m.Pinned,
			m.ViaBotID,
			m.SessionID,
			m.HarvestedAt.UTC(),
		})
	}
	return rows
}

func channelArgs(c *models.Channel) []any {
	return []any{
		c.ID,
		c.Username,
		c.Title,
		c.Description,
		c.Subscribers,
		c.CreatedAt,
		c.Verified,
		c.Scam,
		c.TotalMessages,
		c.HarvestedAt.UTC(),
	}
}
