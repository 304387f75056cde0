package harvest

import (
	"time"

	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// ChannelRecord builds the channel side record from provider metadata.
func ChannelRecord(meta *telegram.ChannelMeta, now time.Time) *models.Channel {
	rec := &models.Channel{
		ID:            meta.ID,
		Username:      meta.Username,
		Title:         meta.Title,
		Description:   meta.About,
		CreatedAt:     meta.Date,
		Verified:      meta.Verified,
		Scam:          meta.Scam,
		TotalMessages: meta.ReadInboxMax,
		HarvestedAt:   now.UTC(),
	}
	if meta.Participants != nil {
		rec.Subscribers = *meta.Participants
	}
	return rec
}
