package models

import (
	"strings"
	"time"
)

// Channel is the side record describing a harvested channel.
type Channel struct {
	ID            int64      `json:"channel_id"`
	Username      string     `json:"channel_username"`
	Title         string     `json:"channel_name"`
	Description   string     `json:"description"`
	Subscribers   int        `json:"participants_count"`
	CreatedAt     *time.Time `json:"date_created"`
	Verified      bool       `json:"is_verified"`
	Scam          bool       `json:"is_scam"`
	TotalMessages int        `json:"total_messages"`
	HarvestedAt   time.Time  `json:"scraped_at"`
}

// SafeChannelName turns a channel identifier into a file-name fragment.
func SafeChannelName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
