package models

import "time"

// Message is a normalized channel message as stored in the lake.
type Message struct {
	MessageID       int    `json:"message_id"`
	ChannelID       int64  `json:"channel_id"`
	ChannelUsername string `json:"channel_username"`
	ChannelName     string `json:"channel_name"`

	// Date is the event time in UTC; nil when the provider did not supply one.
	Date *time.Time `json:"message_date"`
	Text string     `json:"message_text"`

	// media
	HasMedia  bool    `json:"has_media"`
	MediaType *string `json:"media_type"`
	ImagePath *string `json:"image_path"`

	// engagement
	Views    int `json:"views"`
	Forwards int `json:"forwards"`
	Replies  int `json:"replies"`

	Edited   bool       `json:"edited"`
	EditDate *time.Time `json:"edit_date"`
	Pinned   bool       `json:"pinned"`
	ViaBotID *int64     `json:"via_bot"`

	// harvest metadata
	SessionID   string    `json:"scraping_session_id"`
	HarvestedAt time.Time `json:"scraped_at"`
}

// EventDate returns the partition date key (YYYY-MM-DD, UTC) and false when
// the message has no event time.
func (m *Message) EventDate() (string, bool) {
	if m.Date == nil || m.Date.IsZero() {
		return "", false
	}
	return m.Date.UTC().Format(time.DateOnly), true
}

// MediaAsset is an attachment persisted to the media store.
type MediaAsset struct {
	MessageID int    `json:"message_id"`
	Channel   string `json:"channel"`
	Path      string `json:"path"`   // location in the media store
	Format    string `json:"format"` // original extension without dot, e.g. "jpg"
	Size      int64  `json:"size"`
}
