package telegram

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// ChannelMeta is the channel metadata returned by the provider.
type ChannelMeta struct {
	ID            int64      // channel id
	AccessHash    int64      // access hash for api calls
	Username      string     // channel username (without @)
	Title         string     // channel title
	About         string     // channel description
	Participants  *int       // subscriber count, nil when hidden
	Date          *time.Time // creation time
	Verified      bool       // verified badge
	Scam          bool       // scam flag
	ReadInboxMax  int        // highest read message id, used as total-message counter
	RequestedName string     // identifier as configured
	Key           string     // canonical name used for lake paths, see ChannelKey
}

// MediaKind classifies an attachment.
type MediaKind string

// MediaKind constants.
const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// MediaRef describes an attachment without fetching it.
type MediaRef struct {
	Kind     MediaKind
	TypeName string // provider type name, e.g. messageMediaPhoto
	MimeType string
	FileName string
	Size     int64

	// Location is nil when the attachment cannot be downloaded.
	Location tg.InputFileLocationClass
}

// Downloadable reports whether the attachment is an image we can fetch.
func (r *MediaRef) Downloadable() bool {
	if r == nil || r.Location == nil {
		return false
	}
	switch r.Kind {
	case MediaPhoto:
		return true
	case MediaDocument:
		return strings.Contains(r.MimeType, "image")
	}
	return false
}

// RawMessage is a provider message with every optional field explicit.
type RawMessage struct {
	ID       int        // message id (unique within channel)
	Date     *time.Time // event time, UTC
	Text     string     // message text content
	Service  bool       // join/pin/etc. events
	Media    *MediaRef  // nil when the message carries no media
	Views    *int       // view count
	Forwards *int       // forward count
	Replies  *int       // reply count
	EditDate *time.Time // last edit time
	Pinned   bool
	ViaBotID *int64
}

// Cursor positions a backward page request.
type Cursor struct {
	Before   time.Time // only messages strictly older than this
	BeforeID int       // message id offset; 0 for the first page
}

// EventTime converts a provider unix timestamp to canonical UTC. Zero means
// the provider did not supply a time.
func EventTime(unix int) *time.Time {
	if unix <= 0 {
		return nil
	}
	t := time.Unix(int64(unix), 0).UTC()
	return &t
}

// NormalizeUsername strips @ prefixes and t.me links.
func NormalizeUsername(id string) string {
	id = strings.TrimSpace(id)
	for _, prefix := range []string{"https://", "http://"} {
		id = strings.TrimPrefix(id, prefix)
	}
	id = strings.TrimPrefix(id, "t.me/")
	id = strings.TrimPrefix(id, "telegram.me/")
	id = strings.TrimPrefix(id, "@")
	if i := strings.IndexAny(id, "/?"); i >= 0 {
		id = id[:i]
	}
	return id
}

// ChannelKey is the spelling-independent name of a channel: "@Foo",
// "foo" and "https://t.me/foo" all map to "foo".
func ChannelKey(id string) string {
	return strings.ToLower(NormalizeUsername(id))
}
