// Package fetcher walks a channel history backward within a time window.
package fetcher

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// Source fetches history pages. *transport.Transport implements it.
type Source interface {
	FetchMessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, pageSize int) ([]telegram.RawMessage, error)
}

// MediaResolver stores a message attachment. *media.Downloader implements it.
type MediaResolver interface {
	Download(ctx context.Context, raw telegram.RawMessage, channel string) *models.MediaAsset
}

// Window is the half-open event-time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// TransientFetchError ends a channel fetch. Messages yielded before it stand.
type TransientFetchError struct {
	Channel string
	Err     error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Channel, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Fetcher builds message streams.
type Fetcher struct {
	src       Source
	media     MediaResolver
	pageSize  int
	sessionID string
	now       func() time.Time
	log       *logger.Logger
}

// New creates a fetcher. media may be nil to skip attachments.
func New(src Source, media MediaResolver, pageSize int, sessionID string) *Fetcher {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Fetcher{
		src:       src,
		media:     media,
		pageSize:  pageSize,
		sessionID: sessionID,
		now:       time.Now,
		log:       logger.Get(),
	}
}

// WithClock sets the clock used for harvest timestamps.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// Fetch returns a lazy stream of at most maxMessages messages of meta within
// window, newest first. maxMessages <= 0 means no limit.
func (f *Fetcher) Fetch(ctx context.Context, meta *telegram.ChannelMeta, window Window, maxMessages int) *Stream {
	return &Stream{f: f, ctx: ctx, meta: meta, window: window, max: maxMessages}
}

// Stream is a restartable message sequence. Each range over Messages starts
// a fresh walk from the window end.
type Stream struct {
	f      *Fetcher
	ctx    context.Context
	meta   *telegram.ChannelMeta
	window Window
	max    int

	err     error
	yielded int
	media   int
}

// Err returns the error that ended the last walk, or nil.
func (s *Stream) Err() error { return s.err }

// Yielded returns the number of messages produced by the last walk.
func (s *Stream) Yielded() int { return s.yielded }

// MediaDownloaded returns the number of attachments stored by the last walk.
func (s *Stream) MediaDownloaded() int { return s.media }

// Messages walks the history page by page. The walk stops at maxMessages,
// at the first message older than the window start, or at an empty page.
// Service messages and messages without an event time are skipped and not
// counted.
func (s *Stream) Messages() iter.Seq[models.Message] {
	return func(yield func(models.Message) bool) {
		s.err, s.yielded, s.media = nil, 0, 0

		name := s.channelName()
		cursor := telegram.Cursor{Before: s.window.End}

		for {
			page, err := s.f.src.FetchMessagePage(s.ctx, s.meta, cursor, s.f.pageSize)
			if err != nil {
				s.err = &TransientFetchError{Channel: name, Err: err}
				s.f.log.Warn().Err(err).Str("channel", name).Int("yielded", s.yielded).Msg("fetcher: page failed, ending channel")
				return
			}
			if len(page) == 0 {
				return
			}

			for _, raw := range page {
				if raw.Date == nil {
					s.f.log.Warn().Str("channel", name).Int("message_id", raw.ID).Msg("fetcher: message has no date, skipping")
					continue
				}
				if raw.Date.Before(s.window.Start) {
					return
				}
				if !raw.Date.Before(s.window.End) {
					continue
				}
				if raw.Service {
					continue
				}

				msg := s.normalize(raw, s.mediaKey())
				s.yielded++
				if !yield(msg) {
					return
				}
				if s.max > 0 && s.yielded >= s.max {
					return
				}
			}

			cursor = telegram.Cursor{Before: s.window.End, BeforeID: page[len(page)-1].ID}

			if err := s.ctx.Err(); err != nil {
				s.err = &TransientFetchError{Channel: name, Err: err}
				return
			}
		}
	}
}

func (s *Stream) mediaKey() string {
	if s.meta.Key != "" {
		return s.meta.Key
	}
	return s.channelName()
}

func (s *Stream) channelName() string {
	if s.meta.RequestedName != "" {
		return s.meta.RequestedName
	}
	return s.meta.Username
}

func (s *Stream) normalize(raw telegram.RawMessage, channel string) models.Message {
	msg := models.Message{
		MessageID:       raw.ID,
		ChannelID:       s.meta.ID,
		ChannelUsername: s.meta.Username,
		ChannelName:     s.meta.Title,
		Date:            raw.Date,
		Text:            raw.Text,
		HasMedia:        raw.Media != nil,
		Views:           deref(raw.Views),
		Forwards:        deref(raw.Forwards),
		Replies:         deref(raw.Replies),
		Edited:          raw.EditDate != nil,
		EditDate:        raw.EditDate,
		Pinned:          raw.Pinned,
		ViaBotID:        raw.ViaBotID,
		SessionID:       s.f.sessionID,
		HarvestedAt:     s.f.now().UTC(),
	}

	if raw.Media != nil {
		typeName := raw.Media.TypeName
		msg.MediaType = &typeName

		// the page is already fetched, so its attachments are stored even
		// when the run is cancelled mid-page
		if s.f.media != nil {
			if asset := s.f.media.Download(context.WithoutCancel(s.ctx), raw, channel); asset != nil {
				msg.ImagePath = &asset.Path
				s.media++
			}
		}
	}
	return msg
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
