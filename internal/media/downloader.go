package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// Source fetches attachment bytes. *transport.Transport implements it.
type Source interface {
	DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error
}

// FetchError describes a failed attachment download. It is logged, never
// returned to callers.
type FetchError struct {
	Channel   string
	MessageID int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("media %s/%d: %v", e.Channel, e.MessageID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Downloader stores image attachments under a deterministic path.
type Downloader struct {
	src   Source
	store Store
	log   *logger.Logger
}

// NewDownloader creates a downloader.
func NewDownloader(src Source, store Store) *Downloader {
	return &Downloader{src: src, store: store, log: logger.Get()}
}

// Path returns the store path for an attachment:
// {channel}/{messageId}_{YYYYmmdd_HHMMSS}.{ext}.
func Path(channel string, messageID int, date time.Time, ext string) string {
	name := fmt.Sprintf("%d_%s.%s", messageID, date.UTC().Format("20060102_150405"), ext)
	return path.Join(models.SafeChannelName(channel), name)
}

// Download fetches and stores the attachment of raw. It returns nil when the
// message has no supported attachment or anything fails.
func (d *Downloader) Download(ctx context.Context, raw telegram.RawMessage, channel string) *models.MediaAsset {
	if raw.Media == nil || !raw.Media.Downloadable() {
		return nil
	}
	if raw.Date == nil {
		d.log.Warn().Str("channel", channel).Int("message_id", raw.ID).Msg("media: skipping attachment without event time")
		return nil
	}

	ext := Extension(raw.Media)
	rel := Path(channel, raw.ID, *raw.Date, ext)

	var buf bytes.Buffer
	if err := d.src.DownloadMedia(ctx, raw.Media, &buf); err != nil {
		d.logFailure(&FetchError{Channel: channel, MessageID: raw.ID, Err: err})
		return nil
	}

	stored, err := d.store.Put(rel, buf.Bytes())
	if err != nil {
		d.logFailure(&FetchError{Channel: channel, MessageID: raw.ID, Err: err})
		return nil
	}

	size := int64(buf.Len())
	d.log.Debug().
		Str("channel", channel).
		Int("message_id", raw.ID).
		Str("path", stored).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("media: attachment stored")

	return &models.MediaAsset{
		MessageID: raw.ID,
		Channel:   channel,
		Path:      stored,
		Format:    ext,
		Size:      size,
	}
}

func (d *Downloader) logFailure(err *FetchError) {
	d.log.Warn().
		Err(err.Err).
		Str("channel", err.Channel).
		Int("message_id", err.MessageID).
		Msg("media: download failed")
}

// Extension picks the file extension for an attachment, without the dot.
func Extension(ref *telegram.MediaRef) string {
	if ref.Kind == telegram.MediaPhoto {
		return "jpg"
	}
	if ext := strings.TrimPrefix(path.Ext(ref.FileName), "."); ext != "" {
		return strings.ToLower(ext)
	}
	_, sub, _ := strings.Cut(ref.MimeType, "/")
	switch sub {
	case "", "jpeg", "pjpeg":
		return "jpg"
	case "svg+xml":
		return "svg"
	}
	return sub
}
