package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/telegram"
)

var (
	base    = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	harvest = time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)
)

// history serves a newest-first message list the way the provider pages it.
type history struct {
	msgs      []telegram.RawMessage
	failAfter int // fail the page request once this many pages were served; 0 = never
	err       error
	pages     int
	cursors   []telegram.Cursor
}

func (h *history) FetchMessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, pageSize int) ([]telegram.RawMessage, error) {
	h.cursors = append(h.cursors, cursor)
	if h.failAfter > 0 && h.pages >= h.failAfter {
		return nil, h.err
	}
	h.pages++

	var out []telegram.RawMessage
	for _, m := range h.msgs {
		if cursor.BeforeID != 0 && m.ID >= cursor.BeforeID {
			continue
		}
		if cursor.BeforeID == 0 && m.Date != nil && !m.Date.Before(cursor.Before) {
			continue
		}
		out = append(out, m)
		if len(out) == pageSize {
			break
		}
	}
	return out, nil
}

type countingMedia struct{ calls int }

func (c *countingMedia) Download(ctx context.Context, raw telegram.RawMessage, channel string) *models.MediaAsset {
	c.calls++
	return &models.MediaAsset{MessageID: raw.ID, Channel: channel, Path: "/media/" + channel, Format: "jpg"}
}

func at(hours int) *time.Time {
	t := base.Add(time.Duration(hours) * time.Hour)
	return &t
}

// hourly builds n messages, ids n..1, one per hour going back from base+n h.
func hourly(n int) []telegram.RawMessage {
	msgs := make([]telegram.RawMessage, 0, n)
	for id := n; id >= 1; id-- {
		msgs = append(msgs, telegram.RawMessage{ID: id, Date: at(id), Text: "m"})
	}
	return msgs
}

func meta() *telegram.ChannelMeta {
	return &telegram.ChannelMeta{ID: 77, Username: "news", Title: "News", RequestedName: "@news"}
}

func collect(s *Stream) []models.Message {
	var out []models.Message
	for m := range s.Messages() {
		out = append(out, m)
	}
	return out
}

func wideWindow() Window {
	return Window{Start: base.Add(-time.Hour), End: base.Add(1000 * time.Hour)}
}

func TestStream_PagesUntilEmpty(t *testing.T) {
	h := &history{msgs: hourly(25)}
	f := New(h, nil, 10, "sess").WithClock(func() time.Time { return harvest })

	s := f.Fetch(context.Background(), meta(), wideWindow(), 0)
	got := collect(s)

	require.Len(t, got, 25)
	assert.NoError(t, s.Err())
	assert.Equal(t, 25, s.Yielded())
	assert.Equal(t, 25, got[0].MessageID)
	assert.Equal(t, 1, got[24].MessageID)
	// 3 full-or-partial pages then one empty page
	assert.Equal(t, 4, h.pages)
	assert.Equal(t, 16, h.cursors[1].BeforeID)
	assert.Equal(t, 6, h.cursors[2].BeforeID)
}

func TestStream_StopsAtMax(t *testing.T) {
	h := &history{msgs: hourly(10)}
	f := New(h, nil, 100, "sess")

	s := f.Fetch(context.Background(), meta(), wideWindow(), 5)
	got := collect(s)

	assert.Len(t, got, 5)
	assert.Equal(t, 1, h.pages)
}

func TestStream_StopsAtFirstMessageOlderThanWindow(t *testing.T) {
	msgs := []telegram.RawMessage{
		{ID: 5, Date: at(50)},
		{ID: 4, Date: at(40)},
		{ID: 3, Date: at(5)}, // older than window start
		{ID: 2, Date: at(45)},
	}
	h := &history{msgs: msgs}
	f := New(h, nil, 100, "sess")

	got := collect(f.Fetch(context.Background(), meta(), Window{Start: *at(10), End: *at(100)}, 0))

	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].MessageID)
	assert.Equal(t, 4, got[1].MessageID)
}

func TestStream_SkipsServiceMessages(t *testing.T) {
	msgs := []telegram.RawMessage{
		{ID: 4, Date: at(4)},
		{ID: 3, Date: at(3), Service: true},
		{ID: 2, Date: at(2)},
		{ID: 1, Date: at(1)},
	}
	f := New(&history{msgs: msgs}, nil, 100, "sess")

	got := collect(f.Fetch(context.Background(), meta(), wideWindow(), 2))

	require.Len(t, got, 2)
	assert.Equal(t, []int{4, 2}, []int{got[0].MessageID, got[1].MessageID})
}

func TestStream_PageErrorKeepsYielded(t *testing.T) {
	boom := errors.New("connection reset")
	h := &history{msgs: hourly(5), failAfter: 1, err: boom}
	f := New(h, nil, 3, "sess")

	s := f.Fetch(context.Background(), meta(), wideWindow(), 5)
	got := collect(s)

	assert.Len(t, got, 3)
	assert.Equal(t, 3, s.Yielded())
	var tfe *TransientFetchError
	require.ErrorAs(t, s.Err(), &tfe)
	assert.ErrorIs(t, s.Err(), boom)
	assert.Equal(t, "@news", tfe.Channel)
}

func TestStream_FloodWaitStaysInspectable(t *testing.T) {
	h := &history{msgs: hourly(5), failAfter: 1, err: &telegram.FloodWaitError{Seconds: 30}}
	f := New(h, nil, 2, "sess")

	s := f.Fetch(context.Background(), meta(), wideWindow(), 0)
	collect(s)

	var fw *telegram.FloodWaitError
	assert.ErrorAs(t, s.Err(), &fw)
}

func TestStream_RestartsFromScratch(t *testing.T) {
	h := &history{msgs: hourly(6)}
	f := New(h, nil, 4, "sess")
	s := f.Fetch(context.Background(), meta(), wideWindow(), 0)

	first := collect(s)
	second := collect(s)

	assert.Equal(t, first, second)
	assert.Equal(t, 6, s.Yielded())
}

func TestStream_EarlyBreak(t *testing.T) {
	h := &history{msgs: hourly(6)}
	s := New(h, nil, 100, "sess").Fetch(context.Background(), meta(), wideWindow(), 0)

	for m := range s.Messages() {
		if m.MessageID == 5 {
			break
		}
	}
	assert.Equal(t, 2, s.Yielded())
	assert.NoError(t, s.Err())
}

func TestStream_NormalizesFields(t *testing.T) {
	views, fwd := 100, 3
	bot := int64(9)
	msgs := []telegram.RawMessage{{
		ID:       1,
		Date:     at(1),
		Text:     "hello",
		Views:    &views,
		Forwards: &fwd,
		EditDate: at(2),
		Pinned:   true,
		ViaBotID: &bot,
		Media:    &telegram.MediaRef{Kind: telegram.MediaPhoto, TypeName: "messageMediaPhoto"},
	}}
	media := &countingMedia{}
	f := New(&history{msgs: msgs}, media, 100, "sess-1").WithClock(func() time.Time { return harvest })

	s := f.Fetch(context.Background(), meta(), wideWindow(), 0)
	got := collect(s)

	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, int64(77), m.ChannelID)
	assert.Equal(t, "news", m.ChannelUsername)
	assert.Equal(t, "News", m.ChannelName)
	assert.Equal(t, 100, m.Views)
	assert.Equal(t, 3, m.Forwards)
	assert.Zero(t, m.Replies)
	assert.True(t, m.Edited)
	assert.True(t, m.Pinned)
	assert.True(t, m.HasMedia)
	require.NotNil(t, m.MediaType)
	assert.Equal(t, "messageMediaPhoto", *m.MediaType)
	require.NotNil(t, m.ImagePath)
	assert.Equal(t, "/media/@news", *m.ImagePath)
	assert.Equal(t, "sess-1", m.SessionID)
	assert.Equal(t, harvest, m.HarvestedAt)
	assert.Equal(t, 1, media.calls)
	assert.Equal(t, 1, s.MediaDownloaded())
}

func TestStream_CancelledBetweenPages(t *testing.T) {
	h := &history{msgs: hourly(10)}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(h, nil, 3, "sess").Fetch(ctx, meta(), wideWindow(), 0)

	var got []models.Message
	for m := range s.Messages() {
		got = append(got, m)
		if len(got) == 2 {
			cancel()
		}
	}

	assert.Len(t, got, 3, "the current page is finished")
	assert.ErrorIs(t, s.Err(), context.Canceled)
	assert.Equal(t, 1, h.pages)
}

type nilMedia struct{ calls int }

func (n *nilMedia) Download(ctx context.Context, raw telegram.RawMessage, channel string) *models.MediaAsset {
	n.calls++
	return nil
}

// ctxMedia records whether the context was live when each attachment was stored.
type ctxMedia struct{ errs []error }

func (c *ctxMedia) Download(ctx context.Context, raw telegram.RawMessage, channel string) *models.MediaAsset {
	c.errs = append(c.errs, ctx.Err())
	if ctx.Err() != nil {
		return nil
	}
	return &models.MediaAsset{MessageID: raw.ID, Channel: channel, Path: "/media/" + channel, Format: "jpg"}
}

func photo() *telegram.MediaRef {
	return &telegram.MediaRef{Kind: telegram.MediaPhoto, TypeName: "messageMediaPhoto"}
}

func TestStream_UnresolvedMediaStillYielded(t *testing.T) {
	msgs := []telegram.RawMessage{{ID: 1, Date: at(1), Media: photo()}}
	media := &nilMedia{}
	s := New(&history{msgs: msgs}, media, 100, "sess").Fetch(context.Background(), meta(), wideWindow(), 0)

	got := collect(s)

	require.Len(t, got, 1)
	assert.True(t, got[0].HasMedia)
	require.NotNil(t, got[0].MediaType)
	assert.Nil(t, got[0].ImagePath)
	assert.Equal(t, 1, media.calls)
	assert.Zero(t, s.MediaDownloaded())
	assert.Equal(t, 1, s.Yielded())
	assert.NoError(t, s.Err())
}

func TestStream_MediaStoredUnderChannelKey(t *testing.T) {
	msgs := []telegram.RawMessage{{ID: 1, Date: at(1), Media: photo()}}
	m := meta()
	m.RequestedName = "https://t.me/News"
	m.Key = "news"

	got := collect(New(&history{msgs: msgs}, &countingMedia{}, 100, "sess").Fetch(context.Background(), m, wideWindow(), 0))

	require.Len(t, got, 1)
	require.NotNil(t, got[0].ImagePath)
	assert.Equal(t, "/media/news", *got[0].ImagePath)
}

func TestStream_CancelMidPageStillStoresPageMedia(t *testing.T) {
	msgs := []telegram.RawMessage{
		{ID: 3, Date: at(3), Media: photo()},
		{ID: 2, Date: at(2), Media: photo()},
		{ID: 1, Date: at(1), Media: photo()},
	}
	media := &ctxMedia{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(&history{msgs: msgs}, media, 100, "sess").Fetch(ctx, meta(), wideWindow(), 0)

	var got []models.Message
	for m := range s.Messages() {
		got = append(got, m)
		cancel()
	}

	require.Len(t, got, 3)
	for _, m := range got {
		assert.NotNil(t, m.ImagePath, "message %d", m.MessageID)
	}
	assert.Equal(t, []error{nil, nil, nil}, media.errs)
	assert.Equal(t, 3, s.MediaDownloaded())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStream_SkipsMessagesWithoutDate(t *testing.T) {
	msgs := []telegram.RawMessage{
		{ID: 5, Date: at(5)},
		{ID: 4},
		{ID: 3},
		{ID: 2, Date: at(2)},
		{ID: 1, Date: at(1)},
	}
	s := New(&history{msgs: msgs}, nil, 100, "sess").Fetch(context.Background(), meta(), wideWindow(), 2)

	got := collect(s)

	require.Len(t, got, 2)
	assert.Equal(t, []int{5, 2}, []int{got[0].MessageID, got[1].MessageID})
	assert.Equal(t, 2, s.Yielded())
	for _, m := range got {
		assert.NotNil(t, m.Date)
	}
}
