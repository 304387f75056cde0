package media

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-lake/internal/telegram"
)

type stubSource struct {
	data  []byte
	err   error
	calls int
}

func (s *stubSource) DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	_, err := w.Write(s.data)
	return err
}

func photoMessage(id int, date *time.Time) telegram.RawMessage {
	return telegram.RawMessage{
		ID:   id,
		Date: date,
		Media: &telegram.MediaRef{
			Kind:     telegram.MediaPhoto,
			TypeName: "messageMediaPhoto",
			Location: &tgPhotoLocation,
		},
	}
}

func newTestDownloader(src Source) (*Downloader, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewDownloader(src, NewFSStore(fs, "/data/raw/images")), fs
}

func TestDownloader_StoresPhoto(t *testing.T) {
	src := &stubSource{data: []byte("jpeg-bytes")}
	d, fs := newTestDownloader(src)
	date := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	asset := d.Download(context.Background(), photoMessage(42, &date), "@news")

	require.NotNil(t, asset)
	assert.Equal(t, "/data/raw/images/news/42_20240305_140709.jpg", asset.Path)
	assert.Equal(t, "jpg", asset.Format)
	assert.Equal(t, int64(10), asset.Size)
	assert.Equal(t, 42, asset.MessageID)

	got, err := afero.ReadFile(fs, asset.Path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(got))

	entries, err := afero.ReadDir(fs, "/data/raw/images/news")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDownloader_OverwritesByPath(t *testing.T) {
	src := &stubSource{data: []byte("first")}
	d, fs := newTestDownloader(src)
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	first := d.Download(context.Background(), photoMessage(1, &date), "news")
	src.data = []byte("second")
	second := d.Download(context.Background(), photoMessage(1, &date), "news")

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Path, second.Path)
	got, _ := afero.ReadFile(fs, second.Path)
	assert.Equal(t, "second", string(got))
}

func TestDownloader_SkipsUnsupported(t *testing.T) {
	src := &stubSource{data: []byte("x")}
	d, _ := newTestDownloader(src)
	date := time.Now().UTC()

	noMedia := telegram.RawMessage{ID: 1, Date: &date}
	video := telegram.RawMessage{ID: 2, Date: &date, Media: &telegram.MediaRef{
		Kind: telegram.MediaDocument, MimeType: "video/mp4", Location: &tgPhotoLocation,
	}}
	geo := telegram.RawMessage{ID: 3, Date: &date, Media: &telegram.MediaRef{Kind: telegram.MediaOther}}

	assert.Nil(t, d.Download(context.Background(), noMedia, "c"))
	assert.Nil(t, d.Download(context.Background(), video, "c"))
	assert.Nil(t, d.Download(context.Background(), geo, "c"))
	assert.Zero(t, src.calls)
}

func TestDownloader_SkipsWithoutEventTime(t *testing.T) {
	src := &stubSource{data: []byte("x")}
	d, _ := newTestDownloader(src)

	assert.Nil(t, d.Download(context.Background(), photoMessage(1, nil), "c"))
	assert.Zero(t, src.calls)
}

func TestDownloader_FetchErrorSwallowed(t *testing.T) {
	src := &stubSource{err: errors.New("file reference expired")}
	d, fs := newTestDownloader(src)
	date := time.Now().UTC()

	assert.Nil(t, d.Download(context.Background(), photoMessage(1, &date), "c"))
	exists, _ := afero.DirExists(fs, "/data/raw/images/c")
	assert.False(t, exists)
}

func TestDownloader_StoreErrorSwallowed(t *testing.T) {
	src := &stubSource{data: []byte("x")}
	d := NewDownloader(src, NewFSStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/ro"))
	date := time.Now().UTC()

	assert.Nil(t, d.Download(context.Background(), photoMessage(1, &date), "c"))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		ref  telegram.MediaRef
		want string
	}{
		{telegram.MediaRef{Kind: telegram.MediaPhoto}, "jpg"},
		{telegram.MediaRef{Kind: telegram.MediaDocument, FileName: "Chart.PNG", MimeType: "image/png"}, "png"},
		{telegram.MediaRef{Kind: telegram.MediaDocument, MimeType: "image/webp"}, "webp"},
		{telegram.MediaRef{Kind: telegram.MediaDocument, MimeType: "image/jpeg"}, "jpg"},
		{telegram.MediaRef{Kind: telegram.MediaDocument}, "jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(&tt.ref))
	}
}

func TestPath(t *testing.T) {
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "my_chan/7_20240102_020405.png", Path("@my chan", 7, date, "png"))
}
