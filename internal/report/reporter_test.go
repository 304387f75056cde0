package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-lake/internal/models"
)

type mockPublisher struct {
	published []*models.RunSummary
	err       error
}

func (m *mockPublisher) PublishRunCompleted(ctx context.Context, s *models.RunSummary) error {
	m.published = append(m.published, s)
	return m.err
}

func strPtr(s string) *string { return &s }

func finalizedSummary(t *testing.T, id string, start time.Time) *models.RunSummary {
	t.Helper()
	s := models.NewRunSummary(id, start, models.RunConfiguration{DaysBack: 2, MaxMessagesPerChannel: 5})
	require.NoError(t, s.Record(models.ChannelOutcome{Channel: "@a", State: models.ChannelSucceeded, MessagesScraped: 1200, ImagesDownloaded: 1, Success: true}))
	require.NoError(t, s.Record(models.ChannelOutcome{Channel: "@b", State: models.ChannelFailed, Error: strPtr("private")}))
	require.NoError(t, s.Finalize(start.Add(90*time.Second), nil))
	return s
}

func TestReporter_WritesSummaryFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	pub := &mockPublisher{err: errors.New("nats down")}
	var out bytes.Buffer
	r := NewReporter(fs, "/logs", &out, pub)
	start := time.Date(2024, 6, 11, 10, 30, 45, 0, time.UTC)
	s := finalizedSummary(t, "0123456789abcdef", start)

	require.NoError(t, r.Report(context.Background(), s))

	path := "/logs/scraping_summary_20240611_103045_01234567.json"
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id": "0123456789abcdef"`)
	assert.Contains(t, string(data), `"channels_failed": 1`)

	// publish failures do not fail the report
	assert.Len(t, pub.published, 1)

	table := out.String()
	assert.Contains(t, table, "1,200")
	assert.Contains(t, table, "private")
	assert.Contains(t, table, "1m30s")
}

func TestReporter_NeverOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewReporter(fs, "/logs", nil, nil)
	s := finalizedSummary(t, "sess", time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC))

	require.NoError(t, r.Report(context.Background(), s))
	err := r.Report(context.Background(), s)

	assert.Error(t, err)
}

func TestArchive_ListAndGet(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewReporter(fs, "/logs", nil, nil)
	older := finalizedSummary(t, "older-run", time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC))
	newer := finalizedSummary(t, "newer-run", time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC))
	require.NoError(t, r.Report(context.Background(), older))
	require.NoError(t, r.Report(context.Background(), newer))
	require.NoError(t, afero.WriteFile(fs, "/logs/harvester.log", []byte("x"), 0644))

	a := NewArchive(fs, "/logs")
	all, err := a.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "newer-run", all[0].SessionID)

	got, err := a.Get("older-run")
	require.NoError(t, err)
	assert.Equal(t, 1200, got.TotalMessages)
	assert.True(t, got.Finalized())

	_, err = a.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_MissingDir(t *testing.T) {
	all, err := NewArchive(afero.NewMemMapFs(), "/nope").List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPrintTable_Cancelled(t *testing.T) {
	s := models.NewRunSummary("x", time.Now(), models.RunConfiguration{})
	require.NoError(t, s.MarkCancelled())
	require.NoError(t, s.Finalize(time.Now(), errors.New("write partition a/2024-06-10: disk full")))

	var out bytes.Buffer
	require.NoError(t, PrintTable(&out, s.Snapshot()))

	assert.True(t, strings.Contains(out.String(), "Cancelled:"))
	assert.Contains(t, out.String(), "disk full")
}

func TestFileName_ShortSession(t *testing.T) {
	s := models.NewRunSummary("abc", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), models.RunConfiguration{})
	assert.Equal(t, "scraping_summary_20240102_030405_abc.json", FileName(s))
}
