package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-lake/internal/telegram"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.slept...)
}

// mockBackend replays scripted errors before succeeding.
type mockBackend struct {
	connectErrs []error
	metaErrs    []error
	pageErrs    []error
	mediaErrs   []error

	connectCalls int
	metaCalls    int
	pageCalls    int
	mediaCalls   int
	closed       bool
}

func next(errs []error, call int) error {
	if call < len(errs) {
		return errs[call]
	}
	return nil
}

func (m *mockBackend) Connect(ctx context.Context) error {
	err := next(m.connectErrs, m.connectCalls)
	m.connectCalls++
	return err
}

func (m *mockBackend) ChannelMeta(ctx context.Context, id string) (*telegram.ChannelMeta, error) {
	err := next(m.metaErrs, m.metaCalls)
	m.metaCalls++
	if err != nil {
		return nil, err
	}
	return &telegram.ChannelMeta{ID: 1, Username: id}, nil
}

func (m *mockBackend) MessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, limit int) ([]telegram.RawMessage, error) {
	err := next(m.pageErrs, m.pageCalls)
	m.pageCalls++
	if err != nil {
		return nil, err
	}
	return []telegram.RawMessage{{ID: 1}}, nil
}

func (m *mockBackend) DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error {
	call := m.mediaCalls
	m.mediaCalls++
	_, _ = w.Write([]byte("partial"))
	if err := next(m.mediaErrs, call); err != nil {
		return err
	}
	_, _ = w.Write([]byte("-done"))
	return nil
}

func (m *mockBackend) Close() error {
	m.closed = true
	return nil
}

func newTestTransport(b Backend) (*Transport, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := telegram.NewRateLimiter(1000, 1000).WithClock(clock)
	opts := DefaultOptions()
	return New(b, limiter, opts), clock
}

func floodWait(n int) error {
	return tgerr.New(420, "FLOOD_WAIT_"+strconv.Itoa(n))
}

func TestTransport_Connect_RetriesThenSucceeds(t *testing.T) {
	b := &mockBackend{connectErrs: []error{errors.New("dial timeout"), errors.New("dial timeout")}}
	tr, clock := newTestTransport(b)

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 3, b.connectCalls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.sleeps())
}

func TestTransport_Connect_Exhausted(t *testing.T) {
	boom := errors.New("dial timeout")
	b := &mockBackend{connectErrs: []error{boom, boom, boom, boom}}
	tr, _ := newTestTransport(b)

	err := tr.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, b.connectCalls)
}

func TestTransport_Connect_AuthNotRetried(t *testing.T) {
	b := &mockBackend{connectErrs: []error{telegram.ErrUnauthorized}}
	tr, clock := newTestTransport(b)

	err := tr.Connect(context.Background())

	assert.ErrorIs(t, err, telegram.ErrUnauthorized)
	assert.Equal(t, 1, b.connectCalls)
	assert.Empty(t, clock.sleeps())
}

func TestTransport_FloodWait_SleepsExactlyAndKeepsBudget(t *testing.T) {
	// two flood waits and two transient failures: with a budget of 3 the
	// call still succeeds because flood waits are not counted
	b := &mockBackend{metaErrs: []error{
		floodWait(15),
		errors.New("i/o timeout"),
		floodWait(7),
		errors.New("i/o timeout"),
	}}
	tr, clock := newTestTransport(b)

	meta, err := tr.FetchChannelMeta(context.Background(), "@a")

	require.NoError(t, err)
	assert.Equal(t, "@a", meta.Username)
	assert.Equal(t, 5, b.metaCalls)
	assert.Equal(t, []time.Duration{
		15 * time.Second,
		2 * time.Second,
		7 * time.Second,
		2 * time.Second,
	}, clock.sleeps())
}

func TestTransport_FloodWait_MessagePageHonoredOnceThenFails(t *testing.T) {
	b := &mockBackend{pageErrs: []error{floodWait(15)}}
	tr, clock := newTestTransport(b)

	page, err := tr.FetchMessagePage(context.Background(), &telegram.ChannelMeta{ID: 1}, telegram.Cursor{}, 100)

	var fw *telegram.FloodWaitError
	require.ErrorAs(t, err, &fw)
	assert.Equal(t, 15, fw.Seconds)
	assert.Nil(t, page)
	assert.Equal(t, 1, b.pageCalls)
	assert.Equal(t, []time.Duration{15 * time.Second}, clock.sleeps())
	assert.Zero(t, tr.PagesFetched())
}

func TestTransport_FloodWait_GivesUpAfterConsecutiveSignals(t *testing.T) {
	b := &mockBackend{metaErrs: []error{floodWait(10), floodWait(10), floodWait(10), nil}}
	tr, clock := newTestTransport(b)

	_, err := tr.FetchChannelMeta(context.Background(), "@a")

	var fw *telegram.FloodWaitError
	require.ErrorAs(t, err, &fw)
	assert.Equal(t, 10, fw.Seconds)
	assert.Equal(t, 3, b.metaCalls)
	// the last mandated wait is still honored before giving up
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, clock.sleeps())
}

func TestTransport_AccessErrorNotRetried(t *testing.T) {
	private := &telegram.AccessError{Channel: "@b", Reason: telegram.ErrChannelPrivate}
	b := &mockBackend{metaErrs: []error{private}}
	tr, clock := newTestTransport(b)

	_, err := tr.FetchChannelMeta(context.Background(), "@b")

	assert.ErrorIs(t, err, telegram.ErrChannelPrivate)
	assert.Equal(t, 1, b.metaCalls)
	assert.Empty(t, clock.sleeps())
}

func TestTransport_RequestRetriesExhausted(t *testing.T) {
	boom := errors.New("connection reset")
	b := &mockBackend{pageErrs: []error{boom, boom, boom}}
	tr, clock := newTestTransport(b)

	_, err := tr.FetchMessagePage(context.Background(), &telegram.ChannelMeta{ID: 1}, telegram.Cursor{}, 100)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, b.pageCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps())
	assert.Zero(t, tr.PagesFetched())
}

func TestTransport_PauseEveryFiftyPages(t *testing.T) {
	b := &mockBackend{}
	tr, clock := newTestTransport(b)

	for i := 0; i < 120; i++ {
		_, err := tr.FetchMessagePage(context.Background(), &telegram.ChannelMeta{ID: 1}, telegram.Cursor{}, 100)
		require.NoError(t, err)
	}

	assert.Equal(t, 120, tr.PagesFetched())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps())
}

func TestTransport_DownloadMedia_RetryDoesNotLeakPartialBytes(t *testing.T) {
	b := &mockBackend{mediaErrs: []error{errors.New("i/o timeout")}}
	tr, _ := newTestTransport(b)

	var out bytes.Buffer
	err := tr.DownloadMedia(context.Background(), &telegram.MediaRef{Kind: telegram.MediaPhoto}, &out)

	require.NoError(t, err)
	assert.Equal(t, "partial-done", out.String())
	assert.Equal(t, 2, b.mediaCalls)
}

func TestTransport_CancelledContext(t *testing.T) {
	b := &mockBackend{}
	tr, _ := newTestTransport(b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.FetchChannelMeta(ctx, "@a")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.metaCalls)
}

func TestTransport_Close(t *testing.T) {
	b := &mockBackend{}
	tr, _ := newTestTransport(b)

	require.NoError(t, tr.Close())
	assert.True(t, b.closed)
}
