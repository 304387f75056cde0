// Package harvest runs harvests: it walks every configured channel, commits
// the results to the lake and produces the run summary.
package harvest

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/blockedby/tg-lake/internal/fetcher"
	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/media"
	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// Transport is the paced channel source. *transport.Transport implements it.
type Transport interface {
	Connect(ctx context.Context) error
	FetchChannelMeta(ctx context.Context, id string) (*telegram.ChannelMeta, error)
	FetchMessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, pageSize int) ([]telegram.RawMessage, error)
	DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error
	Close() error
}

// ChannelStore keeps channel side records. *lake.FileSink implements it.
type ChannelStore interface {
	PutChannel(ctx context.Context, channel string, rec *models.Channel) error
}

// Reporter receives the finalized summary. *report.Reporter implements it.
type Reporter interface {
	Report(ctx context.Context, s *models.RunSummary) error
}

// Deps are the collaborators of a run. Transport and Sink are required.
type Deps struct {
	Transport  Transport
	Sink       lake.Sink
	Channels   ChannelStore
	MediaStore media.Store
	Reporter   Reporter

	// NotifierFor returns the partition notifier for a session, or nil.
	NotifierFor func(sessionID string) lake.Notifier
}

// Options describe a single run.
type Options struct {
	Channels     []string
	Window       fetcher.Window
	MaxMessages  int
	PageSize     int
	ChannelDelay time.Duration
	DaysBack     int
	MaxRetries   int

	// Progress receives per-channel progress bars; nil disables them.
	Progress io.Writer
}

// Coordinator drives one harvest run at a time.
type Coordinator struct {
	deps  Deps
	clock telegram.Clock
	newID func() string
	log   *logger.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{
		deps:  deps,
		clock: telegram.RealClock,
		newID: func() string { return uuid.NewString() },
		log:   logger.Get(),
	}
}

// WithClock replaces the clock used for timestamps and the channel delay.
func (c *Coordinator) WithClock(clock telegram.Clock) *Coordinator {
	c.clock = clock
	return c
}

// WithSessionIDs replaces the session id generator.
func (c *Coordinator) WithSessionIDs(newID func() string) *Coordinator {
	c.newID = newID
	return c
}

// Run harvests every channel in order. One channel's failure never stops the
// run; a connection failure or a partition write failure does. The summary is
// finalized and reported in every case.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*models.RunSummary, error) {
	sessionID := c.newID()
	summary := models.NewRunSummary(sessionID, c.clock.Now(), models.RunConfiguration{
		MaxMessagesPerChannel: opts.MaxMessages,
		DaysBack:              opts.DaysBack,
		WindowStart:           opts.Window.Start.UTC(),
		WindowEnd:             opts.Window.End.UTC(),
		MaxRetries:            opts.MaxRetries,
		ChannelsTargeted:      len(opts.Channels),
	})

	c.log.Info().
		Str("session_id", sessionID).
		Int("channels", len(opts.Channels)).
		Time("window_start", opts.Window.Start).
		Time("window_end", opts.Window.End).
		Msg("harvest: starting run")

	runErr := c.run(ctx, sessionID, summary, opts)

	if err := summary.Finalize(c.clock.Now(), runErr); err != nil {
		c.log.Error().Err(err).Msg("harvest: finalize summary")
	}

	snap := summary.Snapshot()
	level := zerolog.InfoLevel
	if runErr != nil {
		level = zerolog.ErrorLevel
	}
	c.log.WithLevel(level).
		Err(runErr).
		Str("session_id", sessionID).
		Int("messages", snap.TotalMessages).
		Int("images", snap.TotalImages).
		Int("channels_success", snap.ChannelsSuccess).
		Int("channels_failed", snap.ChannelsFailed).
		Bool("cancelled", snap.Cancelled).
		Msg("harvest: run finished")

	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.Report(context.WithoutCancel(ctx), summary); err != nil {
			c.log.Error().Err(err).Msg("harvest: failed to report summary")
		}
	}
	return summary, runErr
}

func (c *Coordinator) run(ctx context.Context, sessionID string, summary *models.RunSummary, opts Options) error {
	t := c.deps.Transport

	if err := t.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			c.markCancelled(summary)
			return nil
		}
		return &ConnectionError{Err: err}
	}
	defer func() {
		if err := t.Close(); err != nil {
			c.log.Warn().Err(err).Msg("harvest: close transport")
		}
	}()

	var resolver fetcher.MediaResolver
	if c.deps.MediaStore != nil {
		resolver = media.NewDownloader(t, c.deps.MediaStore)
	}
	var notifier lake.Notifier
	if c.deps.NotifierFor != nil {
		notifier = c.deps.NotifierFor(sessionID)
	}

	run := &channelRunner{
		c:       c,
		fetcher: fetcher.New(t, resolver, opts.PageSize, sessionID).WithClock(c.clock.Now),
		writer:  lake.NewPartitionWriter(c.deps.Sink, notifier),
		opts:    opts,
	}

	for i, ch := range opts.Channels {
		if ctx.Err() != nil {
			c.markCancelled(summary)
			return nil
		}

		outcome, err := run.harvest(ctx, ch)
		if rerr := summary.Record(outcome); rerr != nil {
			c.log.Error().Err(rerr).Msg("harvest: record outcome")
		}
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			c.markCancelled(summary)
			return nil
		}

		if i < len(opts.Channels)-1 && opts.ChannelDelay > 0 {
			if err := c.clock.Sleep(ctx, opts.ChannelDelay); err != nil {
				c.markCancelled(summary)
				return nil
			}
		}
	}
	return nil
}

func (c *Coordinator) markCancelled(summary *models.RunSummary) {
	c.log.Warn().Msg("harvest: run cancelled")
	if err := summary.MarkCancelled(); err != nil {
		c.log.Error().Err(err).Msg("harvest: mark cancelled")
	}
}

// channelRunner harvests single channels within a run.
type channelRunner struct {
	c       *Coordinator
	fetcher *fetcher.Fetcher
	writer  *lake.PartitionWriter
	opts    Options
}

// harvest walks one channel through its states. The returned error is
// non-nil only when the run must abort.
func (r *channelRunner) harvest(ctx context.Context, ch string) (models.ChannelOutcome, error) {
	log := r.c.log.With().Str("channel", ch).Logger()
	state := newChannelState(ch, log)

	state.to(models.ChannelFetchingMeta)
	meta, err := r.c.deps.Transport.FetchChannelMeta(ctx, ch)
	if err != nil {
		log.Warn().Err(err).Msg("harvest: channel metadata failed")
		state.to(models.ChannelFailed)
		return state.outcome(0, 0, err), nil
	}
	meta.RequestedName = ch
	meta.Key = channelKey(ch, meta)

	if r.c.deps.Channels != nil {
		rec := ChannelRecord(meta, r.c.clock.Now())
		if err := r.c.deps.Channels.PutChannel(context.WithoutCancel(ctx), meta.Key, rec); err != nil {
			log.Warn().Err(err).Msg("harvest: failed to save channel record")
		}
	}

	state.to(models.ChannelFetchingMessages)
	stream := r.fetcher.Fetch(ctx, meta, r.opts.Window, r.opts.MaxMessages)
	bar := r.progressBar(ch)

	var msgs []models.Message
	for m := range stream.Messages() {
		msgs = append(msgs, m)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	state.to(models.ChannelWriting)
	if _, err := r.writer.Write(context.WithoutCancel(ctx), meta.Key, msgs); err != nil {
		state.to(models.ChannelFailed)
		return state.outcome(stream.Yielded(), stream.MediaDownloaded(), err), err
	}

	if err := stream.Err(); err != nil {
		state.to(models.ChannelFailed)
		return state.outcome(stream.Yielded(), stream.MediaDownloaded(), err), nil
	}

	state.to(models.ChannelSucceeded)
	log.Info().
		Int("messages", stream.Yielded()).
		Int("images", stream.MediaDownloaded()).
		Msg("harvest: channel done")
	return state.outcome(stream.Yielded(), stream.MediaDownloaded(), nil), nil
}

// channelKey names the channel's partitions, media and side record so that
// every spelling of the same channel lands in one place.
func channelKey(requested string, meta *telegram.ChannelMeta) string {
	if key := telegram.ChannelKey(requested); key != "" {
		return key
	}
	if key := telegram.ChannelKey(meta.Username); key != "" {
		return key
	}
	return strconv.FormatInt(meta.ID, 10)
}

func (r *channelRunner) progressBar(ch string) *progressbar.ProgressBar {
	if r.opts.Progress == nil {
		return nil
	}
	total := r.opts.MaxMessages
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(ch),
		progressbar.OptionSetWriter(r.opts.Progress),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressWriter returns stderr when progress output is enabled.
func ProgressWriter(enabled bool) io.Writer {
	if !enabled {
		return nil
	}
	return os.Stderr
}
