// Package transport paces, retries and throttles calls to the channel source.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/blockedby/tg-lake/internal/config"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// Backend is the raw channel source. *telegram.Client implements it.
type Backend interface {
	Connect(ctx context.Context) error
	ChannelMeta(ctx context.Context, id string) (*telegram.ChannelMeta, error)
	MessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, limit int) ([]telegram.RawMessage, error)
	DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error
	Close() error
}

// Options tune retries and pacing.
type Options struct {
	MaxConnectRetries int
	ConnectRetryDelay time.Duration
	MaxRequestRetries int
	RequestRetryDelay time.Duration
	MaxFloodWaits     int
	PauseEvery        int
	PauseDuration     time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnectRetries: 3,
		ConnectRetryDelay: 5 * time.Second,
		MaxRequestRetries: 3,
		RequestRetryDelay: 2 * time.Second,
		MaxFloodWaits:     3,
		PauseEvery:        50,
		PauseDuration:     time.Second,
	}
}

// OptionsFromConfig builds options from the run configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxConnectRetries: cfg.MaxConnectRetries,
		ConnectRetryDelay: cfg.ConnectRetryDelay,
		MaxRequestRetries: cfg.MaxRequestRetries,
		RequestRetryDelay: cfg.RequestRetryDelay,
		MaxFloodWaits:     cfg.MaxFloodWaits,
		PauseEvery:        cfg.PauseEvery,
		PauseDuration:     cfg.PauseDuration,
	}
}

// Transport wraps a Backend with rate limiting, retries and flood-wait handling.
// It is used by one coordinator at a time.
type Transport struct {
	backend Backend
	limiter *telegram.RateLimiter
	opts    Options
	log     *logger.Logger

	mu    sync.Mutex
	pages int
}

// New creates a transport. Non-positive budgets fall back to one attempt.
func New(backend Backend, limiter *telegram.RateLimiter, opts Options) *Transport {
	if limiter == nil {
		limiter = telegram.DefaultRateLimiter()
	}
	opts.MaxConnectRetries = max(opts.MaxConnectRetries, 1)
	opts.MaxRequestRetries = max(opts.MaxRequestRetries, 1)
	opts.MaxFloodWaits = max(opts.MaxFloodWaits, 1)

	return &Transport{
		backend: backend,
		limiter: limiter,
		opts:    opts,
		log:     logger.Get(),
	}
}

// Connect opens the session, retrying transient failures with a fixed delay.
// Auth errors are returned immediately.
func (t *Transport) Connect(ctx context.Context) error {
	return t.do(ctx, "connect", t.opts.MaxConnectRetries, t.opts.MaxFloodWaits, t.opts.ConnectRetryDelay, t.backend.Connect)
}

// FetchChannelMeta resolves a channel. Access errors are never retried.
func (t *Transport) FetchChannelMeta(ctx context.Context, id string) (*telegram.ChannelMeta, error) {
	var meta *telegram.ChannelMeta
	err := t.do(ctx, "channel meta", t.opts.MaxRequestRetries, t.opts.MaxFloodWaits, t.opts.RequestRetryDelay, func(ctx context.Context) error {
		var err error
		meta, err = t.backend.ChannelMeta(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// FetchMessagePage fetches one history page and applies the cooperative
// pause after every PauseEvery pages. A flood wait is honored once and then
// returned as *telegram.FloodWaitError, which ends the channel.
func (t *Transport) FetchMessagePage(ctx context.Context, meta *telegram.ChannelMeta, cursor telegram.Cursor, pageSize int) ([]telegram.RawMessage, error) {
	var page []telegram.RawMessage
	err := t.do(ctx, "message page", t.opts.MaxRequestRetries, 1, t.opts.RequestRetryDelay, func(ctx context.Context) error {
		var err error
		page, err = t.backend.MessagePage(ctx, meta, cursor, pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := t.afterPage(ctx); err != nil {
		return page, err
	}
	return page, nil
}

// DownloadMedia fetches attachment bytes. Each attempt starts from an empty
// buffer; w only receives a complete download.
func (t *Transport) DownloadMedia(ctx context.Context, ref *telegram.MediaRef, w io.Writer) error {
	var buf bytes.Buffer
	err := t.do(ctx, "download media", t.opts.MaxRequestRetries, t.opts.MaxFloodWaits, t.opts.RequestRetryDelay, func(ctx context.Context) error {
		buf.Reset()
		return t.backend.DownloadMedia(ctx, ref, &buf)
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, &buf)
	return err
}

// Close releases the backend session.
func (t *Transport) Close() error {
	return t.backend.Close()
}

// PagesFetched returns the number of pages fetched so far.
func (t *Transport) PagesFetched() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pages
}

func (t *Transport) afterPage(ctx context.Context) error {
	t.mu.Lock()
	t.pages++
	pause := t.opts.PauseEvery > 0 && t.pages%t.opts.PauseEvery == 0
	pages := t.pages
	t.mu.Unlock()

	if !pause || t.opts.PauseDuration <= 0 {
		return nil
	}
	t.log.Info().Int("pages", pages).Dur("pause", t.opts.PauseDuration).Msg("transport: cooperative pause")
	return t.limiter.Sleep(ctx, t.opts.PauseDuration)
}

// do runs fn under the limiter. Flood waits are slept exactly and do not
// consume the retry budget; after maxFloods consecutive ones the wait is
// still honored and a *telegram.FloodWaitError is returned.
func (t *Transport) do(ctx context.Context, op string, attempts, maxFloods int, delay time.Duration, fn func(context.Context) error) error {
	failures := 0
	floods := 0

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if secs, ok := telegram.FloodWaitSeconds(err); ok {
			floods++
			t.log.Warn().
				Str("op", op).
				Int("wait_seconds", secs).
				Int("flood_waits", floods).
				Msg("transport: FLOOD_WAIT detected, sleeping")

			t.limiter.SetFloodWait(secs)
			if werr := t.limiter.WaitFlood(ctx); werr != nil {
				return werr
			}
			if floods >= maxFloods {
				var fw *telegram.FloodWaitError
				if errors.As(err, &fw) {
					return err
				}
				return &telegram.FloodWaitError{Seconds: secs, Err: err}
			}
			continue
		}
		floods = 0

		if !telegram.IsRetryable(err) {
			return err
		}

		failures++
		if failures >= attempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", op, failures, err)
		}

		t.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", failures).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("transport: request failed, retrying")

		if serr := t.limiter.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}
