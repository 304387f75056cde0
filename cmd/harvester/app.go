package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/blockedby/tg-lake/internal/config"
	"github.com/blockedby/tg-lake/internal/fetcher"
	"github.com/blockedby/tg-lake/internal/harvest"
	"github.com/blockedby/tg-lake/internal/lake"
	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/media"
	"github.com/blockedby/tg-lake/internal/nats"
	"github.com/blockedby/tg-lake/internal/publisher"
	"github.com/blockedby/tg-lake/internal/report"
	"github.com/blockedby/tg-lake/internal/telegram"
	"github.com/blockedby/tg-lake/internal/transport"
)

// app holds the wired components shared by run and serve.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	client  *telegram.Client
	nc      *nats.Client
	coord   *harvest.Coordinator
	archive *report.Archive
}

// setup loads config and initializes the logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger.Get(), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// newApp wires the telegram client, transport, lake, media store, reporter
// and optional NATS publisher into a coordinator.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}

	sessionDB, err := telegram.OpenSessionDB(cfg.SessionDSN)
	if err != nil {
		return nil, err
	}
	client := telegram.NewClient(telegram.NewSession(cfg, sessionDB))

	a := &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		archive: report.NewArchive(afero.NewOsFs(), cfg.LogDir),
	}

	var (
		runPublisher report.Publisher
		notifierFor  func(string) lake.Notifier
	)
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			a.nc = nc
			pub := publisher.NewNATSPublisher(nc)
			runPublisher = pub
			notifierFor = func(sessionID string) lake.Notifier { return pub.ForSession(sessionID) }
		}
	}

	limiter := telegram.NewRateLimiter(cfg.RequestsPerSecond, 1)
	tr := transport.New(client, limiter, transport.OptionsFromConfig(cfg))
	sink := lake.NewOSFileSink(cfg.LakeDir())

	a.coord = harvest.NewCoordinator(harvest.Deps{
		Transport:   tr,
		Sink:        sink,
		Channels:    sink,
		MediaStore:  media.NewOSStore(cfg.MediaDir()),
		Reporter:    report.NewReporter(afero.NewOsFs(), cfg.LogDir, os.Stdout, runPublisher),
		NotifierFor: notifierFor,
	})
	return a, nil
}

// options builds run options from the config at time now.
func (a *app) options(now time.Time) harvest.Options {
	start, end := a.cfg.Window(now)
	return harvest.Options{
		Channels:     a.cfg.Channels,
		Window:       fetcher.Window{Start: start, End: end},
		MaxMessages:  a.cfg.MaxMessagesPerChannel,
		PageSize:     a.cfg.PageSize,
		ChannelDelay: a.cfg.ChannelDelay,
		DaysBack:     a.cfg.DaysBack,
		MaxRetries:   a.cfg.MaxConnectRetries,
		Progress:     harvest.ProgressWriter(a.cfg.ShowProgress),
	}
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close telegram client")
	}
	if a.nc != nil {
		a.nc.Close()
	}
}
