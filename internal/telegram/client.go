// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"io"

	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// Client wraps the gotgproto client and exposes the calls the harvester needs.
// It reaches the protocol client through the Session and never paces itself;
// pacing and retries belong to the transport.
type Client struct {
	session    *Session
	downloader *downloader.Downloader
	log        *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Session.
func NewClient(session *Session) *Client {
	return &Client{
		session:    session,
		downloader: downloader.NewDownloader(),
		log:        logger.Get(),
	}
}

// Connect acquires and validates the session. A session rejected by the
// server is reacquired once before giving up.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Acquire(ctx); err != nil {
		return err
	}
	err := c.session.Validate(ctx)
	if err == nil || !IsAuthError(err) {
		return err
	}
	if err := c.session.Reacquire(ctx); err != nil {
		return err
	}
	return c.session.Validate(ctx)
}

// Close stops the client via the session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}

// GetStatus returns the current status of the telegram session.
func (c *Client) GetStatus() Status {
	return c.session.GetStatus()
}

// StartQR starts the QR login flow by proxying to the session.
func (c *Client) StartQR(ctx context.Context, onQRCode func(url string)) error {
	return c.session.StartQR(ctx, onQRCode)
}

// IsQRInProgress returns true if a QR login flow is currently in progress.
func (c *Client) IsQRInProgress() bool {
	return c.session.IsQRInProgress()
}

// CancelQR cancels any ongoing QR login flow.
func (c *Client) CancelQR() {
	c.session.CancelQR()
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto := c.session.GetClient()
	if proto == nil {
		return nil, ErrUnauthorized
	}
	return proto.API(), nil
}

// ChannelMeta resolves a channel identifier (username, @username or t.me link)
// and loads its full metadata.
func (c *Client) ChannelMeta(ctx context.Context, id string) (*ChannelMeta, error) {
	username := NormalizeUsername(id)

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("channel", username).Msg("telegram: resolving channel username")
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, classify(id, err))
	}

	ch, err := pickChannel(id, resolved.Chats)
	if err != nil {
		return nil, err
	}

	full, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		return nil, fmt.Errorf("get full channel: %w", classify(id, err))
	}

	chFull, _ := full.FullChat.(*tg.ChannelFull)
	meta := channelMeta(ch, chFull)
	meta.RequestedName = id
	if meta.Username == "" {
		meta.Username = username
	}
	return meta, nil
}

// MessagePage fetches one page of history strictly older than the cursor,
// newest first.
func (c *Client) MessagePage(ctx context.Context, meta *ChannelMeta, cursor Cursor, limit int) ([]RawMessage, error) {
	if limit > 100 {
		limit = 100 // telegram api limit
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  meta.ID,
			AccessHash: meta.AccessHash,
		},
		OffsetID: cursor.BeforeID,
		Limit:    limit,
	}
	if cursor.BeforeID == 0 && !cursor.Before.IsZero() {
		req.OffsetDate = int(cursor.Before.Unix())
	}

	c.log.Debug().
		Str("channel", meta.Username).
		Int("offset_id", req.OffsetID).
		Int("offset_date", req.OffsetDate).
		Int("limit", limit).
		Msg("telegram: calling MessagesGetHistory API")

	history, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", classify(meta.RequestedName, err))
	}
	return extractMessages(history), nil
}

// DownloadMedia streams the attachment bytes into w.
func (c *Client) DownloadMedia(ctx context.Context, ref *MediaRef, w io.Writer) error {
	if !ref.Downloadable() {
		return fmt.Errorf("media %s is not downloadable", ref.TypeName)
	}

	api, err := c.API()
	if err != nil {
		return err
	}

	if _, err := c.downloader.Download(api, ref.Location).Stream(ctx, w); err != nil {
		return fmt.Errorf("download %s: %w", ref.TypeName, classify("", err))
	}
	return nil
}
