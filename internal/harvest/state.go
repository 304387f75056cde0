package harvest

import (
	"github.com/rs/zerolog"

	"github.com/blockedby/tg-lake/internal/models"
)

// transitions lists the allowed per-channel state changes.
var transitions = map[models.ChannelState][]models.ChannelState{
	models.ChannelPending:          {models.ChannelFetchingMeta},
	models.ChannelFetchingMeta:     {models.ChannelFetchingMessages, models.ChannelFailed},
	models.ChannelFetchingMessages: {models.ChannelWriting, models.ChannelFailed},
	models.ChannelWriting:          {models.ChannelSucceeded, models.ChannelFailed},
}

// CanTransition reports whether from -> to is a legal channel state change.
func CanTransition(from, to models.ChannelState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type channelState struct {
	channel string
	state   models.ChannelState
	log     zerolog.Logger
}

func newChannelState(channel string, log zerolog.Logger) *channelState {
	return &channelState{channel: channel, state: models.ChannelPending, log: log}
}

func (s *channelState) to(next models.ChannelState) {
	if !CanTransition(s.state, next) {
		s.log.Error().Str("from", string(s.state)).Str("to", string(next)).Msg("harvest: illegal state transition")
	}
	s.log.Debug().Str("state", string(next)).Msg("harvest: channel state")
	s.state = next
}

func (s *channelState) outcome(messages, images int, err error) models.ChannelOutcome {
	o := models.ChannelOutcome{
		Channel:          s.channel,
		State:            s.state,
		MessagesScraped:  messages,
		ImagesDownloaded: images,
		Success:          s.state == models.ChannelSucceeded,
	}
	if err != nil {
		detail := errorDetail(err)
		o.Error = &detail
	}
	return o
}
