package harvest

import (
	"errors"
	"time"

	"github.com/blockedby/tg-lake/internal/fetcher"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// validation errors
var (
	ErrInvalidDaysBack = errors.New("days_back must be non-negative")
	ErrInvalidLimit    = errors.New("max_messages must be non-negative")
	ErrEmptyChannel    = errors.New("channel names must not be empty")
)

// RunRequest is the body of POST /api/v1/runs. Zero fields keep the
// configured defaults.
type RunRequest struct {
	Channels    []string `json:"channels,omitempty"`
	DaysBack    int      `json:"days_back,omitempty"`
	MaxMessages int      `json:"max_messages,omitempty"`
}

// Validate performs basic validation of the request
// does not check if channels exist (that requires network call)
func (r *RunRequest) Validate() error {
	if r.DaysBack < 0 {
		return ErrInvalidDaysBack
	}
	if r.MaxMessages < 0 {
		return ErrInvalidLimit
	}
	for i, ch := range r.Channels {
		name := telegram.NormalizeUsername(ch)
		if name == "" {
			return ErrEmptyChannel
		}
		r.Channels[i] = name
	}
	return nil
}

// Apply overrides base with the request fields. A days_back override moves
// the window start back from base's window end.
func (r *RunRequest) Apply(base Options) Options {
	opts := base
	if len(r.Channels) > 0 {
		opts.Channels = append([]string(nil), r.Channels...)
	}
	if r.MaxMessages > 0 {
		opts.MaxMessages = r.MaxMessages
	}
	if r.DaysBack > 0 {
		opts.DaysBack = r.DaysBack
		opts.Window = fetcher.Window{
			Start: base.Window.End.AddDate(0, 0, -r.DaysBack),
			End:   base.Window.End,
		}
	}
	return opts
}

// RunResponse is returned when a run is started.
type RunResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"` // "running"
	Channels  []string  `json:"channels"`
	StartedAt time.Time `json:"started_at"`
}
