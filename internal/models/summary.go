package models

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ChannelState is the harvest state of a single channel.
type ChannelState string

// ChannelState constants follow the per-channel harvest lifecycle.
const (
	ChannelPending          ChannelState = "PENDING"
	ChannelFetchingMeta     ChannelState = "FETCHING_META"
	ChannelFetchingMessages ChannelState = "FETCHING_MESSAGES"
	ChannelWriting          ChannelState = "WRITING"
	ChannelSucceeded        ChannelState = "SUCCEEDED"
	ChannelFailed           ChannelState = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ChannelState) IsTerminal() bool {
	return s == ChannelSucceeded || s == ChannelFailed
}

// ErrSummaryFinalized is returned when a finalized summary is mutated.
var ErrSummaryFinalized = errors.New("run summary already finalized")

// ChannelOutcome is the terminal result of harvesting one channel.
type ChannelOutcome struct {
	Channel          string       `json:"channel"`
	State            ChannelState `json:"state"`
	MessagesScraped  int          `json:"messages_scraped"`
	ImagesDownloaded int          `json:"images_downloaded"`
	Success          bool         `json:"success"`
	Error            *string      `json:"error"`
}

// RunConfiguration is the snapshot of settings a run was started with.
type RunConfiguration struct {
	MaxMessagesPerChannel int       `json:"max_messages_per_channel"`
	DaysBack              int       `json:"days_back"`
	WindowStart           time.Time `json:"window_start"`
	WindowEnd             time.Time `json:"window_end"`
	MaxRetries            int       `json:"max_retries"`
	ChannelsTargeted      int       `json:"channels_targeted"`
}

// RunSummary aggregates a harvest run. It is owned by the coordinator that
// created it; readers get copies through Snapshot.
type RunSummary struct {
	SessionID       string           `json:"session_id"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	DurationSeconds float64          `json:"duration_seconds"`
	TotalMessages   int              `json:"total_messages"`
	TotalImages     int              `json:"total_images"`
	ChannelsSuccess int              `json:"channels_success"`
	ChannelsFailed  int              `json:"channels_failed"`
	ChannelDetails  []ChannelOutcome `json:"channel_details"`
	Configuration   RunConfiguration `json:"configuration"`
	Cancelled       bool             `json:"cancelled"`
	Error           *string          `json:"error"`

	mu        sync.RWMutex
	finalized bool
}

// NewRunSummary starts a summary for a run beginning at start.
func NewRunSummary(sessionID string, start time.Time, cfg RunConfiguration) *RunSummary {
	return &RunSummary{
		SessionID:      sessionID,
		StartTime:      start.UTC(),
		ChannelDetails: []ChannelOutcome{},
		Configuration:  cfg,
	}
}

// Record appends a terminal channel outcome and updates the totals.
func (s *RunSummary) Record(o ChannelOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrSummaryFinalized
	}

	s.ChannelDetails = append(s.ChannelDetails, o)
	s.TotalMessages += o.MessagesScraped
	s.TotalImages += o.ImagesDownloaded
	if o.Success {
		s.ChannelsSuccess++
	} else {
		s.ChannelsFailed++
	}
	return nil
}

// MarkCancelled flags the run as stopped by cooperative cancellation.
func (s *RunSummary) MarkCancelled() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrSummaryFinalized
	}
	s.Cancelled = true
	return nil
}

// Finalize stamps the end time and run error. Subsequent calls fail.
func (s *RunSummary) Finalize(end time.Time, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrSummaryFinalized
	}

	end = end.UTC()
	s.EndTime = &end
	s.DurationSeconds = end.Sub(s.StartTime).Seconds()
	if runErr != nil {
		msg := runErr.Error()
		s.Error = &msg
	}
	s.finalized = true
	return nil
}

// Finalized reports whether Finalize has been called.
func (s *RunSummary) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

// Snapshot returns a copy safe to read or serialize while the run continues.
func (s *RunSummary) Snapshot() *RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &RunSummary{
		SessionID:       s.SessionID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.DurationSeconds,
		TotalMessages:   s.TotalMessages,
		TotalImages:     s.TotalImages,
		ChannelsSuccess: s.ChannelsSuccess,
		ChannelsFailed:  s.ChannelsFailed,
		ChannelDetails:  append([]ChannelOutcome{}, s.ChannelDetails...),
		Configuration:   s.Configuration,
		Cancelled:       s.Cancelled,
		Error:           s.Error,
		finalized:       s.finalized,
	}
	return cp
}

// DecodeRunSummary reads a summary written by a previous run. Summaries with
// an end time come back finalized.
func DecodeRunSummary(data []byte) (*RunSummary, error) {
	s := &RunSummary{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.ChannelDetails == nil {
		s.ChannelDetails = []ChannelOutcome{}
	}
	s.finalized = s.EndTime != nil
	return s, nil
}
