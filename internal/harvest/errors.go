package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tg-lake/internal/telegram"
)

// errors
var (
	ErrAlreadyRunning = errors.New("a harvest run is already running")
	ErrNoChannels     = errors.New("no channels configured")
)

// ConnectionError means the channel source could not be reached at all. The
// run fails; no channel is attempted.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// errorDetail is the short error text recorded in a channel outcome.
func errorDetail(err error) string {
	if reason := telegram.AccessReason(err); reason != "" {
		return reason
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}
