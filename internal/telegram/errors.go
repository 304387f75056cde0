package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// channel access reasons
var (
	ErrChannelPrivate   = errors.New("private")
	ErrPermissionDenied = errors.New("permission denied")
	ErrChannelNotFound  = errors.New("not found")
	ErrNotAChannel      = errors.New("not a channel")
)

// ErrUnauthorized is returned when no usable session exists.
var ErrUnauthorized = errors.New("telegram client not authorized")

// AccessError means the channel cannot be read with this account.
type AccessError struct {
	Channel string
	Reason  error
	Err     error // provider error, may be nil
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Reason)
}

// Unwrap exposes both the reason sentinel and the provider error.
func (e *AccessError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}

// FloodWaitError is the provider directive to pause before further requests.
type FloodWaitError struct {
	Seconds int
	Err     error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: %d seconds", e.Seconds)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// Wait is the mandated pause.
func (e *FloodWaitError) Wait() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

// FloodWaitSeconds returns the mandated wait when err is a FLOOD_WAIT signal.
func FloodWaitSeconds(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return int(d / time.Second), true
	}

	// errors stringified by wrappers, e.g. "rpc error: code 420: FLOOD_WAIT_15"
	str := err.Error()
	if strings.Contains(str, "FLOOD_WAIT_") {
		var seconds int
		parts := strings.Split(str, "FLOOD_WAIT_")
		if _, scanErr := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds); scanErr == nil {
			return seconds, true
		}
	}
	return 0, false
}

// rpc error types mapped to access reasons
var accessTypes = map[string]error{
	"CHANNEL_PRIVATE":         ErrChannelPrivate,
	"CHANNEL_PUBLIC_GROUP_NA": ErrChannelPrivate,
	"INVITE_HASH_EXPIRED":     ErrChannelPrivate,
	"CHAT_ADMIN_REQUIRED":     ErrPermissionDenied,
	"CHAT_FORBIDDEN":          ErrPermissionDenied,
	"USER_BANNED_IN_CHANNEL":  ErrPermissionDenied,
	"USERNAME_NOT_OCCUPIED":   ErrChannelNotFound,
	"USERNAME_INVALID":        ErrChannelNotFound,
	"CHANNEL_INVALID":         ErrChannelNotFound,
}

// classify converts provider errors into the package taxonomy.
func classify(channel string, err error) error {
	if err == nil {
		return nil
	}
	if secs, ok := FloodWaitSeconds(err); ok {
		return &FloodWaitError{Seconds: secs, Err: err}
	}
	if rpcErr, ok := tgerr.As(err); ok {
		if reason, found := accessTypes[rpcErr.Type]; found {
			return &AccessError{Channel: channel, Reason: reason, Err: err}
		}
		if rpcErr.Code == 401 {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}

// IsAuthError reports whether the session must be reacquired.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var access *AccessError
	if errors.As(err, &access) || IsAuthError(err) {
		return false
	}
	if rpcErr, ok := tgerr.As(err); ok {
		switch rpcErr.Code {
		case 400, 401, 403, 404, 406:
			return false
		}
	}
	return true
}

// AccessReason returns the short reason of an access error, or "".
func AccessReason(err error) string {
	var access *AccessError
	if errors.As(err, &access) {
		return access.Reason.Error()
	}
	return ""
}
