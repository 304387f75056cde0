package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// storedSession is the envelope gotd's session.Loader reads back.
type storedSession struct {
	Version int
	Data    session.Data
}

// ConvertToGotgprotoSession converts a captured gotd login into the row
// gotgproto's SqlSession restores from.
func ConvertToGotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	raw, err := json.Marshal(storedSession{Version: 1, Data: *data})
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    raw,
	}, nil
}
