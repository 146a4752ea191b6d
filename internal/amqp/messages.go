package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// SyncRequestMessage asks the worker to sync a user's bank connections.
// It carries identifiers only; the worker loads the connection and cursor
// from the store. An empty ConnectionID means every connection of the user.
type SyncRequestMessage struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewSyncRequestMessage(userID, connectionID string) *SyncRequestMessage {
	return &SyncRequestMessage{
		UserID:       userID,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRequestMessageFromJSON decodes a message body. A body without a
// user is rejected.
func SyncRequestMessageFromJSON(data []byte) (*SyncRequestMessage, error) {
	var msg SyncRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("sync request without user id")
	}
	return &msg, nil
}
