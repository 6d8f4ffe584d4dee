package amqp

import (
	"encoding/json"
	"time"
)

// ExportRequestMessage announces a pending export job. It carries only the
// job ID; the worker loads the job from the store.
type ExportRequestMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewExportRequestMessage(jobID, userID string) *ExportRequestMessage {
	return &ExportRequestMessage{
		ID:          jobID,
		UserID:      userID,
		RequestedAt: time.Now().UTC(),
	}
}

func (m *ExportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExportRequestMessageFromJSON(data []byte) (*ExportRequestMessage, error) {
	var msg ExportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
