package models

// MessageType identifies a cross-tab coordination message.
type MessageType string

const (
	MessageSessionStarted MessageType = "SESSION_STARTED"
	MessageSessionEnded   MessageType = "SESSION_ENDED"
	MessageHeartbeat      MessageType = "HEARTBEAT"
	MessageRequestStatus  MessageType = "REQUEST_STATUS"
)

// ExamSession identifies one exam attempt running in one tab.
// StartTime is unix milliseconds and is the tie-break authority between tabs.
type ExamSession struct {
	ExamID    int    `json:"exam_id"`
	AttemptID int    `json:"attempt_id"`
	PartID    *int   `json:"part_id,omitempty"`
	StartTime int64  `json:"start_time"`
	TabID     string `json:"tab_id"`
}

// CoordinationMessage is the envelope broadcast between tabs. Never stored.
type CoordinationMessage struct {
	Type      MessageType `json:"type"`
	Session   ExamSession `json:"session"`
	Timestamp int64       `json:"timestamp"`
}

func (m MessageType) Valid() bool {
	switch m {
	case MessageSessionStarted, MessageSessionEnded, MessageHeartbeat, MessageRequestStatus:
		return true
	}
	return false
}
