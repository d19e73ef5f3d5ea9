package ws

import "time"

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageSnapshot        MessageType = "snapshot"
	MessageWindowUpdated   MessageType = "window.updated"
	MessageAnomalyDetected MessageType = "anomaly.detected"
	MessageAnomalyResolved MessageType = "anomaly.resolved"
)

// Message is the envelope for all WebSocket messages. Series is empty for
// snapshot messages, which carry every matching window at once.
type Message struct {
	Type      MessageType `json:"type"`
	Series    string      `json:"series,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
