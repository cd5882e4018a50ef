package websocket

import "github.com/prappser/splatfetch/internal/status"

type MessageType string

const (
	MessageTypeStatus    MessageType = "status"
	MessageTypeConnected MessageType = "connected"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

type IncomingMessage struct {
	Type MessageType `json:"type"`
}

type OutgoingMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
}

type StatusMessage struct {
	Type   MessageType `json:"type"`
	Status status.View `json:"status"`
	Text   string      `json:"text"`
}

func NewStatusMessage(s status.Status) *StatusMessage {
	return &StatusMessage{
		Type:   MessageTypeStatus,
		Status: status.ToView(s),
		Text:   s.String(),
	}
}
