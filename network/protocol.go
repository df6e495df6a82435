package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomsync/models"
)

const (
	// MaxFrameSize is the maximum accepted websocket message size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// DefaultDialTimeout bounds the websocket handshake.
	DefaultDialTimeout = 10 * time.Second
	// DefaultMaxDialElapsed bounds all dial attempts together.
	DefaultMaxDialElapsed = time.Minute
	// DefaultRequestTimeout bounds the wait for an ack.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultKeepAliveInterval sends a ping on idle connections.
	DefaultKeepAliveInterval = 30 * time.Second
	// DefaultKeepAliveTimeout waits this long for the pong after a ping.
	DefaultKeepAliveTimeout = 15 * time.Second
	// ClientIDHeader carries the stable client identifier on dial.
	ClientIDHeader = "X-Roomsync-Client-Id"
)

const (
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventPullMessage        = "pull-message"
	EventCountMessage       = "count-message"
	EventSendPrivateMessage = "send-private-message"
	EventSendGroupMessage   = "send-group-message"
	EventChatMessage        = "chat-message"
	EventAck                = "ack"
)

var (
	// ErrClosed indicates the connection is no longer usable.
	ErrClosed = errors.New("network: connection closed")
	// ErrRequestTimeout indicates no ack arrived in time.
	ErrRequestTimeout = errors.New("network: request timed out")
	// ErrInvalidEvent indicates the frame event is missing.
	ErrInvalidEvent = errors.New("network: invalid frame event")
)

// Frame is the envelope of every websocket message. Requests carry an ID
// that the relay echoes in its ack; pushes have no ID.
type Frame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendGroupMessageData is the body of a send-group-message request.
type SendGroupMessageData struct {
	Payload *models.ChatMessage `json:"payload"`
	PinCode string              `json:"pinCode,omitempty"`
}

// CountMessageEntry is one per-room element of a count-message reply.
type CountMessageEntry struct {
	Channel         string           `json:"channel"`
	Count           int              `json:"count"`
	LastElementList []LastElementRow `json:"lastElementList"`
}

// LastElementRow wraps one trailing message of a count reply.
type LastElementRow struct {
	Data models.SendMessageRequest `json:"data"`
}

// EncodeFrame marshals a frame with data encoded as JSON.
func EncodeFrame(id, event string, data any) ([]byte, error) {
	frame := Frame{ID: id, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", event, err)
		}
		frame.Data = raw
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return payload, nil
}

// DecodeFrame parses a websocket message into a Frame.
func DecodeFrame(payload []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event == "" {
		return Frame{}, ErrInvalidEvent
	}
	return frame, nil
}

// decodeAck checks a plain acknowledgement.
func decodeAck(event string, data json.RawMessage) error {
	var ack models.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("decode %s ack: %w", event, err)
	}
	if !models.IsSuccessStatus(ack.Status) {
		if ack.Error != "" {
			return fmt.Errorf("%s rejected with status %d: %s", event, ack.Status, ack.Error)
		}
		return fmt.Errorf("%s rejected with status %d", event, ack.Status)
	}
	return nil
}
