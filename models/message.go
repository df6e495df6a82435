package models

// ChatType selects how a room's messages are encrypted.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// MessageType distinguishes user-authored messages from system traffic.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// ChatMessage is one message of a room timeline.
//
// Body holds ciphertext until it has been decrypted in place. Timestamp is the
// sender-assigned epoch in milliseconds and is the only ordering key.
type ChatMessage struct {
	RoomID      string      `json:"roomId" validate:"required,eth_addr"`
	ChatType    ChatType    `json:"chatType" validate:"required,oneof=private group"`
	MessageType MessageType `json:"messageType" validate:"required,oneof=user system"`
	Wallet      string      `json:"wallet" validate:"required,eth_addr"`
	PublicKey   string      `json:"publicKey,omitempty"`
	FromName    string      `json:"fromName"`
	FromAvatar  string      `json:"fromAvatar"`
	Body        string      `json:"body"`
	Timestamp   int64       `json:"timestamp" validate:"gt=0"`
	Hash        string      `json:"hash"`
	Sig         string      `json:"sig"`
}

// SendMessageRequest is the wire envelope around a ChatMessage.
type SendMessageRequest struct {
	Payload *ChatMessage `json:"payload" validate:"required"`
}
