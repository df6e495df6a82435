package models

// MemberType is the role of a member inside a room.
type MemberType string

const (
	MemberTypeOwner  MemberType = "owner"
	MemberTypeMember MemberType = "member"
)

// RoomMember is the directory record of one room participant.
type RoomMember struct {
	MemberType MemberType `json:"memberType" validate:"required,oneof=owner member"`
	Wallet     string     `json:"wallet" validate:"required,eth_addr"`
	PublicKey  string     `json:"publicKey"`
	UserName   string     `json:"userName"`
	UserAvatar string     `json:"userAvatar,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}

// UnreadState is the reconciled unread counter of a room.
type UnreadState struct {
	RoomID        string       `json:"roomId"`
	UnreadCount   int          `json:"unreadCount"`
	LatestMessage *ChatMessage `json:"unreadLatestMessage,omitempty"`
}

// RoomEntity is the room directory view of a room. The sync core treats it as
// read-only apart from member upserts after a successful decrypt.
type RoomEntity struct {
	RoomID        string                `json:"roomId" validate:"required,eth_addr"`
	ChatType      ChatType              `json:"chatType" validate:"required,oneof=private group"`
	Name          string                `json:"name" validate:"required"`
	RoomKey       string                `json:"roomKey,omitempty"`
	Members       map[string]RoomMember `json:"members"`
	LatestMessage *ChatMessage          `json:"latestMessage,omitempty" validate:"-"`
	Unread        *UnreadState          `json:"unread,omitempty" validate:"-"`
}

// Clone returns a copy whose members map can be modified without touching r.
func (r RoomEntity) Clone() RoomEntity {
	out := r
	out.Members = make(map[string]RoomMember, len(r.Members))
	for address, member := range r.Members {
		out.Members[address] = member
	}
	if r.LatestMessage != nil {
		latest := *r.LatestMessage
		out.LatestMessage = &latest
	}
	if r.Unread != nil {
		unread := *r.Unread
		out.Unread = &unread
	}
	return out
}

// LatestTimestamp returns the timestamp of the room's latest message, or 0.
func (r RoomEntity) LatestTimestamp() int64 {
	if r.LatestMessage == nil {
		return 0
	}
	return r.LatestMessage.Timestamp
}
