package models

import "encoding/json"

// PaginationOrder is the sort order requested from the remote store.
type PaginationOrder string

const (
	PaginationOrderAsc  PaginationOrder = "asc"
	PaginationOrderDesc PaginationOrder = "desc"
)

// Pagination selects one page of a pull request.
type Pagination struct {
	PageNo   int             `json:"pageNo"`
	PageSize int             `json:"pageSize"`
	Order    PaginationOrder `json:"order"`
}

// PullMessageRequest asks the remote store for a window of room history.
//
// EndTimestamp -1 means "up to the most recent message".
type PullMessageRequest struct {
	RoomID         string     `json:"roomId"`
	StartTimestamp int64      `json:"startTimestamp"`
	EndTimestamp   int64      `json:"endTimestamp"`
	Pagination     Pagination `json:"pagination"`
}

// PullMessageItem is one entry of a pull response. Data is kept raw so each
// entry can be validated on its own.
type PullMessageItem struct {
	Data json.RawMessage `json:"data"`
}

// PullMessageResponse is the remote store reply to a PullMessageRequest.
type PullMessageResponse struct {
	Status *int              `json:"status"`
	List   []PullMessageItem `json:"list"`
}

// CountMessageOption is the per-room tuple of a batched count request.
type CountMessageOption struct {
	Channel        string `json:"channel"`
	StartTimestamp int64  `json:"startTimestamp"`
	LastElement    int    `json:"lastElement"`
}

// CountMessageRequest counts messages for several rooms at once.
type CountMessageRequest struct {
	Options []CountMessageOption `json:"options"`
}

// CountMessageResponse is the remote reply to a CountMessageRequest. List
// entries are validated individually.
type CountMessageResponse struct {
	Status *int              `json:"status"`
	List   []json.RawMessage `json:"list"`
}

// JoinRoomRequest and LeaveRoomRequest carry only the room identifier.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

// Ack is the generic acknowledgement returned for requests without a body.
type Ack struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IsSuccessStatus reports whether status is within the 2xx range used by the
// remote store.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status <= 208
}
