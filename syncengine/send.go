package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"roomsync/models"
)

// DefaultUserName is used as the sender name when none is configured.
const DefaultUserName = "[Anonymous]"

// SendMessage sends body to roomID. Strings and numbers are sent as text,
// maps, structs and slices as JSON.
func (e *Engine) SendMessage(ctx context.Context, roomID string, messageType models.MessageType, body any) error {
	const op = "SendMessage"

	wallet, room, err := e.resolveRoom(ctx, op, roomID)
	if err != nil {
		return err
	}
	if err := models.ValidateMessageType(messageType); err != nil {
		return models.NewError(models.KindInvalidMessageType, op, err)
	}
	text, err := encodeBody(body)
	if err != nil {
		return models.NewError(models.KindInvalidMessage, op, err)
	}

	userName := e.options.UserName
	if userName == "" {
		userName = DefaultUserName
	}
	message := models.ChatMessage{
		RoomID:      room.RoomID,
		ChatType:    room.ChatType,
		MessageType: messageType,
		Wallet:      wallet.Address,
		FromName:    userName,
		FromAvatar:  e.options.UserAvatar,
		Body:        text,
		Timestamp:   e.now().UnixMilli(),
	}

	switch room.ChatType {
	case models.ChatTypePrivate:
		message.PublicKey = wallet.PublicKey
		err = e.options.Transport.SendPrivateMessage(ctx, wallet.PrivateKey, message)
	case models.ChatTypeGroup:
		err = e.options.Transport.SendGroupMessage(ctx, wallet.PrivateKey, message, "")
	default:
		return models.Errorf(models.KindInvalidRoomID, op, "unsupported chat type %q", room.ChatType)
	}
	if err != nil {
		return models.NewError(models.KindTransport, op, err)
	}

	e.log.Debug().
		Str("room_id", room.RoomID).
		Str("message_type", string(messageType)).
		Msg("Sent message")
	return nil
}

// LeaveRoom leaves roomID on the relay. Leaving the open room also closes its
// session so in-flight pages are discarded.
func (e *Engine) LeaveRoom(ctx context.Context, roomID string) error {
	const op = "LeaveRoom"

	if err := models.ValidateRoomID(roomID); err != nil {
		return models.NewError(models.KindInvalidRoomID, op, err)
	}
	if err := e.options.Transport.LeaveRoom(ctx, roomID); err != nil {
		return models.NewError(models.KindTransport, op, err)
	}

	e.mu.Lock()
	if e.current != nil && sameRoom(e.current.roomID, roomID) {
		e.current = nil
	}
	e.mu.Unlock()
	return nil
}

func encodeBody(body any) (string, error) {
	switch value := body.(type) {
	case nil:
		return "", fmt.Errorf("message body is required")
	case string:
		return value, nil
	case json.Number:
		return value.String(), nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	}

	kind := reflect.TypeOf(body).Kind()
	switch kind {
	case reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32:
		return fmt.Sprint(body), nil
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array, reflect.Pointer:
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode message body: %w", err)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unsupported message body type %T", body)
	}
}
