package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRoomID checks the room identifier format.
func ValidateRoomID(roomID string) error {
	if err := validatorInstance().Var(roomID, "required,eth_addr"); err != nil {
		return Errorf(KindInvalidRoomID, "", "invalid room id %q", roomID)
	}
	return nil
}

// ValidateMessageType checks that messageType is a known kind.
func ValidateMessageType(messageType MessageType) error {
	if err := validatorInstance().Var(string(messageType), "required,oneof=user system"); err != nil {
		return Errorf(KindInvalidMessageType, "", "invalid message type %q", messageType)
	}
	return nil
}

// ValidateMessage checks the schema of a single chat message.
func ValidateMessage(message *ChatMessage) error {
	if message == nil {
		return Errorf(KindInvalidMessage, "", "message is required")
	}
	if err := validatorInstance().Struct(message); err != nil {
		return NewError(KindInvalidMessage, "", describeValidation(err))
	}
	return nil
}

// ValidateSendMessageRequest checks the envelope and its payload.
func ValidateSendMessageRequest(request *SendMessageRequest) error {
	if request == nil {
		return Errorf(KindInvalidMessage, "", "request is required")
	}
	return ValidateMessage(request.Payload)
}

// DecodeSendMessageRequest decodes and validates raw envelope JSON. A missing
// or null document is rejected.
func DecodeSendMessageRequest(raw json.RawMessage) (*SendMessageRequest, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || !strings.HasPrefix(trimmed, "{") {
		return nil, Errorf(KindInvalidMessage, "", "data is not an object")
	}

	var request SendMessageRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil, NewError(KindInvalidMessage, "", fmt.Errorf("decode message: %w", err))
	}
	if err := ValidateSendMessageRequest(&request); err != nil {
		return nil, err
	}
	return &request, nil
}

// ValidateRoom checks a room entity read from the directory.
func ValidateRoom(room *RoomEntity) error {
	if room == nil {
		return Errorf(KindInvalidRoomID, "", "room is required")
	}
	if err := validatorInstance().Struct(room); err != nil {
		return NewError(KindInvalidRoomID, "", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

// NormalizeAddress lower-cases and trims a wallet address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
