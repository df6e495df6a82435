package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"roomsync/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

func notFound(op string) error {
	return models.NewError(models.KindRoomNotFound, op, ErrNotFound)
}

func validateChatType(chatType models.ChatType) error {
	switch chatType {
	case models.ChatTypePrivate, models.ChatTypeGroup:
		return nil
	default:
		return fmt.Errorf("invalid chat type %q", chatType)
	}
}

func validateMemberType(memberType models.MemberType) error {
	switch memberType {
	case models.MemberTypeOwner, models.MemberTypeMember:
		return nil
	default:
		return fmt.Errorf("invalid member type %q", memberType)
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func encodeMessage(message *models.ChatMessage) (sql.NullString, error) {
	if message == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode message: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeMessage(ns sql.NullString) (*models.ChatMessage, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var message models.ChatMessage
	if err := json.Unmarshal([]byte(ns.String), &message); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &message, nil
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
