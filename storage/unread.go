package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomsync/models"
)

// UpdateUnread stores the reconciled unread counter of a room.
func (s *Store) UpdateUnread(ctx context.Context, owner, roomID string, state models.UnreadState) error {
	if state.UnreadCount < 0 {
		return fmt.Errorf("invalid unread count %d", state.UnreadCount)
	}
	latest, err := encodeMessage(state.LatestMessage)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO room_unread (owner_address, room_id, unread_count, latest_message, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_address, room_id) DO UPDATE SET
			unread_count = excluded.unread_count,
			latest_message = excluded.latest_message,
			updated_at = excluded.updated_at`,
		models.NormalizeAddress(owner),
		roomID,
		state.UnreadCount,
		latest,
		nowUnixMilli(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return notFound("UpdateUnread")
		}
		return fmt.Errorf("update unread of room %q: %w", roomID, err)
	}
	return nil
}

// QueryUnread returns the stored unread state of a room.
func (s *Store) QueryUnread(ctx context.Context, owner, roomID string) (*models.UnreadState, error) {
	var (
		state  = models.UnreadState{RoomID: roomID}
		latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT unread_count, latest_message
		FROM room_unread
		WHERE owner_address = ? AND room_id = ?`,
		models.NormalizeAddress(owner),
		roomID,
	).Scan(&state.UnreadCount, &latest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query unread of room %q: %w", roomID, err)
	}

	state.LatestMessage, err = decodeMessage(latest)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// QueryLatestMessage returns the latest known message of a room, or nil.
func (s *Store) QueryLatestMessage(ctx context.Context, owner, roomID string) (*models.ChatMessage, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT message
		FROM room_latest_messages
		WHERE owner_address = ? AND room_id = ?`,
		models.NormalizeAddress(owner),
		roomID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest message of room %q: %w", roomID, err)
	}
	return decodeMessage(raw)
}

// UpdateLatestMessage replaces the latest known message of a room.
func (s *Store) UpdateLatestMessage(ctx context.Context, owner, roomID string, message models.ChatMessage) error {
	raw, err := encodeMessage(&message)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO room_latest_messages (owner_address, room_id, message, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_address, room_id) DO UPDATE SET
			message = excluded.message,
			timestamp = excluded.timestamp`,
		models.NormalizeAddress(owner),
		roomID,
		raw,
		message.Timestamp,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return notFound("UpdateLatestMessage")
		}
		return fmt.Errorf("update latest message of room %q: %w", roomID, err)
	}
	return nil
}
