package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomsync/models"
)

// PutRoom inserts or replaces a room and its member list for owner.
func (s *Store) PutRoom(ctx context.Context, owner string, room models.RoomEntity) error {
	owner = models.NormalizeAddress(owner)
	if owner == "" {
		return errors.New("owner address is required")
	}
	if err := models.ValidateRoomID(room.RoomID); err != nil {
		return err
	}
	if err := validateChatType(room.ChatType); err != nil {
		return err
	}
	if room.Name == "" {
		return errors.New("room name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put room transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (owner_address, room_id, chat_type, name, room_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_address, room_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			name = excluded.name,
			room_key = excluded.room_key`,
		owner,
		room.RoomID,
		string(room.ChatType),
		room.Name,
		room.RoomKey,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert room %q: %w", room.RoomID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM room_members WHERE owner_address = ? AND room_id = ?`,
		owner,
		room.RoomID,
	); err != nil {
		return fmt.Errorf("clear members of room %q: %w", room.RoomID, err)
	}
	for _, member := range room.Members {
		if err := putMember(ctx, tx, owner, room.RoomID, member); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put room transaction: %w", err)
	}
	return nil
}

// DeleteRoom removes a room together with its members and unread state.
func (s *Store) DeleteRoom(ctx context.Context, owner, roomID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rooms WHERE owner_address = ? AND room_id = ?`,
		models.NormalizeAddress(owner),
		roomID,
	)
	if err != nil {
		return fmt.Errorf("delete room %q: %w", roomID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("DeleteRoom")
	}
	return nil
}

// QueryRoom returns one room of owner with members, latest message and unread
// state. A missing room yields an error matching models.ErrRoomNotFound.
func (s *Store) QueryRoom(ctx context.Context, owner, roomID string) (*models.RoomEntity, error) {
	owner = models.NormalizeAddress(owner)
	row := s.db.QueryRowContext(ctx,
		`SELECT room_id, chat_type, name, room_key
		FROM rooms
		WHERE owner_address = ? AND room_id = ?`,
		owner,
		roomID,
	)

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("QueryRoom")
		}
		return nil, fmt.Errorf("query room %q: %w", roomID, err)
	}
	if err := s.loadRoomDetails(ctx, owner, room); err != nil {
		return nil, err
	}
	return room, nil
}

// QueryRooms returns every room of owner ordered by name.
func (s *Store) QueryRooms(ctx context.Context, owner string) ([]models.RoomEntity, error) {
	owner = models.NormalizeAddress(owner)
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, chat_type, name, room_key
		FROM rooms
		WHERE owner_address = ?
		ORDER BY name, room_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}

	rooms := make([]models.RoomEntity, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate room rows: %w", err)
	}
	_ = rows.Close()

	for i := range rooms {
		if err := s.loadRoomDetails(ctx, owner, &rooms[i]); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (s *Store) loadRoomDetails(ctx context.Context, owner string, room *models.RoomEntity) error {
	members, err := s.queryMembers(ctx, owner, room.RoomID)
	if err != nil {
		return err
	}
	room.Members = members

	latest, err := s.QueryLatestMessage(ctx, owner, room.RoomID)
	if err != nil {
		return err
	}
	room.LatestMessage = latest

	unread, err := s.QueryUnread(ctx, owner, room.RoomID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	room.Unread = unread
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(scanner rowScanner) (*models.RoomEntity, error) {
	var (
		room     models.RoomEntity
		chatType string
	)
	if err := scanner.Scan(&room.RoomID, &chatType, &room.Name, &room.RoomKey); err != nil {
		return nil, err
	}
	room.ChatType = models.ChatType(chatType)
	room.Members = make(map[string]models.RoomMember)
	return &room, nil
}
