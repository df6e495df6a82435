package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"roomsync/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutMember inserts or updates one member record of a room.
func (s *Store) PutMember(ctx context.Context, owner, roomID string, member models.RoomMember) error {
	owner = models.NormalizeAddress(owner)

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rooms WHERE owner_address = ? AND room_id = ?`,
		owner,
		roomID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check room %q: %w", roomID, err)
	}
	if exists == 0 {
		return notFound("PutMember")
	}

	return putMember(ctx, s.db, owner, roomID, member)
}

func putMember(ctx context.Context, db execer, owner, roomID string, member models.RoomMember) error {
	member.Wallet = models.NormalizeAddress(member.Wallet)
	if member.Wallet == "" {
		return errors.New("member wallet is required")
	}
	if member.MemberType == "" {
		member.MemberType = models.MemberTypeMember
	}
	if err := validateMemberType(member.MemberType); err != nil {
		return err
	}
	if member.Timestamp == 0 {
		member.Timestamp = nowUnixMilli()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO room_members (
			owner_address,
			room_id,
			wallet,
			member_type,
			public_key,
			user_name,
			user_avatar,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_address, room_id, wallet) DO UPDATE SET
			member_type = excluded.member_type,
			public_key = excluded.public_key,
			user_name = excluded.user_name,
			user_avatar = excluded.user_avatar,
			timestamp = excluded.timestamp`,
		owner,
		roomID,
		member.Wallet,
		string(member.MemberType),
		member.PublicKey,
		member.UserName,
		nullString(member.UserAvatar),
		member.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert member %q of room %q: %w", member.Wallet, roomID, err)
	}
	return nil
}

func (s *Store) queryMembers(ctx context.Context, owner, roomID string) (map[string]models.RoomMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wallet, member_type, public_key, user_name, user_avatar, timestamp
		FROM room_members
		WHERE owner_address = ? AND room_id = ?`,
		owner,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query members of room %q: %w", roomID, err)
	}
	defer rows.Close()

	members := make(map[string]models.RoomMember)
	for rows.Next() {
		var (
			member     models.RoomMember
			memberType string
			avatar     sql.NullString
		)
		if err := rows.Scan(&member.Wallet, &memberType, &member.PublicKey, &member.UserName, &avatar, &member.Timestamp); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		member.MemberType = models.MemberType(memberType)
		member.UserAvatar = avatar.String
		members[member.Wallet] = member
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}
	return members, nil
}
