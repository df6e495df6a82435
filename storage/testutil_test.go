package storage

import (
	"context"
	"testing"

	"roomsync/models"
)

const (
	testOwner  = "0x1111111111111111111111111111111111111111"
	testPeer   = "0x2222222222222222222222222222222222222222"
	testRoomID = "0x3333333333333333333333333333333333333333"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustPutRoom(t *testing.T, store *Store, roomID, name string, chatType models.ChatType) models.RoomEntity {
	t.Helper()

	room := models.RoomEntity{
		RoomID:   roomID,
		ChatType: chatType,
		Name:     name,
		Members: map[string]models.RoomMember{
			testOwner: {
				MemberType: models.MemberTypeOwner,
				Wallet:     testOwner,
				PublicKey:  "owner-public-key",
				UserName:   "owner",
				Timestamp:  1,
			},
			testPeer: {
				MemberType: models.MemberTypeMember,
				Wallet:     testPeer,
				PublicKey:  "peer-public-key",
				UserName:   "peer",
				Timestamp:  2,
			},
		},
	}
	if err := store.PutRoom(context.Background(), testOwner, room); err != nil {
		t.Fatalf("put room %q: %v", roomID, err)
	}
	return room
}
