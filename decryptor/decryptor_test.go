package decryptor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/crypto"
	"roomsync/models"
)

const (
	roomID = "0x1111111111111111111111111111111111111111"
	sender = "0x2222222222222222222222222222222222222222"
)

type fakeMembers struct {
	mu      sync.Mutex
	puts    []models.RoomMember
	failPut error
}

func (f *fakeMembers) PutMember(_ context.Context, _, _ string, member models.RoomMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, member)
	return f.failPut
}

type stubPrivate struct {
	result string
	err    error
	rooms  []models.RoomEntity
}

func (s *stubPrivate) DecryptMessage(_ string, room models.RoomEntity, _, _ string) (string, error) {
	s.rooms = append(s.rooms, room)
	return s.result, s.err
}

type stubGroup struct {
	result string
	err    error
	calls  int
}

func (s *stubGroup) DecryptMessage(string, models.RoomEntity, string) (string, error) {
	s.calls++
	return s.result, s.err
}

func newDecryptor(t *testing.T, identity Identity, members *fakeMembers, private PrivateCrypto, group GroupCrypto) *Decryptor {
	t.Helper()
	d, err := New(Options{
		Identity: identity,
		Members:  members,
		Private:  private,
		Group:    group,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return d
}

func boundHolder() *crypto.Holder {
	return crypto.NewHolder(crypto.Wallet{Address: "0x9999999999999999999999999999999999999999", PrivateKey: "priv"})
}

func message(chatType models.ChatType, body string) models.ChatMessage {
	return models.ChatMessage{
		RoomID:      roomID,
		ChatType:    chatType,
		MessageType: models.MessageTypeUser,
		Wallet:      "  0x2222222222222222222222222222222222222222 ",
		PublicKey:   "sender-key",
		FromName:    "Bob",
		Body:        body,
		Timestamp:   42,
	}
}

func TestIsValidDecryptedBody(t *testing.T) {
	assert.True(t, IsValidDecryptedBody("XYZAB", "hi"))
	assert.False(t, IsValidDecryptedBody("XYZAB", "XYZAB"))
	assert.False(t, IsValidDecryptedBody("XYZAB", "much longer text"))
	assert.False(t, IsValidDecryptedBody("XYZAB", ""))
	assert.False(t, IsValidDecryptedBody("", ""))
	assert.False(t, IsValidDecryptedBody("ABCDE", "FGHIJ"))
}

func TestPrivateDecryptAcceptedUpsertsSender(t *testing.T) {
	members := &fakeMembers{}
	private := &stubPrivate{result: "hi"}
	room := models.RoomEntity{
		RoomID:   roomID,
		ChatType: models.ChatTypePrivate,
		Name:     "dm",
		Members:  map[string]models.RoomMember{},
	}
	d := newDecryptor(t, boundHolder(), members, private, &stubGroup{})

	out := d.Decrypt(context.Background(), message(models.ChatTypePrivate, "XYZAB"), room)

	assert.Equal(t, "hi", out.Body)
	require.Len(t, members.puts, 1)
	assert.Equal(t, sender, members.puts[0].Wallet)
	assert.Equal(t, "sender-key", members.puts[0].PublicKey)
	assert.Equal(t, models.MemberTypeMember, members.puts[0].MemberType)

	require.Len(t, private.rooms, 1)
	assert.Contains(t, private.rooms[0].Members, sender, "provisional room must carry the sender")
	assert.Empty(t, room.Members, "shared room must not be mutated")
}

func TestDecryptRejectedPassesCandidateThrough(t *testing.T) {
	for _, candidate := range []string{"XYZAB", "longer than ciphertext", ""} {
		members := &fakeMembers{}
		d := newDecryptor(t, boundHolder(), members, &stubPrivate{result: candidate}, &stubGroup{})

		out := d.Decrypt(context.Background(), message(models.ChatTypePrivate, "XYZAB"),
			models.RoomEntity{RoomID: roomID, ChatType: models.ChatTypePrivate})

		assert.Equal(t, candidate, out.Body)
		assert.Empty(t, members.puts, "candidate %q must not upsert", candidate)
	}
}

func TestGroupDecryptUsesRoomOnly(t *testing.T) {
	members := &fakeMembers{failPut: errors.New("disk full")}
	private := &stubPrivate{}
	group := &stubGroup{result: "ok"}
	d := newDecryptor(t, boundHolder(), members, private, group)

	out := d.Decrypt(context.Background(), message(models.ChatTypeGroup, "CIPHERTEXT"),
		models.RoomEntity{RoomID: roomID, ChatType: models.ChatTypeGroup})

	assert.Equal(t, "ok", out.Body)
	assert.Equal(t, 1, group.calls)
	assert.Empty(t, private.rooms)
	assert.Len(t, members.puts, 1, "upsert failure is swallowed")
}

func TestDecryptErrorsLeaveMessageUnchanged(t *testing.T) {
	original := message(models.ChatTypePrivate, "XYZAB")

	failing := newDecryptor(t, boundHolder(), &fakeMembers{}, &stubPrivate{err: errors.New("bad key")}, &stubGroup{})
	assert.Equal(t, original, failing.Decrypt(context.Background(), original,
		models.RoomEntity{RoomID: roomID, ChatType: models.ChatTypePrivate}))

	noWallet := newDecryptor(t, &crypto.Holder{}, &fakeMembers{}, &stubPrivate{result: "hi"}, &stubGroup{})
	assert.Equal(t, original, noWallet.Decrypt(context.Background(), original,
		models.RoomEntity{RoomID: roomID, ChatType: models.ChatTypePrivate}))

	mismatch := newDecryptor(t, boundHolder(), &fakeMembers{}, &stubPrivate{result: "hi"}, &stubGroup{})
	assert.Equal(t, original, mismatch.Decrypt(context.Background(), original,
		models.RoomEntity{RoomID: roomID, ChatType: models.ChatTypeGroup}))
}

func TestUnknownChatTypePassesThrough(t *testing.T) {
	d := newDecryptor(t, boundHolder(), &fakeMembers{}, &stubPrivate{result: "hi"}, &stubGroup{result: "hi"})
	original := message("broadcast", "XYZAB")

	assert.Equal(t, original, d.Decrypt(context.Background(), original,
		models.RoomEntity{RoomID: roomID, ChatType: "broadcast"}))
}

func TestDecryptWithRealPrivateCipher(t *testing.T) {
	alice, err := crypto.EnsureWallet(filepath.Join(t.TempDir(), "alice.pem"))
	require.NoError(t, err)
	bob, err := crypto.EnsureWallet(filepath.Join(t.TempDir(), "bob.pem"))
	require.NoError(t, err)

	room := models.RoomEntity{
		RoomID:   roomID,
		ChatType: models.ChatTypePrivate,
		Name:     "dm",
		Members: map[string]models.RoomMember{
			bob.Address: {MemberType: models.MemberTypeOwner, Wallet: bob.Address, PublicKey: bob.PublicKey},
		},
	}
	sendRoom := room.Clone()
	sendRoom.Members[alice.Address] = models.RoomMember{Wallet: alice.Address, PublicKey: alice.PublicKey}
	body, err := crypto.PrivateMessageCrypto{}.EncryptMessage("hello", sendRoom, alice.Address, alice.PrivateKey)
	require.NoError(t, err)

	members := &fakeMembers{}
	d := newDecryptor(t, crypto.NewHolder(bob), members, nil, nil)
	out := d.Decrypt(context.Background(), models.ChatMessage{
		RoomID:      roomID,
		ChatType:    models.ChatTypePrivate,
		MessageType: models.MessageTypeUser,
		Wallet:      alice.Address,
		PublicKey:   alice.PublicKey,
		Body:        body,
		Timestamp:   1,
	}, room)

	assert.Equal(t, "hello", out.Body)
	require.Len(t, members.puts, 1)
	assert.Equal(t, alice.Address, members.puts[0].Wallet)
}
