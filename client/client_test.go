package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/crypto"
	"roomsync/models"
	"roomsync/network"
	"roomsync/storage"
)

const testRoomID = "0x3333333333333333333333333333333333333333"

func testWallet(t *testing.T, fill byte) crypto.Wallet {
	t.Helper()
	wallet, err := crypto.WalletFromSeed(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return wallet
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func groupRoom(t *testing.T, key string, wallets ...crypto.Wallet) models.RoomEntity {
	t.Helper()
	room := models.RoomEntity{
		RoomID:   testRoomID,
		ChatType: models.ChatTypeGroup,
		Name:     "general",
		RoomKey:  key,
		Members:  map[string]models.RoomMember{},
	}
	for i, wallet := range wallets {
		memberType := models.MemberTypeMember
		if i == 0 {
			memberType = models.MemberTypeOwner
		}
		room.Members[wallet.Address] = models.RoomMember{
			MemberType: memberType,
			Wallet:     wallet.Address,
			PublicKey:  wallet.PublicKey,
			UserName:   "member",
			Timestamp:  int64(i + 1),
		}
	}
	return room
}

func TestMessageFlowsBetweenClientsThroughRelay(t *testing.T) {
	ctx := context.Background()

	relay, err := network.ListenRelay("127.0.0.1:0", network.RelayOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	alice := testWallet(t, 0x01)
	bob := testWallet(t, 0x02)
	key, err := crypto.NewRoomKey()
	require.NoError(t, err)
	room := groupRoom(t, key, alice, bob)

	aliceStore := openStore(t)
	bobStore := openStore(t)
	require.NoError(t, aliceStore.PutRoom(ctx, alice.Address, room))
	require.NoError(t, bobStore.PutRoom(ctx, bob.Address, room))

	dial := func(store *storage.Store) *network.Client {
		transport, err := network.Dial(ctx, network.ClientOptions{
			URL:            relay.URL(),
			Rooms:          store,
			RequestTimeout: 2 * time.Second,
			Logger:         zerolog.Nop(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = transport.Close() })
		return transport
	}

	aliceClient, err := New(Options{
		Identity:  crypto.NewHolder(alice),
		Directory: aliceStore,
		Transport: dial(aliceStore),
		UserName:  "alice",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(aliceClient.Stop)

	arrived := make(chan string, 4)
	bobClient, err := New(Options{
		Identity:  crypto.NewHolder(bob),
		Directory: bobStore,
		Transport: dial(bobStore),
		OnMessageArrived: func(roomID string) {
			arrived <- roomID
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(bobClient.Stop)

	timeline, err := bobClient.Engine.OpenRoom(ctx, testRoomID)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	require.NoError(t, aliceClient.Engine.SendMessage(ctx, testRoomID, models.MessageTypeUser, "hello bob"))

	select {
	case roomID := <-arrived:
		assert.Equal(t, testRoomID, roomID)
	case <-time.After(3 * time.Second):
		t.Fatal("pushed message did not arrive")
	}

	openRoomID, messages := bobClient.Engine.Timeline()
	assert.Equal(t, testRoomID, openRoomID)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello bob", messages[0].Body)
	assert.Equal(t, "alice", messages[0].FromName)
	assert.Equal(t, alice.Address, messages[0].Wallet)

	latest, err := bobStore.QueryLatestMessage(ctx, bob.Address, testRoomID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "hello bob", latest.Body)

	unread, err := bobStore.QueryUnread(ctx, bob.Address, testRoomID)
	require.NoError(t, err)
	assert.Equal(t, 0, unread.UnreadCount)
}

type fakeTransport struct {
	mu        sync.Mutex
	joined    []string
	counts    []models.CountMessageRequest
	count     int
	onMessage func(models.SendMessageRequest)
}

func (f *fakeTransport) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeTransport) LeaveRoom(context.Context, string) error { return nil }

func (f *fakeTransport) PullMessage(context.Context, models.PullMessageRequest) (*models.PullMessageResponse, error) {
	status := http.StatusOK
	return &models.PullMessageResponse{Status: &status, List: []models.PullMessageItem{}}, nil
}

func (f *fakeTransport) CountMessage(_ context.Context, request models.CountMessageRequest) (*models.CountMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, request)

	status := http.StatusOK
	response := &models.CountMessageResponse{Status: &status}
	for _, option := range request.Options {
		raw, err := json.Marshal(map[string]any{
			"channel":         option.Channel,
			"count":           f.count,
			"lastElementList": []any{},
		})
		if err != nil {
			return nil, err
		}
		response.List = append(response.List, raw)
	}
	return response, nil
}

func (f *fakeTransport) SendPrivateMessage(context.Context, string, models.ChatMessage) error {
	return nil
}

func (f *fakeTransport) SendGroupMessage(context.Context, string, models.ChatMessage, string) error {
	return nil
}

func (f *fakeTransport) SetOnMessage(handler func(models.SendMessageRequest)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = handler
}

func (f *fakeTransport) handler() func(models.SendMessageRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onMessage
}

func (f *fakeTransport) joinedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

func TestStartCountsAllRoomsThenActivates(t *testing.T) {
	ctx := context.Background()
	wallet := testWallet(t, 0x05)
	store := openStore(t)
	require.NoError(t, store.PutRoom(ctx, wallet.Address, groupRoom(t, "", wallet)))

	transport := &fakeTransport{count: 4}
	c, err := New(Options{
		Identity:           crypto.NewHolder(wallet),
		Directory:          store,
		Transport:          transport,
		ActivationInterval: time.Hour,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NotNil(t, transport.handler(), "push handler should be attached")

	require.NoError(t, c.Start(ctx))
	t.Cleanup(c.Stop)

	require.Len(t, transport.counts, 1)
	require.Len(t, transport.counts[0].Options, 1)
	assert.Equal(t, testRoomID, transport.counts[0].Options[0].Channel)

	unread, err := store.QueryUnread(ctx, wallet.Address, testRoomID)
	require.NoError(t, err)
	assert.Equal(t, 3, unread.UnreadCount)

	assert.Eventually(t, func() bool {
		return len(transport.joinedRooms()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Activator.Running())
}

func TestStartWithoutWallet(t *testing.T) {
	transport := &fakeTransport{}
	c, err := New(Options{
		Identity:  &crypto.Holder{},
		Directory: openStore(t),
		Transport: transport,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.ErrorIs(t, err, models.ErrWalletUnavailable)
	assert.False(t, c.Activator.Running())
}

func TestStopDetachesPushesAndActivator(t *testing.T) {
	ctx := context.Background()
	wallet := testWallet(t, 0x06)
	store := openStore(t)
	require.NoError(t, store.PutRoom(ctx, wallet.Address, groupRoom(t, "", wallet)))

	transport := &fakeTransport{}
	c, err := New(Options{
		Identity:           crypto.NewHolder(wallet),
		Directory:          store,
		Transport:          transport,
		ActivationInterval: time.Hour,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	c.Stop()
	c.Stop()

	assert.False(t, c.Activator.Running())
	assert.Nil(t, transport.handler())
	assert.Error(t, c.Start(ctx))

	// A push that raced with Stop is dropped without a recount.
	counted := len(transport.counts)
	c.HandlePush(models.SendMessageRequest{Payload: &models.ChatMessage{
		RoomID:      testRoomID,
		ChatType:    models.ChatTypeGroup,
		MessageType: models.MessageTypeUser,
		Wallet:      wallet.Address,
		Body:        "late",
		Timestamp:   1,
	}})
	assert.Len(t, transport.counts, counted)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Directory: openStore(t), Transport: &fakeTransport{}})
	assert.Error(t, err)
	_, err = New(Options{Identity: &crypto.Holder{}, Transport: &fakeTransport{}})
	assert.Error(t, err)
	_, err = New(Options{Identity: &crypto.Holder{}, Directory: openStore(t)})
	assert.Error(t, err)
}
