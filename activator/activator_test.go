package activator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/crypto"
	"roomsync/models"
)

const (
	owner = "0x9999999999999999999999999999999999999999"
	roomA = "0x1111111111111111111111111111111111111111"
	roomB = "0x2222222222222222222222222222222222222222"
)

type fakeDirectory struct {
	rooms []models.RoomEntity
	err   error
}

func (d *fakeDirectory) QueryRooms(context.Context, string) ([]models.RoomEntity, error) {
	return d.rooms, d.err
}

type fakeTransport struct {
	mu    sync.Mutex
	joins []string
	err   error
}

func (f *fakeTransport) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
	return f.err
}

func (f *fakeTransport) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

func rooms() []models.RoomEntity {
	return []models.RoomEntity{
		{RoomID: roomA, ChatType: models.ChatTypeGroup, Name: "valid"},
		{RoomID: roomB, ChatType: "channel", Name: "invalid"},
	}
}

func newActivator(t *testing.T, identity Identity, directory Directory, transport Transport, interval time.Duration) *Activator {
	t.Helper()
	a, err := New(Options{
		Identity:  identity,
		Directory: directory,
		Transport: transport,
		Interval:  interval,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return a
}

func boundHolder() *crypto.Holder {
	return crypto.NewHolder(crypto.Wallet{Address: owner})
}

func TestRunOnceJoinsOnlyValidRooms(t *testing.T) {
	transport := &fakeTransport{}
	a := newActivator(t, boundHolder(), &fakeDirectory{rooms: rooms()}, transport, time.Hour)

	require.NoError(t, a.RunOnce(context.Background()))
	assert.Equal(t, []string{roomA}, transport.joined())
}

func TestRunOnceErrors(t *testing.T) {
	a := newActivator(t, &crypto.Holder{}, &fakeDirectory{}, &fakeTransport{}, time.Hour)
	assert.ErrorIs(t, a.RunOnce(context.Background()), models.ErrWalletUnavailable)

	a = newActivator(t, boundHolder(), &fakeDirectory{err: errors.New("locked")}, &fakeTransport{}, time.Hour)
	assert.Error(t, a.RunOnce(context.Background()))
}

func TestLoopReschedulesAfterJoinFailure(t *testing.T) {
	transport := &fakeTransport{err: errors.New("join refused")}
	a := newActivator(t, boundHolder(), &fakeDirectory{rooms: rooms()}, transport, 20*time.Millisecond)

	a.Start()
	defer a.Stop()

	assert.Eventually(t, func() bool {
		return len(transport.joined()) >= 3
	}, time.Second, 5*time.Millisecond)
	for _, roomID := range transport.joined() {
		assert.Equal(t, roomA, roomID)
	}
}

func TestLoopReschedulesAfterDirectoryFailure(t *testing.T) {
	directory := &fakeDirectory{err: errors.New("locked")}
	a := newActivator(t, boundHolder(), directory, &fakeTransport{}, 10*time.Millisecond)

	a.Start()
	defer a.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, a.Running())
}

func TestLoopExitsWithoutWallet(t *testing.T) {
	holder := &crypto.Holder{}
	transport := &fakeTransport{}
	a := newActivator(t, holder, &fakeDirectory{rooms: rooms()}, transport, 10*time.Millisecond)

	a.Start()
	assert.Eventually(t, func() bool { return !a.Running() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, transport.joined())

	holder.Set(crypto.Wallet{Address: owner})
	a.Start()
	defer a.Stop()
	assert.Eventually(t, func() bool { return len(transport.joined()) > 0 }, time.Second, 5*time.Millisecond)
}

func TestStopEndsLoop(t *testing.T) {
	transport := &fakeTransport{}
	a := newActivator(t, boundHolder(), &fakeDirectory{rooms: rooms()}, transport, time.Hour)

	a.Start()
	assert.Eventually(t, func() bool { return len(transport.joined()) == 1 }, time.Second, 5*time.Millisecond)

	a.Stop()
	assert.False(t, a.Running())
	a.Stop()
}

func TestDefaultInterval(t *testing.T) {
	a := newActivator(t, boundHolder(), &fakeDirectory{}, &fakeTransport{}, 0)
	assert.Equal(t, 60*time.Second, a.options.Interval)
}
