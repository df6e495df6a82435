// Package unread reconciles per-room unread counters with the remote store.
package unread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"roomsync/crypto"
	"roomsync/models"
)

// LastElement is how many trailing messages the remote store returns per room.
const LastElement = 3

// DefaultRecountTimeout bounds one count request.
const DefaultRecountTimeout = 30 * time.Second

// Identity supplies the local wallet.
type Identity interface {
	Current() (crypto.Wallet, bool)
}

// Directory is the part of the room directory the tracker reads and writes.
type Directory interface {
	QueryRoom(ctx context.Context, address, roomID string) (*models.RoomEntity, error)
	QueryRooms(ctx context.Context, address string) ([]models.RoomEntity, error)
	UpdateUnread(ctx context.Context, address, roomID string, state models.UnreadState) error
	QueryLatestMessage(ctx context.Context, address, roomID string) (*models.ChatMessage, error)
	UpdateLatestMessage(ctx context.Context, address, roomID string, message models.ChatMessage) error
}

// Transport sends batched count requests.
type Transport interface {
	CountMessage(ctx context.Context, request models.CountMessageRequest) (*models.CountMessageResponse, error)
}

// Options configures a Tracker.
type Options struct {
	Identity  Identity
	Directory Directory
	Transport Transport
	// RecountTimeout bounds one count request. Requests run detached from
	// the caller's context because several callers may share them.
	RecountTimeout time.Duration
	Logger         zerolog.Logger
}

// recount is one count request of a scope. Callers arriving before it has
// started share it; callers arriving later queue a new one.
type recount struct {
	key     string
	started bool
	done    chan struct{}
}

// Tracker keeps the room directory's unread state in step with the server.
type Tracker struct {
	options Options
	log     zerolog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	tails   map[string]*recount
	flights uint64
}

// New creates a Tracker.
func New(options Options) (*Tracker, error) {
	if options.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if options.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if options.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if options.RecountTimeout <= 0 {
		options.RecountTimeout = DefaultRecountTimeout
	}

	return &Tracker{
		options: options,
		log:     options.Logger.With().Str("component", "unread").Logger(),
		tails:   make(map[string]*recount),
	}, nil
}

// CountMessages asks the server how many messages each room received since its
// latest known message and stores the reconciled counters.
//
// An empty roomID counts every room of the identity. So does a roomID that is
// not a valid room address. Calls for the same scope that arrive before a
// request has been sent share it; a call that arrives while a request is in
// flight always gets a fresh request once that one finishes. A cancelled ctx
// only abandons the wait, never the shared request.
func (t *Tracker) CountMessages(ctx context.Context, roomID string) error {
	const op = "CountMessages"

	wallet, ok := t.options.Identity.Current()
	if !ok {
		return models.NewError(models.KindWalletUnavailable, op, nil)
	}
	if roomID != "" && models.ValidateRoomID(roomID) != nil {
		t.log.Debug().Str("room_id", roomID).Msg("Invalid room id, counting all rooms")
		roomID = ""
	}

	scope := wallet.Address + "/" + roomID
	detached := context.WithoutCancel(ctx)

	t.mu.Lock()
	tail := t.tails[scope]
	if tail == nil || tail.started {
		var previous chan struct{}
		if tail != nil {
			previous = tail.done
		}
		t.flights++
		tail = &recount{
			key:  scope + "#" + strconv.FormatUint(t.flights, 10),
			done: make(chan struct{}),
		}
		t.tails[scope] = tail
		next := tail
		// DoChan runs fn on its own goroutine, so calling it under t.mu is safe
		// and keeps the key registered for as long as started is false.
		results := t.group.DoChan(next.key, func() (any, error) {
			return nil, t.runRecount(detached, scope, next, previous, wallet.Address, roomID)
		})
		t.mu.Unlock()
		return t.await(ctx, results)
	}
	results := t.group.DoChan(tail.key, func() (any, error) {
		return nil, errors.New("recount already finished")
	})
	t.mu.Unlock()
	t.log.Debug().Str("room_id", roomID).Msg("Joined pending recount")
	return t.await(ctx, results)
}

func (t *Tracker) await(ctx context.Context, results <-chan singleflight.Result) error {
	select {
	case result := <-results:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRecount waits for the previous request of the scope, then sends its own.
func (t *Tracker) runRecount(ctx context.Context, scope string, self *recount, previous chan struct{}, address, roomID string) error {
	if previous != nil {
		<-previous
	}

	t.mu.Lock()
	self.started = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.tails[scope] == self {
			delete(t.tails, scope)
		}
		close(self.done)
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, t.options.RecountTimeout)
	defer cancel()
	return t.countMessages(ctx, address, roomID)
}

func (t *Tracker) countMessages(ctx context.Context, address, roomID string) error {
	const op = "CountMessages"

	var rooms []models.RoomEntity
	if roomID != "" {
		room, err := t.options.Directory.QueryRoom(ctx, address, roomID)
		if err != nil {
			if errors.Is(err, models.ErrRoomNotFound) {
				return models.NewError(models.KindRoomNotFound, op, err)
			}
			return fmt.Errorf("query room %q: %w", roomID, err)
		}
		if room == nil {
			return models.Errorf(models.KindRoomNotFound, op, "room %s not found", roomID)
		}
		rooms = append(rooms, *room)
	} else {
		all, err := t.options.Directory.QueryRooms(ctx, address)
		if err != nil {
			return fmt.Errorf("query rooms: %w", err)
		}
		rooms = all
	}

	request := BuildCountRequest(rooms)
	if len(request.Options) == 0 {
		t.log.Debug().Msg("No rooms to count")
		return nil
	}

	response, err := t.options.Transport.CountMessage(ctx, request)
	if err != nil {
		return models.NewError(models.KindTransport, op, err)
	}

	states := ParseUnreadResponse(response)
	for _, state := range states {
		state.UnreadCount = Reconcile(state.UnreadCount)
		if err := t.options.Directory.UpdateUnread(ctx, address, state.RoomID, state); err != nil {
			t.log.Warn().Err(err).Str("room_id", state.RoomID).Msg("Failed to store unread state")
			continue
		}
	}
	t.log.Debug().
		Int("rooms", len(request.Options)).
		Int("count", len(states)).
		Msg("Reconciled unread counters")
	return nil
}

// BuildCountRequest turns rooms into count options. Rooms that fail
// validation are skipped.
func BuildCountRequest(rooms []models.RoomEntity) models.CountMessageRequest {
	request := models.CountMessageRequest{
		Options: make([]models.CountMessageOption, 0, len(rooms)),
	}
	for i := range rooms {
		if err := models.ValidateRoom(&rooms[i]); err != nil {
			continue
		}
		request.Options = append(request.Options, models.CountMessageOption{
			Channel:        rooms[i].RoomID,
			StartTimestamp: rooms[i].LatestTimestamp(),
			LastElement:    LastElement,
		})
	}
	return request
}

// Reconcile converts a server count into the displayed unread counter. The
// server count includes the latest message the client already knows about.
func Reconcile(count int) int {
	if count > 0 {
		return count - 1
	}
	return 0
}

type countEntry struct {
	Channel         *string           `json:"channel"`
	Count           *float64          `json:"count"`
	LastElementList []json.RawMessage `json:"lastElementList"`
}

type lastElement struct {
	Data json.RawMessage `json:"data"`
}

// ParseUnreadResponse extracts per-room unread states from a count response.
// Counts are returned as reported by the server; see Reconcile. Malformed
// entries are dropped.
func ParseUnreadResponse(response *models.CountMessageResponse) []models.UnreadState {
	if response == nil || response.Status == nil || !models.IsSuccessStatus(*response.Status) {
		return nil
	}
	if len(response.List) == 0 {
		return nil
	}

	states := make([]models.UnreadState, 0, len(response.List))
	for _, raw := range response.List {
		var entry countEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Channel == nil || entry.Count == nil || entry.LastElementList == nil {
			continue
		}
		if models.ValidateRoomID(*entry.Channel) != nil {
			continue
		}
		if !validCount(*entry.Count) {
			continue
		}

		states = append(states, models.UnreadState{
			RoomID:        *entry.Channel,
			UnreadCount:   int(*entry.Count),
			LatestMessage: latestUserMessage(entry.LastElementList),
		})
	}
	return states
}

// validCount accepts non-negative whole numbers that fit in an int.
func validCount(count float64) bool {
	return count >= 0 && count == math.Trunc(count) && count < float64(math.MaxInt)
}

func latestUserMessage(elements []json.RawMessage) *models.ChatMessage {
	var latest *models.ChatMessage
	for _, raw := range elements {
		var element lastElement
		if err := json.Unmarshal(raw, &element); err != nil {
			continue
		}
		request, err := models.DecodeSendMessageRequest(element.Data)
		if err != nil {
			continue
		}
		message := request.Payload
		if message.MessageType != models.MessageTypeUser {
			continue
		}
		if latest == nil || message.Timestamp > latest.Timestamp {
			latest = message
		}
	}
	return latest
}

// StoreLatestMessage records message as the room's latest message unless the
// directory already holds a newer one.
func (t *Tracker) StoreLatestMessage(ctx context.Context, roomID string, message models.ChatMessage) error {
	const op = "StoreLatestMessage"

	wallet, ok := t.options.Identity.Current()
	if !ok {
		return models.NewError(models.KindWalletUnavailable, op, nil)
	}
	if err := models.ValidateRoomID(roomID); err != nil {
		return models.NewError(models.KindInvalidRoomID, op, err)
	}
	if err := models.ValidateMessage(&message); err != nil {
		return models.NewError(models.KindInvalidMessage, op, err)
	}

	stored, err := t.options.Directory.QueryLatestMessage(ctx, wallet.Address, roomID)
	if err != nil {
		return fmt.Errorf("query latest message: %w", err)
	}
	if stored != nil && message.Timestamp <= stored.Timestamp {
		return nil
	}
	if err := t.options.Directory.UpdateLatestMessage(ctx, wallet.Address, roomID, message); err != nil {
		return fmt.Errorf("update latest message: %w", err)
	}
	return nil
}
