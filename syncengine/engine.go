// Package syncengine keeps the open room's timeline in step with the remote
// message store.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/crypto"
	"roomsync/models"
)

// Identity supplies the local wallet.
type Identity interface {
	Current() (crypto.Wallet, bool)
}

// Directory resolves rooms of the local identity.
type Directory interface {
	QueryRoom(ctx context.Context, address, roomID string) (*models.RoomEntity, error)
}

// Transport is the subset of the relay connection used by the engine.
type Transport interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	PullMessage(ctx context.Context, request models.PullMessageRequest) (*models.PullMessageResponse, error)
	SendPrivateMessage(ctx context.Context, privateKey string, message models.ChatMessage) error
	SendGroupMessage(ctx context.Context, privateKey string, message models.ChatMessage, pinCode string) error
}

// Decryptor turns ciphertext bodies into plaintext. It never fails.
type Decryptor interface {
	Decrypt(ctx context.Context, message models.ChatMessage, room models.RoomEntity) models.ChatMessage
}

// UnreadCounter recounts unread messages and tracks each room's latest message.
type UnreadCounter interface {
	CountMessages(ctx context.Context, roomID string) error
	StoreLatestMessage(ctx context.Context, roomID string, message models.ChatMessage) error
}

// Options configures an Engine.
type Options struct {
	Transport Transport
	Directory Directory
	Identity  Identity
	Decryptor Decryptor
	Unread    UnreadCounter

	// OnMessageArrived is called after new messages reached a room.
	OnMessageArrived func(roomID string)

	UserName   string
	UserAvatar string
	Logger     zerolog.Logger
}

// session is the state of one opening of a room. Reopening a room creates a
// new session with a higher generation.
type session struct {
	roomID     string
	generation uint64

	// fetchMu serializes page fetches of this session.
	fetchMu sync.Mutex

	timeline     []models.ChatMessage
	watermark    int64
	hasWatermark bool
}

// Engine merges paginated history and pushed messages into one ascending
// timeline for the currently open room.
type Engine struct {
	options Options
	log     zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	current    *session
	generation uint64
}

// New creates an Engine.
func New(options Options) (*Engine, error) {
	if options.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if options.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if options.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if options.Decryptor == nil {
		return nil, errors.New("decryptor is required")
	}
	if options.Unread == nil {
		return nil, errors.New("unread counter is required")
	}

	return &Engine{
		options: options,
		log:     options.Logger.With().Str("component", "syncengine").Logger(),
		now:     time.Now,
	}, nil
}

// OpenRoom makes roomID the open room, starting from an empty timeline and no
// watermark, joins it and loads the most recent page of history.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	const op = "OpenRoom"

	wallet, room, err := e.resolveRoom(ctx, op, roomID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.generation++
	s := &session{roomID: room.RoomID, generation: e.generation}
	e.current = s
	e.mu.Unlock()

	log := e.log.With().Str("room_id", room.RoomID).Uint64("generation", s.generation).Logger()
	log.Debug().Str("address", wallet.Address).Msg("Opening room")

	if err := e.options.Transport.JoinRoom(ctx, room.RoomID); err != nil {
		log.Warn().Err(err).Msg("Failed to join room")
	}

	if _, err := e.fetchPage(ctx, op, s, *room); err != nil {
		return nil, err
	}
	e.recount(ctx, room.RoomID)

	return e.snapshot(s), nil
}

// LoadOlder fetches the page of history just before the open room's watermark
// and returns how many messages were merged.
func (e *Engine) LoadOlder(ctx context.Context, roomID string) (int, error) {
	const op = "LoadOlder"

	if err := models.ValidateRoomID(roomID); err != nil {
		return 0, models.NewError(models.KindInvalidRoomID, op, err)
	}

	e.mu.Lock()
	s := e.current
	e.mu.Unlock()
	if s == nil || !sameRoom(s.roomID, roomID) {
		return 0, models.Errorf(models.KindRoomNotOpen, op, "room %s is not open", roomID)
	}

	_, room, err := e.resolveRoom(ctx, op, roomID)
	if err != nil {
		return 0, err
	}

	merged, err := e.fetchPage(ctx, op, s, *room)
	if err != nil {
		return 0, err
	}
	if merged > 0 {
		e.recount(ctx, room.RoomID)
		e.notify(room.RoomID)
	}
	return merged, nil
}

// OnMessagePushed handles a message delivered by the relay. A message for the
// open room is decrypted and merged. Every pushed message triggers a recount
// of its room and the arrival observer.
func (e *Engine) OnMessagePushed(ctx context.Context, request models.SendMessageRequest) error {
	const op = "OnMessagePushed"

	if err := models.ValidateSendMessageRequest(&request); err != nil {
		return models.NewError(models.KindInvalidMessage, op, err)
	}
	if _, ok := e.options.Identity.Current(); !ok {
		return models.NewError(models.KindWalletUnavailable, op, nil)
	}

	message := *request.Payload
	log := e.log.With().Str("room_id", message.RoomID).Int64("timestamp", message.Timestamp).Logger()

	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s != nil && sameRoom(s.roomID, message.RoomID) {
		if _, room, err := e.resolveRoom(ctx, op, message.RoomID); err != nil {
			log.Warn().Err(err).Msg("Dropping pushed message, room lookup failed")
		} else {
			decrypted := e.options.Decryptor.Decrypt(ctx, message, *room)
			if e.merge(s, []models.ChatMessage{decrypted}) {
				e.storeLatest(ctx, room.RoomID, decrypted)
			} else {
				log.Debug().Msg("Discarding pushed message for a closed session")
			}
		}
	}

	e.recount(ctx, message.RoomID)
	e.notify(message.RoomID)
	return nil
}

// Timeline returns the open room and a copy of its ascending timeline.
func (e *Engine) Timeline() (string, []models.ChatMessage) {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()
	if s == nil {
		return "", nil
	}
	return s.roomID, e.snapshot(s)
}

// Watermark returns the oldest timestamp fetched for roomID while it is open.
func (e *Engine) Watermark(roomID string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || !sameRoom(e.current.roomID, roomID) {
		return 0, false
	}
	return e.current.watermark, e.current.hasWatermark
}

func (e *Engine) resolveRoom(ctx context.Context, op, roomID string) (crypto.Wallet, *models.RoomEntity, error) {
	if err := models.ValidateRoomID(roomID); err != nil {
		return crypto.Wallet{}, nil, models.NewError(models.KindInvalidRoomID, op, err)
	}
	wallet, ok := e.options.Identity.Current()
	if !ok {
		return crypto.Wallet{}, nil, models.NewError(models.KindWalletUnavailable, op, nil)
	}

	room, err := e.options.Directory.QueryRoom(ctx, wallet.Address, roomID)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			return crypto.Wallet{}, nil, models.NewError(models.KindRoomNotFound, op, err)
		}
		return crypto.Wallet{}, nil, fmt.Errorf("query room %q: %w", roomID, err)
	}
	if room == nil {
		return crypto.Wallet{}, nil, models.Errorf(models.KindRoomNotFound, op, "room %s not found", roomID)
	}
	return wallet, room, nil
}

func (e *Engine) snapshot(s *session) []models.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ChatMessage, len(s.timeline))
	copy(out, s.timeline)
	return out
}

func (e *Engine) recount(ctx context.Context, roomID string) {
	if err := e.options.Unread.CountMessages(ctx, roomID); err != nil {
		e.log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to recount unread messages")
	}
}

func (e *Engine) storeLatest(ctx context.Context, roomID string, message models.ChatMessage) {
	if err := e.options.Unread.StoreLatestMessage(ctx, roomID, message); err != nil {
		e.log.Debug().Err(err).Str("room_id", roomID).Msg("Failed to store latest message")
	}
}

func (e *Engine) notify(roomID string) {
	if e.options.OnMessageArrived != nil {
		e.options.OnMessageArrived(roomID)
	}
}

func sameRoom(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
