// Package client wires the sync components together and runs the startup
// sequence of a chat client session.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/activator"
	"roomsync/crypto"
	"roomsync/decryptor"
	"roomsync/models"
	"roomsync/syncengine"
	"roomsync/unread"
)

// Identity supplies the local wallet.
type Identity interface {
	Current() (crypto.Wallet, bool)
}

// Directory is the room directory used by every component.
type Directory interface {
	QueryRoom(ctx context.Context, address, roomID string) (*models.RoomEntity, error)
	QueryRooms(ctx context.Context, address string) ([]models.RoomEntity, error)
	PutMember(ctx context.Context, address, roomID string, member models.RoomMember) error
	UpdateUnread(ctx context.Context, address, roomID string, state models.UnreadState) error
	QueryLatestMessage(ctx context.Context, address, roomID string) (*models.ChatMessage, error)
	UpdateLatestMessage(ctx context.Context, address, roomID string, message models.ChatMessage) error
}

// Transport is the relay connection used by every component.
type Transport interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	PullMessage(ctx context.Context, request models.PullMessageRequest) (*models.PullMessageResponse, error)
	CountMessage(ctx context.Context, request models.CountMessageRequest) (*models.CountMessageResponse, error)
	SendPrivateMessage(ctx context.Context, privateKey string, message models.ChatMessage) error
	SendGroupMessage(ctx context.Context, privateKey string, message models.ChatMessage, pinCode string) error
}

// PushSource is implemented by transports that deliver chat pushes.
type PushSource interface {
	SetOnMessage(handler func(models.SendMessageRequest))
}

// Options configures a Client.
type Options struct {
	Identity  Identity
	Directory Directory
	Transport Transport

	ActivationInterval time.Duration
	UserName           string
	UserAvatar         string

	// OnMessageArrived is called after new messages reached a room.
	OnMessageArrived func(roomID string)

	Logger zerolog.Logger
}

// Client owns one sync session: the engine for the open room, the unread
// tracker and the background room activator.
type Client struct {
	Engine    *syncengine.Engine
	Unread    *unread.Tracker
	Activator *activator.Activator

	transport Transport
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
}

// New builds the component graph. When the transport is a PushSource its
// pushes are routed to the engine.
func New(options Options) (*Client, error) {
	if options.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if options.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if options.Transport == nil {
		return nil, errors.New("transport is required")
	}

	dec, err := decryptor.New(decryptor.Options{
		Identity: options.Identity,
		Members:  options.Directory,
		Logger:   options.Logger,
	})
	if err != nil {
		return nil, err
	}

	tracker, err := unread.New(unread.Options{
		Identity:  options.Identity,
		Directory: options.Directory,
		Transport: options.Transport,
		Logger:    options.Logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := syncengine.New(syncengine.Options{
		Transport:        options.Transport,
		Directory:        options.Directory,
		Identity:         options.Identity,
		Decryptor:        dec,
		Unread:           tracker,
		OnMessageArrived: options.OnMessageArrived,
		UserName:         options.UserName,
		UserAvatar:       options.UserAvatar,
		Logger:           options.Logger,
	})
	if err != nil {
		return nil, err
	}

	act, err := activator.New(activator.Options{
		Identity:  options.Identity,
		Directory: options.Directory,
		Transport: options.Transport,
		Interval:  options.ActivationInterval,
		Logger:    options.Logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		Engine:    engine,
		Unread:    tracker,
		Activator: act,
		transport: options.Transport,
		log:       options.Logger.With().Str("component", "client").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if source, ok := options.Transport.(PushSource); ok {
		source.SetOnMessage(c.HandlePush)
	}
	return c, nil
}

// Start runs the startup tick: every room is recounted, then the activator
// begins re-joining rooms in the background. A failed recount is logged and
// does not prevent the activator from starting.
func (c *Client) Start(ctx context.Context) error {
	select {
	case <-c.ctx.Done():
		return errors.New("client is stopped")
	default:
	}

	if err := c.Unread.CountMessages(ctx, ""); err != nil {
		if errors.Is(err, models.ErrWalletUnavailable) {
			return err
		}
		c.log.Warn().Err(err).Msg("Startup unread count failed")
	}

	c.Activator.Start()
	c.log.Info().Msg("Client started")
	return nil
}

// HandlePush forwards a relay push to the engine. Pushes after Stop are
// dropped.
func (c *Client) HandlePush(request models.SendMessageRequest) {
	if c.ctx.Err() != nil {
		c.log.Debug().Msg("Dropping push after stop")
		return
	}
	if err := c.Engine.OnMessagePushed(c.ctx, request); err != nil {
		c.log.Warn().Err(err).Msg("Pushed message rejected")
	}
}

// Stop stops the activator and detaches from the transport's pushes.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		if source, ok := c.transport.(PushSource); ok {
			source.SetOnMessage(nil)
		}
		c.Activator.Stop()
		c.log.Info().Msg("Client stopped")
	})
}
