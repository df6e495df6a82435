package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomsync/crypto"
	"roomsync/models"
)

// RoomResolver looks up the room a message is sent to.
type RoomResolver interface {
	QueryRoom(ctx context.Context, address, roomID string) (*models.RoomEntity, error)
}

// PrivateEncrypter encrypts pairwise room messages.
type PrivateEncrypter interface {
	EncryptMessage(body string, room models.RoomEntity, address, privateKey string) (string, error)
}

// GroupEncrypter encrypts group room messages.
type GroupEncrypter interface {
	EncryptMessage(body string, room models.RoomEntity, pinCode string) (string, error)
}

// ClientOptions configures a relay Client.
type ClientOptions struct {
	URL      string
	ClientID string

	Rooms   RoomResolver
	Private PrivateEncrypter
	Group   GroupEncrypter

	// OnMessage receives validated chat pushes in arrival order.
	OnMessage func(models.SendMessageRequest)

	DialTimeout       time.Duration
	MaxDialElapsed    time.Duration
	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	Logger            zerolog.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.MaxDialElapsed <= 0 {
		out.MaxDialElapsed = DefaultMaxDialElapsed
	}
	if out.Private == nil {
		out.Private = crypto.PrivateMessageCrypto{}
	}
	if out.Group == nil {
		out.Group = crypto.GroupMessageCrypto{}
	}
	return out
}

// Client is the relay transport used by the sync core.
type Client struct {
	options ClientOptions
	conn    *Connection
	log     zerolog.Logger

	handlerMu sync.RWMutex
	onMessage func(models.SendMessageRequest)
}

// Dial connects to the relay at options.URL, retrying with exponential
// backoff until MaxDialElapsed or ctx ends.
func Dial(ctx context.Context, options ClientOptions) (*Client, error) {
	opts := options.withDefaults()
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("relay URL is required")
	}
	if opts.Rooms == nil {
		return nil, errors.New("room resolver is required")
	}

	log := opts.Logger.With().Str("component", "network").Str("url", opts.URL).Logger()
	client := &Client{options: opts, log: log, onMessage: opts.OnMessage}

	header := http.Header{}
	if opts.ClientID != "" {
		header.Set(ClientIDHeader, opts.ClientID)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.DialTimeout,
	}

	var ws *websocket.Conn
	operation := func() error {
		conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = opts.MaxDialElapsed
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("Relay dial failed")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %q: %w", opts.URL, err)
	}

	client.conn = newConnection(ws, ConnectionOptions{
		RequestTimeout:    opts.RequestTimeout,
		KeepAliveInterval: opts.KeepAliveInterval,
		KeepAliveTimeout:  opts.KeepAliveTimeout,
		OnPush:            client.handlePush,
		Logger:            opts.Logger,
	})
	log.Info().Msg("Connected to relay")
	return client, nil
}

// SetOnMessage replaces the chat push handler. A nil handler drops pushes.
func (c *Client) SetOnMessage(handler func(models.SendMessageRequest)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onMessage = handler
}

// Done is closed when the relay connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close disconnects from the relay.
func (c *Client) Close() error {
	return c.conn.Close()
}

// JoinRoom subscribes to pushes for roomID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.ackRequest(ctx, EventJoinRoom, models.JoinRoomRequest{RoomID: roomID})
}

// LeaveRoom stops pushes for roomID.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.ackRequest(ctx, EventLeaveRoom, models.LeaveRoomRequest{RoomID: roomID})
}

// PullMessage fetches one page of room history.
func (c *Client) PullMessage(ctx context.Context, request models.PullMessageRequest) (*models.PullMessageResponse, error) {
	data, err := c.conn.Request(ctx, EventPullMessage, request)
	if err != nil {
		return nil, err
	}
	var response models.PullMessageResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", EventPullMessage, err)
	}
	return &response, nil
}

// CountMessage counts messages for several rooms at once.
func (c *Client) CountMessage(ctx context.Context, request models.CountMessageRequest) (*models.CountMessageResponse, error) {
	data, err := c.conn.Request(ctx, EventCountMessage, request)
	if err != nil {
		return nil, err
	}
	var response models.CountMessageResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", EventCountMessage, err)
	}
	return &response, nil
}

// SendPrivateMessage encrypts message for the other member of its room,
// signs it and sends it.
func (c *Client) SendPrivateMessage(ctx context.Context, privateKey string, message models.ChatMessage) error {
	room, err := c.options.Rooms.QueryRoom(ctx, message.Wallet, message.RoomID)
	if err != nil {
		return fmt.Errorf("query room %q: %w", message.RoomID, err)
	}
	body, err := c.options.Private.EncryptMessage(message.Body, *room, message.Wallet, privateKey)
	if err != nil {
		return fmt.Errorf("encrypt private message: %w", err)
	}
	message.Body = body

	if err := signMessage(privateKey, &message); err != nil {
		return err
	}
	return c.ackRequest(ctx, EventSendPrivateMessage, models.SendMessageRequest{Payload: &message})
}

// SendGroupMessage encrypts message with the room key, signs it and sends it.
func (c *Client) SendGroupMessage(ctx context.Context, privateKey string, message models.ChatMessage, pinCode string) error {
	room, err := c.options.Rooms.QueryRoom(ctx, message.Wallet, message.RoomID)
	if err != nil {
		return fmt.Errorf("query room %q: %w", message.RoomID, err)
	}
	body, err := c.options.Group.EncryptMessage(message.Body, *room, pinCode)
	if err != nil {
		return fmt.Errorf("encrypt group message: %w", err)
	}
	message.Body = body

	if err := signMessage(privateKey, &message); err != nil {
		return err
	}
	return c.ackRequest(ctx, EventSendGroupMessage, SendGroupMessageData{Payload: &message, PinCode: pinCode})
}

func (c *Client) ackRequest(ctx context.Context, event string, data any) error {
	reply, err := c.conn.Request(ctx, event, data)
	if err != nil {
		return err
	}
	return decodeAck(event, reply)
}

func (c *Client) handlePush(frame Frame) {
	if frame.Event != EventChatMessage {
		c.log.Debug().Str("event", frame.Event).Msg("Ignoring push")
		return
	}
	request, err := models.DecodeSendMessageRequest(frame.Data)
	if err != nil {
		c.log.Debug().Err(err).Msg("Dropping invalid chat push")
		return
	}
	c.handlerMu.RLock()
	handler := c.onMessage
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(*request)
	}
}

// signMessage sets hash and sig over the message with both fields empty.
func signMessage(privateKey string, message *models.ChatMessage) error {
	message.Hash = ""
	message.Sig = ""
	signable, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal signable message: %w", err)
	}
	hash, sig, err := crypto.HashAndSign(privateKey, signable)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	message.Hash = hash
	message.Sig = sig
	return nil
}
