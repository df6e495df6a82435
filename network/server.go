package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomsync/models"
)

// RelayPath is the HTTP path the relay upgrades to websocket.
const RelayPath = "/ws"

// RelayOptions controls the in-memory relay.
type RelayOptions struct {
	// MaxHistory caps stored messages per room. Zero keeps everything.
	MaxHistory int
	Logger     zerolog.Logger
}

// Relay is a small in-memory message relay speaking the client protocol. It
// stores room history, answers pull and count requests and fans chat
// messages out to every other subscriber of a room.
type Relay struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	options  RelayOptions
	log      zerolog.Logger

	mu      sync.Mutex
	history map[string][]models.ChatMessage
	members map[string]map[*relayPeer]struct{}
	peers   map[*relayPeer]struct{}

	errs chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type relayPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *relayPeer) send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// ListenRelay starts a relay on address.
func ListenRelay(address string, options RelayOptions) (*Relay, error) {
	if address == "" {
		address = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	relay := &Relay{
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		options: options,
		log:     options.Logger.With().Str("component", "relay").Logger(),
		history: make(map[string][]models.ChatMessage),
		members: make(map[string]map[*relayPeer]struct{}),
		peers:   make(map[*relayPeer]struct{}),
		errs:    make(chan error, 16),
		closed:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RelayPath, relay.handleUpgrade)
	relay.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	relay.wg.Add(1)
	go func() {
		defer relay.wg.Done()
		if err := relay.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			relay.reportError(fmt.Errorf("serve relay: %w", err))
		}
	}()
	return relay, nil
}

// Addr returns the listening address.
func (r *Relay) Addr() net.Addr {
	return r.listener.Addr()
}

// URL returns the websocket URL clients dial.
func (r *Relay) URL() string {
	return "ws://" + r.listener.Addr().String() + RelayPath
}

// Errors returns asynchronous relay errors.
func (r *Relay) Errors() <-chan error {
	return r.errs
}

// Close stops the relay and disconnects every client.
func (r *Relay) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		close(r.closed)
		for peer := range r.peers {
			_ = peer.conn.Close()
		}
		r.mu.Unlock()

		closeErr = r.server.Close()
		r.wg.Wait()
	})
	return closeErr
}

func (r *Relay) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.reportError(fmt.Errorf("upgrade connection: %w", err))
		return
	}
	conn.SetReadLimit(MaxFrameSize)

	peer := &relayPeer{conn: conn}
	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	r.peers[peer] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Debug().
		Str("remote", req.RemoteAddr).
		Str("client_id", req.Header.Get(ClientIDHeader)).
		Msg("Relay client connected")

	go r.serve(peer)
}

func (r *Relay) serve(peer *relayPeer) {
	defer r.wg.Done()
	defer r.dropPeer(peer)

	for {
		_, payload, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			r.log.Debug().Err(err).Msg("Dropping undecodable frame")
			continue
		}

		reply := r.handleFrame(peer, frame)
		if frame.ID == "" {
			continue
		}
		out, err := EncodeFrame(frame.ID, EventAck, reply)
		if err != nil {
			r.reportError(err)
			continue
		}
		if err := peer.send(out); err != nil {
			return
		}
	}
}

func (r *Relay) handleFrame(peer *relayPeer, frame Frame) any {
	switch frame.Event {
	case EventJoinRoom, EventLeaveRoom:
		var request models.JoinRoomRequest
		if err := json.Unmarshal(frame.Data, &request); err != nil {
			return badRequest(err)
		}
		if err := models.ValidateRoomID(request.RoomID); err != nil {
			return badRequest(err)
		}
		if frame.Event == EventJoinRoom {
			r.join(peer, request.RoomID)
		} else {
			r.leave(peer, request.RoomID)
		}
		return models.Ack{Status: http.StatusOK}

	case EventSendPrivateMessage, EventSendGroupMessage:
		request, err := models.DecodeSendMessageRequest(frame.Data)
		if err != nil {
			return badRequest(err)
		}
		r.publish(peer, *request.Payload)
		return models.Ack{Status: http.StatusOK}

	case EventPullMessage:
		var request models.PullMessageRequest
		if err := json.Unmarshal(frame.Data, &request); err != nil {
			return badRequest(err)
		}
		return r.pull(request)

	case EventCountMessage:
		var request models.CountMessageRequest
		if err := json.Unmarshal(frame.Data, &request); err != nil {
			return badRequest(err)
		}
		return r.count(request)

	default:
		return models.Ack{Status: http.StatusNotFound, Error: fmt.Sprintf("unknown event %q", frame.Event)}
	}
}

func (r *Relay) join(peer *relayPeer, roomID string) {
	key := roomKey(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[key] == nil {
		r.members[key] = make(map[*relayPeer]struct{})
	}
	r.members[key][peer] = struct{}{}
}

func (r *Relay) leave(peer *relayPeer, roomID string) {
	key := roomKey(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[key], peer)
}

func (r *Relay) dropPeer(peer *relayPeer) {
	r.mu.Lock()
	delete(r.peers, peer)
	for _, members := range r.members {
		delete(members, peer)
	}
	r.mu.Unlock()
	_ = peer.conn.Close()
}

func (r *Relay) publish(sender *relayPeer, message models.ChatMessage) {
	key := roomKey(message.RoomID)

	r.mu.Lock()
	history := append(r.history[key], message)
	if r.options.MaxHistory > 0 && len(history) > r.options.MaxHistory {
		history = history[len(history)-r.options.MaxHistory:]
	}
	r.history[key] = history

	targets := make([]*relayPeer, 0, len(r.members[key]))
	for peer := range r.members[key] {
		if peer != sender {
			targets = append(targets, peer)
		}
	}
	r.mu.Unlock()

	payload, err := EncodeFrame("", EventChatMessage, models.SendMessageRequest{Payload: &message})
	if err != nil {
		r.reportError(err)
		return
	}
	for _, peer := range targets {
		if err := peer.send(payload); err != nil {
			r.log.Debug().Err(err).Msg("Push failed")
		}
	}
}

func (r *Relay) pull(request models.PullMessageRequest) models.PullMessageResponse {
	r.mu.Lock()
	stored := append([]models.ChatMessage(nil), r.history[roomKey(request.RoomID)]...)
	r.mu.Unlock()

	window := make([]models.ChatMessage, 0, len(stored))
	for _, message := range stored {
		if message.Timestamp < request.StartTimestamp {
			continue
		}
		if request.EndTimestamp >= 0 && message.Timestamp > request.EndTimestamp {
			continue
		}
		window = append(window, message)
	}

	sort.SliceStable(window, func(i, j int) bool {
		if request.Pagination.Order == models.PaginationOrderAsc {
			return window[i].Timestamp < window[j].Timestamp
		}
		return window[i].Timestamp > window[j].Timestamp
	})

	pageNo := request.Pagination.PageNo
	if pageNo < 1 {
		pageNo = 1
	}
	pageSize := request.Pagination.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	start := (pageNo - 1) * pageSize
	if start > len(window) {
		start = len(window)
	}
	end := start + pageSize
	if end > len(window) {
		end = len(window)
	}

	status := http.StatusOK
	response := models.PullMessageResponse{
		Status: &status,
		List:   make([]models.PullMessageItem, 0, end-start),
	}
	for i := start; i < end; i++ {
		message := window[i]
		raw, err := json.Marshal(models.SendMessageRequest{Payload: &message})
		if err != nil {
			continue
		}
		response.List = append(response.List, models.PullMessageItem{Data: raw})
	}
	return response
}

func (r *Relay) count(request models.CountMessageRequest) map[string]any {
	list := make([]CountMessageEntry, 0, len(request.Options))

	r.mu.Lock()
	for _, option := range request.Options {
		var matched []models.ChatMessage
		for _, message := range r.history[roomKey(option.Channel)] {
			if message.Timestamp >= option.StartTimestamp {
				matched = append(matched, message)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp < matched[j].Timestamp
		})

		tail := matched
		if option.LastElement >= 0 && len(tail) > option.LastElement {
			tail = tail[len(tail)-option.LastElement:]
		}
		rows := make([]LastElementRow, 0, len(tail))
		for i := range tail {
			message := tail[i]
			rows = append(rows, LastElementRow{Data: models.SendMessageRequest{Payload: &message}})
		}

		list = append(list, CountMessageEntry{
			Channel:         option.Channel,
			Count:           len(matched),
			LastElementList: rows,
		})
	}
	r.mu.Unlock()

	return map[string]any{
		"status": http.StatusOK,
		"list":   list,
	}
}

func (r *Relay) reportError(err error) {
	if err == nil {
		return
	}

	// Shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.errs <- err:
	default:
	}
}

func badRequest(err error) models.Ack {
	return models.Ack{Status: http.StatusBadRequest, Error: err.Error()}
}

func roomKey(roomID string) string {
	return models.NormalizeAddress(roomID)
}
