// Package activator keeps every known room joined on the relay so that pushes
// keep arriving.
package activator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomsync/crypto"
	"roomsync/models"
)

// DefaultInterval is the delay between two activation cycles.
const DefaultInterval = 60 * time.Second

// Identity supplies the local wallet.
type Identity interface {
	Current() (crypto.Wallet, bool)
}

// Directory lists the rooms of an identity.
type Directory interface {
	QueryRooms(ctx context.Context, address string) ([]models.RoomEntity, error)
}

// Transport joins rooms on the relay.
type Transport interface {
	JoinRoom(ctx context.Context, roomID string) error
}

// Options configures an Activator.
type Options struct {
	Identity  Identity
	Directory Directory
	Transport Transport
	Interval  time.Duration
	Logger    zerolog.Logger
}

// Activator re-joins all rooms on a fixed cadence until stopped.
type Activator struct {
	options Options
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates an Activator.
func New(options Options) (*Activator, error) {
	if options.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if options.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if options.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}

	return &Activator{
		options: options,
		log:     options.Logger.With().Str("component", "activator").Logger(),
	}, nil
}

// Start runs the activation loop in the background. The first cycle runs
// immediately. Calling Start on a running Activator is a no-op.
func (a *Activator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.running = true

	go a.loop(ctx, cancel, done)
}

// Stop cancels the loop and waits for the current cycle to return.
func (a *Activator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (a *Activator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Activator) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
		close(done)
	}()

	for {
		if err := a.RunOnce(ctx); err != nil {
			if errors.Is(err, models.ErrWalletUnavailable) {
				a.log.Warn().Err(err).Msg("Stopping room activation, wallet not initialized")
				return
			}
			a.log.Warn().Err(err).Msg("Room activation cycle failed")
		}

		timer := time.NewTimer(a.options.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce joins every valid room of the current identity. Join failures are
// logged and do not fail the cycle.
func (a *Activator) RunOnce(ctx context.Context) error {
	const op = "ActivateRooms"

	wallet, ok := a.options.Identity.Current()
	if !ok {
		return models.NewError(models.KindWalletUnavailable, op, nil)
	}

	rooms, err := a.options.Directory.QueryRooms(ctx, wallet.Address)
	if err != nil {
		return fmt.Errorf("query rooms: %w", err)
	}

	joined := 0
	for i := range rooms {
		room := &rooms[i]
		if err := models.ValidateRoom(room); err != nil {
			a.log.Debug().Err(err).Str("room_id", room.RoomID).Msg("Skipping invalid room")
			continue
		}
		if err := a.options.Transport.JoinRoom(ctx, room.RoomID); err != nil {
			a.log.Debug().Err(err).Str("room_id", room.RoomID).Msg("Join failed")
			continue
		}
		joined++
	}

	a.log.Debug().Int("rooms", len(rooms)).Int("count", joined).Msg("Activated rooms")
	return nil
}
