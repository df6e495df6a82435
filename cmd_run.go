package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"roomsync/models"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Connect to the relay and keep rooms in sync until interrupted",
	Flags: []cli.Flag{
		serverURLFlag,
		&cli.StringFlag{
			Name:  "open",
			Usage: "Room to open and follow",
		},
	},
	Action: cmdRun,
}

func cmdRun(ctx *cli.Context) error {
	log := getLogger(ctx)

	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx.Context = signalCtx

	s, err := connect(ctx, func(roomID string) {
		log.Info().Str("room_id", roomID).Msg("New messages")
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.Start(signalCtx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	if roomID := ctx.String("open"); roomID != "" {
		timeline, err := s.client.Engine.OpenRoom(signalCtx, roomID)
		if err != nil {
			return fmt.Errorf("open room: %w", err)
		}
		printTimeline(timeline)
	}

	fmt.Printf("Wallet:          %s\n", s.wallet.Address)
	fmt.Println("Status:          running (press Ctrl+C to stop)")
	select {
	case <-signalCtx.Done():
	case <-s.transport.Done():
		log.Warn().Msg("Relay connection closed")
	}
	fmt.Println("Status:          shutting down")
	return nil
}

func printTimeline(messages []models.ChatMessage) {
	for _, message := range messages {
		fmt.Printf("[%s] %s: %s\n",
			time.UnixMilli(message.Timestamp).Format(time.DateTime),
			message.FromName,
			message.Body,
		)
	}
}
