package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"roomsync/models"
)

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a message to a room",
	ArgsUsage: "MESSAGE",
	Flags: []cli.Flag{
		serverURLFlag,
		&cli.StringFlag{
			Name:     "room",
			Usage:    "Room ID",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "system",
			Usage: "Send as a system message",
		},
	},
	Action: cmdSend,
}

func cmdSend(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a message")
	}
	body := strings.Join(ctx.Args().Slice(), " ")

	s, err := connect(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	messageType := models.MessageTypeUser
	if ctx.Bool("system") {
		messageType = models.MessageTypeSystem
	}
	if err := s.client.Engine.SendMessage(ctx.Context, ctx.String("room"), messageType, body); err != nil {
		return err
	}
	fmt.Println("Message sent")
	return nil
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Print the most recent pages of a room",
	Flags: []cli.Flag{
		serverURLFlag,
		&cli.StringFlag{
			Name:     "room",
			Usage:    "Room ID",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "pages",
			Usage: "Number of pages to load",
			Value: 1,
		},
	},
	Action: cmdHistory,
}

func cmdHistory(ctx *cli.Context) error {
	s, err := connect(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	roomID := ctx.String("room")
	timeline, err := s.client.Engine.OpenRoom(ctx.Context, roomID)
	if err != nil {
		return err
	}
	for page := 1; page < ctx.Int("pages"); page++ {
		merged, err := s.client.Engine.LoadOlder(ctx.Context, roomID)
		if err != nil {
			return err
		}
		if merged == 0 {
			break
		}
	}
	if ctx.Int("pages") > 1 {
		_, timeline = s.client.Engine.Timeline()
	}
	printTimeline(timeline)
	return nil
}
