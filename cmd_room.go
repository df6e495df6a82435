package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"roomsync/crypto"
	"roomsync/models"
)

var roomCommand = &cli.Command{
	Name:  "room",
	Usage: "Manage the local room directory",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Add or replace a room",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Room ID", Required: true},
				&cli.StringFlag{Name: "name", Usage: "Room name", Required: true},
				&cli.StringFlag{Name: "type", Usage: "Chat type (group or private)", Value: string(models.ChatTypeGroup)},
				&cli.StringFlag{Name: "key", Usage: "Base64 group room key; generated when empty"},
				&cli.StringSliceFlag{Name: "member", Usage: "Member as ADDRESS=PUBLIC_KEY, repeatable"},
			},
			Action: cmdRoomAdd,
		},
		{
			Name:   "list",
			Usage:  "List rooms with their unread counters",
			Action: cmdRoomList,
		},
		{
			Name:      "remove",
			Usage:     "Remove a room",
			ArgsUsage: "ROOM_ID",
			Action:    cmdRoomRemove,
		},
	},
}

func cmdRoomAdd(ctx *cli.Context) error {
	store, wallet, err := openStoreAndWallet(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	room := models.RoomEntity{
		RoomID:   ctx.String("id"),
		ChatType: models.ChatType(strings.ToLower(ctx.String("type"))),
		Name:     ctx.String("name"),
		RoomKey:  ctx.String("key"),
		Members: map[string]models.RoomMember{
			wallet.Address: {
				MemberType: models.MemberTypeOwner,
				Wallet:     wallet.Address,
				PublicKey:  wallet.PublicKey,
				UserName:   getConfig(ctx).UserName,
				Timestamp:  time.Now().UnixMilli(),
			},
		},
	}
	if room.ChatType == models.ChatTypeGroup && room.RoomKey == "" {
		if room.RoomKey, err = crypto.NewRoomKey(); err != nil {
			return err
		}
	}

	for _, raw := range ctx.StringSlice("member") {
		address, publicKey, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid member %q, expected ADDRESS=PUBLIC_KEY", raw)
		}
		address = models.NormalizeAddress(address)
		room.Members[address] = models.RoomMember{
			MemberType: models.MemberTypeMember,
			Wallet:     address,
			PublicKey:  strings.TrimSpace(publicKey),
			Timestamp:  time.Now().UnixMilli(),
		}
	}

	if err := models.ValidateRoom(&room); err != nil {
		return err
	}
	if err := store.PutRoom(ctx.Context, wallet.Address, room); err != nil {
		return err
	}

	fmt.Printf("Room %s saved\n", room.RoomID)
	if room.ChatType == models.ChatTypeGroup {
		fmt.Printf("Room Key:        %s\n", room.RoomKey)
	}
	return nil
}

func cmdRoomList(ctx *cli.Context) error {
	store, wallet, err := openStoreAndWallet(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rooms, err := store.QueryRooms(ctx.Context, wallet.Address)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		unread := 0
		if room.Unread != nil {
			unread = room.Unread.UnreadCount
		}
		fmt.Printf("%s  %-8s  %-20s  unread=%d  members=%d\n",
			room.RoomID, room.ChatType, room.Name, unread, len(room.Members))
	}
	return nil
}

func cmdRoomRemove(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a room ID")
	}

	store, wallet, err := openStoreAndWallet(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRoom(ctx.Context, wallet.Address, ctx.Args().Get(0)); err != nil {
		return err
	}
	fmt.Printf("Room %s removed\n", ctx.Args().Get(0))
	return nil
}
