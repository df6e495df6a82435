package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"roomsync/discovery"
	"roomsync/network"
)

var relayCommand = &cli.Command{
	Name:  "relay",
	Usage: "Run an in-memory message relay",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "Listen address",
			Value:   "0.0.0.0:8080",
			EnvVars: []string{"ROOMSYNC_RELAY_LISTEN"},
		},
		&cli.IntFlag{
			Name:  "max-history",
			Usage: "Messages kept per room, 0 for unlimited",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "mDNS instance name",
		},
		&cli.BoolFlag{
			Name:  "no-mdns",
			Usage: "Do not advertise the relay on the local network",
		},
	},
	Action: cmdRelay,
}

func cmdRelay(ctx *cli.Context) error {
	log := getLogger(ctx)

	relay, err := network.ListenRelay(ctx.String("listen"), network.RelayOptions{
		MaxHistory: ctx.Int("max-history"),
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(); err != nil {
			log.Warn().Err(err).Msg("Relay close failed")
		}
	}()

	fmt.Printf("Relay URL:       %s\n", relay.URL())

	if !ctx.Bool("no-mdns") {
		name := ctx.String("name")
		if name == "" {
			name, _ = os.Hostname()
		}
		if name == "" {
			name = "roomsync relay"
		}
		port := relay.Addr().(*net.TCPAddr).Port
		broadcaster, err := discovery.StartBroadcaster(discovery.Config{
			InstanceName: name,
			Port:         port,
			Path:         network.RelayPath,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement failed")
		} else {
			defer broadcaster.Stop()
			fmt.Println("Discovery:       advertising")
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	for {
		select {
		case <-signalCtx.Done():
			fmt.Println("Status:          shutting down")
			return nil
		case err := <-relay.Errors():
			log.Error().Err(err).Msg("Relay error")
		}
	}
}
