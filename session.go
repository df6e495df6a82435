package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"roomsync/client"
	"roomsync/config"
	"roomsync/crypto"
	"roomsync/discovery"
	"roomsync/network"
	"roomsync/storage"
)

var serverURLFlag = &cli.StringFlag{
	Name:    "server-url",
	Usage:   "Relay websocket URL; discovered over mDNS when empty",
	EnvVars: []string{"ROOMSYNC_SERVER_URL"},
}

// session holds the resources of one connected client.
type session struct {
	store     *storage.Store
	wallet    crypto.Wallet
	transport *network.Client
	client    *client.Client
}

func (s *session) Close() {
	if s.client != nil {
		s.client.Stop()
	}
	if s.transport != nil {
		_ = s.transport.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func openStoreAndWallet(ctx *cli.Context) (*storage.Store, crypto.Wallet, error) {
	cfg := getConfig(ctx)
	store, _, err := storage.Open(getDataDir(ctx))
	if err != nil {
		return nil, crypto.Wallet{}, fmt.Errorf("open database: %w", err)
	}
	wallet, err := crypto.EnsureWallet(cfg.WalletKeyPath)
	if err != nil {
		_ = store.Close()
		return nil, crypto.Wallet{}, fmt.Errorf("prepare wallet: %w", err)
	}
	return store, wallet, nil
}

func connect(ctx *cli.Context, onArrived func(roomID string)) (*session, error) {
	cfg := getConfig(ctx)
	log := getLogger(ctx)

	store, wallet, err := openStoreAndWallet(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{store: store, wallet: wallet}

	url, err := resolveRelayURL(ctx.Context, ctx.String(serverURLFlag.Name), cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.transport, err = network.Dial(ctx.Context, network.ClientOptions{
		URL:      url,
		ClientID: cfg.ClientID,
		Rooms:    store,
		Logger:   log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.client, err = client.New(client.Options{
		Identity:           crypto.NewHolder(wallet),
		Directory:          store,
		Transport:          s.transport,
		ActivationInterval: cfg.ActivationInterval(),
		UserName:           cfg.UserName,
		UserAvatar:         cfg.UserAvatar,
		OnMessageArrived:   onArrived,
		Logger:             log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func resolveRelayURL(ctx context.Context, flagURL string, cfg *config.ClientConfig, log zerolog.Logger) (string, error) {
	if url := strings.TrimSpace(flagURL); url != "" {
		return url, nil
	}
	if url := strings.TrimSpace(cfg.ServerURL); url != "" {
		return url, nil
	}

	log.Info().Dur("timeout", cfg.DiscoveryTimeout()).Msg("Looking for a relay on the local network")
	relay, err := discovery.FindRelay(ctx, discovery.Config{ScanTimeout: cfg.DiscoveryTimeout()})
	if err != nil {
		return "", fmt.Errorf("no server URL configured and discovery failed: %w", err)
	}
	log.Info().Str("instance", relay.Instance).Str("url", relay.URL()).Msg("Found relay")
	return relay.URL(), nil
}
