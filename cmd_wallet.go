package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"roomsync/crypto"
)

var walletCommand = &cli.Command{
	Name:   "wallet",
	Usage:  "Show the local wallet, creating it on first use",
	Action: cmdWallet,
}

func cmdWallet(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	wallet, err := crypto.EnsureWallet(cfg.WalletKeyPath)
	if err != nil {
		return fmt.Errorf("prepare wallet: %w", err)
	}

	fmt.Printf("Address:         %s\n", wallet.Address)
	fmt.Printf("Public Key:      %s\n", wallet.PublicKey)
	fmt.Printf("Wallet File:     %s\n", cfg.WalletKeyPath)
	fmt.Printf("Config File:     %s\n", getConfigPath(ctx))
	fmt.Printf("Data Directory:  %s\n", getDataDir(ctx))
	return nil
}
