package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/susu3304/premiumbot/internal/chain"
	"github.com/susu3304/premiumbot/internal/config"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect or create the operator wallet",
	}
	cmd.AddCommand(walletInfoCmd())
	cmd.AddCommand(walletNewCmd())
	return cmd
}

func walletInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show address, state, balance and seqno of the configured wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			mnemonic := config.NewResolver(database).Get(ctx, config.KeyTONMnemonic)
			if mnemonic == "" {
				return fmt.Errorf("ton_mnemonic is not configured")
			}
			tonAPI, err := chain.Connect(ctx, cfg.TONConfigURL)
			if err != nil {
				return err
			}
			sender, err := chain.NewSender(tonAPI, mnemonic, cfg.TONWalletVersion)
			if err != nil {
				return err
			}
			info, err := sender.Info(ctx)
			if err != nil {
				return err
			}

			state := "not deployed"
			if info.Active {
				state = "active"
			}
			fmt.Printf("Address: %s\n", info.Address)
			fmt.Printf("State:   %s\n", state)
			fmt.Printf("Balance: %s TON\n", info.Balance)
			fmt.Printf("Seqno:   %d\n", info.Seqno)
			return nil
		},
	}
}

func walletNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a fresh 24-word wallet mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(chain.NewMnemonic())
			return nil
		},
	}
}
