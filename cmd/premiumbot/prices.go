package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/susu3304/premiumbot/internal/pricing"
)

func pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage the price table",
		Long: `Manage the price table read by the bot.

Running bots pick up changes after PRICE_REFRESH_SECONDS, or immediately
after POST /api/prices/invalidate.`,
	}
	cmd.AddCommand(pricesListCmd())
	cmd.AddCommand(pricesSetCmd())
	cmd.AddCommand(pricesDisableCmd())
	return cmd
}

func pricesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			prices, err := database.ActivePrices(ctx)
			if err != nil {
				return err
			}
			if len(prices) == 0 {
				fmt.Println("No active prices.")
				return nil
			}
			for _, months := range pricing.Durations(prices) {
				fmt.Printf("%2d months  %s\n", months, prices[months].StringFixed(2))
			}
			return nil
		},
	}
}

func pricesSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [months] [price]",
		Short: "Set and activate the price for a duration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			months, err := parseMonths(args[0])
			if err != nil {
				return err
			}
			price, err := decimal.NewFromString(args[1])
			if err != nil || !price.IsPositive() {
				return fmt.Errorf("invalid price %q", args[1])
			}

			ctx := context.Background()
			_, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.SetPrice(ctx, months, price); err != nil {
				return err
			}
			fmt.Printf("%d months now cost %s\n", months, price.StringFixed(2))
			return nil
		},
	}
}

func pricesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [months]",
		Short: "Stop offering a duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			months, err := parseMonths(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			_, database, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.DisablePrice(ctx, months); err != nil {
				return err
			}
			fmt.Printf("%d months disabled\n", months)
			return nil
		},
	}
}

func parseMonths(s string) (int, error) {
	months, err := strconv.Atoi(s)
	if err != nil || months <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return months, nil
}
