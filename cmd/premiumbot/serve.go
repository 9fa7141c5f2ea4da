package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/susu3304/premiumbot/internal/api"
	"github.com/susu3304/premiumbot/internal/bot"
	"github.com/susu3304/premiumbot/internal/catalog"
	"github.com/susu3304/premiumbot/internal/chain"
	"github.com/susu3304/premiumbot/internal/config"
	"github.com/susu3304/premiumbot/internal/flow"
	"github.com/susu3304/premiumbot/internal/gateway"
	"github.com/susu3304/premiumbot/internal/pricing"
	"github.com/susu3304/premiumbot/internal/store"
	"github.com/susu3304/premiumbot/internal/worker"
)

const (
	credentialCheckInterval = time.Hour
	shutdownTimeout         = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := cfg.RequireBot(); err != nil {
		return err
	}

	if seeded, err := database.SeedDefaultPrices(ctx, pricing.Defaults); err != nil {
		log.Printf("pricing: failed to seed default prices: %v", err)
	} else if seeded {
		log.Println("pricing: seeded default prices")
	}

	resolver := config.NewResolver(database)
	for _, issue := range resolver.Status(ctx, cfg) {
		log.Printf("config: warning: %s", issue)
	}

	httpClient, err := cfg.HTTPClient()
	if err != nil {
		return err
	}

	cat := catalog.New(catalog.Config{
		BaseURL:     cfg.CatalogBaseURL,
		PageURL:     cfg.CatalogPageURL,
		AutoRefresh: cfg.CatalogAutoRefresh,
		HTTPClient:  httpClient,
		Override: func() (catalog.Credential, bool) {
			return catalog.Credential{Token: cfg.CatalogCookie, Hash: cfg.CatalogHash}, cfg.CatalogCookie != "" && cfg.CatalogHash != ""
		},
		Persister: resolver,
	})
	if err := cat.Init(ctx); err != nil {
		log.Printf("catalog: %v; purchases stay disabled until a refresh succeeds", err)
	}

	var sender *chain.Sender
	if mnemonic := resolver.Get(ctx, config.KeyTONMnemonic); mnemonic != "" {
		tonAPI, err := chain.Connect(ctx, cfg.TONConfigURL)
		if err != nil {
			return err
		}
		sender, err = chain.NewSender(tonAPI, mnemonic, cfg.TONWalletVersion)
		if err != nil {
			return fmt.Errorf("failed to open operator wallet: %w", err)
		}
		log.Printf("chain: operator wallet %s", sender.Address())
	}

	gatewayToken := resolver.Get(ctx, config.KeyGatewayToken)
	notifyURL := resolver.Get(ctx, config.KeyGatewayNotifyURL)
	gw := gateway.New(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		Token:       gatewayToken,
		NotifyURL:   notifyURL,
		RedirectURL: resolver.Get(ctx, config.KeyGatewayRedirect),
		HTTPClient:  httpClient,
	})

	prices := pricing.NewTable(database, cfg.PriceRefresh)
	orders := store.New(cfg.OrderTTL, cfg.OrderMaxEntries)

	discordBot, err := bot.New(cfg.DiscordToken, database, cfg.IsAdmin)
	if err != nil {
		return err
	}

	deps := flow.Deps{
		Store:     orders,
		Catalog:   cat,
		Prices:    prices,
		Messenger: discordBot.Messenger(),
		Gateway:   gw,
		Ledger:    database,
		Archive:   database,
		AutoPay: func(ctx context.Context) bool {
			return resolver.Bool(ctx, config.KeyTONAutopay, false)
		},
		Settlement:   cfg.SettlementOrder,
		PollInterval: cfg.PollInterval,
		PollAttempts: cfg.PollMaxAttempts,
	}
	if sender != nil {
		deps.Sender = sender
	}
	controller, err := flow.NewController(deps)
	if err != nil {
		return err
	}

	apiDeps := api.Deps{
		Catalog: cat,
		Prices:  prices,
		Orders:  orders,
		Archive: database,
		Warnings: func(ctx context.Context) []string {
			return resolver.Status(ctx, cfg)
		},
	}
	if gw.Enabled() {
		apiDeps.Webhook = gateway.NewWebhook(gatewayToken, controller)
		apiDeps.WebhookPath = config.WebhookPath(notifyURL)
		log.Printf("gateway: accepting notifications on %s", apiDeps.WebhookPath)
	}
	if sender != nil {
		apiDeps.Wallet = sender
	}
	apiServer := api.New(cfg, apiDeps)

	g, gctx := errgroup.WithContext(ctx)

	orders.StartSweeper(gctx)
	priceWorker := worker.New("pricing", cfg.PriceRefresh, prices.Refresh)
	credentialWorker := worker.New("catalog", credentialCheckInterval, cat.CheckExpiry)
	g.Go(func() error {
		priceWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		credentialWorker.Run(gctx)
		return nil
	})

	g.Go(apiServer.Start)

	if err := discordBot.Start(gctx, controller); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		if err := discordBot.Stop(); err != nil {
			log.Printf("bot: close session: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
