package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridflow/alert"
	"gridflow/api"
	"gridflow/config"
	"gridflow/exchange"
	"gridflow/logger"
	"gridflow/manager"
	"gridflow/market"
	"gridflow/notify"
	"gridflow/risk"
	"gridflow/store"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic(err)
	}

	logger.Info("🚀 Starting gridflow")

	grids, err := config.LoadGrids(cfg.GridsFile)
	if err != nil {
		logger.Fatalf("Grid configuration invalid: %v", err)
	}
	symbols := make([]string, 0, len(grids))
	for _, g := range grids {
		symbols = append(symbols, g.Symbol)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Store init failed: %v", err)
	}
	defer st.Close()

	// Without exchange keys the deterministic mock trades against a
	// synthetic price walk, which is what the test environment runs.
	var venue exchange.Exchange
	if cfg.HasExchangeKeys() {
		bn := exchange.NewBinance(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.ExchangeTestnet)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := bn.LoadFilters(ctx, symbols); err != nil {
			logger.Warnf("Filter load failed, lot rounding disabled: %v", err)
		}
		cancel()
		venue = bn
	} else {
		logger.Warn("⚠️ No exchange API keys found, using mock exchange")
		mock := exchange.NewMock()
		mock.StartWalk()
		defer mock.StopWalk()
		venue = mock
	}

	supervisor := risk.NewSupervisor(risk.DefaultThresholds())
	limited := exchange.NewLimited(venue, cfg.RateLimitPerSec,
		time.Duration(cfg.OrderTimeoutSec)*time.Second, supervisor)

	feed := market.NewFeed(limited, symbols)

	notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Warnf("Notifier disabled: %v", err)
	}

	ctrl := manager.NewController(manager.Config{
		Exchange: limited,
		Risk:     supervisor,
		Feed:     feed,
		Sink:     st,
		Notify:   notifier,
		KillSink: st.KillEvent,
	})

	for _, g := range grids {
		if err := ctrl.Deploy(g); err != nil {
			logger.Errorf("Deploy %s failed: %v", g.Symbol, err)
		}
	}

	if err := feed.Start(); err != nil {
		logger.Fatalf("Price feed failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	go supervisor.Run(ctx, limited)

	// store ticks without blocking the dispatch path
	go func() {
		ticks := feed.Subscribe(256)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticks:
				st.Tick(t.Symbol, t.Price, t.Ts)
			}
		}
	}()

	alerts := alert.NewRouter(cfg.WebhookSecret, ctrl)
	server := api.NewServer(ctrl, alerts, feed, st, cfg.APIServerPort)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatalf("API server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Warnf("Server shutdown: %v", err)
	}
	ctrl.Shutdown()
	feed.Stop()
	logger.Info("✅ Shutdown complete")
}
