// Escrow bot - Telegram escrow for peer-to-peer crypto trades
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/odin-eye1/telegrambot/internal/blocklist"
	"github.com/odin-eye1/telegrambot/internal/bot"
	"github.com/odin-eye1/telegrambot/internal/circuitbreaker"
	"github.com/odin-eye1/telegrambot/internal/config"
	"github.com/odin-eye1/telegrambot/internal/escrow"
	"github.com/odin-eye1/telegrambot/internal/gateway"
	"github.com/odin-eye1/telegrambot/internal/ledger"
	"github.com/odin-eye1/telegrambot/internal/logging"
	"github.com/odin-eye1/telegrambot/internal/metrics"
	"github.com/odin-eye1/telegrambot/internal/monitor"
	"github.com/odin-eye1/telegrambot/internal/ops"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting escrow bot",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("configuration loaded",
		"fee_percent", cfg.FeePercent,
		"session_expiry", cfg.SessionExpiry,
		"poll_interval", cfg.PollInterval,
	)

	blocked, err := blocklist.Load(cfg.BlockListPath)
	if err != nil {
		logger.Error("failed to load block list", "error", err)
		os.Exit(1)
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("failed to connect to telegram", "error", err)
		os.Exit(1)
	}

	// Validate() guarantees FeePercent parses.
	feePercent, err := decimal.NewFromString(cfg.FeePercent)
	if err != nil {
		logger.Error("invalid fee percentage", "error", err)
		os.Exit(1)
	}

	notifier := bot.NewNotifier(api, cfg.AdminGroupID, logger)

	gw := gateway.NewNOWPayments(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	breaker := circuitbreaker.New(5, 2*time.Minute)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		metrics.BreakerTransitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
		logger.Warn("explorer circuit transition", "key", key, "from", from, "to", to)
	})
	explorer := ledger.NewBreakerClient(
		ledger.NewBlockCypher(cfg.ExplorerBaseURL, cfg.ExplorerToken),
		breaker,
	)

	svc := escrow.NewService(escrow.NewStore(), gw, feePercent, logger).
		WithBlockList(blocked).
		WithAdminCheck(func(userID int64) bool { return cfg.IsAdmin(userID) || cfg.IsOwner(userID) }).
		WithAdminNotifier(notifier)

	watchers := monitor.NewManager(explorer, svc, svc, notifier,
		cfg.PollInterval, cfg.MonitorRetryMax, logger)

	reaper := escrow.NewReaper(svc, notifier, cfg.ReapInterval, cfg.SessionExpiry, logger)

	opsServer := ops.New(cfg.OpsAddr, svc, watchers, blocked, logger)
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error("ops server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reaper.Start(ctx)

	b := bot.New(api, cfg, svc, watchers, explorer, blocked, notifier, logger)
	b.Run(ctx)

	// Shutdown order: updates have stopped with Run returning; drain the
	// watchers, then the reaper, then the ops server.
	logger.Info("shutting down")
	watchers.Stop()
	reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}

	logger.Info("goodbye")
}
