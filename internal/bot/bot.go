// Package bot is the Telegram surface of the escrow service. Handlers
// translate commands into state-machine calls and render the typed
// results as chat messages; no trade state lives here.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/odin-eye1/telegrambot/internal/blocklist"
	"github.com/odin-eye1/telegrambot/internal/config"
	"github.com/odin-eye1/telegrambot/internal/escrow"
	"github.com/odin-eye1/telegrambot/internal/ledger"
	"github.com/odin-eye1/telegrambot/internal/metrics"
	"github.com/odin-eye1/telegrambot/internal/monitor"
)

// Bot dispatches Telegram updates to the command handlers.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	svc      *escrow.Service
	watchers *monitor.Manager
	ledger   ledger.Client
	blocked  *blocklist.List
	notifier *Notifier
	logger   *slog.Logger
}

// New wires the Telegram layer. The notifier must send through the same
// api instance.
func New(api *tgbotapi.BotAPI, cfg *config.Config, svc *escrow.Service, watchers *monitor.Manager, lc ledger.Client, blocked *blocklist.List, notifier *Notifier, logger *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		svc:      svc,
		watchers: watchers,
		ledger:   lc,
		blocked:  blocked,
		notifier: notifier,
		logger:   logger,
	}
}

// Run long-polls for updates until ctx is cancelled. Blocks.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.safeHandle(ctx, update)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("panic handling update", "panic", fmt.Sprint(rec))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	command := msg.Command()

	if b.blocked.Contains(msg.From.ID) {
		b.reply(msg.Chat.ID, blockedText)
		metrics.CommandsTotal.WithLabelValues(command, "blocked").Inc()
		return
	}

	var err error
	switch command {
	case "start":
		err = b.handleStart(msg)
	case "help":
		err = b.handlePrivateInfo(msg, helpText)
	case "links":
		err = b.handlePrivateInfo(msg, linksText(b.cfg))
	case "vouches":
		err = b.handlePrivateInfo(msg, vouchesText(b.cfg))
	case "buyer":
		err = b.handleRole(ctx, msg, escrow.RoleBuyer)
	case "seller":
		err = b.handleRole(ctx, msg, escrow.RoleSeller)
	case "amount":
		err = b.handleAmount(ctx, msg)
	case "pay":
		err = b.handlePay(ctx, msg)
	case "transaction":
		err = b.handleTransaction(ctx, msg)
	case "release":
		err = b.handleRelease(ctx, msg)
	case "admin":
		err = b.handleAdminRequest(msg)
	case "block":
		err = b.handleBlock(msg, true)
	case "unblock":
		err = b.handleBlock(msg, false)
	case "refund":
		err = b.handleRefund(ctx, msg)
	case "stats":
		err = b.handleStats(msg)
	default:
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
		b.logger.Warn("command failed",
			"command", command, "chat_id", msg.Chat.ID, "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, errorText(err))
	}
	metrics.CommandsTotal.WithLabelValues(command, result).Inc()
}

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("callback ack failed", "error", err)
	}
	if query.Message == nil {
		return
	}

	chatID := query.Message.Chat.ID
	switch query.Data {
	case "help":
		b.reply(chatID, helpText)
	case "links":
		b.reply(chatID, linksText(b.cfg))
	case "vouches":
		b.reply(chatID, vouchesText(b.cfg))
	}
}

// reply sends text to chatID, logging failures instead of surfacing them.
func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("reply failed", "chat_id", chatID, "error", err)
	}
}

func isGroup(msg *tgbotapi.Message) bool {
	return msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
}

// hasAdminPowers reports whether the bot can delete messages and restrict
// members in the chat. Trades only run in groups where it can moderate.
func (b *Bot) hasAdminPowers(chatID int64) bool {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: b.api.Self.ID,
		},
	})
	if err != nil {
		b.logger.Warn("chat member lookup failed", "chat_id", chatID, "error", err)
		return false
	}
	if member.Status == "creator" {
		return true
	}
	return member.Status == "administrator" && member.CanDeleteMessages && member.CanRestrictMembers
}
