package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
	"github.com/odin-eye1/telegrambot/internal/escrow"
	"github.com/odin-eye1/telegrambot/internal/ledger"
)

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	if msg.Chat.IsPrivate() {
		reply := tgbotapi.NewMessage(msg.Chat.ID, welcomeText)
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Help", "help")),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Links", "links")),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Vouches", "vouches")),
		)
		if _, err := b.api.Send(reply); err != nil {
			b.logger.Error("reply failed", "chat_id", msg.Chat.ID, "error", err)
		}
		return nil
	}

	if !b.hasAdminPowers(msg.Chat.ID) {
		b.reply(msg.Chat.ID, needAdminText)
		return nil
	}
	b.reply(msg.Chat.ID, groupReadyText)
	return nil
}

func (b *Bot) handlePrivateInfo(msg *tgbotapi.Message, text string) error {
	if !msg.Chat.IsPrivate() {
		b.reply(msg.Chat.ID, privateOnlyText)
		return nil
	}
	b.reply(msg.Chat.ID, text)
	return nil
}

func (b *Bot) handleRole(ctx context.Context, msg *tgbotapi.Message, role escrow.Role) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}
	if !b.hasAdminPowers(msg.Chat.ID) {
		b.reply(msg.Chat.ID, needAdminText)
		return nil
	}

	address := strings.TrimSpace(msg.CommandArguments())
	if address == "" {
		b.reply(msg.Chat.ID, "Please provide a cryptocurrency address!")
		return nil
	}

	party, err := b.svc.SetRole(ctx, msg.Chat.ID, role, msg.From.ID, address)
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, roleSetText(role, party))
	return nil
}

func (b *Bot) handleAmount(ctx context.Context, msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.reply(msg.Chat.ID, "Please provide an amount in USD, e.g. /amount 150")
		return nil
	}
	amount, err := decimal.NewFromString(arg)
	if err != nil {
		return escrow.ErrInvalidAmount
	}

	if err := b.svc.SetAmount(ctx, msg.Chat.ID, amount); err != nil {
		return err
	}
	b.reply(msg.Chat.ID, amountSetText(amount))
	return nil
}

func (b *Bot) handlePay(ctx context.Context, msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}

	payment, err := b.svc.OpenPayment(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	sess, ok := b.svc.Session(msg.Chat.ID)
	if !ok {
		return escrow.ErrSessionNotFound
	}
	b.reply(msg.Chat.ID, paymentRequestText(sess.AmountUSD, payment))
	return nil
}

func (b *Bot) handleTransaction(ctx context.Context, msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}

	txID := strings.TrimSpace(msg.CommandArguments())
	if txID == "" {
		b.reply(msg.Chat.ID, "Please provide a transaction ID!")
		return nil
	}

	b.watchers.Watch(ctx, msg.Chat.ID, txID)

	// Immediate status reply; the watcher carries on in the background.
	tx, family, err := b.lookupTx(ctx, txID)
	switch {
	case err == nil:
		b.reply(msg.Chat.ID, txStatusText(tx, family))
	case errors.Is(err, ledger.ErrNotFound):
		b.reply(msg.Chat.ID, "Transaction not found yet. I will keep monitoring and send updates when it appears.")
	default:
		return err
	}
	return nil
}

func (b *Bot) lookupTx(ctx context.Context, txID string) (*ledger.Tx, coinaddr.Family, error) {
	var lastErr error = ledger.ErrNotFound
	for _, family := range coinaddr.Families() {
		tx, err := b.ledger.GetTransaction(ctx, txID, family)
		if err == nil {
			return tx, family, nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func (b *Bot) handleRelease(ctx context.Context, msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}

	settlement, err := b.svc.Release(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		return err
	}
	b.reply(msg.Chat.ID, settlementText(settlement))
	return nil
}

func (b *Bot) handleAdminRequest(msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}
	if b.cfg.AdminGroupID == 0 {
		b.reply(msg.Chat.ID, "❌ Error notifying admin. Please try again later.")
		return nil
	}

	inviteLink, err := b.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: msg.Chat.ID},
	})
	if err != nil {
		// The request still goes out, just without a join link.
		b.logger.Warn("invite link fetch failed", "chat_id", msg.Chat.ID, "error", err)
	}

	requester := fmt.Sprintf("user %d", msg.From.ID)
	if msg.From.UserName != "" {
		requester = "@" + msg.From.UserName
	}

	b.notifier.NotifyAdmin(adminRequestText(msg.Chat.Title, msg.Chat.ID, inviteLink, requester))
	b.reply(msg.Chat.ID, "✅ Admin has been notified and will join shortly!")
	return nil
}

func (b *Bot) handleBlock(msg *tgbotapi.Message, block bool) error {
	if !b.cfg.IsAdmin(msg.From.ID) && !b.cfg.IsOwner(msg.From.ID) {
		return escrow.ErrNotAdmin
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.reply(msg.Chat.ID, "Please provide a user ID!")
		return nil
	}
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "Invalid user ID!")
		return nil
	}

	if block {
		if err := b.blocked.Block(userID); err != nil {
			return err
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("User %d has been blocked from using the bot.", userID))
	} else {
		if err := b.blocked.Unblock(userID); err != nil {
			return err
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("User %d has been unblocked.", userID))
	}
	return nil
}

func (b *Bot) handleRefund(ctx context.Context, msg *tgbotapi.Message) error {
	if !isGroup(msg) {
		b.reply(msg.Chat.ID, groupOnlyText)
		return nil
	}

	result, err := b.svc.Refund(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		return err
	}

	b.notifier.NotifyAdmin(refundAdminText(msg.Chat.ID, result))
	b.reply(msg.Chat.ID, "Refund has been initiated. The transaction will be cancelled.")
	return nil
}

func (b *Bot) handleStats(msg *tgbotapi.Message) error {
	if !b.cfg.IsAdmin(msg.From.ID) && !b.cfg.IsOwner(msg.From.ID) {
		return escrow.ErrNotAdmin
	}

	b.reply(msg.Chat.ID, statsText(b.svc.ActiveSessions(), b.watchers.Active(), b.blocked.Len()))
	return nil
}
