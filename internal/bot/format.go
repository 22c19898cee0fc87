package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
	"github.com/odin-eye1/telegrambot/internal/config"
	"github.com/odin-eye1/telegrambot/internal/escrow"
	"github.com/odin-eye1/telegrambot/internal/gateway"
	"github.com/odin-eye1/telegrambot/internal/ledger"
)

const (
	welcomeText = "Welcome to the Escrow Bot! Please use this bot in a group chat for transactions.\n" +
		"Use /help to see available commands."

	groupReadyText = "Bot is ready to handle escrow transactions!"

	needAdminText = "⚠️ This bot requires admin privileges to function properly!\n" +
		"Please make the bot an admin with the following permissions:\n" +
		"- Delete messages\n" +
		"- Restrict members"

	groupOnlyText   = "This command only works in group chats!"
	privateOnlyText = "This command is only available in private chat!"
	blockedText     = "You are blocked from using this bot."

	helpText = `Available Commands:
/start - Start the bot
/help - Show this help message
/links - View owner and admin links
/vouches - View vouch channel

Group Commands:
/buyer <address> - Set buyer role with crypto address
/seller <address> - Set seller role with crypto address
/amount <usd> - Set the trade amount in USD
/pay - Create the escrow payment request
/transaction <id> - Check and monitor a transaction
/release - Release funds to the other party`
)

func linksText(cfg *config.Config) string {
	return fmt.Sprintf("Owner Channel: %s\nAdmin Channel: %s", cfg.OwnerChannel, cfg.AdminChannel)
}

func vouchesText(cfg *config.Config) string {
	return fmt.Sprintf("View our vouch channel: %s", cfg.VouchChannel)
}

func roleSetText(role escrow.Role, party *escrow.Party) string {
	return fmt.Sprintf("%s role set with %s address: %s",
		roleTitle(role), party.Family.Symbol(), party.Address)
}

func roleTitle(role escrow.Role) string {
	if role == escrow.RoleBuyer {
		return "Buyer"
	}
	return "Seller"
}

func amountSetText(amount decimal.Decimal) string {
	return fmt.Sprintf("Trade amount set to %s USD. Use /pay to create the escrow payment request.",
		amount.StringFixed(2))
}

func paymentRequestText(amount decimal.Decimal, payment *escrow.Payment) string {
	return fmt.Sprintf(`Payment Request Created:
Amount: %s USD
Address: %s
Payment ID: %s

Please send the payment to the address above. The bot will monitor the transaction and notify when payment is received.`,
		amount.StringFixed(2), payment.DepositAddress, payment.GatewayID)
}

func txStatusText(tx *ledger.Tx, family coinaddr.Family) string {
	status := "Pending"
	if tx.Confirmed() {
		status = "Confirmed"
	}
	from, to := "Unknown", "Unknown"
	if len(tx.Inputs) > 0 {
		from = tx.Inputs[0]
	}
	if len(tx.Outputs) > 0 {
		to = tx.Outputs[0]
	}
	// Explorer amounts arrive in minor units (satoshi/litoshi).
	amount := decimal.New(tx.TotalAmount, -8)
	return fmt.Sprintf(`Transaction Status: %s
Amount: %s %s
From: %s
To: %s
Confirmations: %d

I will now monitor this transaction and send updates when the status changes.`,
		status, amount.String(), family.Symbol(), from, to, tx.Confirmations)
}

func settlementText(s *escrow.Settlement) string {
	return fmt.Sprintf(`Release Initiated by %s:
Amount: %s USD
Address: %s
Payment ID: %s

The funds will be released to the specified address. The escrow fee (%s%%) has been deducted.`,
		roleTitle(s.Releaser), s.Payout.StringFixed(2), s.Address, s.PaymentID, s.FeePercent.String())
}

func refundAdminText(chatID int64, r *escrow.RefundResult) string {
	return fmt.Sprintf(`🔔 Admin Refund Initiated
Chat ID: %d
Amount: %s USD
Refund ID: %s`, chatID, r.Amount.StringFixed(2), r.RefundID)
}

func adminRequestText(chatTitle string, chatID int64, inviteLink, requester string) string {
	var b strings.Builder
	b.WriteString("🔔 Admin Help Request\n")
	fmt.Fprintf(&b, "From: %s\n", chatTitle)
	fmt.Fprintf(&b, "Chat ID: %d\n", chatID)
	if inviteLink != "" {
		fmt.Fprintf(&b, "Link: %s\n", inviteLink)
	}
	fmt.Fprintf(&b, "Requested by: %s", requester)
	return b.String()
}

func statsText(sessions, watchers, blocked int) string {
	return fmt.Sprintf(`📊 Bot Statistics
Active Transactions: %d
Monitored Transactions: %d
Blocked Users: %d`, sessions, watchers, blocked)
}

// errorText renders a state-machine or collaborator error as the reply the
// user sees. Unknown errors get a generic apology; details stay in the log.
func errorText(err error) string {
	switch {
	case errors.Is(err, escrow.ErrBlocked):
		return blockedText
	case errors.Is(err, coinaddr.ErrInvalidAddress):
		return "Invalid cryptocurrency address!"
	case errors.Is(err, escrow.ErrRoleTaken):
		return "That role is already taken by another user!"
	case errors.Is(err, escrow.ErrRolesIncomplete):
		return "Both buyer and seller must be set up first!"
	case errors.Is(err, escrow.ErrInvalidAmount):
		return "Please provide a positive USD amount!"
	case errors.Is(err, escrow.ErrNoAmount):
		return "Please specify the amount first!"
	case errors.Is(err, escrow.ErrAmountLocked):
		return "The amount cannot be changed once a payment request exists!"
	case errors.Is(err, escrow.ErrPaymentExists):
		return "A payment request already exists for this transaction!"
	case errors.Is(err, escrow.ErrNoPayment):
		return "No payment found for this transaction!"
	case errors.Is(err, escrow.ErrNotConfirmed):
		return "Payment must be confirmed before release!"
	case errors.Is(err, escrow.ErrNotParticipant):
		return "Only the buyer or seller can release funds!"
	case errors.Is(err, escrow.ErrNotAdmin):
		return "This command is only available to admins!"
	case errors.Is(err, escrow.ErrSettlementInFlight):
		return "A settlement is already in progress. Please wait for it to finish."
	case errors.Is(err, escrow.ErrSessionNotFound):
		return "No active transaction found!"
	case gateway.IsTransient(err), ledger.IsTransient(err):
		return "External service temporarily unavailable. Please try again later."
	default:
		return "Something went wrong. Please try again later."
	}
}
