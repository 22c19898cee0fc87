package bot

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/odin-eye1/telegrambot/internal/metrics"
)

// Notifier sends messages outside the request/reply cycle: watcher and
// reaper updates to trade chats, failure alerts to the admin group. It is
// safe for concurrent use; tgbotapi serializes sends internally.
type Notifier struct {
	api          *tgbotapi.BotAPI
	adminGroupID int64
	logger       *slog.Logger
}

// NewNotifier creates a notifier delivering admin alerts to adminGroupID.
// With a zero adminGroupID admin alerts are logged and dropped.
func NewNotifier(api *tgbotapi.BotAPI, adminGroupID int64, logger *slog.Logger) *Notifier {
	return &Notifier{api: api, adminGroupID: adminGroupID, logger: logger}
}

// NotifyChat delivers text to a trade chat.
func (n *Notifier) NotifyChat(chatID int64, text string) {
	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		n.logger.Error("chat notification failed", "chat_id", chatID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("chat").Inc()
}

// NotifyAdmin delivers text to the admin group.
func (n *Notifier) NotifyAdmin(text string) {
	if n.adminGroupID == 0 {
		n.logger.Warn("admin alert dropped, no admin group configured", "text", text)
		return
	}
	if _, err := n.api.Send(tgbotapi.NewMessage(n.adminGroupID, text)); err != nil {
		n.logger.Error("admin notification failed", "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("admin").Inc()
}
