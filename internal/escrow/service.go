package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
	"github.com/odin-eye1/telegrambot/internal/gateway"
	"github.com/odin-eye1/telegrambot/internal/metrics"
)

// BlockChecker answers whether a user is banned from the bot.
type BlockChecker interface {
	Contains(userID int64) bool
}

// AdminNotifier receives alerts about failures that affect money movement.
type AdminNotifier interface {
	NotifyAdmin(text string)
}

// Settlement describes a completed release for the UI layer to render.
type Settlement struct {
	Releaser   Role
	Address    string // counter-party address that was paid
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	Payout     decimal.Decimal
	FeePercent decimal.Decimal
	PaymentID  string // gateway payout id
}

// RefundResult describes a completed refund.
type RefundResult struct {
	RefundID string
	Amount   decimal.Decimal
}

// Service validates and applies every state transition of an escrow
// session. It serializes operations per chat id and never holds a session
// lock across a gateway call: state is read and marked under the lock, the
// call runs unlocked, and the precondition is re-checked before the effect
// is applied.
type Service struct {
	store      *Store
	gateway    gateway.Client
	blocked    BlockChecker
	isAdmin    func(userID int64) bool
	notifier   AdminNotifier
	feePercent decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time
	locks      sync.Map // chat id -> *sync.Mutex
}

// NewService creates the escrow state machine. feePercent is the escrow
// fee as a percentage, e.g. 5 for 5%.
func NewService(store *Store, gw gateway.Client, feePercent decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		gateway:    gw,
		feePercent: feePercent,
		logger:     logger,
		isAdmin:    func(int64) bool { return false },
		now:        time.Now,
	}
}

// WithBlockList wires the banned-user check.
func (s *Service) WithBlockList(b BlockChecker) *Service {
	s.blocked = b
	return s
}

// WithAdminCheck wires the admin membership check used by Refund.
func (s *Service) WithAdminCheck(fn func(userID int64) bool) *Service {
	s.isAdmin = fn
	return s
}

// WithAdminNotifier wires the admin alert channel.
func (s *Service) WithAdminNotifier(n AdminNotifier) *Service {
	s.notifier = n
	return s
}

// lock acquires the per-session mutex for chatID and returns its unlock.
// Unrelated sessions never contend.
func (s *Service) lock(chatID int64) func() {
	v, _ := s.locks.LoadOrStore(chatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SetRole registers userID as buyer or seller with the given payout
// address, creating the session on first use. Re-setting one's own role
// overwrites it; taking over a role held by someone else is rejected.
func (s *Service) SetRole(ctx context.Context, chatID int64, role Role, userID int64, address string) (*Party, error) {
	if s.blocked != nil && s.blocked.Contains(userID) {
		return nil, ErrBlocked
	}

	family, err := coinaddr.Classify(address)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(chatID)
	defer unlock()

	now := s.now()
	sess, ok := s.store.Get(chatID)
	if !ok {
		sess = &Session{ChatID: chatID, CreatedAt: now}
	}
	if sess.settling {
		// A payout may be in flight to the currently stored address.
		return nil, ErrSettlementInFlight
	}

	if existing := sess.Party(role); existing != nil && existing.UserID != userID {
		return nil, ErrRoleTaken
	}

	party := &Party{Address: address, Family: family, UserID: userID, SetAt: now}
	if role == RoleBuyer {
		sess.Buyer = party
	} else {
		sess.Seller = party
	}
	sess.LastActivityAt = now
	s.store.put(sess)

	s.logger.Info("role set",
		"chat_id", chatID, "role", role, "user_id", userID, "family", family)
	return party, nil
}

// SetAmount sets the trade amount in USD. Requires both roles and is
// rejected once a payment request exists.
func (s *Service) SetAmount(ctx context.Context, chatID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	unlock := s.lock(chatID)
	defer unlock()

	sess, ok := s.store.Get(chatID)
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.RolesSet() {
		return ErrRolesIncomplete
	}
	if sess.settling {
		// The gateway is being quoted the current amount right now; a
		// rewrite here would attach the deposit to a stale figure.
		return ErrSettlementInFlight
	}
	if sess.Payment != nil {
		return ErrAmountLocked
	}

	sess.AmountUSD = amount
	sess.LastActivityAt = s.now()
	s.store.put(sess)

	s.logger.Info("amount set", "chat_id", chatID, "amount_usd", amount)
	return nil
}

// OpenPayment creates the gateway deposit request for the session amount.
// On gateway failure the session is left unchanged and the error is
// surfaced; the user re-issues the command.
func (s *Service) OpenPayment(ctx context.Context, chatID int64) (*Payment, error) {
	unlock := s.lock(chatID)

	sess, ok := s.store.Get(chatID)
	switch {
	case !ok:
		unlock()
		return nil, ErrSessionNotFound
	case !sess.RolesSet():
		unlock()
		return nil, ErrRolesIncomplete
	case !sess.HasAmount():
		unlock()
		return nil, ErrNoAmount
	case sess.Payment != nil:
		unlock()
		return nil, ErrPaymentExists
	case sess.settling:
		unlock()
		return nil, ErrSettlementInFlight
	}

	amount := sess.AmountUSD
	orderRef := fmt.Sprintf("escrow_%d_%d", chatID, s.now().Unix())
	sess.settling = true
	s.store.put(sess)
	unlock()

	created, err := s.gateway.CreatePayment(ctx, amount, "usd", orderRef)

	unlock = s.lock(chatID)
	defer unlock()
	sess, ok = s.store.Get(chatID)
	if ok {
		sess.settling = false
	}

	if err != nil {
		if ok {
			s.store.put(sess)
		}
		metrics.ExternalErrorsTotal.WithLabelValues("gateway", errKind(gateway.IsTransient(err))).Inc()
		s.logger.Error("payment creation failed", "chat_id", chatID, "order_ref", orderRef, "error", err)
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if !ok {
		// Session vanished while the gateway call was in flight. The
		// deposit request exists but nothing references it; flag it.
		s.alertAdmin(fmt.Sprintf("⚠️ Payment %s created for chat %d but the session is gone", created.ID, chatID))
		return nil, ErrSessionNotFound
	}

	sess.Payment = &Payment{
		GatewayID:      created.ID,
		DepositAddress: created.DepositAddress,
		Status:         PaymentPending,
	}
	sess.LastActivityAt = s.now()
	s.store.put(sess)

	s.logger.Info("payment request created",
		"chat_id", chatID, "payment_id", created.ID, "amount_usd", amount)
	return sess.Payment, nil
}

// MarkConfirmed flips the session's payment from pending to confirmed.
// Only the transaction monitor calls this. A late callback for an absent
// or already-confirmed session is a silent no-op; monitors may race with
// release and refund.
func (s *Service) MarkConfirmed(ctx context.Context, chatID int64) error {
	unlock := s.lock(chatID)
	defer unlock()

	sess, ok := s.store.Get(chatID)
	if !ok || sess.Payment == nil || sess.Payment.Status == PaymentConfirmed {
		return nil
	}

	sess.Payment.Status = PaymentConfirmed
	sess.LastActivityAt = s.now()
	s.store.put(sess)

	s.logger.Info("payment confirmed", "chat_id", chatID, "payment_id", sess.Payment.GatewayID)
	return nil
}

// Release pays out the escrowed amount minus the fee to the counter-party
// of the requester: a releasing buyer pays the seller and vice versa.
// Requires a confirmed payment and that requesterUserID is a participant.
// The session is removed only after the gateway payout succeeds.
func (s *Service) Release(ctx context.Context, chatID, requesterUserID int64) (*Settlement, error) {
	unlock := s.lock(chatID)

	sess, ok := s.store.Get(chatID)
	switch {
	case !ok:
		unlock()
		return nil, ErrSessionNotFound
	case !sess.RolesSet():
		unlock()
		return nil, ErrRolesIncomplete
	case sess.Payment == nil || sess.Payment.Status != PaymentConfirmed:
		unlock()
		return nil, ErrNotConfirmed
	case sess.settling:
		unlock()
		return nil, ErrSettlementInFlight
	}

	releaser := sess.Participant(requesterUserID)
	if releaser == "" {
		unlock()
		return nil, ErrNotParticipant
	}

	payee := sess.Party(releaser.Counterpart())
	amount := sess.AmountUSD
	fee, payout := SplitFee(amount, s.feePercent)
	orderRef := fmt.Sprintf("release_%d_%d", chatID, s.now().Unix())

	sess.settling = true
	s.store.put(sess)
	unlock()

	created, err := s.gateway.CreatePayout(ctx, payout, "usd", orderRef, payee.Address)

	unlock = s.lock(chatID)
	defer unlock()

	if err != nil {
		// No payout happened; the session stays confirmed so the fee
		// cannot be deducted twice on a retried command.
		if sess, ok := s.store.Get(chatID); ok {
			sess.settling = false
			s.store.put(sess)
		}
		metrics.ExternalErrorsTotal.WithLabelValues("gateway", errKind(gateway.IsTransient(err))).Inc()
		s.logger.Error("release payout failed", "chat_id", chatID, "order_ref", orderRef, "error", err)
		s.alertAdmin(fmt.Sprintf("⚠️ Release payout failed in chat %d: %v", chatID, err))
		return nil, fmt.Errorf("release funds: %w", err)
	}

	s.store.remove(chatID)
	metrics.SettlementsTotal.WithLabelValues("released").Inc()

	s.logger.Info("funds released",
		"chat_id", chatID, "releaser", releaser, "payee", payee.Address,
		"payout_usd", payout, "fee_usd", fee, "payment_id", created.ID)

	return &Settlement{
		Releaser:   releaser,
		Address:    payee.Address,
		Amount:     amount,
		Fee:        fee,
		Payout:     payout,
		FeePercent: s.feePercent,
		PaymentID:  created.ID,
	}, nil
}

// Refund returns the escrowed deposit through the gateway. Admin only;
// requires an existing gateway payment. The session is removed only after
// the gateway refund succeeds.
func (s *Service) Refund(ctx context.Context, chatID, adminUserID int64) (*RefundResult, error) {
	if !s.isAdmin(adminUserID) {
		return nil, ErrNotAdmin
	}

	unlock := s.lock(chatID)

	sess, ok := s.store.Get(chatID)
	switch {
	case !ok:
		unlock()
		return nil, ErrSessionNotFound
	case sess.Payment == nil:
		unlock()
		return nil, ErrNoPayment
	case sess.settling:
		unlock()
		return nil, ErrSettlementInFlight
	}

	paymentID := sess.Payment.GatewayID
	amount := sess.AmountUSD
	sess.settling = true
	s.store.put(sess)
	unlock()

	refund, err := s.gateway.CreateRefund(ctx, paymentID, "Admin initiated refund")

	unlock = s.lock(chatID)
	defer unlock()

	if err != nil {
		if sess, ok := s.store.Get(chatID); ok {
			sess.settling = false
			s.store.put(sess)
		}
		metrics.ExternalErrorsTotal.WithLabelValues("gateway", errKind(gateway.IsTransient(err))).Inc()
		s.logger.Error("refund failed", "chat_id", chatID, "payment_id", paymentID, "error", err)
		s.alertAdmin(fmt.Sprintf("⚠️ Refund of payment %s failed in chat %d: %v", paymentID, chatID, err))
		return nil, fmt.Errorf("create refund: %w", err)
	}

	s.store.remove(chatID)
	metrics.SettlementsTotal.WithLabelValues("refunded").Inc()

	s.logger.Info("refund created",
		"chat_id", chatID, "payment_id", paymentID, "refund_id", refund.ID, "admin_id", adminUserID)

	return &RefundResult{RefundID: refund.ID, Amount: amount}, nil
}

// ReapExpired removes every session idle since before cutoff and returns
// the chat ids that need an expiry notification. Each removal re-checks
// the session under its lock, so a concurrent release or refund wins and
// the sweep simply skips that session.
func (s *Service) ReapExpired(cutoff time.Time) []int64 {
	var expired []int64
	for _, chatID := range s.store.IdleBefore(cutoff) {
		unlock := s.lock(chatID)
		sess, ok := s.store.Get(chatID)
		if ok && !sess.settling && sess.LastActivityAt.Before(cutoff) {
			s.store.remove(chatID)
			expired = append(expired, chatID)
			metrics.SettlementsTotal.WithLabelValues("expired").Inc()
			s.logger.Info("session expired", "chat_id", chatID, "last_activity", sess.LastActivityAt)
		}
		unlock()
	}
	return expired
}

// Session returns a copy of the session for chatID.
func (s *Service) Session(chatID int64) (*Session, bool) {
	return s.store.Get(chatID)
}

// SessionExists reports whether chatID has an active session.
func (s *Service) SessionExists(chatID int64) bool {
	return s.store.Exists(chatID)
}

// ActiveSessions returns the number of live sessions, for /stats.
func (s *Service) ActiveSessions() int {
	return s.store.Len()
}

func (s *Service) alertAdmin(text string) {
	if s.notifier != nil {
		s.notifier.NotifyAdmin(text)
	}
}

func errKind(transient bool) string {
	if transient {
		return "transient"
	}
	return "terminal"
}
