package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-eye1/telegrambot/internal/gateway"
)

const (
	btcAddr  = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	btcAddr2 = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	ltcAddr  = "LQ3B2DiySs9g5ZqGBHxrUGcLpUH2dBSj8R"

	buyerID  int64 = 1001
	sellerID int64 = 1002
	adminID  int64 = 9000
	chatID   int64 = -50
)

// mockGateway records calls and fails on demand.
type mockGateway struct {
	mu        sync.Mutex
	payments  []gwCall
	payouts   []gwCall
	refunds   []string
	payErr    error
	payoutErr error
	refundErr error

	// blockPayout and blockPayment, when non-nil, are received from
	// before the corresponding call returns.
	blockPayout  chan struct{}
	blockPayment chan struct{}
}

type gwCall struct {
	amount   decimal.Decimal
	currency string
	orderRef string
	address  string
}

func (m *mockGateway) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (*gateway.Payment, error) {
	if m.blockPayment != nil {
		<-m.blockPayment
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payErr != nil {
		return nil, m.payErr
	}
	m.payments = append(m.payments, gwCall{amount: amount, currency: currency, orderRef: orderRef})
	return &gateway.Payment{ID: "pay_1", DepositAddress: "bc1qdeposit"}, nil
}

func (m *mockGateway) CreatePayout(ctx context.Context, amount decimal.Decimal, currency, orderRef, payoutAddress string) (*gateway.Payment, error) {
	if m.blockPayout != nil {
		<-m.blockPayout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payoutErr != nil {
		return nil, m.payoutErr
	}
	m.payouts = append(m.payouts, gwCall{amount: amount, currency: currency, orderRef: orderRef, address: payoutAddress})
	return &gateway.Payment{ID: "payout_1"}, nil
}

func (m *mockGateway) CreateRefund(ctx context.Context, paymentID, reason string) (*gateway.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	m.refunds = append(m.refunds, paymentID)
	return &gateway.Refund{ID: "refund_1"}, nil
}

// staticBlockList blocks a fixed set of ids.
type staticBlockList map[int64]bool

func (b staticBlockList) Contains(userID int64) bool { return b[userID] }

// recordingNotifier captures admin alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	admin  []string
	chat   map[int64][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{chat: make(map[int64][]string)}
}

func (n *recordingNotifier) NotifyAdmin(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, text)
}

func (n *recordingNotifier) NotifyChat(chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chat[chatID] = append(n.chat[chatID], text)
}

func (n *recordingNotifier) chatCount(chatID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.chat[chatID])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(gw *mockGateway) *Service {
	svc := NewService(NewStore(), gw, decimal.NewFromInt(5), testLogger())
	svc.WithAdminCheck(func(id int64) bool { return id == adminID })
	return svc
}

// setupConfirmed walks a session to PAYMENT_CONFIRMED.
func setupConfirmed(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)
	require.NoError(t, svc.SetAmount(ctx, chatID, decimal.RequireFromString("100.00")))
	_, err = svc.OpenPayment(ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkConfirmed(ctx, chatID))
}

func TestSetRoleCreatesSession(t *testing.T) {
	svc := newTestService(&mockGateway{})

	party, err := svc.SetRole(context.Background(), chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	assert.Equal(t, btcAddr, party.Address)
	assert.Equal(t, buyerID, party.UserID)
	assert.Equal(t, "BTC", party.Family.Symbol())

	sess, ok := svc.Session(chatID)
	require.True(t, ok)
	assert.NotNil(t, sess.Buyer)
	assert.Nil(t, sess.Seller)
	assert.False(t, sess.RolesSet())
}

func TestSetRoleInvalidAddress(t *testing.T) {
	svc := newTestService(&mockGateway{})

	_, err := svc.SetRole(context.Background(), chatID, RoleBuyer, buyerID, "not-an-address")
	require.Error(t, err)
	assert.False(t, svc.SessionExists(chatID), "failed role-set must not create a session")
}

func TestSetRoleBlockedUser(t *testing.T) {
	svc := newTestService(&mockGateway{})
	svc.WithBlockList(staticBlockList{buyerID: true})

	_, err := svc.SetRole(context.Background(), chatID, RoleBuyer, buyerID, btcAddr)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestSetRoleTakeoverRejected(t *testing.T) {
	svc := newTestService(&mockGateway{})
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	// A different user cannot steal the buyer role.
	_, err = svc.SetRole(ctx, chatID, RoleBuyer, sellerID, ltcAddr)
	assert.ErrorIs(t, err, ErrRoleTaken)

	// The same user may overwrite their own address.
	party, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr2)
	require.NoError(t, err)
	assert.Equal(t, btcAddr2, party.Address)
}

func TestSetAmountPreconditions(t *testing.T) {
	svc := newTestService(&mockGateway{})
	ctx := context.Background()
	amount := decimal.RequireFromString("100.00")

	assert.ErrorIs(t, svc.SetAmount(ctx, chatID, decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, svc.SetAmount(ctx, chatID, decimal.NewFromInt(-5)), ErrInvalidAmount)
	assert.ErrorIs(t, svc.SetAmount(ctx, chatID, amount), ErrSessionNotFound)

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.SetAmount(ctx, chatID, amount), ErrRolesIncomplete)

	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)
	require.NoError(t, svc.SetAmount(ctx, chatID, amount))
}

func TestAmountImmutableAfterPayment(t *testing.T) {
	svc := newTestService(&mockGateway{})
	setupConfirmed(t, svc)

	err := svc.SetAmount(context.Background(), chatID, decimal.NewFromInt(999))
	assert.ErrorIs(t, err, ErrAmountLocked)
}

func TestOpenPayment(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)

	_, err = svc.OpenPayment(ctx, chatID)
	assert.ErrorIs(t, err, ErrNoAmount)

	require.NoError(t, svc.SetAmount(ctx, chatID, decimal.RequireFromString("125.50")))

	payment, err := svc.OpenPayment(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", payment.GatewayID)
	assert.Equal(t, "bc1qdeposit", payment.DepositAddress)
	assert.Equal(t, PaymentPending, payment.Status)

	require.Len(t, gw.payments, 1)
	assert.True(t, gw.payments[0].amount.Equal(decimal.RequireFromString("125.50")))
	assert.Equal(t, "usd", gw.payments[0].currency)

	// A second payment request is rejected.
	_, err = svc.OpenPayment(ctx, chatID)
	assert.ErrorIs(t, err, ErrPaymentExists)
}

func TestOpenPaymentGatewayFailureLeavesSessionUnchanged(t *testing.T) {
	gw := &mockGateway{payErr: &gateway.TransientError{Err: errors.New("connection reset")}}
	svc := newTestService(gw)
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)
	require.NoError(t, svc.SetAmount(ctx, chatID, decimal.NewFromInt(100)))

	_, err = svc.OpenPayment(ctx, chatID)
	require.Error(t, err)

	sess, ok := svc.Session(chatID)
	require.True(t, ok)
	assert.Nil(t, sess.Payment, "failed gateway call must not attach a payment")

	// The user re-issues the command once the gateway recovers.
	gw.payErr = nil
	_, err = svc.OpenPayment(ctx, chatID)
	assert.NoError(t, err)
}

func TestMarkConfirmedIsMonotonicAndIdempotent(t *testing.T) {
	svc := newTestService(&mockGateway{})
	setupConfirmed(t, svc)

	sess, ok := svc.Session(chatID)
	require.True(t, ok)
	require.Equal(t, PaymentConfirmed, sess.Payment.Status)

	// Late duplicate callbacks are silent no-ops.
	require.NoError(t, svc.MarkConfirmed(context.Background(), chatID))
	sess, _ = svc.Session(chatID)
	assert.Equal(t, PaymentConfirmed, sess.Payment.Status)

	// Absent sessions are silent no-ops too.
	require.NoError(t, svc.MarkConfirmed(context.Background(), chatID+1))
}

func TestReleaseRequiresConfirmedPayment(t *testing.T) {
	svc := newTestService(&mockGateway{})
	ctx := context.Background()

	_, err := svc.Release(ctx, chatID, buyerID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)
	require.NoError(t, svc.SetAmount(ctx, chatID, decimal.NewFromInt(100)))
	_, err = svc.OpenPayment(ctx, chatID)
	require.NoError(t, err)

	_, err = svc.Release(ctx, chatID, buyerID)
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestReleaseByBuyerPaysSeller(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	settlement, err := svc.Release(context.Background(), chatID, buyerID)
	require.NoError(t, err)

	assert.Equal(t, RoleBuyer, settlement.Releaser)
	assert.Equal(t, ltcAddr, settlement.Address)
	assert.Equal(t, "5.00", settlement.Fee.StringFixed(2))
	assert.Equal(t, "95.00", settlement.Payout.StringFixed(2))

	require.Len(t, gw.payouts, 1)
	assert.Equal(t, ltcAddr, gw.payouts[0].address)
	assert.True(t, gw.payouts[0].amount.Equal(decimal.RequireFromString("95.00")))

	// Terminal: the session is gone, a repeat release observes NotFound.
	assert.False(t, svc.SessionExists(chatID))
	_, err = svc.Release(context.Background(), chatID, buyerID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReleaseBySellerPaysBuyer(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	settlement, err := svc.Release(context.Background(), chatID, sellerID)
	require.NoError(t, err)

	assert.Equal(t, RoleSeller, settlement.Releaser)
	assert.Equal(t, btcAddr, settlement.Address)
	require.Len(t, gw.payouts, 1)
	assert.Equal(t, btcAddr, gw.payouts[0].address)
}

func TestReleaseByStrangerRejected(t *testing.T) {
	svc := newTestService(&mockGateway{})
	setupConfirmed(t, svc)

	_, err := svc.Release(context.Background(), chatID, 424242)
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.True(t, svc.SessionExists(chatID))
}

func TestReleaseGatewayFailureKeepsSessionConfirmed(t *testing.T) {
	gw := &mockGateway{payoutErr: &gateway.TransientError{Err: errors.New("timeout")}}
	svc := newTestService(gw)
	notifier := newRecordingNotifier()
	svc.WithAdminNotifier(notifier)
	setupConfirmed(t, svc)

	_, err := svc.Release(context.Background(), chatID, buyerID)
	require.Error(t, err)

	// Session untouched: still confirmed, fee not deducted.
	sess, ok := svc.Session(chatID)
	require.True(t, ok)
	assert.Equal(t, PaymentConfirmed, sess.Payment.Status)
	assert.Len(t, notifier.admin, 1, "money-movement failure must reach the admin channel")

	// Retrying after recovery succeeds exactly once.
	gw.payoutErr = nil
	_, err = svc.Release(context.Background(), chatID, buyerID)
	require.NoError(t, err)
	require.Len(t, gw.payouts, 1)
}

func TestRefundAdminOnly(t *testing.T) {
	svc := newTestService(&mockGateway{})
	setupConfirmed(t, svc)

	_, err := svc.Refund(context.Background(), chatID, buyerID)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.True(t, svc.SessionExists(chatID))
}

func TestRefund(t *testing.T) {
	gw := &mockGateway{}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	result, err := svc.Refund(context.Background(), chatID, adminID)
	require.NoError(t, err)
	assert.Equal(t, "refund_1", result.RefundID)
	require.Len(t, gw.refunds, 1)
	assert.Equal(t, "pay_1", gw.refunds[0])

	assert.False(t, svc.SessionExists(chatID))
	_, err = svc.Refund(context.Background(), chatID, adminID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefundRequiresPayment(t *testing.T) {
	svc := newTestService(&mockGateway{})
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	_, err = svc.Refund(ctx, chatID, adminID)
	assert.ErrorIs(t, err, ErrNoPayment)
}

func TestRefundGatewayFailureKeepsSession(t *testing.T) {
	gw := &mockGateway{refundErr: &gateway.APIError{StatusCode: 400, Message: "already refunded"}}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	_, err := svc.Refund(context.Background(), chatID, adminID)
	require.Error(t, err)
	assert.True(t, svc.SessionExists(chatID))
}

func TestReapExpired(t *testing.T) {
	svc := newTestService(&mockGateway{})
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base.Add(-25 * time.Hour) }
	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	freshChat := chatID + 1
	_, err = svc.SetRole(ctx, freshChat, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	expired := svc.ReapExpired(base.Add(-24 * time.Hour))
	require.Equal(t, []int64{chatID}, expired)

	assert.False(t, svc.SessionExists(chatID))
	assert.True(t, svc.SessionExists(freshChat), "sessions inside the timeout are untouched")

	// A second sweep finds nothing.
	assert.Empty(t, svc.ReapExpired(base.Add(-24*time.Hour)))
}

func TestConcurrentReleaseAndExpire(t *testing.T) {
	gw := &mockGateway{blockPayout: make(chan struct{})}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	// Make the session look idle past the timeout.
	unlock := svc.lock(chatID)
	sess, ok := svc.store.Get(chatID)
	require.True(t, ok)
	sess.LastActivityAt = time.Now().Add(-48 * time.Hour)
	svc.store.put(sess)
	unlock()

	released := make(chan error, 1)
	go func() {
		_, err := svc.Release(context.Background(), chatID, buyerID)
		released <- err
	}()

	// Wait until the release has the payout in flight.
	require.Eventually(t, func() bool {
		s, ok := svc.store.Get(chatID)
		return ok && s.settling
	}, time.Second, time.Millisecond)

	// The sweep must not rip the session out from under the payout.
	assert.Empty(t, svc.ReapExpired(time.Now().Add(-24*time.Hour)))

	close(gw.blockPayout)
	require.NoError(t, <-released)

	// Exactly one mutator won; the session is gone either way.
	assert.False(t, svc.SessionExists(chatID))
	assert.Empty(t, svc.ReapExpired(time.Now().Add(-24*time.Hour)))
	_, err := svc.Release(context.Background(), chatID, buyerID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentDoubleRelease(t *testing.T) {
	gw := &mockGateway{blockPayout: make(chan struct{})}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Release(context.Background(), chatID, buyerID)
		first <- err
	}()

	require.Eventually(t, func() bool {
		s, ok := svc.store.Get(chatID)
		return ok && s.settling
	}, time.Second, time.Millisecond)

	// A second release while the payout is in flight backs off.
	_, err := svc.Release(context.Background(), chatID, sellerID)
	assert.ErrorIs(t, err, ErrSettlementInFlight)

	close(gw.blockPayout)
	require.NoError(t, <-first)
	require.Len(t, gw.payouts, 1, "funds must move exactly once")
}

func TestConcurrentAmountChangeDuringPaymentCreation(t *testing.T) {
	gw := &mockGateway{blockPayment: make(chan struct{})}
	svc := newTestService(gw)
	ctx := context.Background()

	_, err := svc.SetRole(ctx, chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, chatID, RoleSeller, sellerID, ltcAddr)
	require.NoError(t, err)
	require.NoError(t, svc.SetAmount(ctx, chatID, decimal.NewFromInt(100)))

	opened := make(chan error, 1)
	go func() {
		_, err := svc.OpenPayment(ctx, chatID)
		opened <- err
	}()

	require.Eventually(t, func() bool {
		s, ok := svc.store.Get(chatID)
		return ok && s.settling
	}, time.Second, time.Millisecond)

	// The gateway is being quoted 100 USD right now; the amount must not
	// move underneath the deposit request.
	err = svc.SetAmount(ctx, chatID, decimal.NewFromInt(200))
	assert.ErrorIs(t, err, ErrSettlementInFlight)

	close(gw.blockPayment)
	require.NoError(t, <-opened)

	sess, ok := svc.Session(chatID)
	require.True(t, ok)
	assert.True(t, sess.AmountUSD.Equal(decimal.NewFromInt(100)))
	require.Len(t, gw.payments, 1)
	assert.True(t, gw.payments[0].amount.Equal(decimal.NewFromInt(100)),
		"deposit and session must record the same amount")

	// Once the payment is attached the amount stays locked the usual way.
	assert.ErrorIs(t, svc.SetAmount(ctx, chatID, decimal.NewFromInt(200)), ErrAmountLocked)
}

func TestConcurrentAddressChangeDuringRelease(t *testing.T) {
	gw := &mockGateway{blockPayout: make(chan struct{})}
	svc := newTestService(gw)
	setupConfirmed(t, svc)

	released := make(chan error, 1)
	go func() {
		_, err := svc.Release(context.Background(), chatID, buyerID)
		released <- err
	}()

	require.Eventually(t, func() bool {
		s, ok := svc.store.Get(chatID)
		return ok && s.settling
	}, time.Second, time.Millisecond)

	// The payout to the seller's stored address is in flight; neither
	// party may swap their address out from under it.
	_, err := svc.SetRole(context.Background(), chatID, RoleBuyer, buyerID, btcAddr2)
	assert.ErrorIs(t, err, ErrSettlementInFlight)

	close(gw.blockPayout)
	require.NoError(t, <-released)

	require.Len(t, gw.payouts, 1)
	assert.Equal(t, ltcAddr, gw.payouts[0].address, "payout goes to the address quoted to the gateway")
}
