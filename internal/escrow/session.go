// Package escrow implements the transaction lifecycle of a peer-to-peer
// trade: buyer and seller register addresses in a chat, an amount is
// escrowed through the payment gateway, and once the deposit confirms on
// chain either party releases the funds (minus the fee) or an admin refunds.
//
// All trade state lives in the Store; the Service validates and applies
// every transition under per-session locks.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
)

// Role identifies a trade participant.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// PaymentStatus tracks the gateway deposit. It only ever moves
// pending → confirmed.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
)

// Party is one side of the trade.
type Party struct {
	Address string
	Family  coinaddr.Family
	UserID  int64
	SetAt   time.Time
}

// Payment is the gateway deposit attached to a session.
type Payment struct {
	GatewayID      string
	DepositAddress string
	Status         PaymentStatus
}

// Session is the record of one in-progress trade, keyed by chat id.
type Session struct {
	ChatID         int64
	Buyer          *Party
	Seller         *Party
	AmountUSD      decimal.Decimal // zero until set; always positive once set
	Payment        *Payment
	CreatedAt      time.Time
	LastActivityAt time.Time

	// settling guards the window where a payout, payment request or
	// refund call is in flight and no session lock is held. While set,
	// every other mutator backs off instead of racing the gateway call.
	settling bool
}

// Party returns the party holding role, or nil.
func (s *Session) Party(role Role) *Party {
	if role == RoleBuyer {
		return s.Buyer
	}
	return s.Seller
}

// RolesSet reports whether both buyer and seller are registered.
func (s *Session) RolesSet() bool {
	return s.Buyer != nil && s.Seller != nil
}

// HasAmount reports whether the trade amount has been set.
func (s *Session) HasAmount() bool {
	return s.AmountUSD.IsPositive()
}

// Participant returns the role held by userID, or "" if userID is neither
// buyer nor seller.
func (s *Session) Participant(userID int64) Role {
	if s.Buyer != nil && s.Buyer.UserID == userID {
		return RoleBuyer
	}
	if s.Seller != nil && s.Seller.UserID == userID {
		return RoleSeller
	}
	return ""
}

// clone returns a deep copy so callers never share pointers with the store.
func (s *Session) clone() *Session {
	cp := *s
	if s.Buyer != nil {
		b := *s.Buyer
		cp.Buyer = &b
	}
	if s.Seller != nil {
		sl := *s.Seller
		cp.Seller = &sl
	}
	if s.Payment != nil {
		p := *s.Payment
		cp.Payment = &p
	}
	return &cp
}
