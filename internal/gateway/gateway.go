// Package gateway talks to the payment gateway that holds escrowed funds.
//
// The bot never touches coins directly: deposits, payouts and refunds all go
// through gateway payment requests referenced by their gateway payment id.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payment is a created payment request.
type Payment struct {
	ID             string
	DepositAddress string
}

// Refund is a created refund.
type Refund struct {
	ID string
}

// Client creates payments, payouts and refunds.
type Client interface {
	// CreatePayment opens a deposit request for amount and returns the
	// gateway payment id plus the address the buyer must pay to.
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (*Payment, error)

	// CreatePayout pushes amount to payoutAddress. The returned Payment
	// carries only the gateway id.
	CreatePayout(ctx context.Context, amount decimal.Decimal, currency, orderRef, payoutAddress string) (*Payment, error)

	// CreateRefund returns escrowed funds for an existing payment.
	CreateRefund(ctx context.Context, paymentID, reason string) (*Refund, error)
}

// TransientError marks a gateway failure worth re-issuing the command for
// (network trouble, timeouts, 5xx responses). The bot never retries these
// automatically; the user re-runs the command.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway temporarily unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a terminal rejection from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway rejected request (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
