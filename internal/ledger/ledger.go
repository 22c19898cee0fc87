// Package ledger looks up blockchain transactions through an explorer API.
//
// Results form a closed set the monitor can decide over: a found
// transaction, ErrNotFound, a *TransientError worth retrying, or a
// *TerminalError that never will succeed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
)

// ErrNotFound means the explorer definitively does not know the transaction
// under the queried coin family.
var ErrNotFound = errors.New("transaction not found")

// Tx is a transaction as reported by the explorer.
type Tx struct {
	Confirmations int
	TotalAmount   int64 // minor units (satoshi/litoshi)
	Inputs        []string
	Outputs       []string
}

// Confirmed reports whether the transaction has at least one confirmation.
func (t *Tx) Confirmed() bool {
	return t.Confirmations >= 1
}

// Client queries a single transaction by id and coin family.
type Client interface {
	GetTransaction(ctx context.Context, txID string, family coinaddr.Family) (*Tx, error)
}

// TransientError marks a lookup failure that may succeed on a later poll.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("explorer temporarily unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError is an explicit rejection from the explorer that retrying
// cannot fix (bad request, revoked token).
type TerminalError struct {
	StatusCode int
	Message    string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("explorer rejected lookup (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable lookup failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
