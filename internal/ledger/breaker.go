package ledger

import (
	"context"
	"fmt"

	"github.com/odin-eye1/telegrambot/internal/circuitbreaker"
	"github.com/odin-eye1/telegrambot/internal/coinaddr"
)

// BreakerClient wraps a Client with a per-coin-family circuit breaker.
// While a family's circuit is open, lookups short-circuit to a transient
// error without touching the network, so a flapping explorer does not eat
// the monitor's retry budget with slow timeouts.
type BreakerClient struct {
	inner   Client
	breaker *circuitbreaker.Breaker
}

// NewBreakerClient wraps inner with breaker.
func NewBreakerClient(inner Client, breaker *circuitbreaker.Breaker) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: breaker}
}

func (c *BreakerClient) GetTransaction(ctx context.Context, txID string, family coinaddr.Family) (*Tx, error) {
	key := string(family)

	if !c.breaker.Allow(key) {
		return nil, &TransientError{Err: fmt.Errorf("%s explorer circuit open", family)}
	}

	tx, err := c.inner.GetTransaction(ctx, txID, family)
	if IsTransient(err) {
		c.breaker.RecordFailure(key)
		return nil, err
	}
	// ErrNotFound and terminal rejections are definite answers, the
	// explorer itself is healthy.
	c.breaker.RecordSuccess(key)
	return tx, err
}
