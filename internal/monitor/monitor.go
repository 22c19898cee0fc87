// Package monitor polls the blockchain explorer for deposit transactions
// that users ask the bot to track.
//
// Each tracked transaction gets its own watcher goroutine. A watcher
// announces the transaction when it first appears in the mempool, marks
// the escrow session confirmed once the transaction reaches one
// confirmation, and shuts itself down afterwards.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odin-eye1/telegrambot/internal/coinaddr"
	"github.com/odin-eye1/telegrambot/internal/ledger"
	"github.com/odin-eye1/telegrambot/internal/metrics"
)

// Confirmer flips the session's payment to confirmed.
type Confirmer interface {
	MarkConfirmed(ctx context.Context, chatID int64) error
}

// SessionChecker reports whether a chat still has a live session.
type SessionChecker interface {
	SessionExists(chatID int64) bool
}

// Notifier delivers watcher updates to the chat and the admin channel.
type Notifier interface {
	NotifyChat(chatID int64, text string)
	NotifyAdmin(text string)
}

// Clock abstracts waiting so tests drive the poll loop without real time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type watchKey struct {
	chatID int64
	txID   string
}

type watcher struct {
	key  watchKey
	stop chan struct{}
}

// Manager owns the watcher goroutines, one per (chat, transaction) pair.
type Manager struct {
	ledger     ledger.Client
	confirmer  Confirmer
	sessions   SessionChecker
	notifier   Notifier
	interval   time.Duration
	maxRetries int
	backoff    Backoff
	clock      Clock
	logger     *slog.Logger

	mu       sync.Mutex
	watchers map[watchKey]*watcher
	stopped  bool
	wg       sync.WaitGroup
}

// NewManager creates a watcher manager polling every interval and giving
// up after maxRetries consecutive transient failures.
func NewManager(lc ledger.Client, confirmer Confirmer, sessions SessionChecker, notifier Notifier, interval time.Duration, maxRetries int, logger *slog.Logger) *Manager {
	return &Manager{
		ledger:     lc,
		confirmer:  confirmer,
		sessions:   sessions,
		notifier:   notifier,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    Backoff{Base: interval},
		clock:      realClock{},
		logger:     logger,
		watchers:   make(map[watchKey]*watcher),
	}
}

// WithClock replaces the wall clock. Test hook.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// Watch starts monitoring txID for chatID. Watching the same pair twice
// is a no-op; the first watcher keeps running. Returns false when the
// pair was already being watched or the manager is shut down.
func (m *Manager) Watch(ctx context.Context, chatID int64, txID string) bool {
	key := watchKey{chatID: chatID, txID: txID}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	if _, exists := m.watchers[key]; exists {
		m.mu.Unlock()
		return false
	}
	w := &watcher{key: key, stop: make(chan struct{})}
	m.watchers[key] = w
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.ActiveMonitors.Inc()
	m.logger.Info("watching transaction", "chat_id", chatID, "tx_id", txID)

	go m.run(ctx, w)
	return true
}

// Watching reports whether the pair currently has a live watcher.
func (m *Manager) Watching(chatID int64, txID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[watchKey{chatID: chatID, txID: txID}]
	return ok
}

// Active returns the number of live watchers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// Stop shuts down every watcher and waits for in-flight polls to finish.
// No new watchers can be registered afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.stopped = true
	for _, w := range m.watchers {
		close(w.stop)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) remove(w *watcher) {
	m.mu.Lock()
	if cur, ok := m.watchers[w.key]; ok && cur == w {
		delete(m.watchers, w.key)
	}
	m.mu.Unlock()
	metrics.ActiveMonitors.Dec()
	m.wg.Done()
}

func (m *Manager) run(ctx context.Context, w *watcher) {
	defer m.remove(w)
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("panic in transaction watcher",
				"chat_id", w.key.chatID, "tx_id", w.key.txID, "panic", fmt.Sprint(rec))
		}
	}()

	retries := 0
	announcedPending := false

	for {
		if !m.sessions.SessionExists(w.key.chatID) {
			m.logger.Info("session gone, watcher exiting",
				"chat_id", w.key.chatID, "tx_id", w.key.txID)
			return
		}

		tx, err := m.lookup(ctx, w.key.txID)
		switch {
		case err == nil && tx.Confirmed():
			m.confirm(ctx, w, announcedPending)
			return

		case err == nil:
			// In the mempool but unconfirmed. Announce once, keep polling.
			retries = 0
			if !announcedPending {
				announcedPending = true
				m.notifier.NotifyChat(w.key.chatID, fmt.Sprintf(
					"🔍 Transaction %s detected, waiting for confirmation...", w.key.txID))
			}

		case errors.Is(err, ledger.ErrNotFound):
			// A definite miss, not a failure. The transaction may simply
			// not have propagated yet, so poll again without burning the
			// retry budget.
			retries = 0

		case ledger.IsTransient(err):
			retries++
			m.logger.Warn("transaction lookup failed",
				"chat_id", w.key.chatID, "tx_id", w.key.txID,
				"retry", retries, "error", err)
			if retries >= m.maxRetries {
				m.fail(w)
				return
			}
			if !m.wait(ctx, w, m.backoff.Delay(retries)) {
				return
			}
			continue

		default:
			// Explicit rejection from the explorer. Retrying cannot fix
			// a bad transaction id or a revoked token.
			m.logger.Error("transaction lookup rejected",
				"chat_id", w.key.chatID, "tx_id", w.key.txID, "error", err)
			m.notifier.NotifyChat(w.key.chatID, fmt.Sprintf(
				"❌ Could not look up transaction %s. Check the transaction ID and try again.", w.key.txID))
			return
		}

		if !m.wait(ctx, w, m.interval) {
			return
		}
	}
}

// lookup probes the supported coin networks in order and returns the
// first hit. ErrNotFound only when every network misses.
func (m *Manager) lookup(ctx context.Context, txID string) (*ledger.Tx, error) {
	var lastErr error = ledger.ErrNotFound
	for _, family := range coinaddr.Families() {
		tx, err := m.ledger.GetTransaction(ctx, txID, family)
		if err == nil {
			return tx, nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Manager) confirm(ctx context.Context, w *watcher, announcedPending bool) {
	if !announcedPending {
		m.notifier.NotifyChat(w.key.chatID, fmt.Sprintf(
			"🔍 Transaction %s detected, waiting for confirmation...", w.key.txID))
	}
	if err := m.confirmer.MarkConfirmed(ctx, w.key.chatID); err != nil {
		m.logger.Error("failed to mark payment confirmed",
			"chat_id", w.key.chatID, "tx_id", w.key.txID, "error", err)
		m.notifier.NotifyAdmin(fmt.Sprintf(
			"⚠️ Transaction %s confirmed on-chain but the session for chat %d could not be updated: %v",
			w.key.txID, w.key.chatID, err))
		return
	}
	m.notifier.NotifyChat(w.key.chatID, fmt.Sprintf(
		"✅ Transaction %s confirmed! Funds are in escrow. Either party can now /release.", w.key.txID))
	m.logger.Info("transaction confirmed",
		"chat_id", w.key.chatID, "tx_id", w.key.txID)
}

func (m *Manager) fail(w *watcher) {
	metrics.ExternalErrorsTotal.WithLabelValues("blockcypher", "budget_exhausted").Inc()
	m.notifier.NotifyAdmin(fmt.Sprintf(
		"⚠️ Gave up monitoring transaction %s for chat %d after %d failed lookups.",
		w.key.txID, w.key.chatID, m.maxRetries))
	m.logger.Error("watcher retry budget exhausted",
		"chat_id", w.key.chatID, "tx_id", w.key.txID, "max_retries", m.maxRetries)
}

// wait blocks for d or until the watcher is stopped. Reports whether the
// watcher should keep running.
func (m *Manager) wait(ctx context.Context, w *watcher, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-m.clock.After(d):
		return true
	}
}
