package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ChatNotifier delivers the expiry notice to a session's chat.
type ChatNotifier interface {
	NotifyChat(chatID int64, text string)
}

// Reaper periodically evicts sessions idle beyond the expiry timeout and
// notifies the owning chats.
type Reaper struct {
	service  *Service
	notifier ChatNotifier
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewReaper creates a reaper sweeping every interval for sessions idle
// longer than timeout.
func NewReaper(service *Service, notifier ChatNotifier, interval, timeout time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		service:  service,
		notifier: notifier,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (r *Reaper) Running() bool {
	return r.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep()
		}
	}
}

// Stop signals the reaper to stop.
func (r *Reaper) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reaper) safeSweep() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in expiry sweep", "panic", fmt.Sprint(rec))
		}
	}()
	r.Sweep()
}

// Sweep runs one expiry pass and delivers one notification per evicted
// session.
func (r *Reaper) Sweep() {
	cutoff := r.service.now().Add(-r.timeout)
	expired := r.service.ReapExpired(cutoff)
	for _, chatID := range expired {
		r.notifier.NotifyChat(chatID, fmt.Sprintf("⏰ This escrow transaction expired after %s of inactivity and has been closed.", r.timeout))
	}
	if len(expired) > 0 {
		r.logger.Info("expiry sweep complete", "expired", len(expired))
	}
}
