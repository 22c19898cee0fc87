package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepNotifiesOncePerExpiredSession(t *testing.T) {
	svc := newTestService(&mockGateway{})
	notifier := newRecordingNotifier()
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base.Add(-30 * time.Hour) }
	for _, id := range []int64{-1, -2} {
		_, err := svc.SetRole(ctx, id, RoleBuyer, buyerID, btcAddr)
		require.NoError(t, err)
	}
	svc.now = func() time.Time { return base }
	_, err := svc.SetRole(ctx, -3, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	reaper := NewReaper(svc, notifier, time.Hour, 24*time.Hour, testLogger())
	reaper.Sweep()

	assert.Equal(t, 1, notifier.chatCount(-1))
	assert.Equal(t, 1, notifier.chatCount(-2))
	assert.Equal(t, 0, notifier.chatCount(-3))
	assert.True(t, svc.SessionExists(-3))

	// Re-sweeping produces no duplicate notifications.
	reaper.Sweep()
	assert.Equal(t, 1, notifier.chatCount(-1))
}

func TestSweepKeepsActiveSession(t *testing.T) {
	svc := newTestService(&mockGateway{})
	notifier := newRecordingNotifier()

	_, err := svc.SetRole(context.Background(), chatID, RoleBuyer, buyerID, btcAddr)
	require.NoError(t, err)

	reaper := NewReaper(svc, notifier, time.Hour, 24*time.Hour, testLogger())
	reaper.Sweep()

	assert.True(t, svc.SessionExists(chatID))
	assert.Equal(t, 0, notifier.chatCount(chatID))
}

func TestReaperStartStop(t *testing.T) {
	svc := newTestService(&mockGateway{})
	reaper := NewReaper(svc, newRecordingNotifier(), 10*time.Millisecond, 24*time.Hour, testLogger())

	done := make(chan struct{})
	go func() {
		reaper.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return reaper.Running() }, time.Second, time.Millisecond)

	reaper.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
	assert.False(t, reaper.Running())
}

func TestReaperStopsOnContextCancel(t *testing.T) {
	svc := newTestService(&mockGateway{})
	reaper := NewReaper(svc, newRecordingNotifier(), time.Hour, 24*time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reaper.Running() }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}

func TestSweepSkipsInFlightSettlement(t *testing.T) {
	gw := &mockGateway{blockPayout: make(chan struct{})}
	svc := newTestService(gw)
	notifier := newRecordingNotifier()
	setupConfirmed(t, svc)

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
	require.Eventually(t, func() bool {
		s, ok := svc.store.Get(chatID)
		return ok && s.settling
	}, time.Second, time.Millisecond)

	reaper := NewReaper(svc, notifier, time.Hour, 24*time.Hour, testLogger())
	reaper.Sweep()
	assert.Equal(t, 0, notifier.chatCount(chatID), "sweep must not expire a settling session")

	close(gw.blockPayout)
	require.NoError(t, <-released)
}
