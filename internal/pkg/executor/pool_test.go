package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/financebee/app/models"
)

func TestRun_ProcessesTasksAndStopsGracefully(t *testing.T) {
	h := newHarness(t)
	h.queue.push(
		h.task(checkoutPayload(t, "evt_1", userOne, models.TierGold, "S1", 1748768400)),
		h.task(checkoutPayload(t, "evt_1", userOne, models.TierGold, "S1", 1748768400)),
		h.task(checkoutPayload(t, "evt_2", "0b8e4f52-1c3d-4a6b-8e7f-9a0b1c2d3e4f", models.TierBronze, "S2", 1748768400)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.exec.Run(ctx, 5*time.Second) }()

	require.Eventually(t, func() bool {
		successes, failures := h.queue.reports()
		return len(successes)+len(failures) == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 2, h.transition.count("activate"))
}

func TestRun_GraceExpiryAbandonsInFlightTask(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.transition.before = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	h.queue.push(h.task(checkoutPayload(t, "evt_slow", userOne, models.TierGold, "S1", 1748768400)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.exec.Run(ctx, 50*time.Millisecond) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never reached the transition")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrGraceExpired)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after grace period")
	}
}
