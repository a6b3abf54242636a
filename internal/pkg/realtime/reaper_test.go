package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaper_SweepUsesThreshold(t *testing.T) {
	reg, _ := newTestRegistry()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return base })
	require.NoError(t, reg.Join(context.Background(), "t1", "u1", "Alice", newFakeConn("c1")))

	reaper := NewReaper(reg, 30*time.Minute, time.Hour, nil, nil)

	assert.Equal(t, 0, reaper.Sweep(base.Add(59*time.Minute)).Evicted)
	res := reaper.Sweep(base.Add(61 * time.Minute))
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 1, res.RoomsDropped)
	assert.Equal(t, Stats{}, reg.Stats())
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	reg, _ := newTestRegistry()
	reaper := NewReaper(reg, time.Millisecond, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
