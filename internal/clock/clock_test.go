package clock

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
	start      = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
)

func newTestClock() *Clock {
	return New(start, Config{DenseInterval: 10 * time.Second, CoarseInterval: time.Hour, CoarseThreshold: 100}, testLogger)
}

func TestTickAdvancesInAuto(t *testing.T) {
	c := newTestClock()

	r := c.Tick()
	assert.Equal(t, Auto, r.Mode)
	assert.Equal(t, start.Add(10*time.Second), r.Instant)

	r = c.Tick()
	assert.Equal(t, start.Add(20*time.Second), r.Instant)
	assert.Equal(t, r, c.Now())
}

func TestOffsetFreezesBase(t *testing.T) {
	c := newTestClock()
	c.Tick()

	r, err := c.SetOffset(90)
	require.NoError(t, err)
	assert.Equal(t, ManualOffset, r.Mode)
	assert.Equal(t, start.Add(10*time.Second+90*time.Minute), r.Instant)
	assert.InDelta(t, 90.0, r.OffsetMinutes(), 1e-9)

	// Auto ticking is suspended.
	for i := 0; i < 5; i++ {
		assert.Equal(t, r.Instant, c.Tick().Instant)
	}

	r, err = c.SetOffset(-30)
	require.NoError(t, err)
	assert.Equal(t, start.Add(10*time.Second-30*time.Minute), r.Instant)

	r, err = c.SetOffset(0)
	require.NoError(t, err)
	assert.Equal(t, Auto, r.Mode)
	assert.Equal(t, start.Add(10*time.Second), r.Instant)

	assert.Equal(t, start.Add(20*time.Second), c.Tick().Instant)
}

func TestOffsetRange(t *testing.T) {
	c := newTestClock()
	limit := MaxOffset.Minutes()

	_, err := c.SetOffset(limit)
	require.NoError(t, err)
	_, err = c.SetOffset(-limit)
	require.NoError(t, err)

	for _, m := range []float64{limit + 1, -limit - 1} {
		_, err := c.SetOffset(m)
		assert.ErrorIs(t, err, ErrOffsetRange, "offset %v", m)
	}
	assert.Equal(t, -MaxOffset, c.Now().Offset, "rejected offsets leave the clock unchanged")
}

func TestGenerationTracksChanges(t *testing.T) {
	c := newTestClock()
	r0 := c.Now()
	assert.True(t, c.Current(r0))

	c.Tick()
	assert.True(t, c.Current(r0), "auto ticks do not invalidate readings")

	r1, err := c.SetOffset(5)
	require.NoError(t, err)
	assert.Equal(t, r0.Generation+1, r1.Generation)
	assert.False(t, c.Current(r0))

	r2, err := c.SetOffset(5)
	require.NoError(t, err)
	assert.Equal(t, r1.Generation, r2.Generation, "same offset is not a change")

	r3, err := c.SetOffset(0)
	require.NoError(t, err)
	assert.Equal(t, r1.Generation+1, r3.Generation)
}

func TestSelectCadence(t *testing.T) {
	c := newTestClock()

	assert.Equal(t, 10*time.Second, c.SelectCadence(99))
	assert.Equal(t, time.Hour, c.SelectCadence(100))
	assert.Equal(t, start.Add(time.Hour), c.Tick().Instant)
	assert.Equal(t, 10*time.Second, c.SelectCadence(5))

	require.NoError(t, c.SetInterval(time.Minute))
	assert.Equal(t, time.Minute, c.SelectCadence(5000), "pinned interval wins")
	assert.Error(t, c.SetInterval(0))
}

func TestConfigDefaults(t *testing.T) {
	c := New(start, Config{}, testLogger)
	assert.Equal(t, 10*time.Second, c.Now().Interval)
	assert.Equal(t, 10*time.Minute, c.SelectCadence(2000))
}

func TestModeText(t *testing.T) {
	b, err := ManualOffset.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "manual_offset", string(b))
	assert.Equal(t, "auto", Auto.String())
}

func TestNeverMovesBackwardInAuto(t *testing.T) {
	c := newTestClock()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := c.Now().Instant
			for j := 0; j < 200; j++ {
				now := c.Tick().Instant
				if now.Before(prev) {
					t.Errorf("clock moved backward: %v -> %v", prev, now)
					return
				}
				prev = now
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(800*10*time.Second), c.Now().Instant)
}
