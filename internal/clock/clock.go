// Package clock owns the simulated instant and its advance policy.
//
// In Auto mode every Tick moves the instant forward by the active interval.
// Setting a non-zero manual offset freezes the auto instant as a base and
// reports base+offset until the offset returns to zero. Every mode transition
// or offset change bumps a generation counter so that work started against an
// older reading can be recognised and discarded.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/star/orbitwatch/internal/metrics"
)

// MaxOffset bounds the manual offset in either direction.
const MaxOffset = 10 * 24 * time.Hour

// ErrOffsetRange is returned for offsets beyond ±MaxOffset.
var ErrOffsetRange = errors.New("clock: offset out of range")

// Mode is the clock's advance policy.
type Mode int

const (
	Auto Mode = iota
	ManualOffset
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case ManualOffset:
		return "manual_offset"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Config holds the tick cadences.
type Config struct {
	DenseInterval   time.Duration // simulated time per tick for small catalogs (default 10s)
	CoarseInterval  time.Duration // simulated time per tick for large catalogs (default 10m)
	CoarseThreshold int           // object count at which the coarse cadence applies (default 2000)
}

func (c Config) withDefaults() Config {
	if c.DenseInterval <= 0 {
		c.DenseInterval = 10 * time.Second
	}
	if c.CoarseInterval <= 0 {
		c.CoarseInterval = 10 * time.Minute
	}
	if c.CoarseThreshold <= 0 {
		c.CoarseThreshold = 2000
	}
	return c
}

// Reading is an immutable capture of the clock. A tick uses exactly one
// Reading so that all of its parallel work observes the same instant.
type Reading struct {
	Instant    time.Time     `json:"instant"`
	Mode       Mode          `json:"mode"`
	Offset     time.Duration `json:"-"`
	Generation uint64        `json:"generation"`
	Interval   time.Duration `json:"-"`
}

// OffsetMinutes returns the manual offset in minutes.
func (r Reading) OffsetMinutes() float64 { return r.Offset.Minutes() }

// Clock is safe for concurrent use. It is driven by a single owner; every
// other component receives Readings.
type Clock struct {
	mu         sync.RWMutex
	cfg        Config
	base       time.Time
	offset     time.Duration
	interval   time.Duration
	pinned     bool // interval set explicitly; SelectCadence leaves it alone
	generation uint64
	logger     *slog.Logger
}

// New creates a clock in Auto mode at start with the dense cadence.
func New(start time.Time, cfg Config, logger *slog.Logger) *Clock {
	cfg = cfg.withDefaults()
	metrics.SetClockMode(Auto.String(), ManualOffset.String())
	return &Clock{
		cfg:      cfg,
		base:     start.UTC(),
		interval: cfg.DenseInterval,
		logger:   logger,
	}
}

// Now returns the current reading.
func (c *Clock) Now() Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readingLocked()
}

func (c *Clock) readingLocked() Reading {
	r := Reading{
		Instant:    c.base.Add(c.offset),
		Mode:       Auto,
		Offset:     c.offset,
		Generation: c.generation,
		Interval:   c.interval,
	}
	if c.offset != 0 {
		r.Mode = ManualOffset
	}
	return r
}

// Tick advances the auto instant by the active interval and returns the new
// reading. In ManualOffset mode it is a no-op.
func (c *Clock) Tick() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offset == 0 {
		c.base = c.base.Add(c.interval)
	}
	return c.readingLocked()
}

// SetOffset sets the manual offset in minutes. A non-zero offset enters
// ManualOffset mode over the frozen base; zero returns to Auto at the base.
func (c *Clock) SetOffset(minutes float64) (Reading, error) {
	if math.IsNaN(minutes) || math.Abs(minutes) > MaxOffset.Minutes() {
		return Reading{}, fmt.Errorf("%w: %v minutes exceeds ±%v", ErrOffsetRange, minutes, MaxOffset)
	}
	off := time.Duration(minutes * float64(time.Minute))

	c.mu.Lock()
	defer c.mu.Unlock()

	if off == c.offset {
		return c.readingLocked(), nil
	}
	from := c.readingLocked().Mode
	c.offset = off
	c.generation++
	r := c.readingLocked()

	if r.Mode != from {
		metrics.SetClockMode(r.Mode.String(), Auto.String(), ManualOffset.String())
		c.logger.Info("clock mode changed",
			"from", from.String(),
			"to", r.Mode.String(),
			"offset_minutes", minutes,
			"generation", r.Generation,
		)
	} else {
		c.logger.Debug("clock offset changed", "offset_minutes", minutes, "generation", r.Generation)
	}
	return r, nil
}

// SetInterval pins the tick interval, overriding cadence selection.
func (c *Clock) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("clock: interval must be positive, got %v", d)
	}
	c.mu.Lock()
	c.interval = d
	c.pinned = true
	c.mu.Unlock()
	return nil
}

// SelectCadence picks the dense or coarse interval for a catalog of n objects
// and returns the interval in effect. A pinned interval is left unchanged.
func (c *Clock) SelectCadence(n int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned {
		return c.interval
	}
	next := c.cfg.DenseInterval
	if n >= c.cfg.CoarseThreshold {
		next = c.cfg.CoarseInterval
	}
	if next != c.interval {
		c.logger.Info("clock cadence changed",
			"objects", n,
			"interval_seconds", next.Seconds(),
		)
		c.interval = next
	}
	return c.interval
}

// Current reports whether r is still the latest generation.
func (c *Clock) Current(r Reading) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return r.Generation == c.generation
}
