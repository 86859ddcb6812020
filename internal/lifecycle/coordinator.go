// Package lifecycle maps host visibility and termination signals onto
// engine calls. The coordinator is the only component allowed to pause or
// resume the tick scheduler; funnelling every transition through one
// place is what keeps double-pause and lost-resume races out.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Engine is the slice of the accounting engine the coordinator drives.
type Engine interface {
	Pause()
	Resume()
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
	StartSubSession()
}

// DefaultForegroundGap is how long the app may stay backgrounded before
// returning counts as a fresh sub-session.
const DefaultForegroundGap = 60 * time.Second

// Config holds coordinator settings.
type Config struct {
	UserID        string
	ForegroundGap time.Duration
}

// Coordinator observes backgrounded/foregrounded/close transitions and
// drives the engine accordingly.
type Coordinator struct {
	engine Engine
	beacon Beacon
	clk    clock.Clock
	gap    time.Duration
	userID string
	logger zerolog.Logger

	mu             sync.Mutex
	backgroundedAt time.Time
}

// NewCoordinator creates a coordinator for one engine run.
func NewCoordinator(engine Engine, beacon Beacon, clk clock.Clock, cfg Config, logger zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if beacon == nil {
		beacon = NopBeacon{}
	}
	if cfg.ForegroundGap == 0 {
		cfg.ForegroundGap = DefaultForegroundGap
	}
	return &Coordinator{
		engine: engine,
		beacon: beacon,
		clk:    clk,
		gap:    cfg.ForegroundGap,
		userID: cfg.UserID,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Background handles the app or tab going hidden: ticking pauses, then a
// best-effort flush captures the elapsed window.
func (c *Coordinator) Background(ctx context.Context) {
	c.engine.Pause()

	c.mu.Lock()
	c.backgroundedAt = c.clk.Now()
	c.mu.Unlock()

	if err := c.engine.Flush(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Background flush failed")
	}

	c.logger.Debug().Msg("Backgrounded")
}

// Foreground handles the app becoming visible again. A gap longer than
// the threshold starts a fresh sub-session; the lifetime total is never
// reset, only session-scoped presentation state.
func (c *Coordinator) Foreground(ctx context.Context) {
	c.mu.Lock()
	backgroundedAt := c.backgroundedAt
	c.backgroundedAt = time.Time{}
	c.mu.Unlock()

	if !backgroundedAt.IsZero() {
		gap := c.clk.Now().Sub(backgroundedAt)
		if gap > c.gap {
			c.logger.Info().Dur("gap", gap).Msg("Long background gap, starting fresh sub-session")
			c.engine.StartSubSession()
		}
	}

	c.engine.Resume()
	c.logger.Debug().Msg("Foregrounded")
}

// GracefulClose handles a close signal that still grants execution time:
// the engine stops, flushing on the way out. Idempotent.
func (c *Coordinator) GracefulClose(ctx context.Context) {
	if err := c.engine.Stop(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Teardown on close failed")
	}
	c.logger.Info().Msg("Graceful close handled")
}

// ForceClose handles termination with no guaranteed execution time: a
// single fire-and-forget beacon carrying minimal state. It may not
// arrive; that is the contract.
func (c *Coordinator) ForceClose() {
	payload := Payload{
		UserID:    c.userID,
		Timestamp: c.clk.Now(),
	}
	if err := c.beacon.Send(payload); err != nil {
		c.logger.Debug().Err(err).Msg("Termination beacon not sent")
	}
}
