// Package engine turns "the user has the app open" into a durable seconds
// counter, periodic point grants, and per-group daily leaderboard
// contributions. One Engine instance serves one active user; all timer
// handles and session bookkeeping live on the instance, never in package
// state.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/studytick/studytick/internal/accounting"
	"github.com/studytick/studytick/internal/cache"
	"github.com/studytick/studytick/internal/debounce"
	"github.com/studytick/studytick/internal/groups"
	"github.com/studytick/studytick/internal/metrics"
)

// ErrNoUser is returned when Start is called without a resolved user.
var ErrNoUser = errors.New("engine: no resolvable user")

// Options configures an Engine. Cache, Remote and Groups are required;
// zero cadences fall back to the defaults below.
type Options struct {
	Cache  cache.Cache
	Remote accounting.Client
	Groups groups.Provider
	Clock  clock.Clock
	Logger zerolog.Logger

	TickInterval      time.Duration
	PointsEveryTicks  int64
	FlushEveryTicks   int64
	PointsDebounce    time.Duration
	TotalTimeDebounce time.Duration
}

// Default cadences: one point per 10 seconds of running time, a flush
// every 60, point grants coalesced over 500ms and absolute time writes
// over 2s.
const (
	DefaultTickInterval      = time.Second
	DefaultPointsEveryTicks  = 10
	DefaultFlushEveryTicks   = 60
	DefaultPointsDebounce    = 500 * time.Millisecond
	DefaultTotalTimeDebounce = 2 * time.Second
)

// Engine wires the tick scheduler, the session and the debounced writer
// behind the surface the page layer consumes.
type Engine struct {
	clk       clock.Clock
	remote    accounting.Client
	debouncer *debounce.Debouncer
	ticker    *Ticker
	session   *Session
	logger    zerolog.Logger

	pointsDebounce time.Duration

	mu           sync.Mutex
	userID       string
	started      bool
	onTime       []func(seconds int64)
	onPoints     []func(delta int64)
	onSubSession []func()
}

// New creates an Engine from options, applying default cadences.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.PointsEveryTicks == 0 {
		opts.PointsEveryTicks = DefaultPointsEveryTicks
	}
	if opts.FlushEveryTicks == 0 {
		opts.FlushEveryTicks = DefaultFlushEveryTicks
	}
	if opts.PointsDebounce == 0 {
		opts.PointsDebounce = DefaultPointsDebounce
	}
	if opts.TotalTimeDebounce == 0 {
		opts.TotalTimeDebounce = DefaultTotalTimeDebounce
	}

	logger := opts.Logger.With().Str("component", "engine").Logger()

	e := &Engine{
		clk:            opts.Clock,
		remote:         opts.Remote,
		debouncer:      debounce.NewWithClock(opts.Clock),
		logger:         logger,
		pointsDebounce: opts.PointsDebounce,
	}

	e.session = newSession(opts.Clock, opts.Remote, opts.Cache, e.debouncer, opts.Groups, opts.TotalTimeDebounce, opts.Logger)
	e.ticker = newTicker(opts.Clock, opts.Cache, opts.TickInterval, opts.PointsEveryTicks, opts.FlushEveryTicks, tickerCallbacks{
		onTick:   e.emitTime,
		onPoints: e.grantPoint,
		onFlush:  e.flushAsync,
	}, opts.Logger)

	return e
}

// Start initializes the session for a user and begins ticking. Returns
// ErrNoUser when identity resolution produced nothing; the caller must
// not start the engine at all in that case.
func (e *Engine) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	e.mu.Lock()
	e.userID = userID
	e.started = true
	e.mu.Unlock()

	e.session.Initialize(ctx, userID)
	e.ticker.Start(userID)
	return nil
}

// Stop tears the engine down: the ticker stops, the session flushes and
// is discarded, pending debounced writes run. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	e.ticker.Stop()
	return e.session.Teardown(ctx)
}

// Pause suspends ticking. Reserved for the lifecycle coordinator: no
// other caller may touch scheduler state, or pause/resume races appear.
func (e *Engine) Pause() {
	e.ticker.Pause()
}

// Resume restarts ticking after Pause. Lifecycle coordinator only.
func (e *Engine) Resume() {
	if err := e.ticker.Resume(); err != nil {
		e.logger.Debug().Err(err).Msg("Resume ignored")
	}
}

// Flush persists accumulated elapsed time to the remote store.
func (e *Engine) Flush(ctx context.Context) error {
	return e.session.Flush(ctx)
}

// NotifyGroupMembershipChanged re-resolves the member group set. The page
// layer calls this after a group join or leave.
func (e *Engine) NotifyGroupMembershipChanged(ctx context.Context) error {
	return e.session.RefreshGroups(ctx)
}

// StartSubSession resets session-scoped presentation counters after a
// long background gap. Informational only; the lifetime total is
// untouched.
func (e *Engine) StartSubSession() {
	metrics.SubSessions.Inc()

	e.mu.Lock()
	handlers := append([]func(){}, e.onSubSession...)
	e.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Seconds returns the current counter value for UI display.
func (e *Engine) Seconds() int64 {
	return e.ticker.Seconds()
}

// OnTimeUpdate subscribes to counter advances.
func (e *Engine) OnTimeUpdate(fn func(seconds int64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTime = append(e.onTime, fn)
}

// OnPointsAwarded subscribes to point grants for UI feedback.
func (e *Engine) OnPointsAwarded(fn func(delta int64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPoints = append(e.onPoints, fn)
}

// OnSubSession subscribes to fresh-sub-session events.
func (e *Engine) OnSubSession(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSubSession = append(e.onSubSession, fn)
}

func (e *Engine) emitTime(seconds int64) {
	e.mu.Lock()
	handlers := append([]func(int64){}, e.onTime...)
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(seconds)
	}
}

// grantPoint schedules a 1-point grant through the debounced writer.
// Grants landing inside one debounce window coalesce; only the last is
// sent.
func (e *Engine) grantPoint(seconds int64) {
	e.mu.Lock()
	userID := e.userID
	e.mu.Unlock()

	const delta = int64(1)

	e.debouncer.Schedule(pointsKey(userID), e.pointsDebounce, func() {
		if err := e.remote.AddPoints(context.Background(), userID, delta); err != nil {
			e.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to award points")
			metrics.RemoteErrors.WithLabelValues("add_points").Inc()
			return
		}
		metrics.PointsAwarded.Inc()

		e.mu.Lock()
		handlers := append([]func(int64){}, e.onPoints...)
		e.mu.Unlock()

		for _, fn := range handlers {
			fn(delta)
		}
	})
}

// flushAsync runs a flush off the tick path so a tick never waits on
// network I/O.
func (e *Engine) flushAsync() {
	go func() {
		if err := e.session.Flush(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("Scheduled flush failed")
		}
	}()
}
