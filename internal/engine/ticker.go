package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/studytick/studytick/internal/cache"
	"github.com/studytick/studytick/internal/metrics"
)

// State is the tick scheduler's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrNotPaused is returned when Resume is called outside StatePaused.
var ErrNotPaused = errors.New("engine: ticker is not paused")

// tickerCallbacks receive cadence events from the scheduler. None of them
// may block: the tick path never waits on network I/O.
type tickerCallbacks struct {
	onTick   func(seconds int64)
	onPoints func(seconds int64)
	onFlush  func()
}

// Ticker advances the per-user time counter once per elapsed second while
// running. The counter value is the lifetime total read from the cache as
// a baseline, written through on every tick. At most one tick loop exists
// at a time; starting clears any previous loop first.
type Ticker struct {
	clk        clock.Clock
	cache      cache.Cache
	interval   time.Duration
	pointsEach int64
	flushEach  int64
	callbacks  tickerCallbacks
	logger     zerolog.Logger

	mu      sync.Mutex
	state   State
	userID  string
	seconds int64
	stop    chan struct{}
	done    chan struct{}
}

func newTicker(clk clock.Clock, c cache.Cache, interval time.Duration, pointsEach, flushEach int64, cb tickerCallbacks, logger zerolog.Logger) *Ticker {
	return &Ticker{
		clk:        clk,
		cache:      c,
		interval:   interval,
		pointsEach: pointsEach,
		flushEach:  flushEach,
		callbacks:  cb,
		logger:     logger.With().Str("component", "ticker").Logger(),
	}
}

// Start transitions to StateRunning, reading the counter baseline from
// the cache. A loop left over from a previous Start is cancelled first so
// overlapping loops never double-count.
func (t *Ticker) Start(userID string) {
	t.mu.Lock()
	t.stopLoopLocked()

	t.userID = userID
	t.seconds = t.baselineLocked(userID)
	t.state = StateRunning
	t.startLoopLocked()

	seconds := t.seconds
	t.mu.Unlock()

	t.logger.Info().
		Str("user_id", userID).
		Int64("baseline_seconds", seconds).
		Msg("Ticker started")
}

// Pause transitions StateRunning -> StatePaused and cancels the tick
// loop. It does not flush; the lifecycle coordinator owns that.
func (t *Ticker) Pause() {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}
	t.stopLoopLocked()
	t.state = StatePaused
	seconds := t.seconds
	t.mu.Unlock()

	t.logger.Debug().Int64("seconds", seconds).Msg("Ticker paused")
}

// Resume transitions StatePaused -> StateRunning. The baseline is re-read
// from the cache in case another code path moved it while paused.
func (t *Ticker) Resume() error {
	t.mu.Lock()
	if t.state != StatePaused {
		t.mu.Unlock()
		return ErrNotPaused
	}
	t.seconds = t.baselineLocked(t.userID)
	t.state = StateRunning
	t.startLoopLocked()
	seconds := t.seconds
	t.mu.Unlock()

	t.logger.Debug().Int64("seconds", seconds).Msg("Ticker resumed")
	return nil
}

// Stop cancels the tick loop and returns to StateStopped.
func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopLoopLocked()
	t.state = StateStopped
	t.mu.Unlock()
}

// State returns the current scheduler state.
func (t *Ticker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Seconds returns the current counter value.
func (t *Ticker) Seconds() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

// baselineLocked reads the stored total, treating a missing user as zero
// and an unreadable cache as "keep what we have".
func (t *Ticker) baselineLocked(userID string) int64 {
	seconds, err := t.cache.Get(userID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			t.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read counter baseline")
			return t.seconds
		}
		return 0
	}
	return seconds
}

func (t *Ticker) startLoopLocked() {
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop = stop
	t.done = done

	ticker := t.clk.Ticker(t.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.tick()
			}
		}
	}()
}

// stopLoopLocked cancels the current loop and waits for it to exit so a
// replacement loop can never overlap with it.
func (t *Ticker) stopLoopLocked() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	done := t.done
	t.stop = nil
	t.done = nil

	t.mu.Unlock()
	<-done
	t.mu.Lock()
}

// tick advances the counter by one second and dispatches cadence events.
func (t *Ticker) tick() {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}

	t.seconds++
	seconds := t.seconds

	if err := t.cache.Set(t.userID, seconds); err != nil {
		t.logger.Error().Err(err).Str("user_id", t.userID).Msg("Failed to persist counter")
	}

	cb := t.callbacks
	pointsDue := t.pointsEach > 0 && seconds%t.pointsEach == 0
	flushDue := t.flushEach > 0 && seconds%t.flushEach == 0
	t.mu.Unlock()

	metrics.TicksTotal.Inc()

	if cb.onTick != nil {
		cb.onTick(seconds)
	}
	if pointsDue && cb.onPoints != nil {
		cb.onPoints(seconds)
	}
	if flushDue && cb.onFlush != nil {
		cb.onFlush()
	}
}
