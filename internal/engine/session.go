package engine

import (
	"context"
	"errors"
	"fmt"
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

// Session is the in-memory record of one user's engine run, from
// Initialize to Teardown. It owns the flush path: elapsed time is
// computed from wall-clock deltas, not the tick counter, so flushes stay
// correct even when ticks were paused or missed.
type Session struct {
	clk       clock.Clock
	remote    accounting.Client
	cache     cache.Cache
	debouncer *debounce.Debouncer
	provider  groups.Provider
	logger    zerolog.Logger

	totalTimeDebounce time.Duration

	mu           sync.Mutex
	userID       string
	sessionStart time.Time
	lastFlush    time.Time
	memberGroups []string
	initialized  bool
	flushSeq     int64
}

func newSession(clk clock.Clock, remote accounting.Client, c cache.Cache, d *debounce.Debouncer, provider groups.Provider, totalTimeDebounce time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		clk:               clk,
		remote:            remote,
		cache:             c,
		debouncer:         d,
		provider:          provider,
		totalTimeDebounce: totalTimeDebounce,
		logger:            logger.With().Str("component", "session").Logger(),
	}
}

// Initialize resolves group memberships and creates the session record.
// Membership resolution failure is not fatal: the user's own time and
// point accounting proceed with an empty group set until the next
// refresh succeeds.
func (s *Session) Initialize(ctx context.Context, userID string) {
	memberGroups, err := s.provider.Memberships(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to resolve group memberships")
		memberGroups = nil
	}

	now := s.clk.Now()

	s.mu.Lock()
	wasInitialized := s.initialized
	s.userID = userID
	s.sessionStart = now
	s.lastFlush = now
	s.memberGroups = memberGroups
	s.initialized = true
	s.flushSeq = 0
	s.mu.Unlock()

	if !wasInitialized {
		metrics.ActiveSessions.Inc()
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("groups", len(memberGroups)).
		Msg("Session initialized")
}

// RefreshGroups re-reads group memberships and replaces the member set.
// Called after a group join or leave and opportunistically on navigation.
func (s *Session) RefreshGroups(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	initialized := s.initialized
	s.mu.Unlock()

	if !initialized {
		return nil
	}

	s.provider.Invalidate(userID)
	memberGroups, err := s.provider.Memberships(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}

	s.mu.Lock()
	s.memberGroups = memberGroups
	s.mu.Unlock()

	s.logger.Debug().
		Str("user_id", userID).
		Int("groups", len(memberGroups)).
		Msg("Group memberships refreshed")
	return nil
}

// Flush persists the time accumulated since the last flush: the cache
// total as an absolute overwrite (debounced) plus one additive delta per
// member group. lastFlush advances whether or not the remote writes
// succeed, so each window is sent at most once; a failed absolute write
// self-heals on the next flush, a failed delta is dropped.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}

	now := s.clk.Now()
	elapsed := now.Sub(s.lastFlush)
	s.lastFlush = now

	if elapsed < time.Second {
		s.mu.Unlock()
		metrics.FlushesTotal.WithLabelValues("noop").Inc()
		return nil
	}

	userID := s.userID
	memberGroups := append([]string(nil), s.memberGroups...)
	s.flushSeq++
	flushID := fmt.Sprintf("%d-%d", s.sessionStart.UnixNano(), s.flushSeq)
	s.mu.Unlock()

	deltaSeconds := int64(elapsed.Seconds())
	date := accounting.DateKey(now)

	total, err := s.cache.Get(userID)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read counter for flush")
	}

	// Absolute total rides the debouncer: rapid flushes (tick cadence plus
	// a visibility event) collapse into one write carrying the latest value.
	s.debouncer.Schedule(totalTimeKey(userID), s.totalTimeDebounce, func() {
		if err := s.remote.SetTotalTime(ctx, userID, total); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to write total time")
			metrics.RemoteErrors.WithLabelValues("set_total_time").Inc()
		}
	})

	var failed int
	for _, groupID := range memberGroups {
		if err := s.remote.AddGroupDailyTime(ctx, userID, groupID, date, deltaSeconds, flushID); err != nil {
			s.logger.Error().
				Err(err).
				Str("user_id", userID).
				Str("group_id", groupID).
				Int64("delta_seconds", deltaSeconds).
				Msg("Failed to write group daily time")
			metrics.RemoteErrors.WithLabelValues("add_group_daily_time").Inc()
			failed++
			continue
		}
		metrics.GroupContributions.Inc()
	}

	metrics.FlushesTotal.WithLabelValues("flushed").Inc()

	s.logger.Debug().
		Str("user_id", userID).
		Int64("total_seconds", total).
		Int64("delta_seconds", deltaSeconds).
		Int("groups", len(memberGroups)).
		Str("flush_id", flushID).
		Msg("Session flushed")

	if failed > 0 {
		return fmt.Errorf("flush: %d of %d group writes failed", failed, len(memberGroups))
	}
	return nil
}

// Teardown flushes and discards the session record. Safe to call more
// than once: both a soft-close signal and the final unmount may land.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	userID := s.userID
	s.mu.Unlock()

	err := s.Flush(ctx)

	// Run any in-window debounced write now; process exit is imminent.
	s.debouncer.Flush(totalTimeKey(userID))
	s.debouncer.Flush(pointsKey(userID))

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	s.logger.Info().Str("user_id", userID).Msg("Session torn down")
	return err
}

// Groups returns a copy of the current member set.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.memberGroups...)
}

func totalTimeKey(userID string) string { return "time:" + userID }
func pointsKey(userID string) string    { return "points:" + userID }
