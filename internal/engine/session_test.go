package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/studytick/studytick/internal/cache"
	"github.com/studytick/studytick/internal/debounce"
)

func newTestSession(t *testing.T, remote *fakeRemote, provider *fakeGroups) (*Session, *clock.Mock, cache.Cache) {
	t.Helper()

	clk := clock.NewMock()
	d := debounce.NewWithClock(clk)
	t.Cleanup(d.Stop)
	store := cache.NewMemory()

	s := newSession(clk, remote, store, d, provider, 2*time.Second, zerolog.Nop())
	return s, clk, store
}

func TestSession_FlushFansOutToGroups(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{members: []string{"group-a", "group-b"}}
	s, clk, store := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")
	_ = store.Set("user-1", 130)

	clk.Add(30 * time.Second)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	calls := remote.groupCallsSnapshot()
	if len(calls) != 2 {
		t.Fatalf("group writes = %d, want 2 (one per group)", len(calls))
	}
	seen := map[string]int64{}
	for _, call := range calls {
		seen[call.groupID] = call.delta
		if call.userID != "user-1" {
			t.Errorf("userID = %s, want user-1", call.userID)
		}
		if call.flushID != calls[0].flushID {
			t.Errorf("flush IDs differ across groups: %s vs %s", call.flushID, calls[0].flushID)
		}
	}
	if seen["group-a"] != 30 || seen["group-b"] != 30 {
		t.Errorf("deltas = %v, want 30 for both groups", seen)
	}
}

func TestSession_FlushSendsAbsoluteTotalAfterDebounce(t *testing.T) {
	remote := &fakeRemote{}
	s, clk, store := newTestSession(t, remote, &fakeGroups{})

	s.Initialize(context.Background(), "user-1")
	_ = store.Set("user-1", 4000)

	clk.Add(60 * time.Second)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if got := remote.totalWritesSnapshot(); len(got) != 0 {
		t.Fatalf("total written before debounce window closed: %v", got)
	}

	clk.Add(2 * time.Second)

	eventually(t, func() bool { return len(remote.totalWritesSnapshot()) == 1 },
		"absolute total never written")
	if got := remote.totalWritesSnapshot(); got[0] != 4000 {
		t.Errorf("total write = %d, want 4000 (cache value, absolute)", got[0])
	}
}

func TestSession_ImmediateSecondFlushIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{members: []string{"group-a"}}
	s, clk, _ := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")

	clk.Add(30 * time.Second)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	// Zero elapsed time: nothing to send
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}

	if got := len(remote.groupCallsSnapshot()); got != 1 {
		t.Errorf("group writes = %d, want 1 (second flush is a no-op)", got)
	}
}

func TestSession_FlushBeforeInitializeIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	s, clk, _ := newTestSession(t, remote, &fakeGroups{})

	clk.Add(time.Minute)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := len(remote.groupCallsSnapshot()); got != 0 {
		t.Errorf("group writes before initialize = %d, want 0", got)
	}
}

func TestSession_FlushIDsAreMonotonic(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{members: []string{"group-a"}}
	s, clk, _ := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")

	clk.Add(30 * time.Second)
	_ = s.Flush(context.Background())
	clk.Add(30 * time.Second)
	_ = s.Flush(context.Background())

	calls := remote.groupCallsSnapshot()
	if len(calls) != 2 {
		t.Fatalf("group writes = %d, want 2", len(calls))
	}
	if calls[0].flushID == calls[1].flushID {
		t.Errorf("flush IDs repeat across windows: %s", calls[0].flushID)
	}
}

func TestSession_FlushAdvancesWindowDespiteFailure(t *testing.T) {
	remote := &fakeRemote{failGroups: true}
	provider := &fakeGroups{members: []string{"group-a"}}
	s, clk, _ := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")

	clk.Add(30 * time.Second)
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("Flush with failing remote returned nil error")
	}

	// The failed window is not re-sent: at-most-once per window
	remote.mu.Lock()
	remote.failGroups = false
	remote.mu.Unlock()

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := len(remote.groupCallsSnapshot()); got != 0 {
		t.Errorf("group writes = %d, want 0 (failed delta is dropped)", got)
	}
}

func TestSession_RefreshGroupsReplacesSet(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{members: []string{"group-a"}}
	s, _, _ := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")

	provider.set([]string{"group-b", "group-c"})
	if err := s.RefreshGroups(context.Background()); err != nil {
		t.Fatalf("RefreshGroups failed: %v", err)
	}

	groups := s.Groups()
	if len(groups) != 2 || groups[0] != "group-b" || groups[1] != "group-c" {
		t.Errorf("Groups = %v, want [group-b group-c]", groups)
	}
}

func TestSession_InitializeSurvivesMembershipFailure(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{err: errors.New("store down")}
	s, clk, _ := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")

	// Personal accounting proceeds with an empty group set
	clk.Add(30 * time.Second)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := len(remote.groupCallsSnapshot()); got != 0 {
		t.Errorf("group writes = %d, want 0", got)
	}
}

func TestSession_TeardownFlushesAndIsIdempotent(t *testing.T) {
	remote := &fakeRemote{}
	provider := &fakeGroups{members: []string{"group-a"}}
	s, clk, store := newTestSession(t, remote, provider)

	s.Initialize(context.Background(), "user-1")
	_ = store.Set("user-1", 45)

	clk.Add(45 * time.Second)
	if err := s.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}

	// Teardown runs the pending absolute write immediately
	if got := remote.totalWritesSnapshot(); len(got) != 1 || got[0] != 45 {
		t.Errorf("total writes = %v, want [45]", got)
	}
	if got := len(remote.groupCallsSnapshot()); got != 1 {
		t.Errorf("group writes = %d, want 1", got)
	}

	// Soft close and final unmount may both land
	if err := s.Teardown(context.Background()); err != nil {
		t.Fatalf("second Teardown failed: %v", err)
	}
	if got := len(remote.groupCallsSnapshot()); got != 1 {
		t.Errorf("group writes after second teardown = %d, want 1", got)
	}
}
