package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/studytick/studytick/internal/accounting"
	"github.com/studytick/studytick/internal/cache"
)

// fakeRemote records accounting calls.
type fakeRemote struct {
	mu          sync.Mutex
	totalWrites []int64
	pointDeltas []int64
	groupCalls  []groupCall
	failGroups  bool
}

type groupCall struct {
	userID  string
	groupID string
	date    string
	delta   int64
	flushID string
}

func (f *fakeRemote) SetTotalTime(_ context.Context, _ string, seconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalWrites = append(f.totalWrites, seconds)
	return nil
}

func (f *fakeRemote) AddPoints(_ context.Context, _ string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointDeltas = append(f.pointDeltas, delta)
	return nil
}

func (f *fakeRemote) AddGroupDailyTime(_ context.Context, userID, groupID, date string, deltaSeconds int64, flushID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGroups {
		return errors.New("remote unavailable")
	}
	f.groupCalls = append(f.groupCalls, groupCall{userID, groupID, date, deltaSeconds, flushID})
	return nil
}

func (f *fakeRemote) UserTotals(context.Context, string) (*accounting.UserTotals, error) {
	return nil, accounting.ErrNotFound
}

func (f *fakeRemote) GroupDailyLeaderboard(context.Context, string, string) ([]accounting.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pointDeltas)
}

func (f *fakeRemote) groupCallsSnapshot() []groupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]groupCall(nil), f.groupCalls...)
}

func (f *fakeRemote) totalWritesSnapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.totalWrites...)
}

// fakeGroups serves a fixed membership set.
type fakeGroups struct {
	mu      sync.Mutex
	members []string
	err     error
}

func (f *fakeGroups) Memberships(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.members...), nil
}

func (f *fakeGroups) Invalidate(string) {}

func (f *fakeGroups) set(members []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = members
}

// eventually polls until cond holds; the tick loop runs on its own
// goroutine, so tests synchronize on observed state rather than sleeps.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// tickSeconds advances the mock clock one tick interval at a time,
// waiting for each tick to be processed so none are dropped.
func tickSeconds(t *testing.T, clk *clock.Mock, seconds func() int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		want := seconds() + 1
		clk.Add(time.Second)
		eventually(t, func() bool { return seconds() >= want }, "tick was not processed")
	}
}

// advanceUntil nudges the mock clock forward in small steps until cond
// holds, closing debounce windows whose timers registered asynchronously.
func advanceUntil(t *testing.T, clk *clock.Mock, step time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		clk.Add(step)
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestEngine(t *testing.T) (*Engine, *clock.Mock, *fakeRemote, *fakeGroups, cache.Cache) {
	t.Helper()

	clk := clock.NewMock()
	remote := &fakeRemote{}
	provider := &fakeGroups{}
	store := cache.NewMemory()

	e := New(Options{
		Cache:  store,
		Remote: remote,
		Groups: provider,
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	return e, clk, remote, provider, store
}

func TestEngine_StartRequiresUser(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	if err := e.Start(context.Background(), ""); !errors.Is(err, ErrNoUser) {
		t.Errorf("Start with empty user: err = %v, want ErrNoUser", err)
	}
}

func TestEngine_CountsAndNotifies(t *testing.T) {
	e, clk, _, _, store := newTestEngine(t)

	var mu sync.Mutex
	var updates []int64
	e.OnTimeUpdate(func(seconds int64) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, seconds)
	})

	if err := e.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tickSeconds(t, clk, e.Seconds, 5)

	if got := e.Seconds(); got != 5 {
		t.Errorf("Seconds = %d, want 5", got)
	}

	stored, err := store.Get("user-1")
	if err != nil {
		t.Fatalf("cache Get failed: %v", err)
	}
	if stored != 5 {
		t.Errorf("cached seconds = %d, want 5", stored)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 5 || updates[4] != 5 {
		t.Errorf("time updates = %v, want [1 2 3 4 5]", updates)
	}
}

func TestEngine_PointsLandAfterDebounce(t *testing.T) {
	e, clk, remote, _, _ := newTestEngine(t)

	var mu sync.Mutex
	var awarded []int64
	e.OnPointsAwarded(func(delta int64) {
		mu.Lock()
		defer mu.Unlock()
		awarded = append(awarded, delta)
	})

	if err := e.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Tick 10 triggers a grant; stepping past the 500ms debounce lands it
	tickSeconds(t, clk, e.Seconds, 10)
	advanceUntil(t, clk, 100*time.Millisecond, func() bool { return remote.pointCount() == 1 },
		"point grant never reached the remote")

	mu.Lock()
	defer mu.Unlock()
	if len(awarded) != 1 || awarded[0] != 1 {
		t.Errorf("awarded = %v, want [1]", awarded)
	}
}

func TestEngine_NinetyFiveSecondScenario(t *testing.T) {
	e, clk, remote, provider, _ := newTestEngine(t)
	provider.set([]string{"group-a"})

	if err := e.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tickSeconds(t, clk, e.Seconds, 95)

	if got := e.Seconds(); got != 95 {
		t.Errorf("Seconds = %d, want 95", got)
	}

	// Grants at ticks 10..90; the last window closes just after tick 90
	advanceUntil(t, clk, 100*time.Millisecond, func() bool { return remote.pointCount() >= 9 },
		"expected 9 point grants")
	if got := remote.pointCount(); got != 9 {
		t.Errorf("point grants = %d, want 9", got)
	}

	// A flush fired at tick 60
	eventually(t, func() bool { return len(remote.groupCallsSnapshot()) >= 1 },
		"expected at least one flush to send group time")
}

func TestEngine_NotifyGroupMembershipChanged(t *testing.T) {
	e, _, _, provider, _ := newTestEngine(t)
	provider.set([]string{"group-a"})

	if err := e.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	provider.set([]string{"group-a", "group-b"})
	if err := e.NotifyGroupMembershipChanged(context.Background()); err != nil {
		t.Fatalf("NotifyGroupMembershipChanged failed: %v", err)
	}

	if got := e.session.Groups(); len(got) != 2 {
		t.Errorf("Groups = %v, want 2 entries", got)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e, clk, _, _, _ := newTestEngine(t)

	if err := e.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	tickSeconds(t, clk, e.Seconds, 3)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}

	// No ticks after stop
	clk.Add(5 * time.Second)
	if got := e.Seconds(); got != 3 {
		t.Errorf("Seconds after stop = %d, want 3", got)
	}
}

func TestEngine_SubSessionEvent(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	fired := 0
	e.OnSubSession(func() { fired++ })

	e.StartSubSession()
	if fired != 1 {
		t.Errorf("sub-session handler fired %d times, want 1", fired)
	}
}
