package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/agent"
	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/store"
)

type mockChecker struct {
	mu    sync.Mutex
	calls int
	snap  Snapshot
	err   error
}

func (m *mockChecker) Check(ctx context.Context, d *store.DomainRecord) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.snap, m.err
}

func (m *mockChecker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockChecker) set(snap Snapshot, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.err = err
}

func testDomain(status store.DomainStatus) store.DomainRecord {
	return store.DomainRecord{ID: uuid.New(), Hostname: "example.com", Status: status}
}

func waitSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap := <-sub.Updates:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestIntervalTightensOnErrorStatus(t *testing.T) {
	p := New(&mockChecker{}, nil, Config{}, metrics.New(false))

	if got := p.interval(store.StatusError); got != 30*time.Second {
		t.Errorf("expected 30s interval for error status, got %v", got)
	}
	for _, status := range []store.DomainStatus{store.StatusPending, store.StatusPropagating, store.StatusLive} {
		if got := p.interval(status); got != time.Minute {
			t.Errorf("expected 60s interval for status %q, got %v", status, got)
		}
	}
}

func TestSubscribePollsAndBroadcasts(t *testing.T) {
	check := &mockChecker{snap: Snapshot{DNSOk: true, CheckedAt: time.Now()}}
	p := New(check, nil, Config{Interval: time.Hour, ErrorInterval: time.Hour}, metrics.New(false))

	sub := p.Subscribe(testDomain(store.StatusLive))
	defer sub.Close()

	snap := waitSnapshot(t, sub)
	if !snap.DNSOk {
		t.Error("expected dnsOk snapshot")
	}
	if check.callCount() != 1 {
		t.Errorf("expected exactly one fetch, got %d", check.callCount())
	}
}

func TestDedupWindowCollapsesFetches(t *testing.T) {
	check := &mockChecker{snap: Snapshot{DNSOk: true, CheckedAt: time.Now()}}
	p := New(check, nil, Config{Interval: time.Hour, DedupWindow: time.Hour}, metrics.New(false))

	domain := testDomain(store.StatusLive)
	sub := p.Subscribe(domain)
	defer sub.Close()
	waitSnapshot(t, sub)

	p.mu.Lock()
	w := p.watchers[domain.ID]
	p.mu.Unlock()

	// A second scheduled poll inside the window returns the cached
	// result without a fetch.
	snap, err := p.poll(context.Background(), w, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.DNSOk {
		t.Error("expected cached snapshot")
	}
	if check.callCount() != 1 {
		t.Errorf("expected deduplicated fetch count 1, got %d", check.callCount())
	}
}

func TestManualRefreshBypassesWindowAndBroadcasts(t *testing.T) {
	check := &mockChecker{snap: Snapshot{DNSOk: false, CheckedAt: time.Now()}}
	p := New(check, nil, Config{Interval: time.Hour, DedupWindow: time.Hour}, metrics.New(false))

	domain := testDomain(store.StatusLive)
	sub := p.Subscribe(domain)
	defer sub.Close()
	waitSnapshot(t, sub)

	check.set(Snapshot{DNSOk: true, CheckedAt: time.Now()}, nil)

	snap, err := p.Refresh(context.Background(), domain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.DNSOk {
		t.Error("expected refreshed snapshot")
	}
	if check.callCount() != 2 {
		t.Errorf("expected refresh to bypass the window, got %d fetches", check.callCount())
	}

	// Every observer sees the fresh snapshot without waiting for the
	// next scheduled tick.
	broadcast := waitSnapshot(t, sub)
	if !broadcast.DNSOk {
		t.Error("expected broadcast of the refreshed snapshot")
	}
	if last, ok := p.Last(domain.ID); !ok || !last.DNSOk {
		t.Error("expected cached snapshot to be replaced immediately")
	}
}

func TestRetriesOnTransientFailure(t *testing.T) {
	check := &mockChecker{err: errors.New("connection reset")}
	p := New(check, nil, Config{
		Interval:   time.Hour,
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, metrics.New(false))

	sub := p.Subscribe(testDomain(store.StatusLive))
	defer sub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for check.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := check.callCount(); got != 3 {
		t.Errorf("expected 1 fetch + 2 retries, got %d", got)
	}
}

func TestAuthFailureSuppressesRetries(t *testing.T) {
	check := &mockChecker{err: &agent.Error{Kind: agent.KindHTTP, Status: http.StatusUnauthorized}}
	p := New(check, nil, Config{
		Interval:   time.Hour,
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, metrics.New(false))

	sub := p.Subscribe(testDomain(store.StatusLive))
	defer sub.Close()

	time.Sleep(100 * time.Millisecond)
	if got := check.callCount(); got != 1 {
		t.Errorf("expected no retries for authentication failures, got %d fetches", got)
	}
}

func TestFailedPollKeepsStaleSnapshot(t *testing.T) {
	check := &mockChecker{snap: Snapshot{DNSOk: true, CheckedAt: time.Now()}}
	p := New(check, nil, Config{Interval: time.Hour, DedupWindow: time.Nanosecond}, metrics.New(false))

	domain := testDomain(store.StatusLive)
	sub := p.Subscribe(domain)
	defer sub.Close()
	waitSnapshot(t, sub)

	check.set(Snapshot{}, &agent.Error{Kind: agent.KindHTTP, Status: http.StatusUnauthorized})

	if _, err := p.Refresh(context.Background(), domain); err == nil {
		t.Fatal("expected refresh error")
	}
	if last, ok := p.Last(domain.ID); !ok || !last.DNSOk {
		t.Error("expected stale snapshot to survive a failed poll")
	}
}

func TestWatcherStopsWhenLastSubscriberLeaves(t *testing.T) {
	check := &mockChecker{snap: Snapshot{DNSOk: true}}
	p := New(check, nil, Config{Interval: time.Hour}, metrics.New(false))

	domain := testDomain(store.StatusLive)
	first := p.Subscribe(domain)
	second := p.Subscribe(domain)

	first.Close()
	p.mu.Lock()
	_, alive := p.watchers[domain.ID]
	p.mu.Unlock()
	if !alive {
		t.Fatal("watcher must survive while subscribers remain")
	}

	second.Close()
	p.mu.Lock()
	_, alive = p.watchers[domain.ID]
	p.mu.Unlock()
	if alive {
		t.Error("watcher must stop when the subscriber count drops to zero")
	}
}

func TestRefreshWithoutWatcherCachesResult(t *testing.T) {
	cache := newTestCache(t)
	check := &mockChecker{snap: Snapshot{DNSOk: true, CheckedAt: time.Now()}}
	p := New(check, cache, Config{}, metrics.New(false))

	domain := testDomain(store.StatusLive)
	snap, err := p.Refresh(context.Background(), domain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.DNSOk {
		t.Error("expected fresh snapshot")
	}

	got, found, err := cache.Get(domain.ID)
	if err != nil || !found {
		t.Fatalf("expected snapshot in cache, found=%v err=%v", found, err)
	}
	if !got.DNSOk {
		t.Error("expected cached snapshot to match")
	}
}
