package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/agent"
	"github.com/rotadominios/fleet-sync/internal/metrics"
	"github.com/rotadominios/fleet-sync/internal/store"
)

type Config struct {
	// Interval between polls; ErrorInterval applies while the domain
	// status is "error".
	Interval      time.Duration
	ErrorInterval time.Duration
	// Retries per poll; a retry never fires for authentication
	// failures.
	Retries    int
	RetryDelay time.Duration
	// Window within which concurrent fetches for the same domain
	// collapse to the cached result.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.ErrorInterval == 0 {
		c.ErrorInterval = 30 * time.Second
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = 5 * time.Second
	}
	return c
}

// Poller maintains a recent health snapshot per watched domain. Each
// domain gets one watcher goroutine that lives while it has
// subscribers and is cancelled when the last one unsubscribes.
type Poller struct {
	check   Checker
	cache   *Cache
	cfg     Config
	metrics *metrics.Metrics

	mu       sync.Mutex
	watchers map[uuid.UUID]*watcher
}

type watcher struct {
	domain    store.DomainRecord
	subs      map[int]chan Snapshot
	nextID    int
	lastFetch time.Time
	lastSnap  *Snapshot
	lastErr   error
	cancel    context.CancelFunc
}

// Subscription is one observer of a domain's health. Updates carries
// the latest snapshot; a lagging reader only ever misses intermediate
// snapshots, never the newest.
type Subscription struct {
	Updates  <-chan Snapshot
	poller   *Poller
	domainID uuid.UUID
	id       int
}

func New(check Checker, cache *Cache, cfg Config, m *metrics.Metrics) *Poller {
	return &Poller{
		check:    check,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		watchers: make(map[uuid.UUID]*watcher),
	}
}

// Subscribe starts (or joins) polling for the domain. The domain's
// current status drives the poll interval; re-subscribing with an
// updated record refreshes it.
func (p *Poller) Subscribe(domain store.DomainRecord) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.watchers[domain.ID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		w = &watcher{
			domain: domain,
			subs:   make(map[int]chan Snapshot),
			cancel: cancel,
		}
		if p.cache != nil {
			if snap, found, err := p.cache.Get(domain.ID); err == nil && found {
				w.lastSnap = &snap
			}
		}
		p.watchers[domain.ID] = w
		go p.run(ctx, w)
	} else {
		w.domain = domain
	}

	id := w.nextID
	w.nextID++
	ch := make(chan Snapshot, 1)
	w.subs[id] = ch

	return &Subscription{Updates: ch, poller: p, domainID: domain.ID, id: id}
}

// Close drops the observer. The watcher goroutine stops once its
// subscriber count reaches zero.
func (s *Subscription) Close() {
	p := s.poller
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.watchers[s.domainID]
	if !ok {
		return
	}
	delete(w.subs, s.id)
	if len(w.subs) == 0 {
		w.cancel()
		delete(p.watchers, s.domainID)
	}
}

// Refresh bypasses the poll interval and the de-duplication window,
// performs exactly one fetch, and on success replaces the cached
// snapshot and pushes it to every current observer.
func (p *Poller) Refresh(ctx context.Context, domain store.DomainRecord) (Snapshot, error) {
	p.mu.Lock()
	w := p.watchers[domain.ID]
	p.mu.Unlock()

	if w != nil {
		return p.poll(ctx, w, true)
	}

	// No active watcher, one-shot check.
	snap, err := p.check.Check(ctx, &domain)
	p.metrics.IncHealthPoll(err == nil)
	if err != nil {
		return snap, err
	}
	if p.cache != nil {
		if cerr := p.cache.Put(domain.ID, snap); cerr != nil {
			slog.Warn("fail cache health snapshot", "domain", domain.ID, "error", cerr)
		}
	}
	return snap, nil
}

// Last returns the most recent snapshot for the domain, falling back
// to the persistent cache when nothing is being polled.
func (p *Poller) Last(domainID uuid.UUID) (Snapshot, bool) {
	p.mu.Lock()
	if w, ok := p.watchers[domainID]; ok && w.lastSnap != nil {
		snap := *w.lastSnap
		p.mu.Unlock()
		return snap, true
	}
	p.mu.Unlock()

	if p.cache != nil {
		if snap, found, err := p.cache.Get(domainID); err == nil && found {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// Stop cancels every watcher. Subscriptions are left to drain their
// channels; no further snapshots arrive.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, w := range p.watchers {
		w.cancel()
		delete(p.watchers, id)
	}
}

func (p *Poller) run(ctx context.Context, w *watcher) {
	for {
		if _, err := p.poll(ctx, w, false); err != nil {
			slog.Debug("health poll failed", "domain", w.domain.ID, "error", err)
		}

		p.mu.Lock()
		interval := p.interval(w.domain.Status)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (p *Poller) interval(status store.DomainStatus) time.Duration {
	if status == store.StatusError {
		return p.cfg.ErrorInterval
	}
	return p.cfg.Interval
}

// poll performs one fetch for the watcher. Scheduled polls within the
// de-duplication window collapse to the cached result; force skips the
// window and the retry budget (manual refresh is a single fetch).
func (p *Poller) poll(ctx context.Context, w *watcher, force bool) (Snapshot, error) {
	p.mu.Lock()
	if !force && time.Since(w.lastFetch) < p.cfg.DedupWindow {
		snap, err := w.lastSnap, w.lastErr
		p.mu.Unlock()
		if snap != nil {
			return *snap, err
		}
		return Snapshot{}, err
	}
	w.lastFetch = time.Now()
	domain := w.domain
	p.mu.Unlock()

	snap, err := p.fetch(ctx, &domain, force)
	p.metrics.IncHealthPoll(err == nil)

	p.mu.Lock()
	if err == nil {
		w.lastSnap = &snap
		w.lastErr = nil
		for _, ch := range w.subs {
			// Drop the stale buffered snapshot so the newest always
			// lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	} else {
		// Keep the stale snapshot; the error rides alongside it.
		w.lastErr = err
	}
	p.mu.Unlock()

	if err == nil && p.cache != nil {
		if cerr := p.cache.Put(domain.ID, snap); cerr != nil {
			slog.Warn("fail cache health snapshot", "domain", domain.ID, "error", cerr)
		}
	}
	return snap, err
}

func (p *Poller) fetch(ctx context.Context, domain *store.DomainRecord, single bool) (Snapshot, error) {
	attempts := p.cfg.Retries + 1
	if single {
		attempts = 1
	}

	var snap Snapshot
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return snap, ctx.Err()
			case <-time.After(p.cfg.RetryDelay):
			}
		}
		snap, err = p.check.Check(ctx, domain)
		if err == nil || agent.IsAuthError(err) {
			break
		}
	}
	return snap, err
}
