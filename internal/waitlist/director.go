package waitlist

import (
	"context"
	"errors"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"

	"pkt.systems/pslog"

	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/storage"
)

// DefaultSweepInterval is T_sweep, the fixed cadence a Director runs at
// absent an override.
const DefaultSweepInterval = time.Second

// Director is the per-process singleton that promotes and expires
// tickets. It does not assume exclusivity: multiple Directors across
// multiple processes may run against the same store concurrently,
// coordinating only through etag-guarded writes. A losing CAS this sweep
// is benign; the next sweep re-observes state.
type Director struct {
	store    storage.Backend
	clk      clock.Clock
	logger   pslog.Logger
	registry *Registry

	sweepInterval time.Duration
	maxPerSweep   int

	wake      chan struct{}
	stop      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu    sync.Mutex
	stats sweepStats
}

type sweepStats struct {
	queues    int
	queued    int
	active    int
	expired   int
	promoted  int
	lastSweep time.Time
}

// DirectorOption customises Director construction.
type DirectorOption func(*Director)

// WithSweepInterval overrides T_sweep (default DefaultSweepInterval).
func WithSweepInterval(d time.Duration) DirectorOption {
	return func(dir *Director) {
		if d > 0 {
			dir.sweepInterval = d
		}
	}
}

// WithDirectorLogger assigns a logger for director diagnostics.
func WithDirectorLogger(logger pslog.Logger) DirectorOption {
	return func(dir *Director) {
		if logger != nil {
			dir.logger = logger
		}
	}
}

// WithMaxTransitionsPerSweep caps how many expire/promote writes a single
// sweep performs; the remainder is left for the next sweep. Zero (the
// default) means unbounded.
func WithMaxTransitionsPerSweep(n int) DirectorOption {
	return func(dir *Director) {
		if n > 0 {
			dir.maxPerSweep = n
		}
	}
}

// NewDirector constructs a Director. registry may be nil, in which case
// notifications are skipped (useful for tests exercising the manager in
// isolation).
func NewDirector(store storage.Backend, clk clock.Clock, registry *Registry, opts ...DirectorOption) *Director {
	if clk == nil {
		clk = clock.Real{}
	}
	d := &Director{
		store:         store,
		clk:           clk,
		registry:      registry,
		sweepInterval: DefaultSweepInterval,
		logger:        pslog.NoopLogger(),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("svc", "waitlist.director")
	return d
}

// Start runs one catch-up sweep synchronously, then launches the
// fixed-cadence sweep loop in the background. Calling Start more than
// once is a no-op.
func (d *Director) Start(ctx context.Context) error {
	var startErr error
	d.startOnce.Do(func() {
		if err := d.Sweep(ctx); err != nil {
			d.logger.Warn("waitlist.director.startup_sweep_failed", "error", err)
		}
		go d.run(ctx)
	})
	return startErr
}

// Stop halts the sweep loop. Safe to call multiple times or without a
// prior Start.
func (d *Director) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

func (d *Director) run(ctx context.Context) {
	defer close(d.loopDone)
	for {
		timer := d.clk.After(d.sweepInterval)
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-timer:
		}
		if err := d.Sweep(ctx); err != nil {
			d.logger.Warn("waitlist.director.sweep_failed", "error", err)
		}
	}
}

// Notify wakes the sweep loop ahead of its fixed cadence. Best-effort: if
// a wake is already pending, this is a no-op.
func (d *Director) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// fireAndNotify resolves pending waiters for uuid and wakes the sweep
// loop so any successor in the same queue is promoted promptly.
func (d *Director) fireAndNotify(uuid string, status Status) {
	if d.registry != nil {
		d.registry.Fire(uuid, status)
	}
	d.Notify()
}

// Sweep runs one pass over every non-terminal ticket: expiring overdue
// ones and promoting the head of any queue left without an active
// ticket. It is safe to call directly (e.g. from tests) without Start.
func (d *Director) Sweep(ctx context.Context) error {
	now := d.clk.Now().UTC()

	cur, err := d.store.FindObjects(ctx, ticketBucket, storage.Query{
		Filter: func(r storage.Record) bool {
			t, err := decodeTicket(r.Value)
			return err == nil && !t.Status.Terminal()
		},
		SortFunc: sweepOrder,
	})
	if err != nil {
		return storeUnavailable(err)
	}
	defer cur.Close()

	queues := map[queueKey][]Ticket{}
	order := make([]queueKey, 0)
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return storeUnavailable(err)
		}
		if !ok {
			break
		}
		t, err := decodeTicket(rec.Value)
		if err != nil {
			continue
		}
		t.ETag = rec.ETag
		key := t.queueKey()
		if _, seen := queues[key]; !seen {
			order = append(order, key)
		}
		queues[key] = append(queues[key], t)
	}

	stats := sweepStats{lastSweep: now}
	transitions := 0
	for _, key := range order {
		stats.queues++
		tickets := queues[key]
		for i := range tickets {
			switch tickets[i].Status {
			case StatusQueued:
				stats.queued++
			case StatusActive:
				stats.active++
			}
		}

		for i := range tickets {
			if d.maxPerSweep > 0 && transitions >= d.maxPerSweep {
				break
			}
			t := &tickets[i]
			if t.Status.Terminal() || now.Before(t.ExpiresAt) {
				continue
			}
			if d.transition(ctx, t, StatusExpired, now) {
				stats.expired++
				transitions++
			}
		}

		if d.maxPerSweep > 0 && transitions >= d.maxPerSweep {
			continue
		}

		hasActive := false
		var head *Ticket
		for i := range tickets {
			switch tickets[i].Status {
			case StatusActive:
				hasActive = true
			case StatusQueued:
				if head == nil {
					head = &tickets[i]
				}
			}
		}
		if !hasActive && head != nil {
			if d.transition(ctx, head, StatusActive, now) {
				stats.promoted++
				transitions++
			}
		}
	}

	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()
	if transitions > 0 {
		d.logger.Debug("waitlist.director.sweep_summary",
			"queues", humanize.Comma(int64(stats.queues)),
			"expired", stats.expired,
			"promoted", stats.promoted,
		)
	}
	return nil
}

// transition attempts an etag-guarded status update. A lost CAS (another
// director instance won the race) is benign and silently skipped; the
// next sweep re-observes state.
func (d *Director) transition(ctx context.Context, t *Ticket, next Status, now time.Time) bool {
	updated := *t
	updated.Status = next
	updated.UpdatedAt = now
	body, err := encodeTicket(updated)
	if err != nil {
		d.logger.Warn("waitlist.director.encode_failed", "uuid", t.UUID, "error", err)
		return false
	}
	newEtag, err := d.store.Put(ctx, ticketBucket, t.UUID, body, t.ETag)
	if err != nil {
		if errors.Is(err, storage.ErrCASMismatch) || errors.Is(err, storage.ErrNotFound) {
			return false
		}
		d.logger.Warn("waitlist.director.transition_failed", "uuid", t.UUID, "to", next, "error", err)
		return false
	}
	updated.ETag = newEtag
	*t = updated
	if d.registry != nil {
		d.registry.Fire(t.UUID, next)
	}
	d.logger.Debug("waitlist.director.transition", "uuid", t.UUID, "to", string(next))
	return true
}

// sweepOrder implements the (server_uuid, scope, id, created_at, uuid)
// total order the sweep partitions queues by.
func sweepOrder(a, b storage.Record) bool {
	ta, errA := decodeTicket(a.Value)
	tb, errB := decodeTicket(b.Value)
	if errA != nil || errB != nil {
		return a.Key < b.Key
	}
	if ta.ServerUUID != tb.ServerUUID {
		return ta.ServerUUID < tb.ServerUUID
	}
	if ta.Scope != tb.Scope {
		return ta.Scope < tb.Scope
	}
	if ta.ID != tb.ID {
		return ta.ID < tb.ID
	}
	return ta.before(tb)
}

// Stats reports the most recent sweep's counters, for metrics.
func (d *Director) Stats() sweepStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
