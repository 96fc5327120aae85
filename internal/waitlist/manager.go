package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/storage"
	"pkt.systems/waitlist/internal/uuidv7"
)

const ticketBucket = "tickets"

const (
	// DefaultListLimit is both the default and maximum List page size.
	DefaultListLimit   = 1000
	releaseMaxAttempts = 5
)

// Manager implements ticket create/release/delete/list atop a
// storage.Backend. It holds no per-ticket state of its own; every
// invariant is enforced by reading the store, computing the next record,
// and writing it back under the etag it was read with.
type Manager struct {
	store    storage.Backend
	clk      clock.Clock
	logger   pslog.Logger
	director *Director
}

// NewManager constructs a queue manager. director may be nil (tests that
// don't care about promotion latency); when set, Release and Create best-
// effort notify it so the affected queue is re-evaluated without waiting
// for the next fixed-cadence sweep.
func NewManager(store storage.Backend, clk clock.Clock, logger pslog.Logger, director *Director) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Manager{store: store, clk: clk, logger: logger.With("svc", "waitlist.manager"), director: director}
}

// CreateParams are the validated inputs to Create.
type CreateParams struct {
	ServerUUID string
	Scope      string
	ID         string
	ExpiresAt  time.Time
	Action     string
	Extra      map[string]any
	ReqID      string
}

// Create validates params, persists a new queued ticket, and returns its
// uuid plus the ordered uuids of its queue.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, []string, error) {
	if p.ServerUUID == "" {
		return "", nil, invalidArgument("server_uuid required")
	}
	if p.Scope == "" {
		return "", nil, invalidArgument("scope required")
	}
	if p.ID == "" {
		return "", nil, invalidArgument("id required")
	}
	now := m.clk.Now().UTC()
	if p.ExpiresAt.IsZero() || !p.ExpiresAt.After(now) {
		return "", nil, invalidArgument("expires_at must be a timestamp strictly in the future")
	}

	t := Ticket{
		UUID:       uuidv7.NewString(),
		ServerUUID: p.ServerUUID,
		Scope:      p.Scope,
		ID:         p.ID,
		Status:     StatusQueued,
		Action:     p.Action,
		Extra:      p.Extra,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  p.ExpiresAt.UTC(),
		ReqID:      p.ReqID,
	}

	body, err := encodeTicket(t)
	if err != nil {
		return "", nil, Failure{Code: CodeInternal, Detail: err.Error()}
	}
	if _, err := m.store.Put(ctx, ticketBucket, t.UUID, body, ""); err != nil {
		return "", nil, storeUnavailable(err)
	}

	queue, err := m.queueUUIDs(ctx, t.queueKey())
	if err != nil {
		return "", nil, err
	}

	if m.director != nil {
		m.director.Notify()
	}

	return t.UUID, queue, nil
}

// Get fetches a single ticket by uuid.
func (m *Manager) Get(ctx context.Context, ticketUUID string) (Ticket, error) {
	rec, err := m.store.Get(ctx, ticketBucket, ticketUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Ticket{}, notFound("ticket not found")
		}
		return Ticket{}, storeUnavailable(err)
	}
	t, err := decodeTicket(rec.Value)
	if err != nil {
		return Ticket{}, Failure{Code: CodeInternal, Detail: err.Error()}
	}
	t.ETag = rec.ETag
	return t, nil
}

// Release transitions ticketUUID to finished. Releasing an already-
// terminal ticket is a no-op success. Conflicting concurrent writers are
// retried up to releaseMaxAttempts times before surfacing conflict.
func (m *Manager) Release(ctx context.Context, ticketUUID string) error {
	for attempt := 0; attempt < releaseMaxAttempts; attempt++ {
		rec, err := m.store.Get(ctx, ticketBucket, ticketUUID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return notFound("ticket not found")
			}
			return storeUnavailable(err)
		}
		t, err := decodeTicket(rec.Value)
		if err != nil {
			return Failure{Code: CodeInternal, Detail: err.Error()}
		}
		if t.Status.Terminal() {
			return nil
		}

		t.Status = StatusFinished
		t.UpdatedAt = m.clk.Now().UTC()
		body, err := encodeTicket(t)
		if err != nil {
			return Failure{Code: CodeInternal, Detail: err.Error()}
		}
		if _, err := m.store.Put(ctx, ticketBucket, ticketUUID, body, rec.ETag); err != nil {
			if errors.Is(err, storage.ErrCASMismatch) {
				continue
			}
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return storeUnavailable(err)
		}

		if m.director != nil {
			m.director.fireAndNotify(t.UUID, StatusFinished)
		}
		return nil
	}
	return conflict("release: exhausted retries against concurrent writers")
}

// Delete unconditionally removes a ticket from the store.
func (m *Manager) Delete(ctx context.Context, ticketUUID string) error {
	if err := m.store.Delete(ctx, ticketBucket, ticketUUID, ""); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("ticket not found")
		}
		return storeUnavailable(err)
	}
	return nil
}

// DeleteAll removes every ticket belonging to serverUUID. force must be
// true; the HTTP layer is responsible for surfacing precondition-failed
// when callers omit it, but the manager refuses unconditionally too, so
// that misuse from any other caller fails the same way.
func (m *Manager) DeleteAll(ctx context.Context, serverUUID string, force bool) error {
	if !force {
		return preconditionFailed("force=true required to delete all tickets for a server")
	}
	cur, err := m.store.FindObjects(ctx, ticketBucket, storage.Query{
		Filter: func(r storage.Record) bool {
			t, err := decodeTicket(r.Value)
			return err == nil && t.ServerUUID == serverUUID
		},
	})
	if err != nil {
		return storeUnavailable(err)
	}
	defer cur.Close()

	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return storeUnavailable(err)
		}
		if !ok {
			break
		}
		if err := m.store.Delete(ctx, ticketBucket, rec.Key, ""); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storeUnavailable(err)
		}
	}
	return nil
}

// ListParams configures List.
type ListParams struct {
	ServerUUID string
	Limit      int
	Offset     int
	Attribute  string
	Order      string
}

// List returns tickets belonging to serverUUID ordered by Attribute.
func (m *Manager) List(ctx context.Context, p ListParams) ([]Ticket, error) {
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit < 0 || p.Limit > DefaultListLimit {
		return nil, invalidArgument(fmt.Sprintf("limit must be between 1 and %d", DefaultListLimit))
	}
	if p.Offset < 0 {
		return nil, invalidArgument("offset must be >= 0")
	}
	attribute := p.Attribute
	if attribute == "" {
		attribute = "created_at"
	}
	order := p.Order
	if order == "" {
		order = "ASC"
	}
	sortOrder := storage.SortAscending
	switch order {
	case "ASC":
	case "DESC":
		sortOrder = storage.SortDescending
	default:
		return nil, invalidArgument("order must be ASC or DESC")
	}

	less, err := ticketLess(attribute)
	if err != nil {
		return nil, err
	}

	cur, err := m.store.FindObjects(ctx, ticketBucket, storage.Query{
		Filter: func(r storage.Record) bool {
			t, err := decodeTicket(r.Value)
			return err == nil && t.ServerUUID == p.ServerUUID
		},
		SortFunc: less,
		Order:    sortOrder,
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
	if err != nil {
		return nil, storeUnavailable(err)
	}
	defer cur.Close()

	var out []Ticket
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, storeUnavailable(err)
		}
		if !ok {
			break
		}
		t, err := decodeTicket(rec.Value)
		if err != nil {
			continue
		}
		t.ETag = rec.ETag
		out = append(out, t)
	}
	return out, nil
}

func ticketLess(attribute string) (func(a, b storage.Record) bool, error) {
	field := func(r storage.Record) (Ticket, error) { return decodeTicket(r.Value) }
	switch attribute {
	case "created_at":
		return func(a, b storage.Record) bool {
			ta, _ := field(a)
			tb, _ := field(b)
			return ta.before(tb)
		}, nil
	case "updated_at":
		return func(a, b storage.Record) bool {
			ta, _ := field(a)
			tb, _ := field(b)
			if !ta.UpdatedAt.Equal(tb.UpdatedAt) {
				return ta.UpdatedAt.Before(tb.UpdatedAt)
			}
			return ta.UUID < tb.UUID
		}, nil
	case "expires_at":
		return func(a, b storage.Record) bool {
			ta, _ := field(a)
			tb, _ := field(b)
			if !ta.ExpiresAt.Equal(tb.ExpiresAt) {
				return ta.ExpiresAt.Before(tb.ExpiresAt)
			}
			return ta.UUID < tb.UUID
		}, nil
	case "uuid":
		return func(a, b storage.Record) bool {
			ta, _ := field(a)
			tb, _ := field(b)
			return ta.UUID < tb.UUID
		}, nil
	default:
		return nil, invalidArgument("unknown sort attribute: " + attribute)
	}
}

// queueUUIDs returns the uuids of the non-terminal tickets sharing key,
// ordered by (created_at, uuid).
func (m *Manager) queueUUIDs(ctx context.Context, key queueKey) ([]string, error) {
	cur, err := m.store.FindObjects(ctx, ticketBucket, storage.Query{
		Filter: func(r storage.Record) bool {
			t, err := decodeTicket(r.Value)
			if err != nil {
				return false
			}
			return t.queueKey() == key && !t.Status.Terminal()
		},
		SortFunc: func(a, b storage.Record) bool {
			ta, _ := decodeTicket(a.Value)
			tb, _ := decodeTicket(b.Value)
			return ta.before(tb)
		},
	})
	if err != nil {
		return nil, storeUnavailable(err)
	}
	defer cur.Close()

	var out []string
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, storeUnavailable(err)
		}
		if !ok {
			break
		}
		t, err := decodeTicket(rec.Value)
		if err != nil {
			continue
		}
		out = append(out, t.UUID)
	}
	return out, nil
}
