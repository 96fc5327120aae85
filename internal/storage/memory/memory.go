// Package memory implements storage.Backend in-process; intended for tests
// and local runs of waitlistd (Config.Store == "mem://").
package memory

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/waitlist/internal/storage"
	"pkt.systems/waitlist/internal/uuidv7"
)

type entry struct {
	value []byte
	etag  string
}

// Store is an in-memory storage.Backend. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*entry
}

// New returns a ready to use in-memory store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string]*entry)}
}

func (s *Store) bucket(name string) map[string]*entry {
	b, ok := s.buckets[name]
	if !ok {
		b = make(map[string]*entry)
		s.buckets[name] = b
	}
	return b
}

// Get returns the record stored for key.
func (s *Store) Get(_ context.Context, bucket, key string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	e, ok := b[key]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return storage.Record{Key: key, Value: append([]byte(nil), e.value...), ETag: e.etag}, nil
}

// Put writes value for key, enforcing CAS semantics against expectedETag.
// An empty expectedETag means "create only"; a non-empty one means
// "replace only if the current etag matches".
func (s *Store) Put(_ context.Context, bucket, key string, value []byte, expectedETag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(bucket)
	existing, exists := b[key]
	if expectedETag == "" {
		if exists {
			return "", storage.ErrCASMismatch
		}
	} else {
		if !exists {
			return "", storage.ErrNotFound
		}
		if existing.etag != expectedETag {
			return "", storage.ErrCASMismatch
		}
	}
	etag := uuidv7.NewString()
	b[key] = &entry{value: append([]byte(nil), value...), etag: etag}
	return etag, nil
}

// Delete removes key from bucket, enforcing CAS when expectedETag is set.
func (s *Store) Delete(_ context.Context, bucket, key string, expectedETag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return storage.ErrNotFound
	}
	e, ok := b[key]
	if !ok {
		return storage.ErrNotFound
	}
	if expectedETag != "" && e.etag != expectedETag {
		return storage.ErrCASMismatch
	}
	delete(b, key)
	return nil
}

// FindObjects scans bucket, applying q.Filter, q.SortFunc (or key order when
// nil), q.Offset, and q.Limit, and returns the matches as a cursor over a
// point-in-time snapshot.
func (s *Store) FindObjects(_ context.Context, bucket string, q storage.Query) (storage.Cursor, error) {
	s.mu.RLock()
	b := s.buckets[bucket]
	records := make([]storage.Record, 0, len(b))
	for key, e := range b {
		rec := storage.Record{Key: key, Value: append([]byte(nil), e.value...), ETag: e.etag}
		if q.Filter == nil || q.Filter(rec) {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	less := q.SortFunc
	if less == nil {
		less = func(a, b storage.Record) bool { return a.Key < b.Key }
	}
	sort.SliceStable(records, func(i, j int) bool {
		if q.Order == storage.SortDescending {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})

	if q.Offset > 0 {
		if q.Offset >= len(records) {
			records = nil
		} else {
			records = records[q.Offset:]
		}
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return &sliceCursor{records: records}, nil
}

type sliceCursor struct {
	records []storage.Record
	pos     int
}

func (c *sliceCursor) Next(ctx context.Context) (storage.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, false, err
	}
	if c.pos >= len(c.records) {
		return storage.Record{}, false, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *sliceCursor) Close() error { return nil }
