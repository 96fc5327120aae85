// Package storage defines the abstract transactional key-value contract the
// waitlist is built on. The external KV store is an out-of-scope
// collaborator; this package only fixes the shape every backend must
// satisfy plus a reference in-memory implementation used for tests and
// local runs.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested key is absent from the bucket.
var ErrNotFound = errors.New("storage: not found")

// ErrCASMismatch indicates a Put/Delete's expected etag did not match the
// stored value's current etag (optimistic-concurrency conflict).
var ErrCASMismatch = errors.New("storage: cas mismatch")

// Record pairs a stored value with its bucket-assigned etag.
type Record struct {
	Key   string
	Value []byte
	ETag  string
}

// SortOrder controls FindObjects ordering.
type SortOrder int

const (
	// SortAscending orders results ascending (the default).
	SortAscending SortOrder = iota
	// SortDescending orders results descending.
	SortDescending
)

// Query configures FindObjects scanning.
type Query struct {
	// Filter, when non-nil, is applied to every candidate Record; only
	// records for which Filter returns true are included.
	Filter func(Record) bool
	// Sort names the field used to order results. Backends interpret this
	// against the decoded value; the reference memory backend ignores Sort
	// and orders by SortFunc (or by key when SortFunc is nil).
	Sort string
	// SortFunc orders two candidate records for backends that can't infer
	// ordering from Sort alone (e.g. sorting by a field inside an encoded
	// value). When nil, backends fall back to key order.
	SortFunc func(a, b Record) bool
	Order    SortOrder
	// Limit caps the number of records returned. Zero means unbounded.
	Limit int
	// Offset skips this many matching records before collecting results.
	Offset int
}

// Cursor streams FindObjects results one record at a time so callers never
// need to materialize an entire bucket scan at once.
type Cursor interface {
	// Next advances the cursor and reports whether a record was produced.
	Next(ctx context.Context) (Record, bool, error)
	Close() error
}

// Backend is the abstract transactional key-value store the waitlist
// persists tickets in. Put enforces optimistic concurrency via etag: an
// empty expectedETag means "create, fail if present"; a non-empty
// expectedETag means "replace, fail with ErrCASMismatch if the current etag
// differs" (including if the key is now absent, which surfaces as
// ErrNotFound).
type Backend interface {
	Get(ctx context.Context, bucket, key string) (Record, error)
	Put(ctx context.Context, bucket, key string, value []byte, expectedETag string) (newETag string, err error)
	Delete(ctx context.Context, bucket, key string, expectedETag string) error
	FindObjects(ctx context.Context, bucket string, q Query) (Cursor, error)
}
