package memory

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/waitlist/internal/storage"
)

func TestPutCASCreateThenReplace(t *testing.T) {
	store := New()
	ctx := context.Background()

	etag, err := store.Put(ctx, "tickets", "alpha", []byte(`{"v":1}`), "")
	if err != nil {
		t.Fatalf("put create: %v", err)
	}
	if etag == "" {
		t.Fatal("expected non-empty etag")
	}

	if _, err := store.Put(ctx, "tickets", "alpha", []byte(`{"v":2}`), ""); !errors.Is(err, storage.ErrCASMismatch) {
		t.Fatalf("expected cas mismatch on re-create, got %v", err)
	}

	newEtag, err := store.Put(ctx, "tickets", "alpha", []byte(`{"v":2}`), etag)
	if err != nil {
		t.Fatalf("put replace: %v", err)
	}
	if newEtag == etag {
		t.Fatal("expected etag to change on replace")
	}

	if _, err := store.Put(ctx, "tickets", "alpha", []byte(`{"v":3}`), etag); !errors.Is(err, storage.ErrCASMismatch) {
		t.Fatalf("expected cas mismatch on stale etag, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := New()
	if _, err := store.Get(context.Background(), "tickets", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCAS(t *testing.T) {
	store := New()
	ctx := context.Background()
	etag, _ := store.Put(ctx, "tickets", "alpha", []byte("x"), "")

	if err := store.Delete(ctx, "tickets", "alpha", "wrong"); !errors.Is(err, storage.ErrCASMismatch) {
		t.Fatalf("expected cas mismatch, got %v", err)
	}
	if err := store.Delete(ctx, "tickets", "alpha", etag); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "tickets", "alpha", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on double delete, got %v", err)
	}
}

func TestFindObjectsFilterSortLimitOffset(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"c", "a", "b", "d"} {
		if _, err := store.Put(ctx, "tickets", key, []byte(key), ""); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	cur, err := store.FindObjects(ctx, "tickets", storage.Query{
		Filter: func(r storage.Record) bool { return r.Key != "d" },
		Limit:  2,
		Offset: 1,
	})
	if err != nil {
		t.Fatalf("find objects: %v", err)
	}
	defer cur.Close()

	var keys []string
	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, rec.Key)
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestFindObjectsDescending(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		store.Put(ctx, "tickets", key, []byte(key), "")
	}
	cur, err := store.FindObjects(ctx, "tickets", storage.Query{Order: storage.SortDescending})
	if err != nil {
		t.Fatalf("find objects: %v", err)
	}
	defer cur.Close()
	rec, ok, err := cur.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("next: %v %v", ok, err)
	}
	if rec.Key != "c" {
		t.Fatalf("expected descending order to start at c, got %s", rec.Key)
	}
}
