package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("fresh entry: %q %v %v", val, ok, err)
	}

	// An entry whose deadline has passed is treated as absent.
	now = now.Add(time.Minute)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expired entry still visible")
	}
}

type flakyStore struct {
	entries map[string]string
	broken  bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.broken {
		return "", false, ErrUnavailable
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.broken {
		return ErrUnavailable
	}
	s.entries[key] = value
	return nil
}

func TestValidationReadThrough(t *testing.T) {
	store := &flakyStore{entries: make(map[string]string)}
	v := NewValidation(store, 0, 0)
	ctx := context.Background()

	lookups := 0
	lookup := func(context.Context) (bool, error) {
		lookups++
		return true, nil
	}

	valid, err := v.IsValidForOrder(ctx, "u-1", lookup)
	if err != nil || !valid {
		t.Fatalf("first call: %v %v", valid, err)
	}
	if lookups != 1 {
		t.Fatalf("expected one authoritative lookup, got %d", lookups)
	}

	// Within TTL the cached verdict answers; the directory is not consulted.
	valid, err = v.IsValidForOrder(ctx, "u-1", lookup)
	if err != nil || !valid {
		t.Fatalf("second call: %v %v", valid, err)
	}
	if lookups != 1 {
		t.Fatalf("cache hit still invoked lookup, count %d", lookups)
	}
}

func TestValidationCacheFailureFallsThrough(t *testing.T) {
	store := &flakyStore{entries: make(map[string]string), broken: true}
	v := NewValidation(store, 0, 0)

	lookups := 0
	valid, err := v.IsValidForOrder(context.Background(), "u-1", func(context.Context) (bool, error) {
		lookups++
		return true, nil
	})
	if err != nil || !valid {
		t.Fatalf("broken cache must not fail the call: %v %v", valid, err)
	}
	if lookups != 1 {
		t.Fatalf("expected authoritative lookup, got %d", lookups)
	}
}

func TestValidationLookupErrorPropagates(t *testing.T) {
	v := NewValidation(NewMemory(), 0, 0)
	boom := errors.New("directory down")

	_, err := v.IsValidForOrder(context.Background(), "u-1", func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestWarmAfterCreateSeedsVerdict(t *testing.T) {
	store := &flakyStore{entries: make(map[string]string)}
	v := NewValidation(store, 0, 0)
	ctx := context.Background()

	v.WarmAfterCreate(ctx, "u-1", false)

	valid, err := v.IsValidForOrder(ctx, "u-1", func(context.Context) (bool, error) {
		t.Fatal("warm entry should answer without a lookup")
		return false, nil
	})
	if err != nil || valid {
		t.Fatalf("warm verdict: %v %v", valid, err)
	}
}
