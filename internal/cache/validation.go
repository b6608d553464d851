package cache

import (
	"context"
	"time"

	"lattice.dev/internal/obs"
)

const (
	defaultPostCreateTTL = 24 * time.Hour
	defaultPostLookupTTL = 30 * time.Minute

	validationKeyPrefix = "user:valid:"
)

// Validation is the read-through cache mapping a user id to the
// valid-for-orders predicate. Entries written right after user creation get a
// long TTL; entries written after an authoritative lookup get a short one.
// The cache is eventually consistent; a status change shows up once the entry
// ages out.
type Validation struct {
	store         Store
	postCreateTTL time.Duration
	postLookupTTL time.Duration
}

// NewValidation builds the read-through cache. Zero TTLs fall back to the
// defaults (24h post-create, 30m post-lookup).
func NewValidation(store Store, postCreateTTL, postLookupTTL time.Duration) *Validation {
	if postCreateTTL <= 0 {
		postCreateTTL = defaultPostCreateTTL
	}
	if postLookupTTL <= 0 {
		postLookupTTL = defaultPostLookupTTL
	}
	return &Validation{store: store, postCreateTTL: postCreateTTL, postLookupTTL: postLookupTTL}
}

// IsValidForOrder returns the cached verdict when fresh, otherwise performs
// the single authoritative lookup, caches the result and returns it. Cache
// errors are logged and treated as misses.
func (v *Validation) IsValidForOrder(ctx context.Context, userID string, lookup func(context.Context) (bool, error)) (bool, error) {
	key := validationKeyPrefix + userID

	if v.store != nil {
		if raw, ok, err := v.store.Get(ctx, key); err != nil {
			obs.Event(ctx, "warn", "validation cache read failed", map[string]any{"user_id": userID, "error": err.Error()})
		} else if ok {
			return raw == "1", nil
		}
	}

	valid, err := lookup(ctx)
	if err != nil {
		return false, err
	}

	if v.store != nil {
		if err := v.store.Set(ctx, key, boolValue(valid), v.postLookupTTL); err != nil {
			obs.Event(ctx, "warn", "validation cache write failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
	return valid, nil
}

// WarmAfterCreate seeds the cache right after a user is created, with the
// long post-creation TTL. Failures are logged and ignored.
func (v *Validation) WarmAfterCreate(ctx context.Context, userID string, valid bool) {
	if v.store == nil {
		return
	}
	if err := v.store.Set(ctx, validationKeyPrefix+userID, boolValue(valid), v.postCreateTTL); err != nil {
		obs.Event(ctx, "warn", "validation cache warm failed", map[string]any{"user_id": userID, "error": err.Error()})
	}
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
