package ratchet

import "time"

// findSkippedKey looks up and removes a skipped key matching (dh, n),
// returning the remaining slice either way. Decrypt consults this before
// attempting any DH step or chain advance (spec.md §4.6 step 2).
func findSkippedKey(keys []SkippedKey, dh [32]byte, n uint32) (SkippedKey, []SkippedKey, bool) {
	for i, k := range keys {
		if k.DH == dh && k.N == n {
			found := k
			remaining := make([]SkippedKey, 0, len(keys)-1)
			remaining = append(remaining, keys[:i]...)
			remaining = append(remaining, keys[i+1:]...)
			return found, remaining, true
		}
	}
	return SkippedKey{}, keys, false
}

// addSkippedKey appends a new skipped key, evicting the oldest entries
// (by CreatedAt) once the count exceeds maxStored — the FIFO-by-createdAt
// policy of spec.md §9.
func addSkippedKey(keys []SkippedKey, k SkippedKey, maxStored int) []SkippedKey {
	keys = append(keys, k)
	if maxStored <= 0 || len(keys) <= maxStored {
		return keys
	}

	// evict the oldest entries in place; the set is small (bounded by
	// maxStored) so a linear scan per eviction is fine.
	excess := len(keys) - maxStored
	for ; excess > 0; excess-- {
		oldest := 0
		for i := 1; i < len(keys); i++ {
			if keys[i].CreatedAt.Before(keys[oldest].CreatedAt) {
				oldest = i
			}
		}
		keys = append(keys[:oldest], keys[oldest+1:]...)
	}
	return keys
}

// pruneExpiredSkippedKeys drops entries older than maxAge. Pruning is
// idempotent and may be run inline on every Decrypt (spec.md §5).
func pruneExpiredSkippedKeys(keys []SkippedKey, now time.Time, maxAge time.Duration) []SkippedKey {
	if maxAge <= 0 {
		return keys
	}
	fresh := make([]SkippedKey, 0, len(keys))
	for _, k := range keys {
		if now.Sub(k.CreatedAt) <= maxAge {
			fresh = append(fresh, k)
		}
	}
	return fresh
}
