// Package quota contains the pure byte-accounting rules for tenant storage.
// The authoritative, concurrency-safe counter lives in the database (the
// object-insert transaction performs a guarded UPDATE on tenants); the
// functions here cover tier limits and the advisory pre-write check.
package quota

const gib = 1024 * 1024 * 1024

// Tier byte limits: 0 = free (1 GiB), 1 = creator (10 GiB), 2 = power (100 GiB).
var tierLimits = map[int]int64{
	0: 1 * gib,
	1: 10 * gib,
	2: 100 * gib,
}

// Limit returns the byte limit for a quota tier. Unknown tiers fall back to
// the free tier.
func Limit(tier int) int64 {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[0]
}

// CanStore reports whether a tenant with the given committed usage may store
// incoming additional bytes under the given limit.
func CanStore(used, limit, incoming int64) bool {
	if incoming < 0 {
		incoming = 0
	}
	return used+incoming <= limit
}

// Release returns the usage counter after crediting back size bytes,
// clamped at zero so a bookkeeping mismatch can never wrap negative.
func Release(used, size int64) int64 {
	if size < 0 {
		size = 0
	}
	if used-size < 0 {
		return 0
	}
	return used - size
}
