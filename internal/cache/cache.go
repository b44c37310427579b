// Package cache stores upstream activity-detail responses keyed by activity
// id. The cache is advisory only: correctness never depends on a hit, it just
// reduces upstream call volume.
package cache

import "context"

// Cache is the response cache consumed by the sync engine and the webhook
// handler. Payloads are immutable upstream snapshots, so writes use
// last-writer-wins semantics.
type Cache interface {
	// Get returns the cached payload, or ok=false when absent or expired.
	Get(ctx context.Context, activityID int64) ([]byte, bool)
	// Put stores a payload with the configured TTL.
	Put(ctx context.Context, activityID int64, payload []byte)
	// Invalidate removes one entry, used after an upstream update webhook.
	Invalidate(ctx context.Context, activityID int64)
	// Sweep removes all expired entries and returns the count removed. It is
	// run periodically, not inline with requests.
	Sweep(ctx context.Context) int
}
