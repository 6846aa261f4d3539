// Package merge reconciles the device-local cache with the remote store.
//
// The engine converges both sides under last-write-wins-by-timestamp,
// per natural key, with the remote copy winning ties. Records at or
// below the clear watermark are treated as deleted and never resurrected,
// no matter which side still holds a copy.
//
// Synchronization is advisory: when the remote store is unreachable the
// engine degrades to the local deduplicated view and reports no error.
// The one exception is the clear coordinator's remote wipe, which is an
// explicit destructive request and must surface its failure.
//
// Triggers are the caller's concern: reconcile on startup when online,
// on an offline-to-online transition, and on live update events. The
// engine itself never runs on a timer.
package merge
