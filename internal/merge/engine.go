package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hudacode/prayerlog/internal/cache"
	"github.com/hudacode/prayerlog/internal/record"
	"github.com/hudacode/prayerlog/internal/remote"
)

// Engine reconciles the local cache with the remote store.
//
// All state is instance fields; construct one per process and pass it by
// reference to whatever needs it.
type Engine struct {
	cache  *cache.Cache
	client *remote.Client
	prober *remote.Prober
	logger *log.Logger
}

// NewEngine creates a merge engine.
// If logger is nil, a default logger writing to stderr is used.
func NewEngine(c *cache.Cache, client *remote.Client, prober *remote.Prober, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[merge] ", log.LstdFlags)
	}
	return &Engine{
		cache:  c,
		client: client,
		prober: prober,
		logger: logger,
	}
}

// Reconcile converges local and remote state and returns the converged
// record set.
//
// The steps:
//  1. Effective watermark = max(local, remote); the remote value is
//     authoritative when reachable and is persisted locally so it
//     survives across restarts.
//  2. Records at or below the watermark are dropped from both sides.
//  3. Per natural key, the strictly greater timestamp wins; ties keep
//     the remote copy.
//  4. Locally-newer or local-only winners are pushed upstream, one
//     upsert per key; a failed push never aborts the others.
//  5. The converged set is persisted back into the cache.
//
// An unreachable remote store degrades to the local deduplicated view
// without error; sync is advisory, not a precondition for usable state.
func (e *Engine) Reconcile(ctx context.Context) ([]record.AttendanceRecord, error) {
	localWM, err := e.cache.ClearedAt()
	if err != nil {
		return nil, err
	}

	local, err := e.cache.GetAllContext(ctx)
	if err != nil {
		return nil, err
	}

	if !e.prober.IsAvailable(ctx) {
		return e.localView(local, localWM)
	}

	effective := localWM
	if remoteWM, err := e.client.ClearedAt(ctx); err != nil {
		e.logger.Printf("Watermark fetch failed, continuing offline: %v", err)
		return e.localView(local, localWM)
	} else if remoteWM.After(effective) {
		effective = remoteWM
	}

	remoteRecs, err := e.client.FetchAttendance(ctx)
	if err != nil {
		e.logger.Printf("Attendance fetch failed, continuing offline: %v", err)
		return e.localView(local, localWM)
	}

	// The effective watermark must survive locally even if the rest of
	// this cycle fails.
	if effective.After(localWM) {
		if err := e.cache.SetClearedAt(effective); err != nil {
			return nil, err
		}
	}

	local = record.FilterAfter(local, effective)
	remoteRecs = record.FilterAfter(remoteRecs, effective)

	converged, toPush := mergeSets(local, remoteRecs)

	// Pushes are per-key on purpose: one bad record or dropped request
	// must not strand the rest of the local changes.
	pushed := 0
	for _, rec := range toPush {
		if _, err := e.client.UpsertAttendance(ctx, rec); err != nil {
			e.logger.Printf("Warning: failed to push record %s: %v", rec.ID, err)
			continue
		}
		pushed++
	}
	if len(toPush) > 0 {
		e.logger.Printf("Pushed %d/%d local records upstream", pushed, len(toPush))
	}

	if err := e.cache.PutBatchContext(ctx, converged); err != nil {
		return nil, fmt.Errorf("failed to persist converged records: %w", err)
	}
	if err := e.cache.PruneAtOrBefore(effective); err != nil {
		return nil, err
	}

	return converged, nil
}

// localView is the degraded result when the remote store is unreachable:
// the deduplicated local set above the last known watermark.
func (e *Engine) localView(local []record.AttendanceRecord, watermark time.Time) ([]record.AttendanceRecord, error) {
	return record.Dedup(record.FilterAfter(local, watermark)), nil
}

// mergeSets resolves each natural key across both sides. It returns the
// converged set and the subset that must be pushed upstream: winners that
// originated locally and are absent or older on the remote side.
func mergeSets(local, remoteRecs []record.AttendanceRecord) (converged, toPush []record.AttendanceRecord) {
	remoteByKey := make(map[string]record.AttendanceRecord, len(remoteRecs))
	for _, rec := range remoteRecs {
		remoteByKey[rec.Key()] = rec
	}

	chosen := make(map[string]record.AttendanceRecord, len(remoteRecs)+len(local))
	localWins := make(map[string]bool)

	for key, rec := range remoteByKey {
		chosen[key] = rec
	}
	for _, rec := range local {
		key := rec.Key()
		remoteCopy, onRemote := remoteByKey[key]
		if !onRemote {
			chosen[key] = rec
			localWins[key] = true
			continue
		}
		// Strictly greater only: ties keep the remote copy, the side
		// every other device observes.
		if rec.Supersedes(&remoteCopy) {
			chosen[key] = rec
			localWins[key] = true
		}
	}

	for key, rec := range chosen {
		converged = append(converged, rec)
		if localWins[key] {
			toPush = append(toPush, rec)
		}
	}

	converged = record.Dedup(converged)
	toPush = record.Dedup(toPush)
	return converged, toPush
}

// Push sends one freshly written record upstream, best-effort. The
// record is already durable locally; a failed push is logged by the
// caller and retried by the next reconcile.
func (e *Engine) Push(ctx context.Context, rec record.AttendanceRecord) error {
	if !e.prober.IsAvailable(ctx) {
		return fmt.Errorf("remote store unavailable")
	}
	if _, err := e.client.UpsertAttendance(ctx, rec); err != nil {
		return err
	}
	return nil
}
