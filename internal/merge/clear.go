package merge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hudacode/prayerlog/internal/cache"
	"github.com/hudacode/prayerlog/internal/remote"
)

// ClearState tracks where a destructive clear stands.
type ClearState int

const (
	// StateIdle means no clear is in progress. The watermark from the
	// last completed clear still applies; Idle doesn't mean unprotected.
	StateIdle ClearState = iota

	// StateProtected means the watermark has been raised but the remote
	// wipe hasn't been verified. A crash here is safe: the watermark is
	// durable, so merges keep filtering old data.
	StateProtected

	// StateVerifying means the remote wipe succeeded and the coordinator
	// is re-reading the remote store to confirm it's empty.
	StateVerifying
)

// String returns a human-readable state name.
func (s ClearState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProtected:
		return "protected"
	case StateVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// ClearResult reports what a clear accomplished.
type ClearResult struct {
	// RemovedLocally is how many records the local wipe deleted.
	RemovedLocally int

	// RemovedRemotely is the server's count of deleted records.
	RemovedRemotely int

	// ClearedAt is the canonical watermark, server-assigned.
	ClearedAt time.Time

	// Warning is set when verification could not confirm an empty remote
	// store. The wipe itself registered; this is not a failure.
	Warning string
}

// Coordinator executes the destructive "wipe all attendance" operation.
//
// The ordering is the whole point: the watermark is raised durably BEFORE
// anything is deleted, so a merge racing with the clear cannot write old
// data back after the wipe lands. Whichever side of the race it lands
// on, its records sit at or below the watermark and get filtered.
type Coordinator struct {
	cache  *cache.Cache
	client *remote.Client
	prober *remote.Prober
	logger *log.Logger

	mu    sync.Mutex
	state ClearState
}

// NewCoordinator creates a clear coordinator.
// If logger is nil, a default logger writing to stderr is used.
func NewCoordinator(c *cache.Cache, client *remote.Client, prober *remote.Prober, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[clear] ", log.LstdFlags)
	}
	return &Coordinator{
		cache:  c,
		client: client,
		prober: prober,
		logger: logger,
	}
}

// State returns the coordinator's current state.
func (co *Coordinator) State() ClearState {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// Clear wipes all attendance records locally and remotely.
//
// Failure semantics differ from the rest of the sync layer: the user
// explicitly asked for destruction, so a failed remote wipe is a hard
// error, not a silent degrade. The watermark stays raised either way,
// so the operation is retryable and no stale data can leak back while
// it is pending.
//
// Verification is best-effort: if the post-wipe read shows residual
// records or fails outright, the result carries a warning and the
// coordinator stays in StateProtected.
func (co *Coordinator) Clear(ctx context.Context) (*ClearResult, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	// Raise the watermark first, durably. Everything after this point
	// is protected even across a crash.
	watermark := time.Now()
	if err := co.cache.SetClearedAt(watermark); err != nil {
		return nil, fmt.Errorf("failed to raise watermark: %w", err)
	}
	co.state = StateProtected
	co.logger.Printf("Protection raised at %s", watermark.Format(time.RFC3339))

	localCount, err := co.cache.Count()
	if err != nil {
		return nil, err
	}
	if err := co.cache.Wipe(); err != nil {
		return nil, fmt.Errorf("failed to wipe local cache: %w", err)
	}

	remoteCount, serverWM, err := co.client.ClearAttendance(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote wipe failed (protection stays raised, retry is safe): %w", err)
	}

	// The server's watermark is canonical; ours was only a lower bound.
	if serverWM.After(watermark) {
		if err := co.cache.SetClearedAt(serverWM); err != nil {
			return nil, fmt.Errorf("failed to adopt server watermark: %w", err)
		}
	}

	// The remote store just changed materially; force a fresh probe.
	co.prober.Reset()

	result := &ClearResult{
		RemovedLocally:  localCount,
		RemovedRemotely: remoteCount,
		ClearedAt:       serverWM,
	}

	co.state = StateVerifying
	remaining, err := co.client.FetchAttendance(ctx)
	if err != nil {
		co.state = StateProtected
		result.Warning = fmt.Sprintf("wipe registered but verification failed: %v", err)
		co.logger.Printf("Warning: %s", result.Warning)
		return result, nil
	}
	if len(remaining) > 0 {
		co.state = StateProtected
		result.Warning = fmt.Sprintf("wipe registered but %d records still visible", len(remaining))
		co.logger.Printf("Warning: %s", result.Warning)
		return result, nil
	}

	co.state = StateIdle
	co.logger.Printf("Clear complete: %d local, %d remote records removed", localCount, remoteCount)
	return result, nil
}

// ResetProtection forcibly drops the watermark to zero and returns to
// StateIdle. Administrative recovery only; nothing calls this
// automatically.
func (co *Coordinator) ResetProtection() error {
	co.mu.Lock()
	defer co.mu.Unlock()

	if err := co.cache.ResetClearedAt(); err != nil {
		return err
	}
	co.state = StateIdle
	co.logger.Println("Protection reset; watermark dropped to zero")
	return nil
}
