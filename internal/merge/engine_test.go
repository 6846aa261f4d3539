package merge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hudacode/prayerlog/internal/cache"
	"github.com/hudacode/prayerlog/internal/record"
	"github.com/hudacode/prayerlog/internal/remote"
)

// fakeRemote is an in-memory stand-in for the attendance server, covering
// the endpoints the sync layer touches.
type fakeRemote struct {
	mu        sync.Mutex
	records   map[string]record.AttendanceRecord
	clearedAt int64 // unix millis
	upserts   int

	failClear     bool
	residualAfter []record.AttendanceRecord // returned by list after a clear
	cleared       bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]record.AttendanceRecord)}
}

func (f *fakeRemote) put(rec record.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.Key()] = rec
}

func (f *fakeRemote) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /attendance", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []record.AttendanceRecord{}
		if f.cleared && f.residualAfter != nil {
			out = f.residualAfter
		} else {
			for _, rec := range f.records {
				out = append(out, rec)
			}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /attendance/cleared-at", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int64{"clearedAt": f.clearedAt})
	})

	mux.HandleFunc("POST /attendance", func(w http.ResponseWriter, r *http.Request) {
		var rec record.AttendanceRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.upserts++
		if existing, ok := f.records[rec.Key()]; !ok || rec.Timestamp.After(existing.Timestamp) {
			f.records[rec.Key()] = rec
		}
		json.NewEncoder(w).Encode(f.records[rec.Key()])
	})

	mux.HandleFunc("DELETE /attendance", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failClear {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"message": "disk full"})
			return
		}
		count := len(f.records)
		f.records = make(map[string]record.AttendanceRecord)
		f.clearedAt = time.Now().UnixMilli()
		f.cleared = true
		json.NewEncoder(w).Encode(map[string]interface{}{"count": count, "clearedAt": f.clearedAt})
	})

	return mux
}

// syncStack builds a cache, client, prober, and engine wired to a fake
// remote server.
func syncStack(t *testing.T, fake *fakeRemote) (*cache.Cache, *remote.Client, *remote.Prober, *Engine) {
	t.Helper()

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	client := remote.NewClient(srv.URL, 0, nil)
	prober := remote.NewProber(client, time.Minute, time.Second, nil)
	return c, client, prober, NewEngine(c, client, prober, nil)
}

func testRecord(studentID, date string, activity record.Activity, ts time.Time) record.AttendanceRecord {
	rec := record.AttendanceRecord{
		StudentID: studentID,
		Activity:  activity,
		Date:      date,
		Status:    record.StatusPresent,
		Timestamp: ts,
	}
	rec.SetDefaults()
	return rec
}

func findByKey(t *testing.T, recs []record.AttendanceRecord, key string) record.AttendanceRecord {
	t.Helper()
	for _, rec := range recs {
		if rec.Key() == key {
			return rec
		}
	}
	t.Fatalf("no record with key %s in %+v", key, recs)
	return record.AttendanceRecord{}
}

func TestReconcile_Converges(t *testing.T) {
	fake := newFakeRemote()

	base := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)

	// Remote holds an older copy of s-1 and a record the local side lacks.
	remoteOld := testRecord("s-1", "2026-08-30", record.ActivityFajr, base)
	remoteOld.Status = record.StatusAbsent
	fake.put(remoteOld)
	fake.put(testRecord("s-2", "2026-08-30", record.ActivityFajr, base))

	c, _, _, engine := syncStack(t, fake)

	// Local holds the newer copy of s-1 and a record the remote lacks.
	localNew := testRecord("s-1", "2026-08-30", record.ActivityFajr, base.Add(time.Minute))
	localOnly := testRecord("s-3", "2026-08-30", record.ActivityFajr, base)
	if err := c.PutBatch([]record.AttendanceRecord{localNew, localOnly}); err != nil {
		t.Fatalf("PutBatch() failed: %v", err)
	}

	converged, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(converged) != 3 {
		t.Fatalf("converged = %d records, want 3", len(converged))
	}
	if got := findByKey(t, converged, localNew.Key()); got.Status != record.StatusPresent {
		t.Errorf("s-1 status = %s, want the newer local copy", got.Status)
	}

	// The local winners reached the remote side.
	fake.mu.Lock()
	if len(fake.records) != 3 {
		t.Errorf("remote = %d records after reconcile, want 3", len(fake.records))
	}
	if got := fake.records[localNew.Key()]; got.Status != record.StatusPresent {
		t.Errorf("remote s-1 status = %s, want the pushed newer copy", got.Status)
	}
	fake.mu.Unlock()

	// And the converged set is durable locally.
	cached, err := c.GetAll()
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(cached) != 3 {
		t.Errorf("cache = %d records after reconcile, want 3", len(cached))
	}
}

func TestReconcile_TieKeepsRemote(t *testing.T) {
	fake := newFakeRemote()

	ts := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	remoteCopy := testRecord("s-1", "2026-08-30", record.ActivityFajr, ts)
	remoteCopy.Status = record.StatusAbsent
	fake.put(remoteCopy)

	c, _, _, engine := syncStack(t, fake)

	localCopy := testRecord("s-1", "2026-08-30", record.ActivityFajr, ts)
	if err := c.Put(&localCopy); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	converged, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(converged) != 1 {
		t.Fatalf("converged = %d records, want 1", len(converged))
	}
	if converged[0].Status != record.StatusAbsent {
		t.Errorf("tie resolved to %s, want the remote copy (absent)", converged[0].Status)
	}

	// No push for a tie.
	fake.mu.Lock()
	if fake.upserts != 0 {
		t.Errorf("remote received %d upserts, want 0", fake.upserts)
	}
	fake.mu.Unlock()
}

func TestReconcile_OfflineReturnsLocalView(t *testing.T) {
	// A server that exists just long enough to get a dead address.
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	defer c.Close()
	if err := c.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	client := remote.NewClient(deadURL, 0, nil)
	prober := remote.NewProber(client, time.Minute, 200*time.Millisecond, nil)
	engine := NewEngine(c, client, prober, nil)

	rec := testRecord("s-1", "2026-08-30", record.ActivityFajr, time.Now())
	if err := c.Put(&rec); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	converged, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() offline failed: %v", err)
	}
	if len(converged) != 1 || converged[0].StudentID != "s-1" {
		t.Errorf("offline view = %+v, want the local record", converged)
	}
}

// A device that missed a clear must drop its stale records when it next
// reconciles, and adopt the server's watermark.
func TestReconcile_AdoptsRemoteWatermark(t *testing.T) {
	fake := newFakeRemote()

	watermark := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fake.clearedAt = watermark.UnixMilli()

	fresh := testRecord("s-2", "2026-08-31", record.ActivityFajr, watermark.Add(time.Hour))
	fake.put(fresh)

	c, _, _, engine := syncStack(t, fake)

	// Local record written before the clear happened elsewhere.
	stale := testRecord("s-1", "2026-08-29", record.ActivityFajr, watermark.Add(-time.Hour))
	if err := c.Put(&stale); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	converged, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(converged) != 1 || converged[0].StudentID != "s-2" {
		t.Errorf("converged = %+v, want only the post-clear record", converged)
	}

	// The stale record must not have been pushed upstream.
	fake.mu.Lock()
	if _, ok := fake.records[stale.Key()]; ok {
		t.Error("stale record resurrected on the remote side")
	}
	fake.mu.Unlock()

	// Watermark persisted locally, stale record pruned from the cache.
	got, err := c.ClearedAt()
	if err != nil {
		t.Fatalf("ClearedAt() failed: %v", err)
	}
	if got.UnixMilli() != watermark.UnixMilli() {
		t.Errorf("local watermark = %v, want %v", got, watermark)
	}
	cached, _ := c.GetAll()
	if len(cached) != 1 || cached[0].StudentID != "s-2" {
		t.Errorf("cache = %+v, want only the post-clear record", cached)
	}
}

func TestReconcile_LocalWatermarkFiltersRemote(t *testing.T) {
	fake := newFakeRemote()

	watermark := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	// Remote still holds a record from before this device's clear and has
	// a lower watermark itself.
	fake.put(testRecord("s-1", "2026-08-29", record.ActivityFajr, watermark.Add(-time.Hour)))

	c, _, _, engine := syncStack(t, fake)
	if err := c.SetClearedAt(watermark); err != nil {
		t.Fatalf("SetClearedAt() failed: %v", err)
	}

	converged, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(converged) != 0 {
		t.Errorf("converged = %+v, want nothing below the local watermark", converged)
	}
}

func TestPush(t *testing.T) {
	fake := newFakeRemote()
	_, _, _, engine := syncStack(t, fake)

	rec := testRecord("s-1", "2026-08-30", record.ActivityFajr, time.Now())
	if err := engine.Push(context.Background(), rec); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.records[rec.Key()]; !ok {
		t.Error("record not stored remotely after Push")
	}
}

func TestPush_OfflineErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	defer c.Close()
	if err := c.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	client := remote.NewClient(deadURL, 0, nil)
	prober := remote.NewProber(client, time.Minute, 200*time.Millisecond, nil)
	engine := NewEngine(c, client, prober, nil)

	rec := testRecord("s-1", "2026-08-30", record.ActivityFajr, time.Now())
	if err := engine.Push(context.Background(), rec); err == nil {
		t.Error("Push() offline succeeded, want error")
	}
}
