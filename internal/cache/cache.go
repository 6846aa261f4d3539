// Package cache provides the device-local attendance store.
//
// The cache is an embedded SQLite database opened in WAL mode. It is the
// synchronous side of every write: the UI-facing path persists here first
// and returns, and the network push to the remote store happens later in
// the background. The cache is owned exclusively by its device process.
//
// The attendance table's primary key is the natural key (student, date,
// activity), so the table is deduplicated by construction: for any key at
// most one row exists, and upserts keep the row with the greatest
// timestamp.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hudacode/prayerlog/internal/record"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// metaClearedAt is the meta table key holding the clear watermark,
// stored as unix milliseconds.
const metaClearedAt = "cleared_at"

// Cache wraps the SQLite connection holding one device's records.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done.
//
// Example:
//
//	c, err := cache.Open(".plog/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	// WAL mode for concurrent reads during writes
	if _, err := c.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := c.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return c, nil
}

// Close closes the database connection after checkpointing the WAL.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}

	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	c.conn = nil
	return nil
}

// InitSchema creates the attendance and meta tables if they don't exist.
// Idempotent; safe to call on every open.
func (c *Cache) InitSchema() error {
	return c.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (c *Cache) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- One row per natural key. Timestamps are unix nanoseconds so the
	-- upsert guard can compare recency in SQL without layout pitfalls.
	CREATE TABLE IF NOT EXISTS attendance (
		student_id   TEXT NOT NULL,
		date         TEXT NOT NULL,
		activity     TEXT NOT NULL,
		id           TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		class_name   TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		timestamp    INTEGER NOT NULL,
		PRIMARY KEY (student_id, date, activity)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
	CREATE INDEX IF NOT EXISTS idx_attendance_class ON attendance(class_name);
	CREATE INDEX IF NOT EXISTS idx_attendance_id ON attendance(id);

	-- Small key/value table for the clear watermark.
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return nil
}

const upsertQuery = `
INSERT INTO attendance (
	student_id, date, activity, id, student_name, class_name,
	status, reason, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(student_id, date, activity) DO UPDATE SET
	id = excluded.id,
	student_name = excluded.student_name,
	class_name = excluded.class_name,
	status = excluded.status,
	reason = excluded.reason,
	timestamp = excluded.timestamp
WHERE excluded.timestamp > attendance.timestamp
`

// Put upserts one record by natural key.
//
// If the stored copy has an equal or greater timestamp the call is a data
// no-op but still reports success: last-write-wins is enforced here and at
// merge time, never surfaced to the caller as a conflict.
func (c *Cache) Put(rec *record.AttendanceRecord) error {
	return c.PutContext(context.Background(), rec)
}

// PutContext upserts one record with context support.
func (c *Cache) PutContext(ctx context.Context, rec *record.AttendanceRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	_, err := c.conn.ExecContext(ctx, upsertQuery,
		rec.StudentID,
		rec.Date,
		string(rec.Activity),
		rec.ID,
		rec.StudentName,
		rec.ClassName,
		string(rec.Status),
		rec.Reason,
		rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}

	return nil
}

// PutBatch upserts a set of records in a single transaction, so readers in
// this process observe either all of them or the previous durable state.
// An empty batch is a no-op.
func (c *Cache) PutBatch(recs []record.AttendanceRecord) error {
	return c.PutBatchContext(context.Background(), recs)
}

// PutBatchContext upserts a batch with context support.
func (c *Cache) PutBatchContext(ctx context.Context, recs []record.AttendanceRecord) error {
	if len(recs) == 0 {
		return nil
	}

	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return fmt.Errorf("invalid record %s: %w", recs[i].ID, err)
		}
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		rec := &recs[i]
		_, err := stmt.ExecContext(ctx,
			rec.StudentID,
			rec.Date,
			string(rec.Activity),
			rec.ID,
			rec.StudentName,
			rec.ClassName,
			string(rec.Status),
			rec.Reason,
			rec.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

const selectColumns = `
	student_id, date, activity, id, student_name, class_name,
	status, reason, timestamp
`

// GetAll returns every record, one per natural key, ordered by date,
// student, activity.
func (c *Cache) GetAll() ([]record.AttendanceRecord, error) {
	return c.GetAllContext(context.Background())
}

// GetAllContext returns every record with context support.
func (c *Cache) GetAllContext(ctx context.Context) ([]record.AttendanceRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM attendance
		ORDER BY date ASC, student_id ASC, activity ASC`

	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByDateRange returns records with start <= date <= end.
func (c *Cache) GetByDateRange(start, end string) ([]record.AttendanceRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM attendance
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, student_id ASC, activity ASC`

	rows, err := c.conn.Query(query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query date range: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByStudent returns every record for one student.
func (c *Cache) GetByStudent(studentID string) ([]record.AttendanceRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM attendance
		WHERE student_id = ?
		ORDER BY date ASC, activity ASC`

	rows, err := c.conn.Query(query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query student records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Filters narrows a GetByFilters query. Zero-valued fields match all.
type Filters struct {
	Date      string
	ClassName string
	Activity  record.Activity
}

// GetByFilters returns records matching every non-empty filter field.
func (c *Cache) GetByFilters(f Filters) ([]record.AttendanceRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM attendance`

	var conditions []string
	var args []interface{}

	if f.Date != "" {
		conditions = append(conditions, "date = ?")
		args = append(args, f.Date)
	}
	if f.ClassName != "" {
		conditions = append(conditions, "class_name = ?")
		args = append(args, f.ClassName)
	}
	if f.Activity != "" {
		conditions = append(conditions, "activity = ?")
		args = append(args, string(f.Activity))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY date ASC, student_id ASC, activity ASC"

	rows, err := c.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filtered records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete removes a single record by its opaque id.
// Returns nil if no record matched (idempotent).
func (c *Cache) Delete(id string) error {
	_, err := c.conn.Exec(`DELETE FROM attendance WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// PruneAtOrBefore removes every record whose timestamp is at or below the
// watermark. The merge engine calls this so records deleted by a clear
// don't linger locally.
func (c *Cache) PruneAtOrBefore(t time.Time) error {
	if t.IsZero() {
		return nil
	}
	_, err := c.conn.Exec(`DELETE FROM attendance WHERE timestamp <= ?`, t.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to prune cleared records: %w", err)
	}
	return nil
}

// Wipe removes all attendance records. The watermark is untouched.
func (c *Cache) Wipe() error {
	if _, err := c.conn.Exec(`DELETE FROM attendance`); err != nil {
		return fmt.Errorf("failed to wipe cache: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (c *Cache) Count() (int, error) {
	var count int
	err := c.conn.QueryRow(`SELECT COUNT(*) FROM attendance`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ClearedAt returns the persisted clear watermark, or the zero time if no
// clear has ever run on this device.
func (c *Cache) ClearedAt() (time.Time, error) {
	var value string
	err := c.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaClearedAt).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}

	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark %q: %w", value, err)
	}
	return time.UnixMilli(millis), nil
}

// SetClearedAt raises the clear watermark. The watermark is monotonic:
// a value at or below the current one is ignored. Use ResetClearedAt for
// the explicit administrative reset.
func (c *Cache) SetClearedAt(t time.Time) error {
	current, err := c.ClearedAt()
	if err != nil {
		return err
	}
	if !t.After(current) {
		return nil
	}

	_, err = c.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaClearedAt, strconv.FormatInt(t.UnixMilli(), 10))
	if err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}
	return nil
}

// ResetClearedAt drops the watermark to zero. Administrative recovery
// only; never called automatically.
func (c *Cache) ResetClearedAt() error {
	_, err := c.conn.Exec(`DELETE FROM meta WHERE key = ?`, metaClearedAt)
	if err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}
	return nil
}

// scanRecords is a helper to scan attendance rows from query results.
func scanRecords(rows *sql.Rows) ([]record.AttendanceRecord, error) {
	var recs []record.AttendanceRecord

	for rows.Next() {
		var rec record.AttendanceRecord
		var activity, status string
		var tsNanos int64

		err := rows.Scan(
			&rec.StudentID,
			&rec.Date,
			&activity,
			&rec.ID,
			&rec.StudentName,
			&rec.ClassName,
			&status,
			&rec.Reason,
			&tsNanos,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Activity = record.Activity(activity)
		rec.Status = record.Status(status)
		rec.Timestamp = time.Unix(0, tsNanos)

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return recs, nil
}
