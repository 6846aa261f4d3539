package record

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Activity identifies which trackable event an attendance record is for.
// The set is the five daily prayers plus Other, which uses the record's
// Reason field as a free-text sub-category label.
type Activity string

const (
	ActivityFajr    Activity = "Fajr"
	ActivityDhuhr   Activity = "Dhuhr"
	ActivityAsr     Activity = "Asr"
	ActivityMaghrib Activity = "Maghrib"
	ActivityIsha    Activity = "Isha"
	ActivityOther   Activity = "Other"
)

// Activities lists every valid activity in display order.
var Activities = []Activity{
	ActivityFajr,
	ActivityDhuhr,
	ActivityAsr,
	ActivityMaghrib,
	ActivityIsha,
	ActivityOther,
}

// Valid reports whether the activity is one of the known set.
func (a Activity) Valid() bool {
	for _, known := range Activities {
		if a == known {
			return true
		}
	}
	return false
}

// ParseActivity resolves a case-insensitive activity name.
func ParseActivity(s string) (Activity, bool) {
	for _, known := range Activities {
		if strings.EqualFold(s, string(known)) {
			return known, true
		}
	}
	return "", false
}

// Status is the attendance outcome for one record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Valid reports whether the status is present or absent.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent
}

// DateFormat is the calendar date layout used by Date fields.
const DateFormat = "2006-01-02"

// AttendanceRecord is one attendance fact for one student on one date for
// one activity. StudentName and ClassName are denormalized so records can
// be displayed without a join against the roster.
type AttendanceRecord struct {
	ID          string   `json:"id"`
	StudentID   string   `json:"student_id"`
	StudentName string   `json:"student_name,omitempty"`
	ClassName   string   `json:"class_name,omitempty"`
	Activity    Activity `json:"activity"`
	Date        string   `json:"date"` // YYYY-MM-DD
	Status      Status   `json:"status"`
	Reason      string   `json:"reason,omitempty"`

	// Timestamp is the write-time instant and the sole authority for
	// conflict resolution between copies of the same natural key.
	Timestamp time.Time `json:"timestamp"`
}

// DeriveID returns the conventional identifier for a natural key.
// Callers must still treat stored IDs as opaque.
func DeriveID(studentID, date string, activity Activity) string {
	return fmt.Sprintf("%s-%s-%s", studentID, date, activity)
}

// Key returns the natural key of this record. Records sharing a key are
// the same logical record regardless of ID.
func (r *AttendanceRecord) Key() string {
	return r.StudentID + "|" + r.Date + "|" + string(r.Activity)
}

// Validate checks required fields and value ranges.
func (r *AttendanceRecord) Validate() error {
	if r.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}
	if r.Date == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse(DateFormat, r.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", r.Date)
	}
	if !r.Activity.Valid() {
		return fmt.Errorf("unknown activity %q", r.Activity)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("status must be present or absent (got %q)", r.Status)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// SetDefaults fills the ID from the natural key and stamps the record
// when the caller left those empty.
func (r *AttendanceRecord) SetDefaults() {
	if r.ID == "" {
		r.ID = DeriveID(r.StudentID, r.Date, r.Activity)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
}

// Supersedes reports whether r should replace other under last-write-wins.
// Equal timestamps do not supersede; ties are broken by the caller's
// side preference (the remote copy wins during a merge).
func (r *AttendanceRecord) Supersedes(other *AttendanceRecord) bool {
	return r.Timestamp.After(other.Timestamp)
}

// Dedup collapses records to one entry per natural key, keeping the copy
// with the greatest Timestamp. Output order is deterministic: date, then
// student, then activity.
func Dedup(records []AttendanceRecord) []AttendanceRecord {
	byKey := make(map[string]AttendanceRecord, len(records))
	for _, rec := range records {
		existing, ok := byKey[rec.Key()]
		if !ok || rec.Timestamp.After(existing.Timestamp) {
			byKey[rec.Key()] = rec
		}
	}

	out := make([]AttendanceRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].Activity < out[j].Activity
	})
	return out
}

// FilterAfter drops every record whose Timestamp is at or before the
// watermark. Records at exactly the watermark are considered deleted by
// the clear that raised it.
func FilterAfter(records []AttendanceRecord, watermark time.Time) []AttendanceRecord {
	if watermark.IsZero() {
		return records
	}
	kept := records[:0:0]
	for _, rec := range records {
		if rec.Timestamp.After(watermark) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// NormalizeName lowercases and trims a class name for case-insensitive
// uniqueness checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
