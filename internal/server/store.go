package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hudacode/prayerlog/internal/record"
)

// ErrNotFound is returned when a class, student, or record doesn't exist.
// Deletes of missing entities report this rather than failing hard, so
// repeated deletes stay idempotent from the caller's perspective.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a class name already exists.
var ErrDuplicate = errors.New("already exists")

// storeData is the on-disk shape of the store file.
type storeData struct {
	Attendance []record.AttendanceRecord `json:"attendance"`
	Classes    []record.Class            `json:"classes"`
	Students   []record.Student          `json:"students"`
	ClearedAt  int64                     `json:"cleared_at"` // unix millis
}

// FileStore is the authoritative record set, persisted as a single JSON
// file with atomic replace-on-write and a rolling one-generation backup.
//
// The store is mutated only by its owning server process; the mutex
// serializes request handlers. Concurrent requests for the same record
// still resolve via upsert-by-natural-key with timestamp comparison, not
// by transport arrival order.
type FileStore struct {
	path   string
	logger *log.Logger

	mu         sync.Mutex
	data       storeData
	generation uint64
}

// OpenStore loads the store file at path, creating an empty store when the
// file is missing. A corrupt or empty file falls back to an empty
// initialized store rather than failing the process.
//
// If logger is nil, a default logger writing to stderr is used.
func OpenStore(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{path: path, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the store file into memory, tolerating corruption.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = storeData{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}

	var data storeData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		s.logger.Printf("Warning: store file %s unreadable, starting empty", s.path)
		s.data = storeData{}
		return nil
	}

	s.data = data
	return nil
}

// save writes the store atomically: marshal, write temp, roll the current
// file to a one-generation .bak, then rename the temp into place. A crash
// mid-save leaves either the previous file or the previous backup intact.
// Callers must hold s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.path+".bak"); err != nil {
			s.logger.Printf("Warning: failed to roll backup: %v", err)
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.generation++
	return nil
}

// Reload re-reads the store file from disk, replacing in-memory state.
// Used when the file changed out-of-band (hand edit, backup restore).
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Generation returns the number of saves this process has performed.
// The file watcher uses it to tell the store's own writes apart from
// external modifications.
func (s *FileStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

// ClearedAt returns the server's clear watermark, zero if no clear has run.
func (s *FileStore) ClearedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearedAtLocked()
}

func (s *FileStore) clearedAtLocked() time.Time {
	if s.data.ClearedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.data.ClearedAt)
}

// Attendance returns all live records: one per natural key, excluding
// anything at or below the clear watermark.
func (s *FileStore) Attendance() []record.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := record.FilterAfter(s.data.Attendance, s.clearedAtLocked())
	return record.Dedup(live)
}

// UpsertAttendance inserts or replaces a record keyed on (student, date,
// activity). The stored copy only changes when the incoming timestamp is
// strictly greater, so receipt order never decides a conflict.
//
// Records at or below the clear watermark are considered deleted-by-clear
// and are not stored; the call still succeeds and echoes the record back.
// The second return value reports whether the store changed.
func (s *FileStore) UpsertAttendance(rec record.AttendanceRecord) (record.AttendanceRecord, bool, error) {
	rec.SetDefaults()
	if err := rec.Validate(); err != nil {
		return record.AttendanceRecord{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if wm := s.clearedAtLocked(); !wm.IsZero() && !rec.Timestamp.After(wm) {
		return rec, false, nil
	}

	for i := range s.data.Attendance {
		if s.data.Attendance[i].Key() != rec.Key() {
			continue
		}
		if !rec.Supersedes(&s.data.Attendance[i]) {
			return s.data.Attendance[i], false, nil
		}
		s.data.Attendance[i] = rec
		if err := s.save(); err != nil {
			return record.AttendanceRecord{}, false, err
		}
		return rec, true, nil
	}

	s.data.Attendance = append(s.data.Attendance, rec)
	if err := s.save(); err != nil {
		return record.AttendanceRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteAttendance removes one record by opaque id.
// Returns ErrNotFound when no record matches.
func (s *FileStore) DeleteAttendance(id string) (record.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Attendance {
		if s.data.Attendance[i].ID != id {
			continue
		}
		deleted := s.data.Attendance[i]
		s.data.Attendance = append(s.data.Attendance[:i], s.data.Attendance[i+1:]...)
		if err := s.save(); err != nil {
			return record.AttendanceRecord{}, err
		}
		return deleted, nil
	}

	return record.AttendanceRecord{}, ErrNotFound
}

// ClearAllAttendance wipes every attendance record and raises the clear
// watermark to now. Classes and students are untouched. Returns the number
// of live records removed and the new watermark, which clients adopt as
// canonical.
func (s *FileStore) ClearAllAttendance() (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(record.Dedup(record.FilterAfter(s.data.Attendance, s.clearedAtLocked())))

	clearedAt := time.Now()
	// Watermark only moves forward, even against a skewed clock.
	if prev := s.clearedAtLocked(); !clearedAt.After(prev) {
		clearedAt = prev.Add(time.Millisecond)
	}

	s.data.Attendance = nil
	s.data.ClearedAt = clearedAt.UnixMilli()

	if err := s.save(); err != nil {
		return 0, time.Time{}, err
	}
	return count, clearedAt, nil
}

// Classes returns all classes.
func (s *FileStore) Classes() []record.Class {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Class(nil), s.data.Classes...)
}

// AddClass creates a class with a server-assigned id.
// Names are unique case-insensitively; duplicates return ErrDuplicate.
func (s *FileStore) AddClass(name string) (record.Class, error) {
	cls := record.Class{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := cls.Validate(); err != nil {
		return record.Class{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := record.NormalizeName(name)
	for i := range s.data.Classes {
		if record.NormalizeName(s.data.Classes[i].Name) == normalized {
			return record.Class{}, fmt.Errorf("class %q: %w", name, ErrDuplicate)
		}
	}

	s.data.Classes = append(s.data.Classes, cls)
	if err := s.save(); err != nil {
		return record.Class{}, err
	}
	return cls, nil
}

// CascadeResult lists every entity removed by a cascade delete, so the
// live update bus can emit one event per entity instead of a refetch hint.
type CascadeResult struct {
	Class    *record.Class
	Students []record.Student
	Records  []record.AttendanceRecord
}

// DeleteClass removes a class and cascades: students whose class name
// matches, then every attendance record belonging to those students or
// carrying the class name directly, then the class itself.
func (s *FileStore) DeleteClass(id string) (CascadeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.data.Classes {
		if s.data.Classes[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return CascadeResult{}, ErrNotFound
	}

	cls := s.data.Classes[idx]
	normalized := record.NormalizeName(cls.Name)

	var result CascadeResult
	result.Class = &cls

	deletedStudents := make(map[string]bool)
	var keptStudents []record.Student
	for _, st := range s.data.Students {
		if record.NormalizeName(st.ClassName) == normalized {
			deletedStudents[st.ID] = true
			result.Students = append(result.Students, st)
			continue
		}
		keptStudents = append(keptStudents, st)
	}

	var keptRecords []record.AttendanceRecord
	for _, rec := range s.data.Attendance {
		if deletedStudents[rec.StudentID] || record.NormalizeName(rec.ClassName) == normalized {
			result.Records = append(result.Records, rec)
			continue
		}
		keptRecords = append(keptRecords, rec)
	}

	s.data.Classes = append(s.data.Classes[:idx], s.data.Classes[idx+1:]...)
	s.data.Students = keptStudents
	s.data.Attendance = keptRecords

	if err := s.save(); err != nil {
		return CascadeResult{}, err
	}
	return result, nil
}

// Students returns all students.
func (s *FileStore) Students() []record.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Student(nil), s.data.Students...)
}

// StudentsByClass returns students whose class name matches,
// case-insensitively.
func (s *FileStore) StudentsByClass(className string) []record.Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := record.NormalizeName(className)
	var out []record.Student
	for _, st := range s.data.Students {
		if record.NormalizeName(st.ClassName) == normalized {
			out = append(out, st)
		}
	}
	return out
}

// AddStudent creates a student with a server-assigned id.
// The referenced class must exist.
func (s *FileStore) AddStudent(st record.Student) (record.Student, error) {
	st.ID = uuid.NewString()
	if err := st.Validate(); err != nil {
		return record.Student{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := record.NormalizeName(st.ClassName)
	found := false
	for i := range s.data.Classes {
		if record.NormalizeName(s.data.Classes[i].Name) == normalized {
			found = true
			break
		}
	}
	if !found {
		return record.Student{}, fmt.Errorf("class %q: %w", st.ClassName, ErrNotFound)
	}

	s.data.Students = append(s.data.Students, st)
	if err := s.save(); err != nil {
		return record.Student{}, err
	}
	return st, nil
}

// DeleteStudent removes a student and cascades over their attendance
// records.
func (s *FileStore) DeleteStudent(id string) (CascadeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.data.Students {
		if s.data.Students[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return CascadeResult{}, ErrNotFound
	}

	st := s.data.Students[idx]

	var result CascadeResult
	result.Students = []record.Student{st}

	var keptRecords []record.AttendanceRecord
	for _, rec := range s.data.Attendance {
		if rec.StudentID == st.ID {
			result.Records = append(result.Records, rec)
			continue
		}
		keptRecords = append(keptRecords, rec)
	}

	s.data.Students = append(s.data.Students[:idx], s.data.Students[idx+1:]...)
	s.data.Attendance = keptRecords

	if err := s.save(); err != nil {
		return CascadeResult{}, err
	}
	return result, nil
}
