// Package record defines the attendance data model shared by the local
// cache, the merge engine, and the remote store.
//
// The structures are CRDT-friendly with flat fields and last-write-wins
// semantics: every AttendanceRecord carries the instant it was written,
// and conflict resolution always compares that timestamp, never arrival
// order or map iteration order.
//
// The natural key of an attendance fact is the (student, date, activity)
// triple. Two physical copies of the same triple are the same logical
// record; the copy with the greater Timestamp wins.
package record
