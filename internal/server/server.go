// Package server implements the authoritative remote store: a JSON-file
// backed record set, its HTTP API, and the WebSocket live update bus.
//
// The server is the cross-device source of truth. Clients write through
// upsert/delete operations keyed on the record's natural key; the only
// wholesale mutation is the global attendance clear, which raises the
// watermark that merge engines use to keep deleted data from
// resurrecting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hudacode/prayerlog/internal/bus"
	"github.com/hudacode/prayerlog/internal/record"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":8080")
	Addr string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8080",
		Logger: log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Server ties the file store, the HTTP API, and the live update hub
// together.
type Server struct {
	store    *FileStore
	hub      *Hub
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger
}

// NewServer creates a server around an opened store.
func NewServer(store *FileStore, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	return &Server{
		store:  store,
		hub:    NewHub(config.Logger),
		addr:   config.Addr,
		logger: config.Logger,
	}
}

// Hub returns the live update hub, so the store watcher can push resync
// hints for out-of-band file changes.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening and serving. It returns immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.hub.Run()

	go func() {
		s.logger.Printf("Server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and the hub.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")

	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Println("Server stopped")
	return nil
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// routes builds the HTTP mux for the API described in the client package.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /attendance", s.handleListAttendance)
	mux.HandleFunc("POST /attendance", s.handleUpsertAttendance)
	mux.HandleFunc("DELETE /attendance", s.handleClearAttendance)
	mux.HandleFunc("GET /attendance/cleared-at", s.handleClearedAt)
	mux.HandleFunc("DELETE /attendance/{id}", s.handleDeleteAttendance)

	mux.HandleFunc("GET /classes", s.handleListClasses)
	mux.HandleFunc("POST /classes", s.handleAddClass)
	mux.HandleFunc("DELETE /classes/{id}", s.handleDeleteClass)

	mux.HandleFunc("GET /students", s.handleListStudents)
	mux.HandleFunc("GET /students/class/{className}", s.handleStudentsByClass)
	mux.HandleFunc("POST /students", s.handleAddStudent)
	mux.HandleFunc("DELETE /students/{id}", s.handleDeleteStudent)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.hub.handleWebSocket)

	return mux
}

// notify broadcasts a typed event, logging instead of failing the request
// when the payload can't be marshalled.
func (s *Server) notify(typ bus.MessageType, payload interface{}) {
	msg, err := bus.New(typ, payload)
	if err != nil {
		s.logger.Printf("Failed to build %s event: %v", typ, err)
		return
	}
	s.hub.Broadcast(msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	records := s.store.Attendance()
	if records == nil {
		records = []record.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUpsertAttendance(w http.ResponseWriter, r *http.Request) {
	var rec record.AttendanceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	stored, changed, err := s.store.UpsertAttendance(rec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record: %v", err)
		return
	}

	if changed {
		s.notify(bus.MessageTypeAttendanceUpdated, stored)
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeleteAttendance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := s.store.DeleteAttendance(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "attendance record %s not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete record: %v", err)
		return
	}

	s.notify(bus.MessageTypeAttendanceDeleted, deleted)
	writeJSON(w, http.StatusOK, deleted)
}

// clearResponse is the wire shape of DELETE /attendance.
type clearResponse struct {
	Count     int   `json:"count"`
	ClearedAt int64 `json:"clearedAt"` // unix millis, the new watermark
}

func (s *Server) handleClearAttendance(w http.ResponseWriter, r *http.Request) {
	count, clearedAt, err := s.store.ClearAllAttendance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear attendance: %v", err)
		return
	}

	s.logger.Printf("Cleared %d attendance records, watermark %d", count, clearedAt.UnixMilli())
	s.notify(bus.MessageTypeAttendanceDeleted, map[string]interface{}{
		"all":        true,
		"cleared_at": clearedAt.UnixMilli(),
	})
	writeJSON(w, http.StatusOK, clearResponse{Count: count, ClearedAt: clearedAt.UnixMilli()})
}

// clearedAtResponse is the wire shape of GET /attendance/cleared-at.
type clearedAtResponse struct {
	ClearedAt int64 `json:"clearedAt"` // unix millis, zero when no clear ran
}

func (s *Server) handleClearedAt(w http.ResponseWriter, r *http.Request) {
	var millis int64
	if wm := s.store.ClearedAt(); !wm.IsZero() {
		millis = wm.UnixMilli()
	}
	writeJSON(w, http.StatusOK, clearedAtResponse{ClearedAt: millis})
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes := s.store.Classes()
	if classes == nil {
		classes = []record.Class{}
	}
	writeJSON(w, http.StatusOK, classes)
}

func (s *Server) handleAddClass(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	cls, err := s.store.AddClass(body.Name)
	if errors.Is(err, ErrDuplicate) {
		writeError(w, http.StatusConflict, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid class: %v", err)
		return
	}

	s.notify(bus.MessageTypeClassUpdated, cls)
	writeJSON(w, http.StatusCreated, cls)
}

// cascadeResponse summarizes a cascade delete for the HTTP caller.
// Subscribers get the precise per-entity events instead.
type cascadeResponse struct {
	DeletedStudents int `json:"deleted_students"`
	DeletedRecords  int `json:"deleted_records"`
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.store.DeleteClass(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "class %s not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete class: %v", err)
		return
	}

	// One event per deleted entity so subscribers can invalidate precisely.
	s.notify(bus.MessageTypeClassDeleted, result.Class)
	for _, st := range result.Students {
		s.notify(bus.MessageTypeStudentDeleted, st)
	}
	for _, rec := range result.Records {
		s.notify(bus.MessageTypeAttendanceDeleted, rec)
	}

	writeJSON(w, http.StatusOK, cascadeResponse{
		DeletedStudents: len(result.Students),
		DeletedRecords:  len(result.Records),
	})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students := s.store.Students()
	if students == nil {
		students = []record.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handleStudentsByClass(w http.ResponseWriter, r *http.Request) {
	students := s.store.StudentsByClass(r.PathValue("className"))
	if students == nil {
		students = []record.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	var st record.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	added, err := s.store.AddStudent(st)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student: %v", err)
		return
	}

	s.notify(bus.MessageTypeStudentUpdated, added)
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.store.DeleteStudent(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "student %s not found", id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete student: %v", err)
		return
	}

	for _, st := range result.Students {
		s.notify(bus.MessageTypeStudentDeleted, st)
	}
	for _, rec := range result.Records {
		s.notify(bus.MessageTypeAttendanceDeleted, rec)
	}

	writeJSON(w, http.StatusOK, cascadeResponse{
		DeletedRecords: len(result.Records),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}
