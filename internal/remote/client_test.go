package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hudacode/prayerlog/internal/record"
)

func TestFetchAttendance(t *testing.T) {
	recs := []record.AttendanceRecord{
		{ID: "r-1", StudentID: "s-1", Activity: record.ActivityFajr, Date: "2026-08-30",
			Status: record.StatusPresent, Timestamp: time.Now()},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/attendance" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(recs)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	got, err := client.FetchAttendance(context.Background())
	if err != nil {
		t.Fatalf("FetchAttendance() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r-1" {
		t.Errorf("FetchAttendance() = %+v", got)
	}
}

func TestUpsertAttendance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/attendance" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var rec record.AttendanceRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		json.NewEncoder(w).Encode(rec)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	rec := record.AttendanceRecord{
		StudentID: "s-1", Activity: record.ActivityFajr, Date: "2026-08-30",
		Status: record.StatusPresent, Timestamp: time.Now(),
	}
	rec.SetDefaults()

	stored, err := client.UpsertAttendance(context.Background(), rec)
	if err != nil {
		t.Fatalf("UpsertAttendance() failed: %v", err)
	}
	if stored.ID != rec.ID {
		t.Errorf("stored id = %s, want %s", stored.ID, rec.ID)
	}
}

func TestDeleteAttendance_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "attendance record x not found"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	err := client.DeleteAttendance(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAttendance() err = %v, want ErrNotFound", err)
	}
}

func TestClearAttendance(t *testing.T) {
	watermark := time.Now().UnixMilli()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/attendance" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"count": 5, "clearedAt": watermark})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	count, clearedAt, err := client.ClearAttendance(context.Background())
	if err != nil {
		t.Fatalf("ClearAttendance() failed: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if clearedAt.UnixMilli() != watermark {
		t.Errorf("clearedAt = %d, want %d", clearedAt.UnixMilli(), watermark)
	}
}

func TestClearedAt_ZeroMeansNever(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"clearedAt": 0})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	got, err := client.ClearedAt(context.Background())
	if err != nil {
		t.Fatalf("ClearedAt() failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("ClearedAt() = %v, want zero time", got)
	}
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "class already exists"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	_, err := client.AddClass(context.Background(), "Grade 3")
	if err == nil {
		t.Fatal("AddClass() succeeded, want error")
	}
	if got := err.Error(); !strings.Contains(got, "409") || !strings.Contains(got, "class already exists") {
		t.Errorf("error %q missing status or message", got)
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://example.com", "wss://example.com/ws"},
	}
	for _, tt := range tests {
		client := NewClient(tt.base, 0, nil)
		got, err := client.WebSocketURL()
		if err != nil {
			t.Fatalf("WebSocketURL(%s) failed: %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("WebSocketURL(%s) = %s, want %s", tt.base, got, tt.want)
		}
	}
}

func TestStudentsByClass_EscapesName(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode([]record.Student{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, nil)
	if _, err := client.StudentsByClass(context.Background(), "Grade 3/B"); err != nil {
		t.Fatalf("StudentsByClass() failed: %v", err)
	}
	if gotPath != "/students/class/Grade%203%2FB" {
		t.Errorf("request path = %s", gotPath)
	}
}
