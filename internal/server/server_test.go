package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hudacode/prayerlog/internal/bus"
	"github.com/hudacode/prayerlog/internal/record"
)

// testServer starts a server on a random port backed by a temp store.
func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "store.json"), nil)
	if err != nil {
		t.Fatalf("OpenStore() failed: %v", err)
	}

	srv := NewServer(store, &Config{Addr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	time.Sleep(50 * time.Millisecond)
	return srv, "http://" + srv.GetAddr()
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestServerStartStop(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "store.json"), nil)
	if err != nil {
		t.Fatalf("OpenStore() failed: %v", err)
	}

	srv := NewServer(store, &Config{Addr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	if addr := srv.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, baseURL := testServer(t)

	var health map[string]interface{}
	status := doJSON(t, http.MethodGet, baseURL+"/health", nil, &health)
	if status != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", status)
	}
	if health["status"] != "ok" {
		t.Errorf("health status = %v, want ok", health["status"])
	}
}

func TestAttendanceRoundTrip(t *testing.T) {
	_, baseURL := testServer(t)

	rec := record.AttendanceRecord{
		StudentID: "s-1",
		Activity:  record.ActivityFajr,
		Date:      "2026-08-30",
		Status:    record.StatusPresent,
		Timestamp: time.Now(),
	}

	var stored record.AttendanceRecord
	status := doJSON(t, http.MethodPost, baseURL+"/attendance", rec, &stored)
	if status != http.StatusOK {
		t.Fatalf("POST /attendance status = %d, want 200", status)
	}
	if stored.ID == "" {
		t.Error("stored record has no id")
	}

	var records []record.AttendanceRecord
	status = doJSON(t, http.MethodGet, baseURL+"/attendance", nil, &records)
	if status != http.StatusOK {
		t.Fatalf("GET /attendance status = %d, want 200", status)
	}
	if len(records) != 1 || records[0].StudentID != "s-1" {
		t.Errorf("GET /attendance = %+v, want one record for s-1", records)
	}
}

func TestUpsertAttendance_InvalidBody(t *testing.T) {
	_, baseURL := testServer(t)

	rec := record.AttendanceRecord{StudentID: "s-1"} // missing almost everything
	status := doJSON(t, http.MethodPost, baseURL+"/attendance", rec, nil)
	if status != http.StatusBadRequest {
		t.Errorf("POST /attendance status = %d, want 400", status)
	}
}

func TestDeleteAttendance_NotFound(t *testing.T) {
	_, baseURL := testServer(t)

	status := doJSON(t, http.MethodDelete, baseURL+"/attendance/no-such-id", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("DELETE status = %d, want 404", status)
	}
}

func TestClearAttendanceEndpoint(t *testing.T) {
	_, baseURL := testServer(t)

	rec := record.AttendanceRecord{
		StudentID: "s-1",
		Activity:  record.ActivityFajr,
		Date:      "2026-08-30",
		Status:    record.StatusPresent,
		Timestamp: time.Now(),
	}
	if status := doJSON(t, http.MethodPost, baseURL+"/attendance", rec, nil); status != http.StatusOK {
		t.Fatalf("POST /attendance status = %d", status)
	}

	var cleared clearResponse
	status := doJSON(t, http.MethodDelete, baseURL+"/attendance", nil, &cleared)
	if status != http.StatusOK {
		t.Fatalf("DELETE /attendance status = %d, want 200", status)
	}
	if cleared.Count != 1 {
		t.Errorf("cleared count = %d, want 1", cleared.Count)
	}
	if cleared.ClearedAt == 0 {
		t.Error("clearedAt is zero")
	}

	var wm clearedAtResponse
	if status := doJSON(t, http.MethodGet, baseURL+"/attendance/cleared-at", nil, &wm); status != http.StatusOK {
		t.Fatalf("GET /attendance/cleared-at status = %d", status)
	}
	if wm.ClearedAt != cleared.ClearedAt {
		t.Errorf("cleared-at = %d, want %d", wm.ClearedAt, cleared.ClearedAt)
	}

	var records []record.AttendanceRecord
	doJSON(t, http.MethodGet, baseURL+"/attendance", nil, &records)
	if len(records) != 0 {
		t.Errorf("GET /attendance after clear = %d records, want 0", len(records))
	}
}

func TestClassEndpoints(t *testing.T) {
	_, baseURL := testServer(t)

	var cls record.Class
	status := doJSON(t, http.MethodPost, baseURL+"/classes", map[string]string{"name": "Class 5B"}, &cls)
	if status != http.StatusCreated {
		t.Fatalf("POST /classes status = %d, want 201", status)
	}

	// Duplicate name conflicts
	status = doJSON(t, http.MethodPost, baseURL+"/classes", map[string]string{"name": "class 5b"}, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate POST /classes status = %d, want 409", status)
	}

	var classes []record.Class
	doJSON(t, http.MethodGet, baseURL+"/classes", nil, &classes)
	if len(classes) != 1 {
		t.Errorf("GET /classes = %d classes, want 1", len(classes))
	}

	status = doJSON(t, http.MethodDelete, baseURL+"/classes/"+cls.ID, nil, nil)
	if status != http.StatusOK {
		t.Errorf("DELETE /classes/{id} status = %d, want 200", status)
	}
}

func TestStudentEndpoints(t *testing.T) {
	_, baseURL := testServer(t)

	// Student without a class is rejected
	st := record.Student{Name: "Ahmed", ClassName: "Class 5B"}
	if status := doJSON(t, http.MethodPost, baseURL+"/students", st, nil); status != http.StatusNotFound {
		t.Errorf("POST /students without class status = %d, want 404", status)
	}

	if status := doJSON(t, http.MethodPost, baseURL+"/classes", map[string]string{"name": "Class 5B"}, nil); status != http.StatusCreated {
		t.Fatal("failed to create class")
	}

	var added record.Student
	if status := doJSON(t, http.MethodPost, baseURL+"/students", st, &added); status != http.StatusCreated {
		t.Fatalf("POST /students status = %d, want 201", status)
	}

	var students []record.Student
	doJSON(t, http.MethodGet, baseURL+"/students/class/Class%205B", nil, &students)
	if len(students) != 1 {
		t.Errorf("GET /students/class/{name} = %d students, want 1", len(students))
	}

	var cascade cascadeResponse
	if status := doJSON(t, http.MethodDelete, baseURL+"/students/"+added.ID, nil, &cascade); status != http.StatusOK {
		t.Errorf("DELETE /students/{id} status = %d, want 200", status)
	}
}

func TestWebSocketConnection(t *testing.T) {
	srv, baseURL := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + baseURL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read handshake
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read handshake: %v", err)
	}
	var msg bus.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal handshake: %v", err)
	}
	if msg.Type != bus.MessageTypeConnected {
		t.Errorf("handshake type = %s, want %s", msg.Type, bus.MessageTypeConnected)
	}

	if count := srv.Hub().ClientCount(); count != 1 {
		t.Errorf("client count = %d, want 1", count)
	}
}

func TestWebSocketBroadcastOnUpsert(t *testing.T) {
	_, baseURL := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + baseURL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain handshake
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read handshake: %v", err)
	}

	rec := record.AttendanceRecord{
		StudentID: "s-1",
		Activity:  record.ActivityFajr,
		Date:      "2026-08-30",
		Status:    record.StatusPresent,
		Timestamp: time.Now(),
	}
	if status := doJSON(t, http.MethodPost, baseURL+"/attendance", rec, nil); status != http.StatusOK {
		t.Fatalf("POST /attendance status = %d", status)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	var msg bus.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal broadcast: %v", err)
	}
	if msg.Type != bus.MessageTypeAttendanceUpdated {
		t.Errorf("broadcast type = %s, want %s", msg.Type, bus.MessageTypeAttendanceUpdated)
	}

	var payload record.AttendanceRecord
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	if payload.StudentID != "s-1" {
		t.Errorf("payload student = %s, want s-1", payload.StudentID)
	}
}

// A no-op upsert (older timestamp losing) must not broadcast.
func TestWebSocketNoBroadcastOnNoOp(t *testing.T) {
	_, baseURL := testServer(t)

	base := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	newer := record.AttendanceRecord{
		StudentID: "s-1",
		Activity:  record.ActivityFajr,
		Date:      "2026-08-30",
		Status:    record.StatusPresent,
		Timestamp: base.Add(time.Minute),
	}
	if status := doJSON(t, http.MethodPost, baseURL+"/attendance", newer, nil); status != http.StatusOK {
		t.Fatalf("POST /attendance status = %d", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + baseURL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read handshake: %v", err)
	}

	older := newer
	older.Status = record.StatusAbsent
	older.Timestamp = base
	if status := doJSON(t, http.MethodPost, baseURL+"/attendance", older, nil); status != http.StatusOK {
		t.Fatalf("POST /attendance status = %d", status)
	}

	readCtx, readCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer readCancel()
	if _, _, err := conn.Read(readCtx); err == nil {
		t.Error("received a broadcast for a no-op upsert")
	}
}

func TestCascadeDeleteBroadcastsPerEntity(t *testing.T) {
	_, baseURL := testServer(t)

	var cls record.Class
	if status := doJSON(t, http.MethodPost, baseURL+"/classes", map[string]string{"name": "Class 5B"}, &cls); status != http.StatusCreated {
		t.Fatal("failed to create class")
	}
	var st record.Student
	if status := doJSON(t, http.MethodPost, baseURL+"/students", record.Student{Name: "Ahmed", ClassName: "Class 5B"}, &st); status != http.StatusCreated {
		t.Fatal("failed to create student")
	}
	rec := record.AttendanceRecord{
		StudentID: st.ID,
		Activity:  record.ActivityFajr,
		Date:      "2026-08-30",
		Status:    record.StatusPresent,
		Timestamp: time.Now(),
	}
	if status := doJSON(t, http.MethodPost, baseURL+"/attendance", rec, nil); status != http.StatusOK {
		t.Fatal("failed to create record")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + baseURL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read handshake: %v", err)
	}

	var cascade cascadeResponse
	if status := doJSON(t, http.MethodDelete, baseURL+"/classes/"+cls.ID, nil, &cascade); status != http.StatusOK {
		t.Fatalf("DELETE /classes/{id} status = %d", status)
	}
	if cascade.DeletedStudents != 1 || cascade.DeletedRecords != 1 {
		t.Errorf("cascade = %+v, want 1 student and 1 record", cascade)
	}

	// One event per deleted entity: class, student, record.
	want := map[bus.MessageType]int{
		bus.MessageTypeClassDeleted:      1,
		bus.MessageTypeStudentDeleted:    1,
		bus.MessageTypeAttendanceDeleted: 1,
	}
	got := map[bus.MessageType]int{}
	for i := 0; i < 3; i++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read event %d: %v", i, err)
		}
		var msg bus.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal event %d: %v", i, err)
		}
		got[msg.Type]++
	}
	for typ, n := range want {
		if got[typ] != n {
			t.Errorf("received %d %s events, want %d (all: %v)", got[typ], typ, n, got)
		}
	}
}

func TestErrorBodyShape(t *testing.T) {
	_, baseURL := testServer(t)

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodDelete, baseURL+"/attendance/missing"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body["message"] == "" {
		t.Error("error body has no message field")
	}
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	return req
}
