// Package bus defines the wire format of the live update channel.
//
// The server broadcasts one Message per remote store mutation so connected
// clients can reconcile promptly instead of polling. A message is a hint
// to resync, not a replacement for the merge algorithm: clients receiving
// one should run a reconcile rather than trust the payload blindly.
package bus

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies which store mutation a broadcast describes.
type MessageType string

const (
	// MessageTypeConnected is the initial handshake sent to a new client.
	MessageTypeConnected MessageType = "connected"

	// MessageTypeAttendanceUpdated indicates an attendance record was upserted.
	MessageTypeAttendanceUpdated MessageType = "attendance_updated"

	// MessageTypeAttendanceDeleted indicates an attendance record was removed,
	// including removals caused by cascade deletes and the global clear.
	MessageTypeAttendanceDeleted MessageType = "attendance_deleted"

	// MessageTypeClassUpdated indicates a class was created or changed.
	MessageTypeClassUpdated MessageType = "class_updated"

	// MessageTypeClassDeleted indicates a class was removed.
	MessageTypeClassDeleted MessageType = "class_deleted"

	// MessageTypeStudentUpdated indicates a student was created or changed.
	MessageTypeStudentUpdated MessageType = "student_updated"

	// MessageTypeStudentDeleted indicates a student was removed.
	MessageTypeStudentDeleted MessageType = "student_deleted"
)

// Message is one broadcast frame: a type tag plus an optional payload.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds a Message with the payload marshalled to JSON.
// A nil payload produces a message with no data field.
func New(typ MessageType, payload interface{}) (Message, error) {
	msg := Message{Type: typ}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	msg.Data = data
	return msg, nil
}
