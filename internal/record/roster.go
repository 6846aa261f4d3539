package record

import (
	"fmt"
	"time"
)

// Class is a named group of students. Names are unique case-insensitively.
type Class struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required class fields.
func (c *Class) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(c.Name))
	}
	return nil
}

// Student belongs to a class by denormalized class name, not class ID.
// Deleting a class cascades over students matched by ClassName.
type Student struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RollNumber string `json:"roll_number,omitempty"` // optional, not unique
	ClassName  string `json:"class_name"`
}

// Validate checks required student fields.
func (s *Student) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.ClassName == "" {
		return fmt.Errorf("class_name is required")
	}
	return nil
}
